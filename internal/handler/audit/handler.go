package audit

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/authz-api/internal/handler"
	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/repository"
	"github.com/jwalitptl/authz-api/internal/service/audit"
	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
	"github.com/jwalitptl/authz-api/pkg/validator"
)

const sourceStore = "store"

type Handler struct {
	logger   *audit.Logger
	repo     repository.AuditRepository
	validate validator.Validator
	now      func() time.Time
}

// NewHandler serves the in-memory audit buffer. repo is optional and, when
// set, answers list queries with ?source=store.
func NewHandler(logger *audit.Logger, repo repository.AuditRepository) *Handler {
	return &Handler{
		logger:   logger,
		repo:     repo,
		validate: validator.New(),
		now:      time.Now,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, requireAdmin gin.HandlerFunc) {
	audit := r.Group("/audit", requireAdmin)
	{
		audit.GET("/logs", h.ListLogs)
		audit.DELETE("/logs", h.PurgeLogs)
		audit.GET("/stats", h.GetStats)
		audit.GET("/export", h.ExportLogs)
	}
}

func (h *Handler) bindFilter(c *gin.Context) (model.AuditFilter, error) {
	var filter model.AuditFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		return filter, apperrors.BadRequest("invalid filter", err)
	}
	if err := h.validate.Validate(filter); err != nil {
		return filter, apperrors.BadRequest("invalid filter", err)
	}
	return filter, nil
}

func (h *Handler) ListLogs(c *gin.Context) {
	filter, err := h.bindFilter(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	if c.Query("source") == sourceStore {
		if h.repo == nil {
			handler.RespondError(c, apperrors.Unavailable("durable audit store is not configured", nil))
			return
		}
		logs, err := h.repo.List(c.Request.Context(), filter)
		if err != nil {
			handler.RespondError(c, apperrors.Internal(err))
			return
		}
		c.JSON(http.StatusOK, handler.NewSuccessResponse(logs))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(h.logger.Query(filter)))
}

func (h *Handler) GetStats(c *gin.Context) {
	var tr model.TimeRange
	if err := c.ShouldBindQuery(&tr); err != nil {
		handler.RespondError(c, apperrors.BadRequest("invalid time range", err))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(h.logger.Statistics(tr)))
}

// PurgeLogs removes buffered entries older than ?days= (default: the
// configured retention)
func (h *Handler) PurgeLogs(c *gin.Context) {
	days := h.logger.Config().RetentionDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			handler.RespondError(c, apperrors.BadRequest("days must be a non-negative integer", err))
			return
		}
		days = n
	}

	removed := h.logger.ClearOldLogs(days)
	h.logger.LogSensitiveOperation(c.Request.Context(), handler.SubjectFrom(c),
		model.AuditActionAuditPurge, model.AuditResourceAuditLog, "", true, "",
		map[string]any{"days_to_keep": days, "removed": removed})

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"removed": removed, "days_to_keep": days}))
}

var csvHeader = []string{
	"id", "timestamp", "user_id", "user_email", "user_role", "action", "resource",
	"resource_id", "status", "reason", "error_message", "ip_address",
}

func (h *Handler) ExportLogs(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	if format != "csv" && format != "json" {
		handler.RespondError(c, apperrors.BadRequest("unsupported format", nil))
		return
	}

	filter, err := h.bindFilter(c)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	logs := h.logger.Query(filter)

	filename := fmt.Sprintf("audit_logs_%s.%s", h.now().UTC().Format("20060102_150405"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	if format == "json" {
		c.JSON(http.StatusOK, logs)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Status(http.StatusOK)
	writer := csv.NewWriter(c.Writer)
	_ = writer.Write(csvHeader)
	for _, l := range logs {
		_ = writer.Write([]string{
			l.ID,
			l.Timestamp.Format(time.RFC3339),
			l.UserID,
			l.UserEmail,
			string(l.UserRole),
			l.Action,
			l.Resource,
			deref(l.ResourceID),
			string(l.Status),
			deref(l.Reason),
			deref(l.ErrorMessage),
			l.IPAddress,
		})
	}
	writer.Flush()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
