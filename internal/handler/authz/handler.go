package authz

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/authz-api/internal/handler"
	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/service/access"
	"github.com/jwalitptl/authz-api/internal/service/audit"
	"github.com/jwalitptl/authz-api/internal/service/identity"
	"github.com/jwalitptl/authz-api/internal/service/rbac"
	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
	"github.com/jwalitptl/authz-api/pkg/validator"
)

type Handler struct {
	accessSvc *access.Service
	resolver  *identity.Resolver
	auditor   *audit.Logger
	validate  validator.Validator
}

func NewHandler(accessSvc *access.Service, resolver *identity.Resolver, auditor *audit.Logger) *Handler {
	return &Handler{
		accessSvc: accessSvc,
		resolver:  resolver,
		auditor:   auditor,
		validate:  validator.New(),
	}
}

// RegisterRoutes mounts the decision API. r must already authenticate.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, requireAdmin gin.HandlerFunc) {
	authz := r.Group("/authz")
	{
		authz.POST("/check", h.Check)
		authz.GET("/me", h.Me)
		authz.GET("/roles/:role/permissions", h.RolePermissions)
		authz.POST("/invalidate", requireAdmin, h.Invalidate)
	}
}

// Check returns the decision for the calling subject. A denial is a normal
// answer, not an error.
func (h *Handler) Check(c *gin.Context) {
	var req model.AccessCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondError(c, apperrors.BadRequest("invalid request body", err))
		return
	}
	if err := h.validate.Validate(req); err != nil {
		handler.RespondError(c, apperrors.BadRequest("invalid request body", err))
		return
	}

	decision, err := h.accessSvc.Decide(c.Request.Context(), handler.SubjectFrom(c), req.Resource, req.ResourceID, req.Operation)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(decision))
}

type meResponse struct {
	Subject     *model.Subject     `json:"subject"`
	Permissions []model.Permission `json:"permissions"`
}

func (h *Handler) Me(c *gin.Context) {
	subject := handler.SubjectFrom(c)
	if subject == nil {
		handler.RespondError(c, apperrors.Unauthorized(nil))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(meResponse{
		Subject:     subject,
		Permissions: nonNil(rbac.Permissions(subject.Role)),
	}))
}

func (h *Handler) RolePermissions(c *gin.Context) {
	role, err := model.ParseRole(c.Param("role"))
	if err != nil {
		handler.RespondError(c, apperrors.NotFound("role", err))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"role":        role,
		"level":       role.Level(),
		"permissions": nonNil(rbac.Permissions(role)),
	}))
}

type invalidateRequest struct {
	SubjectID  string `json:"subject_id"`
	Resource   string `json:"resource" validate:"required_with=ResourceID"`
	ResourceID string `json:"resource_id"`
}

// Invalidate drops cached decisions, and cached sessions when a subject is
// named. An empty body clears everything.
func (h *Handler) Invalidate(c *gin.Context) {
	var req invalidateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			handler.RespondError(c, apperrors.BadRequest("invalid request body", err))
			return
		}
	}
	if err := h.validate.Validate(req); err != nil {
		handler.RespondError(c, apperrors.BadRequest("invalid request body", err))
		return
	}

	scope := "all"
	switch {
	case req.SubjectID != "":
		scope = "subject"
		h.accessSvc.Invalidate(req.SubjectID)
		h.resolver.InvalidateSession(req.SubjectID)
	case req.Resource != "":
		scope = "resource"
		h.accessSvc.InvalidateResource(req.Resource, req.ResourceID)
	default:
		h.accessSvc.InvalidateAll()
		h.resolver.ClearSessions()
	}

	h.auditor.LogSensitiveOperation(c.Request.Context(), handler.SubjectFrom(c),
		model.AuditActionCacheInvalidate, model.AuditResourceAuthorization, req.SubjectID, true, "",
		map[string]any{"scope": scope, "resource": req.Resource, "resource_id": req.ResourceID})

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"scope": scope}))
}

func nonNil(perms []model.Permission) []model.Permission {
	if perms == nil {
		return []model.Permission{}
	}
	return perms
}
