package patient

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/authz-api/internal/handler"
	"github.com/jwalitptl/authz-api/internal/middleware"
	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/service/access"
	"github.com/jwalitptl/authz-api/internal/service/audit"
)

// Handler guards the patient record routes. Records are owned by the
// upstream record service; once the gate passes the request is acknowledged
// with 204 and the access is audited.
type Handler struct {
	accessSvc *access.Service
	auditor   *audit.Logger
}

func NewHandler(accessSvc *access.Service, auditor *audit.Logger) *Handler {
	return &Handler{
		accessSvc: accessSvc,
		auditor:   auditor,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	const res = model.ResourcePatient
	patients := r.Group("/patients")
	{
		patients.POST("", auth.RequirePermission(res, model.ActionCreate), h.forward(model.OpCreate))
		patients.GET("/:id", auth.RequireAccess(res, model.OpView, "id"), h.forward(model.OpView))
		patients.PUT("/:id", auth.RequireAccess(res, model.OpUpdate, "id"), h.forward(model.OpUpdate))
		patients.DELETE("/:id", auth.RequireAccess(res, model.OpDelete, "id"), h.forward(model.OpDelete))
		patients.POST("/:id/share", auth.RequireAccess(res, model.OpShare, "id"), h.forward(model.OpShare))
		patients.DELETE("/:id/share", auth.RequireAccess(res, model.OpUnshare, "id"), h.forward(model.OpUnshare))
	}
}

func (h *Handler) forward(op model.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		subject := handler.SubjectFrom(c)
		id := c.Param("id")

		if op.Sensitive() {
			h.auditor.LogSensitiveOperation(ctx, subject, string(op), model.ResourcePatient, id, true, "", nil)
		} else {
			h.auditor.LogDataAccess(ctx, subject, string(op), model.ResourcePatient, id, true, "", nil)
		}

		// ownership or sharing may change; cached answers must not outlive it
		if op == model.OpDelete || op == model.OpShare || op == model.OpUnshare {
			h.accessSvc.InvalidateResource(model.ResourcePatient, id)
		}

		c.Status(http.StatusNoContent)
	}
}
