package user

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/authz-api/internal/handler"
	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/repository"
	"github.com/jwalitptl/authz-api/internal/service/access"
	"github.com/jwalitptl/authz-api/internal/service/identity"
	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
)

type Handler struct {
	directory repository.UserDirectory
	resolver  *identity.Resolver
	accessSvc *access.Service
}

func NewHandler(directory repository.UserDirectory, resolver *identity.Resolver, accessSvc *access.Service) *Handler {
	return &Handler{
		directory: directory,
		resolver:  resolver,
		accessSvc: accessSvc,
	}
}

// RegisterRoutes mounts directory administration; every route is admin only
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, requireAdmin gin.HandlerFunc) {
	users := r.Group("/users", requireAdmin)
	{
		users.GET("/:id", h.GetUser)
		users.PUT("/:id/role", h.ChangeRole)
	}
}

func (h *Handler) GetUser(c *gin.Context) {
	u, err := h.directory.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if apperrors.Is(err, apperrors.ErrRecordNotFound) {
			handler.RespondError(c, apperrors.NotFound("user", err))
			return
		}
		handler.RespondError(c, apperrors.Internal(err))
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(u))
}

type changeRoleRequest struct {
	Role model.Role `json:"role" binding:"required"`
}

// ChangeRole updates the directory role and drops every cached answer that
// depended on the old one
func (h *Handler) ChangeRole(c *gin.Context) {
	var req changeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondError(c, apperrors.BadRequest("invalid request body", err))
		return
	}

	id := c.Param("id")
	if err := h.resolver.ChangeRole(c.Request.Context(), handler.SubjectFrom(c), id, req.Role); err != nil {
		handler.RespondError(c, err)
		return
	}
	h.accessSvc.Invalidate(id)

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"id": id, "role": req.Role}))
}
