package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/authz-api/internal/handler"
	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/service/access"
	"github.com/jwalitptl/authz-api/internal/service/audit"
	"github.com/jwalitptl/authz-api/internal/service/identity"
	"github.com/jwalitptl/authz-api/internal/service/rbac"
	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
)

type AuthMiddleware struct {
	resolver      *identity.Resolver
	accessSvc     *access.Service
	auditor       *audit.Logger
	hideExistence bool
}

func NewAuthMiddleware(resolver *identity.Resolver, accessSvc *access.Service, auditor *audit.Logger, hideExistence bool) *AuthMiddleware {
	return &AuthMiddleware{
		resolver:      resolver,
		accessSvc:     accessSvc,
		auditor:       auditor,
		hideExistence: hideExistence,
	}
}

// Authenticate resolves the presented credential and stores the subject in
// the context
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		credential := identity.ExtractCredential(c.Request)

		subject, err := m.resolver.Resolve(c.Request.Context(), credential)
		if err != nil {
			handler.RespondError(c, err)
			return
		}

		handler.SetSubject(c, subject)
		c.Next()
	}
}

// RequireRole lets the request through only for the listed roles
func (m *AuthMiddleware) RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := handler.SubjectFrom(c)
		if subject == nil {
			handler.RespondError(c, apperrors.Unauthorized(nil))
			return
		}

		allowed := rbac.HasRole(subject.Role, roles...)
		m.auditor.LogRoleCheck(c.Request.Context(), subject, c.FullPath(), roles, allowed)
		if !allowed {
			handler.RespondError(c, apperrors.Forbidden("insufficient role", nil))
			return
		}

		c.Next()
	}
}

// RequirePermission checks the subject's role table for resource:action
func (m *AuthMiddleware) RequirePermission(resource string, action model.Action) gin.HandlerFunc {
	perm := model.Permission{Resource: resource, Action: action}
	return func(c *gin.Context) {
		if err := m.accessSvc.Authorize(c.Request.Context(), handler.SubjectFrom(c), perm); err != nil {
			handler.RespondError(c, err)
			return
		}
		c.Next()
	}
}

// RequireAccess checks op on the resource identified by the path parameter
// param. With hideExistence set, non-admin callers get the same not_found
// response for denied and missing records.
func (m *AuthMiddleware) RequireAccess(resource string, op model.Operation, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := handler.SubjectFrom(c)
		err := m.accessSvc.Check(c.Request.Context(), subject, resource, c.Param(param), op)
		if err == nil {
			c.Next()
			return
		}

		if m.hideExistence && subject != nil && subject.Role != model.RoleAdmin &&
			(apperrors.IsForbidden(err) || apperrors.IsNotFound(err)) {
			handler.RespondError(c, apperrors.NotFound(resource, nil))
			return
		}
		handler.RespondError(c, err)
	}
}
