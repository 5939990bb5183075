package audit

import (
	"context"

	"github.com/jwalitptl/authz-api/internal/model"
)

const anonymousUser = "anonymous"

func statusOf(success bool) model.AuditStatus {
	if success {
		return model.AuditStatusSuccess
	}
	return model.AuditStatusFailure
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func actorEntry(actor *model.Subject) model.AuditLog {
	if actor == nil {
		return model.AuditLog{UserID: anonymousUser}
	}
	return model.AuditLog{
		UserID:    actor.ID,
		UserEmail: actor.Email,
		UserRole:  actor.Role,
	}
}

// LogAuth records a login, logout, token refresh or authentication failure.
// actor may be nil when no identity could be established.
func (l *Logger) LogAuth(ctx context.Context, action string, actor *model.Subject, success bool, errMsg string, details map[string]any) {
	entry := actorEntry(actor)
	entry.Action = action
	entry.Resource = model.AuditResourceAuthentication
	entry.Status = statusOf(success)
	entry.ErrorMessage = optional(errMsg)
	entry.Details = details

	l.Log(ctx, entry)
}

// LogPermissionCheck records the outcome of an authorization decision. reason
// is kept only for denials.
func (l *Logger) LogPermissionCheck(ctx context.Context, actor *model.Subject, resource, resourceID, action string, allowed bool, reason string, details map[string]any) {
	entry := actorEntry(actor)
	entry.Action = action
	entry.Resource = resource
	entry.ResourceID = optional(resourceID)
	entry.Status = statusOf(allowed)
	if !allowed {
		entry.Reason = optional(reason)
	}
	entry.Details = withDetail(details, "check", model.AuditActionPermissionCheck)

	l.Log(ctx, entry)
}

// LogDataAccess records a view, create, update, delete, share or unshare on a
// concrete resource
func (l *Logger) LogDataAccess(ctx context.Context, actor *model.Subject, action, resource, resourceID string, success bool, errMsg string, details map[string]any) {
	entry := actorEntry(actor)
	entry.Action = action
	entry.Resource = resource
	entry.ResourceID = optional(resourceID)
	entry.Status = statusOf(success)
	entry.ErrorMessage = optional(errMsg)
	entry.Details = details

	l.Log(ctx, entry)
}

// LogSensitiveOperation is LogDataAccess for destructive or irreversible
// actions; the entry is tagged details.sensitive = true.
func (l *Logger) LogSensitiveOperation(ctx context.Context, actor *model.Subject, action, resource, resourceID string, success bool, errMsg string, details map[string]any) {
	l.LogDataAccess(ctx, actor, action, resource, resourceID, success, errMsg, withDetail(details, "sensitive", true))
}

// LogRoleCheck records a route-level role gate
func (l *Logger) LogRoleCheck(ctx context.Context, actor *model.Subject, route string, required []model.Role, allowed bool) {
	roles := make([]string, len(required))
	for i, r := range required {
		roles[i] = string(r)
	}

	entry := actorEntry(actor)
	entry.Action = model.AuditActionRoleCheck
	entry.Resource = model.AuditResourceAuthorization
	entry.Status = statusOf(allowed)
	if !allowed {
		entry.Reason = optional("role not permitted")
	}
	entry.Details = map[string]any{"route": route, "required_roles": roles}

	l.Log(ctx, entry)
}
