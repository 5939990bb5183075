package model

import (
	"maps"
	"time"
)

// AuditStatus is the outcome of an audited event
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusFailure AuditStatus = "failure"
)

const (
	// Authentication actions
	AuditActionLogin        = "login"
	AuditActionLogout       = "logout"
	AuditActionTokenRefresh = "token_refresh"
	AuditActionAuthFailure  = "auth_failure"
	AuditActionAuthenticate = "authenticate"

	// Authorization actions
	AuditActionPermissionCheck = "permission_check"
	AuditActionRoleCheck       = "role_check"

	// Administrative actions
	AuditActionCacheInvalidate = "cache_invalidate"
	AuditActionAuditPurge      = "audit_purge"
	AuditActionRoleChange      = "role_change"

	AuditResourceAuthentication = "authentication"
	AuditResourceAuthorization  = "authorization"
	AuditResourceAuditLog       = "audit_log"
	AuditResourceUser           = "user"
)

// AuditLog is an immutable record of one authorization-relevant event
type AuditLog struct {
	ID           string         `json:"id" db:"id"`
	Timestamp    time.Time      `json:"timestamp" db:"timestamp"`
	UserID       string         `json:"user_id" db:"user_id"`
	UserEmail    string         `json:"user_email" db:"user_email"`
	UserRole     Role           `json:"user_role" db:"user_role"`
	Action       string         `json:"action" db:"action"`
	Resource     string         `json:"resource" db:"resource"`
	ResourceID   *string        `json:"resource_id,omitempty" db:"resource_id"`
	Status       AuditStatus    `json:"status" db:"status"`
	ErrorMessage *string        `json:"error_message,omitempty" db:"error_message"`
	Reason       *string        `json:"reason,omitempty" db:"reason"`
	Details      map[string]any `json:"details,omitempty" db:"-"`
	IPAddress    string         `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent    string         `json:"user_agent,omitempty" db:"user_agent"`
}

// Clone returns a copy that shares no map or pointer with l. Nested values
// inside Details are still shared.
func (l *AuditLog) Clone() AuditLog {
	c := *l
	c.ResourceID = cloneString(l.ResourceID)
	c.ErrorMessage = cloneString(l.ErrorMessage)
	c.Reason = cloneString(l.Reason)
	c.Details = maps.Clone(l.Details)
	return c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Sensitive reports whether the entry was tagged as a sensitive operation
func (l *AuditLog) Sensitive() bool {
	v, ok := l.Details["sensitive"].(bool)
	return ok && v
}

// AuditFilter narrows an audit query. Zero values match everything.
type AuditFilter struct {
	UserID    string      `form:"user_id"`
	Action    string      `form:"action"`
	Resource  string      `form:"resource"`
	Status    AuditStatus `form:"status" validate:"omitempty,oneof=success failure"`
	StartTime *time.Time  `form:"start_time" time_format:"2006-01-02T15:04:05Z07:00"`
	EndTime   *time.Time  `form:"end_time" time_format:"2006-01-02T15:04:05Z07:00"`
	Limit     int         `form:"limit" validate:"gte=0,lte=10000"`
}

// Match reports whether l satisfies every set field of f, ignoring Limit
func (f AuditFilter) Match(l *AuditLog) bool {
	if f.UserID != "" && l.UserID != f.UserID {
		return false
	}
	if f.Action != "" && l.Action != f.Action {
		return false
	}
	if f.Resource != "" && l.Resource != f.Resource {
		return false
	}
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	if f.StartTime != nil && l.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && l.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

// AuditStats aggregates audit entries over a time range
type AuditStats struct {
	TotalLogs    int            `json:"total_logs"`
	SuccessCount int            `json:"success_count"`
	FailureCount int            `json:"failure_count"`
	ByAction     map[string]int `json:"by_action"`
	ByResource   map[string]int `json:"by_resource"`
	ByUser       map[string]int `json:"by_user"`
}

// TimeRange bounds statistics; nil ends are open
type TimeRange struct {
	Start *time.Time `form:"start_time" time_format:"2006-01-02T15:04:05Z07:00"`
	End   *time.Time `form:"end_time" time_format:"2006-01-02T15:04:05Z07:00"`
}
