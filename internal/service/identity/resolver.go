package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/repository"
	"github.com/jwalitptl/authz-api/internal/service/audit"
	"github.com/jwalitptl/authz-api/pkg/cache"
	"github.com/jwalitptl/authz-api/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
	"github.com/jwalitptl/authz-api/pkg/metrics"
)

const reasonDirectoryUnavailable = "directory unavailable"

// SessionCache holds enriched subjects keyed by subject id
type SessionCache = cache.LRU[string, model.Subject]

// NewSessionCache builds the session cache reporting to m when set
func NewSessionCache(cfg cache.Config, m *metrics.Metrics) *SessionCache {
	var opts []cache.Option[string, model.Subject]
	if m != nil {
		opts = append(opts, cache.WithObserver[string, model.Subject](m.ForCache("session")))
	}
	return cache.New[string, model.Subject](cfg, opts...)
}

// DirectoryBreaker guards directory lookups
type DirectoryBreaker = circuitbreaker.CircuitBreaker[*model.DirectoryUser]

// Resolver turns credentials into enriched subjects
type Resolver struct {
	verifier  TokenVerifier
	directory repository.UserDirectory
	sessions  *SessionCache
	breaker   *DirectoryBreaker
	auditor   *audit.Logger
	metrics   *metrics.Metrics
}

func NewResolver(verifier TokenVerifier, directory repository.UserDirectory, sessions *SessionCache,
	breaker *DirectoryBreaker, auditor *audit.Logger, m *metrics.Metrics) *Resolver {
	return &Resolver{
		verifier:  verifier,
		directory: directory,
		sessions:  sessions,
		breaker:   breaker,
		auditor:   auditor,
		metrics:   m,
	}
}

// Resolve verifies credential and enriches it from the directory.
//
// A missing or invalid credential is unauthorized. A directory failure is not:
// the subject is built from the credential alone with role user, marked
// Degraded, and left out of the session cache.
func (r *Resolver) Resolve(ctx context.Context, credential string) (*model.Subject, error) {
	if credential == "" {
		r.auditor.LogAuth(ctx, model.AuditActionAuthFailure, nil, false, ErrNoCredential.Error(), nil)
		r.observe("missing")
		return nil, apperrors.Unauthorized(ErrNoCredential)
	}

	identity, err := r.verifier.Verify(ctx, credential)
	if err != nil {
		r.auditor.LogAuth(ctx, model.AuditActionAuthFailure, nil, false, ErrInvalidCredential.Error(),
			map[string]any{"error": err.Error()})
		r.observe("invalid")
		return nil, apperrors.Unauthorized(err)
	}

	if subject, ok := r.sessions.Get(identity.SubjectID); ok {
		r.observe("cached")
		return &subject, nil
	}

	user, err := r.lookup(ctx, identity)
	if err != nil && canceled(ctx, err) {
		r.observe("canceled")
		return nil, fmt.Errorf("failed to resolve subject: %w", err)
	}
	if err != nil {
		// enrichment fails open; resource checks still fail closed
		subject := &model.Subject{
			ID:       identity.SubjectID,
			Email:    identity.Email,
			Role:     model.RoleUser,
			Degraded: true,
		}
		log.Warn().Err(err).Str("subject_id", identity.SubjectID).Msg("directory lookup failed, using degraded subject")
		r.auditor.LogAuth(ctx, model.AuditActionAuthenticate, subject, false, reasonDirectoryUnavailable,
			map[string]any{"degraded": true})
		r.observe("degraded")
		return subject, nil
	}

	subject := r.subjectFrom(identity, user)
	r.sessions.Set(subject.ID, *subject)
	r.auditor.LogAuth(ctx, model.AuditActionAuthenticate, subject, true, "", nil)
	r.observe("resolved")

	return subject, nil
}

func (r *Resolver) lookup(ctx context.Context, identity *model.Identity) (*model.DirectoryUser, error) {
	user, err := r.breaker.Execute(func() (*model.DirectoryUser, error) {
		return r.directory.Ensure(ctx, identity.SubjectID, identity.Email)
	})
	if r.metrics != nil {
		status := "ok"
		switch {
		case errors.Is(err, circuitbreaker.ErrOpen):
			status = "rejected"
		case err != nil:
			status = "error"
		}
		r.metrics.DirectoryLookups.WithLabelValues(status).Inc()
	}
	return user, err
}

// canceled reports whether err comes from the caller giving up rather than
// from the directory
func canceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (r *Resolver) subjectFrom(identity *model.Identity, user *model.DirectoryUser) *model.Subject {
	role, err := model.ParseRole(user.Role)
	if err != nil {
		log.Error().Err(err).Str("subject_id", user.ID).Msg("directory holds unknown role, treating as guest")
		role = model.RoleGuest
	}

	email := user.Email
	if email == "" {
		email = identity.Email
	}

	return &model.Subject{
		ID:             identity.SubjectID,
		Email:          email,
		Role:           role,
		OrganizationID: user.OrganizationID,
		DisplayName:    user.DisplayName,
	}
}

// ChangeRole updates subjectID's directory role and drops the cached
// session. Callers must also invalidate cached access decisions.
func (r *Resolver) ChangeRole(ctx context.Context, actor *model.Subject, subjectID string, role model.Role) error {
	if !role.Valid() {
		return apperrors.BadRequest("unknown role", nil)
	}

	err := r.directory.SetRole(ctx, subjectID, role)
	details := map[string]any{"role": string(role)}
	if err != nil {
		r.auditor.LogSensitiveOperation(ctx, actor, model.AuditActionRoleChange, model.AuditResourceUser, subjectID, false, err.Error(), details)
		if errors.Is(err, apperrors.ErrRecordNotFound) {
			return apperrors.NotFound("user", err)
		}
		return fmt.Errorf("failed to change role: %w", err)
	}

	r.InvalidateSession(subjectID)
	r.auditor.LogSensitiveOperation(ctx, actor, model.AuditActionRoleChange, model.AuditResourceUser, subjectID, true, "", details)
	return nil
}

// InvalidateSession drops the cached subject for subjectID
func (r *Resolver) InvalidateSession(subjectID string) {
	r.sessions.Delete(subjectID)
	if r.metrics != nil {
		r.metrics.CacheInvalidations.WithLabelValues("session", "subject").Inc()
	}
}

// ClearSessions drops every cached subject
func (r *Resolver) ClearSessions() {
	r.sessions.Clear()
	if r.metrics != nil {
		r.metrics.CacheInvalidations.WithLabelValues("session", "all").Inc()
	}
}

func (r *Resolver) observe(result string) {
	if r.metrics != nil {
		r.metrics.IdentityResults.WithLabelValues(result).Inc()
	}
}
