package access

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/repository"
	"github.com/jwalitptl/authz-api/internal/service/audit"
	"github.com/jwalitptl/authz-api/internal/service/rbac"
	"github.com/jwalitptl/authz-api/pkg/cache"
	"github.com/jwalitptl/authz-api/pkg/errors"
	"github.com/jwalitptl/authz-api/pkg/metrics"
)

const reasonLookupFailed = "resource lookup failed"

// DecisionKey identifies one cached access decision
type DecisionKey struct {
	SubjectID  string
	Resource   string
	ResourceID string
	Operation  model.Operation
}

// DecisionCache holds boolean decisions, never descriptors
type DecisionCache = cache.LRU[DecisionKey, bool]

// NewDecisionCache builds the decision cache reporting to m when set
func NewDecisionCache(cfg cache.Config, m *metrics.Metrics) *DecisionCache {
	var opts []cache.Option[DecisionKey, bool]
	if m != nil {
		opts = append(opts, cache.WithObserver[DecisionKey, bool](m.ForCache("decision")))
	}
	return cache.New[DecisionKey, bool](cfg, opts...)
}

type Service struct {
	store     repository.ResourceStore
	decisions *DecisionCache
	auditor   *audit.Logger
	metrics   *metrics.Metrics
}

func NewService(store repository.ResourceStore, decisions *DecisionCache, auditor *audit.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:     store,
		decisions: decisions,
		auditor:   auditor,
		metrics:   m,
	}
}

// Decide evaluates op on a concrete resource for subject. Every call writes
// exactly one audit entry. A missing resource is reported as a not_found
// error; a failed lookup denies.
func (s *Service) Decide(ctx context.Context, subject *model.Subject, resource, resourceID string, op model.Operation) (model.AccessDecision, error) {
	if subject == nil {
		s.auditor.LogPermissionCheck(ctx, nil, resource, resourceID, string(op), false, "no subject", nil)
		return model.AccessDecision{}, errors.Unauthorized(nil)
	}
	if !op.Valid() {
		s.auditor.LogPermissionCheck(ctx, subject, resource, resourceID, string(op), false, DenialReason(op), nil)
		return model.AccessDecision{}, errors.BadRequest(fmt.Sprintf("unknown operation %q", op), nil)
	}
	if op == model.OpCreate {
		allowed, reason := s.authorize(ctx, subject, model.Permission{Resource: resource, Action: model.ActionCreate})
		return model.AccessDecision{Allowed: allowed, Reason: reason}, nil
	}

	start := time.Now()
	key := DecisionKey{SubjectID: subject.ID, Resource: resource, ResourceID: resourceID, Operation: op}
	details := map[string]any{"operation": string(op)}
	if op.Sensitive() {
		details["sensitive"] = true
	}

	// a degraded subject carries a placeholder role; its answers are neither
	// read from nor written to the cache
	cacheable := !subject.Degraded
	if !cacheable {
		details["degraded"] = true
	}

	if cached, ok := s.lookupCached(key, cacheable); ok {
		if !cached {
			// forbidden and not_found must cost the same store read
			if _, err := s.store.GetDescriptor(ctx, resource, resourceID); err != nil {
				return s.lookupFailed(ctx, subject, key, details, err, start)
			}
		}
		details["cached"] = true
		decision := cachedDecision(cached, op)
		s.record(ctx, subject, key, decision, details, "true", start)
		return decision, nil
	}

	// blocking lookup inherits the caller's deadline
	desc, err := s.store.GetDescriptor(ctx, resource, resourceID)
	if err != nil {
		return s.lookupFailed(ctx, subject, key, details, err, start)
	}

	allowed, reason := Evaluate(subject, desc, op)
	if cacheable {
		s.decisions.Set(key, allowed)
	}

	decision := model.AccessDecision{Allowed: allowed, Reason: reason}
	s.record(ctx, subject, key, decision, details, "false", start)
	return decision, nil
}

func (s *Service) lookupCached(key DecisionKey, cacheable bool) (bool, bool) {
	if !cacheable {
		return false, false
	}
	return s.decisions.Get(key)
}

// lookupFailed answers not_found for a missing record and denies on any other
// store error
func (s *Service) lookupFailed(ctx context.Context, subject *model.Subject, key DecisionKey, details map[string]any, err error, start time.Time) (model.AccessDecision, error) {
	resource, resourceID, op := key.Resource, key.ResourceID, key.Operation
	if errors.Is(err, errors.ErrRecordNotFound) {
		s.auditor.LogPermissionCheck(ctx, subject, resource, resourceID, string(op), false, "resource not found", details)
		s.observe(resource, op, "not_found", "false", start)
		return model.AccessDecision{}, errors.NotFound(resource, err)
	}

	log.Error().Err(err).
		Str("resource", resource).
		Str("resource_id", resourceID).
		Str("subject_id", subject.ID).
		Msg("resource lookup failed, denying")
	s.auditor.LogPermissionCheck(ctx, subject, resource, resourceID, string(op), false, reasonLookupFailed, details)
	s.observe(resource, op, "error", "false", start)
	return model.AccessDecision{Allowed: false, Reason: reasonLookupFailed}, errors.Forbidden(reasonLookupFailed, err)
}

// Check is Decide for gates: nil on allow, forbidden or not_found otherwise
func (s *Service) Check(ctx context.Context, subject *model.Subject, resource, resourceID string, op model.Operation) error {
	decision, err := s.Decide(ctx, subject, resource, resourceID, op)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return errors.Forbidden(decision.Reason, nil)
	}
	return nil
}

// Authorize performs the coarse role-based check and audits it
func (s *Service) Authorize(ctx context.Context, subject *model.Subject, perm model.Permission) error {
	if subject == nil {
		s.auditor.LogPermissionCheck(ctx, nil, perm.Resource, "", string(perm.Action), false, "no subject", nil)
		return errors.Unauthorized(nil)
	}
	allowed, reason := s.authorize(ctx, subject, perm)
	if !allowed {
		return errors.Forbidden(reason, nil)
	}
	return nil
}

func (s *Service) authorize(ctx context.Context, subject *model.Subject, perm model.Permission) (bool, string) {
	allowed := rbac.HasPermission(subject.Role, perm)
	reason := fmt.Sprintf("role %s", subject.Role)
	if !allowed {
		reason = fmt.Sprintf("missing %s permission on %s", perm.Action, perm.Resource)
	}

	s.auditor.LogPermissionCheck(ctx, subject, perm.Resource, "", string(perm.Action), allowed, reason,
		map[string]any{"scope": "role"})
	if s.metrics != nil {
		s.metrics.Decisions.WithLabelValues(perm.Resource, string(perm.Action), outcome(allowed)).Inc()
	}
	return allowed, reason
}

// Invalidate guarantees no cached decision for subjectID survives the call.
// There is no index by subject, so the whole cache is cleared.
func (s *Service) Invalidate(subjectID string) {
	s.clear("subject")
	log.Debug().Str("subject_id", subjectID).Msg("decision cache invalidated")
}

// InvalidateResource guarantees no cached decision for the resource survives
// the call. Like Invalidate it clears the whole cache.
func (s *Service) InvalidateResource(resource, resourceID string) {
	s.clear("resource")
	log.Debug().Str("resource", resource).Str("resource_id", resourceID).Msg("decision cache invalidated")
}

// InvalidateAll clears every cached decision
func (s *Service) InvalidateAll() {
	s.clear("all")
}

// CacheStats exposes decision cache counters
func (s *Service) CacheStats() cache.Stats {
	return s.decisions.Stats()
}

func (s *Service) clear(scope string) {
	s.decisions.Clear()
	if s.metrics != nil {
		s.metrics.CacheInvalidations.WithLabelValues("decision", scope).Inc()
	}
}

func (s *Service) record(ctx context.Context, subject *model.Subject, key DecisionKey, d model.AccessDecision, details map[string]any, cached string, start time.Time) {
	s.auditor.LogPermissionCheck(ctx, subject, key.Resource, key.ResourceID, string(key.Operation), d.Allowed, d.Reason, details)
	s.observe(key.Resource, key.Operation, outcome(d.Allowed), cached, start)
}

func (s *Service) observe(resource string, op model.Operation, result, cached string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.Decisions.WithLabelValues(resource, string(op), result).Inc()
	s.metrics.DecisionLatency.WithLabelValues(cached).Observe(time.Since(start).Seconds())
}

func cachedDecision(allowed bool, op model.Operation) model.AccessDecision {
	if allowed {
		return model.AccessDecision{Allowed: true}
	}
	return model.AccessDecision{Allowed: false, Reason: DenialReason(op)}
}

func outcome(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}
