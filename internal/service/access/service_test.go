package access

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/service/audit"
	"github.com/jwalitptl/authz-api/pkg/cache"
	"github.com/jwalitptl/authz-api/pkg/errors"
	"github.com/jwalitptl/authz-api/pkg/metrics"
)

type fakeStore struct {
	mu    sync.Mutex
	items map[string]*model.AccessDescriptor
	err   error
	calls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string]*model.AccessDescriptor)}
}

func (f *fakeStore) put(resource string, d *model.AccessDescriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[resource+"/"+d.ResourceID] = d
}

func (f *fakeStore) GetDescriptor(ctx context.Context, resource, id string) (*model.AccessDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.items[resource+"/"+id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", resource, id, errors.ErrRecordNotFound)
	}
	copied := *d
	return &copied, nil
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	svc     *Service
	store   *fakeStore
	cache   *DecisionCache
	auditor *audit.Logger
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	store := newFakeStore()
	decisions := NewDecisionCache(cache.Config{Capacity: 100, TTL: time.Minute, SweepInterval: time.Hour}, m)
	auditor := audit.NewLogger(audit.Config{}, audit.WithZerolog(zerolog.Nop()))
	t.Cleanup(func() {
		decisions.Close()
		auditor.Close()
	})

	return &fixture{
		svc:     NewService(store, decisions, auditor, m),
		store:   store,
		cache:   decisions,
		auditor: auditor,
		metrics: m,
	}
}

func (f *fixture) logs() []model.AuditLog {
	return f.auditor.Query(model.AuditFilter{})
}

var (
	org1 = org(1)
	org2 = org(2)

	d1 = subject("d1", model.RoleDoctor, org1)
	d2 = subject("d2", model.RoleDoctor, org2)
	n1 = subject("n1", model.RoleNurse, org1)
	u1 = subject("u1", model.RoleUser, nil)
)

func TestScenario_NurseViewsOrgPatient(t *testing.T) {
	f := newFixture(t)
	f.store.put(model.ResourcePatient, &model.AccessDescriptor{ResourceID: "p1", CreatedBy: str("d1"), OrganizationID: org1})

	err := f.svc.Check(context.Background(), n1, model.ResourcePatient, "p1", model.OpView)
	require.NoError(t, err)

	logs := f.logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "n1", logs[0].UserID)
	assert.Equal(t, string(model.OpView), logs[0].Action)
	assert.Equal(t, model.ResourcePatient, logs[0].Resource)
	assert.Equal(t, "p1", *logs[0].ResourceID)
	assert.Equal(t, model.AuditStatusSuccess, logs[0].Status)

	assert.Equal(t, 1, f.cache.Len())
	allowed, ok := f.cache.Get(DecisionKey{SubjectID: "n1", Resource: model.ResourcePatient, ResourceID: "p1", Operation: model.OpView})
	assert.True(t, ok)
	assert.True(t, allowed)
}

func TestScenario_SharedUserCannotDelete(t *testing.T) {
	f := newFixture(t)
	f.store.put(model.ResourcePatient, &model.AccessDescriptor{ResourceID: "p1", CreatedBy: str("d1"), OrganizationID: org1, SharedWith: []string{"u1"}})

	err := f.svc.Check(context.Background(), u1, model.ResourcePatient, "p1", model.OpDelete)
	require.Error(t, err)
	assert.True(t, errors.IsForbidden(err))

	logs := f.logs()
	require.Len(t, logs, 1)
	assert.Equal(t, model.AuditStatusFailure, logs[0].Status)
	require.NotNil(t, logs[0].Reason)
	assert.Contains(t, *logs[0].Reason, "delete")
	assert.True(t, logs[0].Sensitive())
}

func TestScenario_CrossOrgDenialIsStable(t *testing.T) {
	f := newFixture(t)
	f.store.put(model.ResourcePatient, &model.AccessDescriptor{ResourceID: "p1", CreatedBy: str("d1"), OrganizationID: org1})

	ctx := context.Background()
	first := f.svc.Check(ctx, d2, model.ResourcePatient, "p1", model.OpUpdate)
	second := f.svc.Check(ctx, d2, model.ResourcePatient, "p1", model.OpUpdate)

	assert.True(t, errors.IsForbidden(first))
	assert.True(t, errors.IsForbidden(second))
	assert.Equal(t, 2, f.store.callCount(), "cached denials still read the descriptor")

	logs := f.logs()
	require.Len(t, logs, 2)
	assert.Equal(t, true, logs[0].Details["cached"])
	assert.Equal(t, "missing update permission", *logs[0].Reason)
}

func TestScenario_DegradedSubjectIsNotCached(t *testing.T) {
	f := newFixture(t)
	f.store.put(model.ResourcePatient, &model.AccessDescriptor{ResourceID: "p1", CreatedBy: str("d2"), OrganizationID: org1})
	ctx := context.Background()

	degraded := &model.Subject{ID: "d1", Role: model.RoleUser, Degraded: true}
	err := f.svc.Check(ctx, degraded, model.ResourcePatient, "p1", model.OpUpdate)
	assert.True(t, errors.IsForbidden(err))
	assert.Zero(t, f.cache.Len())
	assert.Equal(t, true, f.logs()[0].Details["degraded"])

	// once the directory answers again the real role decides
	require.NoError(t, f.svc.Check(ctx, d1, model.ResourcePatient, "p1", model.OpUpdate))
	assert.Equal(t, 1, f.cache.Len())

	// and a degraded retry never sees the cached allow
	err = f.svc.Check(ctx, degraded, model.ResourcePatient, "p1", model.OpUpdate)
	assert.True(t, errors.IsForbidden(err))
	assert.Equal(t, 3, f.store.callCount())
}

func TestCheck_CachedDenialOfDeletedRecord(t *testing.T) {
	f := newFixture(t)
	f.store.put(model.ResourcePatient, &model.AccessDescriptor{ResourceID: "p1", CreatedBy: str("d1"), OrganizationID: org1})
	ctx := context.Background()

	require.True(t, errors.IsForbidden(f.svc.Check(ctx, d2, model.ResourcePatient, "p1", model.OpView)))

	f.store.mu.Lock()
	delete(f.store.items, model.ResourcePatient+"/p1")
	f.store.mu.Unlock()

	err := f.svc.Check(ctx, d2, model.ResourcePatient, "p1", model.OpView)
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, 2, f.store.callCount())
	assert.Len(t, f.logs(), 2)
}

func TestCheck_AuditCompleteness(t *testing.T) {
	f := newFixture(t)
	f.store.put(model.ResourcePatient, &model.AccessDescriptor{ResourceID: "p1", CreatedBy: str("d1"), OrganizationID: org1, SharedWith: []string{"u1"}})

	calls := []struct {
		subject *model.Subject
		op      model.Operation
	}{
		{d1, model.OpView}, {d1, model.OpDelete}, {n1, model.OpUpdate}, {n1, model.OpShare},
		{u1, model.OpView}, {u1, model.OpUpdate}, {d2, model.OpView}, {d1, model.OpView},
	}

	ctx := context.Background()
	for _, c := range calls {
		_ = f.svc.Check(ctx, c.subject, model.ResourcePatient, "p1", c.op)
	}
	_ = f.svc.Check(ctx, d1, model.ResourcePatient, "missing", model.OpView)

	logs := f.logs()
	require.Len(t, logs, len(calls)+1)

	// newest first
	for i, c := range calls {
		entry := logs[len(logs)-1-i]
		assert.Equal(t, c.subject.ID, entry.UserID)
		assert.Equal(t, string(c.op), entry.Action)
		assert.Equal(t, "p1", *entry.ResourceID)
	}
}

func TestCheck_NotFound(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Check(context.Background(), d1, model.ResourcePatient, "ghost", model.OpView)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.False(t, errors.IsForbidden(err))
	assert.Zero(t, f.cache.Len(), "missing resources are not cached")

	logs := f.logs()
	require.Len(t, logs, 1)
	assert.Equal(t, model.AuditStatusFailure, logs[0].Status)
	assert.Equal(t, "resource not found", *logs[0].Reason)
}

// Fine-grained checks fail closed when the descriptor cannot be fetched.
func TestCheck_StoreFailureDenies(t *testing.T) {
	f := newFixture(t)
	f.store.put(model.ResourcePatient, &model.AccessDescriptor{ResourceID: "p1", CreatedBy: str("d1")})
	f.store.err = fmt.Errorf("connection refused")

	admin := subject("a", model.RoleAdmin, nil)
	err := f.svc.Check(context.Background(), admin, model.ResourcePatient, "p1", model.OpView)
	require.Error(t, err)
	assert.True(t, errors.IsForbidden(err), "even admins are denied without a descriptor")
	assert.Zero(t, f.cache.Len())

	logs := f.logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "resource lookup failed", *logs[0].Reason)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Decisions.WithLabelValues(model.ResourcePatient, "view", "error")))
}

func TestCheck_PropagatesCancellation(t *testing.T) {
	f := newFixture(t)
	f.store.put(model.ResourcePatient, &model.AccessDescriptor{ResourceID: "p1", CreatedBy: str("d1")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.svc.Check(ctx, d1, model.ResourcePatient, "p1", model.OpView)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, errors.IsForbidden(err))
}

func TestCheck_NoSubject(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Check(context.Background(), nil, model.ResourcePatient, "p1", model.OpView)
	assert.True(t, errors.IsUnauthorized(err))
	require.Len(t, f.logs(), 1)
	assert.Equal(t, "anonymous", f.logs()[0].UserID)
}

func TestCheck_UnknownOperation(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Check(context.Background(), d1, model.ResourcePatient, "p1", model.Operation("archive"))
	assert.Equal(t, errors.ErrBadRequest, errors.CodeOf(err))
	assert.Zero(t, f.store.callCount())

	logs := f.logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "archive", logs[0].Action)
	assert.Equal(t, model.AuditStatusFailure, logs[0].Status)
	assert.Equal(t, "unsupported operation", *logs[0].Reason)
}

func TestDecide_CreateUsesRoleTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	decision, err := f.svc.Decide(ctx, n1, model.ResourceReport, "", model.OpCreate)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = f.svc.Decide(ctx, n1, model.ResourcePatient, "", model.OpCreate)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "missing create permission on patient", decision.Reason)

	assert.Zero(t, f.store.callCount())
	assert.Len(t, f.logs(), 2)
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.NoError(t, f.svc.Authorize(ctx, d1, model.Permission{Resource: model.ResourcePatient, Action: model.ActionDelete}))
	assert.True(t, errors.IsForbidden(f.svc.Authorize(ctx, n1, model.Permission{Resource: model.ResourcePatient, Action: model.ActionDelete})))
	assert.NoError(t, f.svc.Authorize(ctx, subject("a", model.RoleAdmin, nil), model.Permission{Resource: "invoice", Action: model.ActionShare}))

	logs := f.logs()
	require.Len(t, logs, 3)
	assert.Equal(t, "role", logs[1].Details["scope"])
	assert.Equal(t, model.AuditStatusFailure, logs[1].Status)
}

func TestInvalidate_ClearsEverything(t *testing.T) {
	ctx := context.Background()

	for name, invalidate := range map[string]func(*Service){
		"subject":  func(s *Service) { s.Invalidate("n1") },
		"resource": func(s *Service) { s.InvalidateResource(model.ResourcePatient, "p2") },
		"all":      func(s *Service) { s.InvalidateAll() },
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.store.put(model.ResourcePatient, &model.AccessDescriptor{ResourceID: "p1", CreatedBy: str("d1"), OrganizationID: org1})
			f.store.put(model.ResourcePatient, &model.AccessDescriptor{ResourceID: "p2", CreatedBy: str("d1"), OrganizationID: org1})

			_ = f.svc.Check(ctx, n1, model.ResourcePatient, "p1", model.OpView)
			_ = f.svc.Check(ctx, d1, model.ResourcePatient, "p2", model.OpDelete)
			require.Equal(t, 2, f.cache.Len())

			invalidate(f.svc)

			assert.Zero(t, f.cache.Len())
			_, ok := f.cache.Get(DecisionKey{SubjectID: "d1", Resource: model.ResourcePatient, ResourceID: "p2", Operation: model.OpDelete})
			assert.False(t, ok)
		})
	}
}

func TestInvalidate_PicksUpRuleChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.put(model.ResourcePatient, &model.AccessDescriptor{ResourceID: "p1", CreatedBy: str("d1")})

	require.True(t, errors.IsForbidden(f.svc.Check(ctx, u1, model.ResourcePatient, "p1", model.OpView)))

	f.store.put(model.ResourcePatient, &model.AccessDescriptor{ResourceID: "p1", CreatedBy: str("d1"), SharedWith: []string{"u1"}})
	assert.True(t, errors.IsForbidden(f.svc.Check(ctx, u1, model.ResourcePatient, "p1", model.OpView)), "stale within TTL")

	f.svc.InvalidateResource(model.ResourcePatient, "p1")
	assert.NoError(t, f.svc.Check(ctx, u1, model.ResourcePatient, "p1", model.OpView))
}

func TestCheck_Concurrent(t *testing.T) {
	f := newFixture(t)
	f.store.put(model.ResourcePatient, &model.AccessDescriptor{ResourceID: "p1", CreatedBy: str("d1"), OrganizationID: org1})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := n1
			if i%2 == 0 {
				s = d2
			}
			for j := 0; j < 50; j++ {
				err := f.svc.Check(context.Background(), s, model.ResourcePatient, "p1", model.OpView)
				if s == n1 {
					assert.NoError(t, err)
				} else {
					assert.True(t, errors.IsForbidden(err))
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 16*50, f.auditor.Len())
	assert.Equal(t, 2, f.cache.Len())
}
