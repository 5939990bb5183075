package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/authz-api/internal/model"
	"github.com/jwalitptl/authz-api/internal/service/audit"
	"github.com/jwalitptl/authz-api/pkg/cache"
	"github.com/jwalitptl/authz-api/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/authz-api/pkg/errors"
	"github.com/jwalitptl/authz-api/pkg/metrics"
)

const secret = "test-secret-0123456789"

func TestExtractCredential_Precedence(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
		query  string
		want   string
	}{
		{"header wins", "Bearer h", "c", "q", "h"},
		{"lowercase scheme", "bearer h", "", "", "h"},
		{"cookie over query", "", "c", "q", "c"},
		{"query last", "", "", "q", "q"},
		{"non bearer header falls through", "Basic abc", "c", "", "c"},
		{"empty bearer falls through", "Bearer ", "", "q", "q"},
		{"nothing", "", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/patients/1"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			r := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: CookieName, Value: tt.cookie})
			}
			assert.Equal(t, tt.want, ExtractCredential(r))
		})
	}
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v, err := NewJWTVerifier(secret, "authz-api", time.Minute)
	require.NoError(t, err)

	token, err := v.Issue("u1", "u1@example.com", time.Hour)
	require.NoError(t, err)

	identity, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.SubjectID)
	assert.Equal(t, "u1@example.com", identity.Email)

	_, memoised := v.memo.Get(digest(token))
	assert.True(t, memoised)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v, err := NewJWTVerifier(secret, "authz-api", time.Minute)
	require.NoError(t, err)

	other, err := NewJWTVerifier("another-secret-0123456789", "authz-api", time.Minute)
	require.NoError(t, err)
	foreign, _ := other.Issue("u1", "", time.Hour)

	wrongIssuer, err := NewJWTVerifier(secret, "someone-else", time.Minute)
	require.NoError(t, err)
	misissued, _ := wrongIssuer.Issue("u1", "", time.Hour)

	expired, _ := v.Issue("u1", "", -time.Minute)
	noSubject, _ := v.Issue("", "x@example.com", time.Hour)

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(time.Hour).Unix()}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, token := range map[string]string{
		"foreign":      foreign,
		"wrong issuer": misissued,
		"expired":      expired,
		"no subject":   noSubject,
		"alg none":     none,
		"garbage":      "not-a-jwt",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), token)
			assert.ErrorIs(t, err, ErrInvalidCredential)
		})
	}

	_, err = v.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestJWTVerifier_MemoHonoursExpiry(t *testing.T) {
	v, err := NewJWTVerifier(secret, "", time.Hour)
	require.NoError(t, err)

	now := time.Now()
	v.now = func() time.Time { return now }
	token, err := v.Issue("u1", "", 2*time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token)
	require.NoError(t, err)

	now = now.Add(3 * time.Minute)
	_, err = v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidCredential, "memo does not outlive the token")
}

type fakeDirectory struct {
	mu     sync.Mutex
	users  map[string]*model.DirectoryUser
	err    error
	ensure int
}

func (d *fakeDirectory) Ensure(ctx context.Context, id, email string) (*model.DirectoryUser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensure++
	if d.err != nil {
		return nil, d.err
	}
	u, ok := d.users[id]
	if !ok {
		u = &model.DirectoryUser{ID: id, Email: email, Role: string(model.RoleUser)}
		d.users[id] = u
	}
	now := time.Now()
	u.LastLoginAt = &now
	copied := *u
	return &copied, nil
}

func (d *fakeDirectory) Get(ctx context.Context, id string) (*model.DirectoryUser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, apperrors.ErrRecordNotFound)
	}
	copied := *u
	return &copied, nil
}

func (d *fakeDirectory) SetRole(ctx context.Context, id string, role model.Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, apperrors.ErrRecordNotFound)
	}
	u.Role = string(role)
	return nil
}

func (d *fakeDirectory) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ensure
}

type resolverFixture struct {
	resolver  *Resolver
	verifier  *JWTVerifier
	directory *fakeDirectory
	sessions  *SessionCache
	auditor   *audit.Logger
	metrics   *metrics.Metrics
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	v, err := NewJWTVerifier(secret, "", time.Minute)
	require.NoError(t, err)

	org := int64(1)
	dir := &fakeDirectory{users: map[string]*model.DirectoryUser{
		"n1": {ID: "n1", Email: "n1@example.com", Role: "nurse", OrganizationID: &org},
		"x1": {ID: "x1", Email: "x1@example.com", Role: "superuser"},
	}}
	sessions := NewSessionCache(cache.Config{Capacity: 10, TTL: time.Minute, SweepInterval: time.Hour}, m)
	breaker := circuitbreaker.NewCircuitBreaker[*model.DirectoryUser](circuitbreaker.Settings{
		Name: "directory", FailureThreshold: 2, Timeout: time.Hour, Metrics: m,
	})
	auditor := audit.NewLogger(audit.Config{}, audit.WithZerolog(zerolog.Nop()))
	t.Cleanup(func() {
		sessions.Close()
		auditor.Close()
	})

	return &resolverFixture{
		resolver:  NewResolver(v, dir, sessions, breaker, auditor, m),
		verifier:  v,
		directory: dir,
		sessions:  sessions,
		auditor:   auditor,
		metrics:   m,
	}
}

func (f *resolverFixture) token(t *testing.T, id string) string {
	t.Helper()
	token, err := f.verifier.Issue(id, id+"@example.com", time.Hour)
	require.NoError(t, err)
	return token
}

func TestResolve_EnrichesAndCaches(t *testing.T) {
	f := newResolverFixture(t)
	token := f.token(t, "n1")

	subject, err := f.resolver.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, model.RoleNurse, subject.Role)
	assert.Equal(t, int64(1), *subject.OrganizationID)
	assert.False(t, subject.Degraded)

	again, err := f.resolver.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, subject, again)
	assert.Equal(t, 1, f.directory.calls(), "second resolution is served from the session cache")

	logs := f.auditor.Query(model.AuditFilter{Action: model.AuditActionAuthenticate})
	require.Len(t, logs, 1)
	assert.Equal(t, model.AuditStatusSuccess, logs[0].Status)
}

func TestResolve_ProvisionsUnknownSubject(t *testing.T) {
	f := newResolverFixture(t)

	subject, err := f.resolver.Resolve(context.Background(), f.token(t, "new"))
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, subject.Role)
	assert.Nil(t, subject.OrganizationID)

	stored, err := f.directory.Get(context.Background(), "new")
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)
}

func TestResolve_UnknownDirectoryRoleIsGuest(t *testing.T) {
	f := newResolverFixture(t)

	subject, err := f.resolver.Resolve(context.Background(), f.token(t, "x1"))
	require.NoError(t, err)
	assert.Equal(t, model.RoleGuest, subject.Role)
}

func TestResolve_Unauthorized(t *testing.T) {
	f := newResolverFixture(t)

	_, err := f.resolver.Resolve(context.Background(), "")
	assert.True(t, apperrors.IsUnauthorized(err))
	assert.ErrorIs(t, err, ErrNoCredential)

	_, err = f.resolver.Resolve(context.Background(), "garbage")
	assert.True(t, apperrors.IsUnauthorized(err))
	assert.ErrorIs(t, err, ErrInvalidCredential)

	failures := f.auditor.Query(model.AuditFilter{Action: model.AuditActionAuthFailure})
	require.Len(t, failures, 2)
	for _, e := range failures {
		assert.Equal(t, model.AuditResourceAuthentication, e.Resource)
		assert.Equal(t, model.AuditStatusFailure, e.Status)
	}
	assert.Zero(t, f.directory.calls())
}

// Identity enrichment fails open: a directory outage yields a degraded
// subject instead of an error.
func TestResolve_DirectoryFailureDegrades(t *testing.T) {
	f := newResolverFixture(t)
	f.directory.err = errors.New("connection refused")
	token := f.token(t, "n1")

	subject, err := f.resolver.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, subject.Degraded)
	assert.Equal(t, model.RoleUser, subject.Role)
	assert.Nil(t, subject.OrganizationID)
	assert.Zero(t, f.sessions.Len(), "degraded subjects are not cached")

	logs := f.auditor.Query(model.AuditFilter{Status: model.AuditStatusFailure})
	require.Len(t, logs, 1)
	assert.Equal(t, "directory unavailable", *logs[0].ErrorMessage)

	// the breaker opens after two failures and stops calling through
	_, _ = f.resolver.Resolve(context.Background(), token)
	_, _ = f.resolver.Resolve(context.Background(), token)
	assert.Equal(t, 2, f.directory.calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DirectoryLookups.WithLabelValues("rejected")))

	f.directory.err = nil
	f.resolver.breaker = circuitbreaker.NewCircuitBreaker[*model.DirectoryUser](circuitbreaker.Settings{Name: "directory"})
	recovered, err := f.resolver.Resolve(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, recovered.Degraded)
	assert.Equal(t, model.RoleNurse, recovered.Role)
}

func TestResolve_CancellationIsNotDegradation(t *testing.T) {
	f := newResolverFixture(t)
	f.directory.err = context.Canceled
	token := f.token(t, "n1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	subject, err := f.resolver.Resolve(ctx, token)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, subject)
	assert.Zero(t, f.sessions.Len())
	assert.Empty(t, f.auditor.Query(model.AuditFilter{Status: model.AuditStatusFailure}),
		"a caller hanging up is not a directory outage")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.IdentityResults.WithLabelValues("canceled")))

	// a deadline that expired before the directory answered propagates as well
	f.directory.err = fmt.Errorf("query users: %w", context.DeadlineExceeded)
	_, err = f.resolver.Resolve(context.Background(), token)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, f.auditor.Len())
}

func TestChangeRole_DropsSession(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()
	token := f.token(t, "n1")
	admin := &model.Subject{ID: "admin", Role: model.RoleAdmin}

	_, err := f.resolver.Resolve(ctx, token)
	require.NoError(t, err)
	require.Equal(t, 1, f.sessions.Len())

	require.NoError(t, f.resolver.ChangeRole(ctx, admin, "n1", model.RoleDoctor))
	assert.Zero(t, f.sessions.Len())

	subject, err := f.resolver.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, model.RoleDoctor, subject.Role)

	changes := f.auditor.Query(model.AuditFilter{Action: model.AuditActionRoleChange})
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Sensitive())

	err = f.resolver.ChangeRole(ctx, admin, "ghost", model.RoleDoctor)
	assert.True(t, apperrors.IsNotFound(err))

	err = f.resolver.ChangeRole(ctx, admin, "n1", model.Role("root"))
	assert.Equal(t, apperrors.ErrBadRequest, apperrors.CodeOf(err))
}

func TestInvalidateSession(t *testing.T) {
	f := newResolverFixture(t)
	ctx := context.Background()

	_, err := f.resolver.Resolve(ctx, f.token(t, "n1"))
	require.NoError(t, err)
	_, err = f.resolver.Resolve(ctx, f.token(t, "new"))
	require.NoError(t, err)

	f.resolver.InvalidateSession("n1")
	assert.Equal(t, 1, f.sessions.Len())

	f.resolver.ClearSessions()
	assert.Zero(t, f.sessions.Len())
}
