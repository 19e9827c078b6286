package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashborion/dashborion/pkg/audit"
	"github.com/dashborion/dashborion/pkg/auth"
	"github.com/dashborion/dashborion/pkg/authorizer"
	"github.com/dashborion/dashborion/pkg/deviceflow"
	"github.com/dashborion/dashborion/pkg/directory"
	"github.com/dashborion/dashborion/pkg/middleware"
	"github.com/dashborion/dashborion/pkg/observability"
	"github.com/dashborion/dashborion/pkg/rbac"
	"github.com/dashborion/dashborion/pkg/saml"
	"github.com/dashborion/dashborion/pkg/sessioncrypto"
	"github.com/dashborion/dashborion/pkg/store"
)

type stubDirectory struct {
	users  map[string]*directory.User
	perms  map[string][]rbac.Permission
	grants []directory.Grant
	nextID int64
}

func (d *stubDirectory) LookupUser(_ context.Context, email string) (*directory.User, error) {
	if u, ok := d.users[email]; ok {
		return u, nil
	}
	return nil, directory.ErrUserNotFound
}

func (d *stubDirectory) CreateUser(_ context.Context, email, displayName string) (*directory.User, error) {
	u := &directory.User{ID: int64(len(d.users) + 1), Email: email, DisplayName: displayName, IsActive: true}
	d.users[email] = u
	return u, nil
}

func (d *stubDirectory) PermissionsFor(_ context.Context, email string, _ []string) ([]rbac.Permission, error) {
	return d.perms[email], nil
}

func (d *stubDirectory) ListGrants(_ context.Context, subject string) ([]directory.Grant, error) {
	if subject == "" {
		return d.grants, nil
	}
	out := make([]directory.Grant, 0)
	for _, g := range d.grants {
		if g.Subject == subject {
			out = append(out, g)
		}
	}
	return out, nil
}

func (d *stubDirectory) AddGrant(_ context.Context, g directory.Grant) error {
	d.nextID++
	g.ID = d.nextID
	d.grants = append(d.grants, g)
	return nil
}

func (d *stubDirectory) RemoveGrant(_ context.Context, id int64) error {
	for i, g := range d.grants {
		if g.ID == id {
			d.grants = append(d.grants[:i], d.grants[i+1:]...)
			return nil
		}
	}
	return directory.ErrGrantNotFound
}

type stubAuditStore struct {
	entries []audit.Entry
}

func (s *stubAuditStore) Search(_ context.Context, filter audit.SearchFilter) ([]audit.Entry, error) {
	out := make([]audit.Entry, 0)
	for _, e := range s.entries {
		if filter.Actor != "" && e.Actor != filter.Actor {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

type serverFixture struct {
	server   *Server
	sessions *auth.SessionManager
	issuer   *auth.TokenIssuer
	dir      *stubDirectory
	audits   *stubAuditStore
	config   Config
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	key := make([]byte, sessioncrypto.KeySize)
	for i := range key {
		key[i] = byte(i * 11)
	}
	sealer, err := sessioncrypto.NewSealer(key)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	dir := &stubDirectory{
		users: map[string]*directory.User{
			"alice@example.com": {ID: 1, Email: "alice@example.com", IsActive: true},
			"admin@example.com": {ID: 2, Email: "admin@example.com", IsActive: true},
		},
		perms: map[string][]rbac.Permission{
			"alice@example.com": {{Project: "homebox", Environment: "production", Role: rbac.RoleViewer}},
			"admin@example.com": {{Project: rbac.Wildcard, Environment: rbac.Wildcard, Role: rbac.RoleAdmin}},
		},
	}
	resolver, err := rbac.NewResolver(dir, 16, time.Minute)
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	sessions := auth.NewSessionManager(sealer, st, time.Hour)
	issuer := auth.NewTokenIssuer(sealer, st, time.Hour, 24*time.Hour)
	coordinator := deviceflow.NewCoordinator(st, sealer, issuer, "https://dash.example.com/device")

	auditor := audit.NopLogger{}
	az := authorizer.New(auditor, logger,
		&authorizer.CookieStrategy{Sessions: sessions, Resolver: resolver},
		&authorizer.BearerStrategy{Issuer: issuer, Resolver: resolver},
	)

	audits := &stubAuditStore{entries: []audit.Entry{
		{Actor: "alice@example.com", Action: audit.ActionLogin, Outcome: audit.OutcomeSuccess, Timestamp: time.Now()},
		{Actor: "mallory@example.com", Action: audit.ActionAuthorize, Outcome: audit.OutcomeDenied, Timestamp: time.Now()},
	}}

	cfg := Config{
		Authorizer:     az,
		DeviceHandlers: deviceflow.NewHandlers(coordinator, auditor),
		Sessions:       sessions,
		Issuer:         issuer,
		Auditor:        auditor,
		AuditStore:     audits,
		Directory:      dir,
		Logger:         logger,
	}

	return &serverFixture{
		server:   NewServer(cfg),
		sessions: sessions,
		issuer:   issuer,
		dir:      dir,
		audits:   audits,
		config:   cfg,
	}
}

func (f *serverFixture) sessionFor(t *testing.T, email, userID string) string {
	t.Helper()
	id, err := f.sessions.Create(context.Background(), &auth.Session{UserID: userID, Email: email})
	require.NoError(t, err)
	return id
}

func (f *serverFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func withSession(r *http.Request, sessionID string) *http.Request {
	r.AddCookie(&http.Cookie{Name: saml.SessionCookieName, Value: sessionID})
	return r
}

func TestMe(t *testing.T) {
	f := newServerFixture(t)
	id := f.sessionFor(t, "alice@example.com", "1")

	rec := f.do(withSession(httptest.NewRequest(http.MethodGet, "/auth/me", nil), id))
	require.Equal(t, http.StatusOK, rec.Code)

	var body identityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "alice@example.com", body.Email)
	assert.Equal(t, auth.MethodCookie, body.Method)
}

func TestMe_Unauthenticated(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "authentication failed")
}

func TestLogout_RevokesSession(t *testing.T) {
	f := newServerFixture(t)
	id := f.sessionFor(t, "alice@example.com", "1")

	rec := f.do(withSession(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), id))
	require.Equal(t, http.StatusOK, rec.Code)

	// The cleared cookie goes out with the response.
	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == saml.SessionCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "expected session cookie cleared")

	// The session is gone server-side.
	rec = f.do(withSession(httptest.NewRequest(http.MethodGet, "/auth/me", nil), id))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefresh_RotatesPair(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	pair, err := f.issuer.IssuePair(ctx, auth.Session{UserID: "1", Email: "alice@example.com"})
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{"refresh_token": pair.RefreshToken})
	req := httptest.NewRequest(http.MethodPost, "/auth/token/refresh", bytes.NewReader(body))
	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var fresh auth.TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fresh))
	assert.NotEmpty(t, fresh.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, fresh.RefreshToken)

	// The presented refresh token is single-use.
	req = httptest.NewRequest(http.MethodPost, "/auth/token/refresh", bytes.NewReader(body))
	rec = f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefresh_Invalid(t *testing.T) {
	f := newServerFixture(t)

	body, _ := json.Marshal(map[string]string{"refresh_token": "bogus"})
	rec := f.do(httptest.NewRequest(http.MethodPost, "/auth/token/refresh", bytes.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/auth/token/refresh", strings.NewReader("{}")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeviceCodeEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodPost, "/auth/device/code", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body deviceflow.Authorization
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.DeviceCode)
	assert.NotEmpty(t, body.UserCode)
}

func TestAdminAudit_RequiresAdminRole(t *testing.T) {
	f := newServerFixture(t)

	viewer := f.sessionFor(t, "alice@example.com", "1")
	rec := f.do(withSession(httptest.NewRequest(http.MethodGet, "/admin/audit", nil), viewer))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := f.sessionFor(t, "admin@example.com", "2")
	rec = f.do(withSession(httptest.NewRequest(http.MethodGet, "/admin/audit", nil), admin))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Entries []audit.Entry `json:"entries"`
		Count   int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
}

func TestAdminAudit_Filter(t *testing.T) {
	f := newServerFixture(t)
	admin := f.sessionFor(t, "admin@example.com", "2")

	rec := f.do(withSession(httptest.NewRequest(http.MethodGet, "/admin/audit?actor=alice@example.com", nil), admin))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}

func TestAdminAuditExport_CSV(t *testing.T) {
	f := newServerFixture(t)
	admin := f.sessionFor(t, "admin@example.com", "2")

	rec := f.do(withSession(httptest.NewRequest(http.MethodGet, "/admin/audit/export?format=csv", nil), admin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Body.String(), "alice@example.com")
}

func TestAdminAuditExport_BadFormat(t *testing.T) {
	f := newServerFixture(t)
	admin := f.sessionFor(t, "admin@example.com", "2")

	rec := f.do(withSession(httptest.NewRequest(http.MethodGet, "/admin/audit/export?format=xml", nil), admin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminGrants_Lifecycle(t *testing.T) {
	f := newServerFixture(t)
	admin := f.sessionFor(t, "admin@example.com", "2")

	body, _ := json.Marshal(grantRequest{
		SubjectType: "user",
		Subject:     "bob@example.com",
		Project:     "homebox",
		Role:        "operator",
	})
	req := withSession(httptest.NewRequest(http.MethodPost, "/admin/grants", bytes.NewReader(body)), admin)
	rec := f.do(req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(withSession(httptest.NewRequest(http.MethodGet, "/admin/grants?subject=bob@example.com", nil), admin))
	require.Equal(t, http.StatusOK, rec.Code)

	var listed struct {
		Grants []directory.Grant `json:"grants"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Grants, 1)
	assert.Equal(t, rbac.RoleOperator, listed.Grants[0].Permission.Role)
	assert.Equal(t, rbac.Wildcard, listed.Grants[0].Permission.Environment, "empty environment defaults to wildcard")
	assert.Equal(t, "admin@example.com", listed.Grants[0].GrantedBy)

	rec = f.do(withSession(httptest.NewRequest(http.MethodDelete, "/admin/grants/1", nil), admin))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(withSession(httptest.NewRequest(http.MethodDelete, "/admin/grants/1", nil), admin))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminGrants_RejectsInvalidRole(t *testing.T) {
	f := newServerFixture(t)
	admin := f.sessionFor(t, "admin@example.com", "2")

	body, _ := json.Marshal(grantRequest{SubjectType: "user", Subject: "bob@example.com", Role: "root"})
	rec := f.do(withSession(httptest.NewRequest(http.MethodPost, "/admin/grants", bytes.NewReader(body)), admin))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminGrants_ForbiddenForViewer(t *testing.T) {
	f := newServerFixture(t)
	viewer := f.sessionFor(t, "alice@example.com", "1")

	rec := f.do(withSession(httptest.NewRequest(http.MethodGet, "/admin/grants", nil), viewer))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimitAppliedToDeviceEndpoints(t *testing.T) {
	f := newServerFixture(t)

	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{
		RequestsPerWindow: 1,
		WindowDuration:    time.Minute,
		BurstSize:         0,
	})

	// Rebuild the server with a tight limiter.
	cfg := f.config
	cfg.RateLimit = middleware.RateLimit(limiter)
	srv := NewServer(cfg)

	req := httptest.NewRequest(http.MethodPost, "/auth/device/code", nil)
	req.RemoteAddr = "10.0.0.1:1"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
