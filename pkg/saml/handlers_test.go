package saml

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashborion/dashborion/pkg/audit"
	"github.com/dashborion/dashborion/pkg/auth"
	"github.com/dashborion/dashborion/pkg/directory"
	"github.com/dashborion/dashborion/pkg/observability"
	"github.com/dashborion/dashborion/pkg/rbac"
	"github.com/dashborion/dashborion/pkg/sessioncrypto"
	"github.com/dashborion/dashborion/pkg/store"
)

func testCertPEM(t *testing.T) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "idp.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func testProvider(t *testing.T) *Provider {
	t.Helper()

	p, err := NewProvider(Config{
		IdPSSOURL:         "https://idp.example.com/sso",
		IdPIssuer:         "https://idp.example.com",
		IdPCertificatePEM: testCertPEM(t),
		SPEntityID:        "https://dash.example.com",
		ACSURL:            "https://dash.example.com/saml/acs",
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

type stubDirectory struct{}

func (stubDirectory) LookupUser(_ context.Context, email string) (*directory.User, error) {
	return &directory.User{ID: 1, Email: email, IsActive: true}, nil
}

func (stubDirectory) CreateUser(_ context.Context, email, displayName string) (*directory.User, error) {
	return &directory.User{ID: 1, Email: email, DisplayName: displayName, IsActive: true}, nil
}

func (stubDirectory) PermissionsFor(context.Context, string, []string) ([]rbac.Permission, error) {
	return []rbac.Permission{{Project: "*", Environment: "*", Role: rbac.RoleViewer}}, nil
}

func testHandlers(t *testing.T) (*Handlers, *recordingAuditor) {
	t.Helper()

	key := make([]byte, sessioncrypto.KeySize)
	sealer, err := sessioncrypto.NewSealer(key)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	resolver, err := rbac.NewResolver(stubDirectory{}, 16, time.Minute)
	require.NoError(t, err)

	sessions := auth.NewSessionManager(sealer, st, auth.SessionTTL)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	processor := NewProcessor(testProvider(t), sessions, resolver, stubDirectory{}, logger)

	auditor := &recordingAuditor{}
	return NewHandlers(processor, auditor, auth.SessionTTL), auditor
}

type recordingAuditor struct {
	entries []audit.Entry
}

func (r *recordingAuditor) Log(_ context.Context, entry audit.Entry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingAuditor) Close() error { return nil }

func TestLogin_RedirectsToIdP(t *testing.T) {
	h, _ := testHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/saml/login?redirect=/projects", nil)
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", loc.Host)
	assert.NotEmpty(t, loc.Query().Get("SAMLRequest"))
	assert.Equal(t, "/projects", loc.Query().Get("RelayState"))
}

func TestLogin_DropsUnsafeRedirect(t *testing.T) {
	h, _ := testHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/saml/login?redirect=https://evil.example.com/", nil)
	rec := httptest.NewRecorder()
	h.Login(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Empty(t, loc.Query().Get("RelayState"))
}

func TestACS_RejectsGarbageResponse(t *testing.T) {
	h, auditor := testHandlers(t)

	form := url.Values{"SAMLResponse": {base64.StdEncoding.EncodeToString([]byte("<not-saml/>"))}}
	req := httptest.NewRequest(http.MethodPost, "/saml/acs", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ACS(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "authentication failed")
	assert.NotContains(t, rec.Body.String(), "signature", "no validation detail may leak")

	require.Len(t, auditor.entries, 1)
	assert.Equal(t, audit.ActionLogin, auditor.entries[0].Action)
	assert.Equal(t, audit.OutcomeDenied, auditor.entries[0].Outcome)
}

func TestACS_MissingResponse(t *testing.T) {
	h, _ := testHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/saml/acs", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ACS(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIsSafeRedirect(t *testing.T) {
	tests := []struct {
		target string
		want   bool
	}{
		{"/projects", true},
		{"/projects/homebox?env=prod", true},
		{"", false},
		{"//evil.example.com", false},
		{"https://evil.example.com", false},
		{"javascript:alert(1)", false},
		{"/ok/../path", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isSafeRedirect(tt.target), "target %q", tt.target)
	}
}
