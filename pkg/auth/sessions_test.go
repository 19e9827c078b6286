package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dashborion/dashborion/pkg/autherr"
	"github.com/dashborion/dashborion/pkg/rbac"
	"github.com/dashborion/dashborion/pkg/sessioncrypto"
	"github.com/dashborion/dashborion/pkg/store"
)

func newTestSealer(t *testing.T) *sessioncrypto.Sealer {
	t.Helper()
	key := make([]byte, sessioncrypto.KeySize)
	for i := range key {
		key[i] = byte(i * 3)
	}
	sealer, err := sessioncrypto.NewSealer(key)
	if err != nil {
		t.Fatalf("NewSealer() error = %v", err)
	}
	return sealer
}

func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func testSession() *Session {
	return &Session{
		UserID:      "u-1",
		Email:       "alice@example.com",
		DisplayName: "Alice",
		Groups:      []string{"ops"},
		Permissions: []rbac.Permission{{Project: "*", Environment: "*", Role: rbac.RoleOperator}},
		IPAddress:   "10.0.0.1",
	}
}

func TestSessionManager_CreateAndGet(t *testing.T) {
	m := NewSessionManager(newTestSealer(t), newTestStore(t), time.Hour)
	ctx := context.Background()

	id, err := m.Create(ctx, testSession())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id == "" {
		t.Fatal("Create() returned empty session id")
	}

	sess, err := m.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess.Email != "alice@example.com" {
		t.Errorf("Email = %q, want alice@example.com", sess.Email)
	}
	if len(sess.Permissions) != 1 || sess.Permissions[0].Role != rbac.RoleOperator {
		t.Errorf("Permissions not round-tripped: %+v", sess.Permissions)
	}
	if sess.ExpiresAt.IsZero() {
		t.Error("session must carry an expiry")
	}
}

func TestSessionManager_GetUnknown(t *testing.T) {
	m := NewSessionManager(newTestSealer(t), newTestStore(t), time.Hour)

	_, err := m.Get(context.Background(), "no-such-session")
	if !errors.Is(err, autherr.ErrAuthenticationFailed) {
		t.Errorf("Get() error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestSessionManager_ExpiredSessionRejected(t *testing.T) {
	m := NewSessionManager(newTestSealer(t), newTestStore(t), time.Hour)
	ctx := context.Background()

	id, err := m.Create(ctx, testSession())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// The blob still decrypts; the defensive expiry check must reject it.
	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = m.Get(ctx, id)
	if !errors.Is(err, autherr.ErrSessionExpired) && !errors.Is(err, autherr.ErrAuthenticationFailed) {
		t.Errorf("Get() error = %v, want expiry rejection", err)
	}
}

func TestSessionManager_Revoke(t *testing.T) {
	m := NewSessionManager(newTestSealer(t), newTestStore(t), time.Hour)
	ctx := context.Background()

	id, _ := m.Create(ctx, testSession())
	if err := m.Revoke(ctx, id); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, err := m.Get(ctx, id); !errors.Is(err, autherr.ErrAuthenticationFailed) {
		t.Errorf("Get() after revoke error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestSessionManager_WrongSealerFails(t *testing.T) {
	st := newTestStore(t)
	m := NewSessionManager(newTestSealer(t), st, time.Hour)
	ctx := context.Background()

	id, _ := m.Create(ctx, testSession())

	otherKey := make([]byte, sessioncrypto.KeySize)
	otherSealer, _ := sessioncrypto.NewSealer(otherKey)
	other := NewSessionManager(otherSealer, st, time.Hour)

	_, err := other.Get(ctx, id)
	if !errors.Is(err, autherr.ErrAuthenticationFailed) {
		t.Errorf("Get() with wrong key error = %v, want ErrAuthenticationFailed", err)
	}
}
