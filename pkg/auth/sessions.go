package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dashborion/dashborion/pkg/autherr"
	"github.com/dashborion/dashborion/pkg/sessioncrypto"
	"github.com/dashborion/dashborion/pkg/store"
)

// sessionContext binds session ciphertexts to their purpose; a blob sealed
// for a token can never be replayed as a session and vice versa.
var sessionContext = sessioncrypto.Context{
	"service": "dashborion",
	"table":   "sessions",
	"purpose": "session",
}

// SessionManager persists encrypted sessions keyed by an opaque id. The id
// is what goes into the cookie; the encrypted blob never leaves the store.
type SessionManager struct {
	sealer *sessioncrypto.Sealer
	store  store.Store
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionManager creates a session manager. A zero ttl falls back to the
// default session lifetime.
func NewSessionManager(sealer *sessioncrypto.Sealer, st store.Store, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = SessionTTL
	}
	return &SessionManager{sealer: sealer, store: st, ttl: ttl, now: time.Now}
}

// Create assigns a fresh random session id, seals the session, and persists
// it. The returned id is the only thing the caller may hand to the browser.
func (m *SessionManager) Create(ctx context.Context, sess *Session) (string, error) {
	now := m.now()
	sess.SessionID = uuid.NewString()
	sess.IssuedAt = now
	sess.ExpiresAt = now.Add(m.ttl)

	payload, err := json.Marshal(sess)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	blob, err := m.sealer.Encrypt(payload, sessionContext)
	if err != nil {
		return "", fmt.Errorf("failed to seal session: %w", err)
	}

	rec := store.Record{
		PartitionKey: store.SessionKey(sess.SessionID),
		SortKey:      store.SortSession,
		Payload:      blob,
		ExpiresAt:    sess.ExpiresAt.Unix(),
	}
	if err := m.store.Put(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to persist session: %w", err)
	}

	return sess.SessionID, nil
}

// Get loads and decrypts a session by id. Missing or undecryptable sessions
// collapse to ErrAuthenticationFailed; a decrypted session past its expiry
// is ErrSessionExpired.
func (m *SessionManager) Get(ctx context.Context, sessionID string) (*Session, error) {
	rec, err := m.store.Get(ctx, store.SessionKey(sessionID), store.SortSession)
	if err != nil {
		return nil, autherr.ErrAuthenticationFailed
	}

	payload, err := m.sealer.Decrypt(rec.Payload, sessionContext)
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, autherr.ErrAuthenticationFailed
	}

	// Decrypting successfully is not enough; the TTL is re-checked here.
	if sess.Expired(m.now()) {
		m.store.Delete(ctx, store.SessionKey(sessionID), store.SortSession)
		return nil, autherr.ErrSessionExpired
	}

	return &sess, nil
}

// Revoke destroys a session immediately.
func (m *SessionManager) Revoke(ctx context.Context, sessionID string) error {
	return m.store.Delete(ctx, store.SessionKey(sessionID), store.SortSession)
}
