package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dashborion/dashborion/pkg/autherr"
	"github.com/dashborion/dashborion/pkg/sessioncrypto"
	"github.com/dashborion/dashborion/pkg/store"
)

var tokenContext = sessioncrypto.Context{
	"service": "dashborion",
	"table":   "tokens",
	"purpose": "token",
}

const (
	attrKind      = "kind"
	statusRevoked = "revoked"
)

// TokenIssuer mints and validates opaque bearer tokens. Each persisted
// record is keyed by the token's SHA-256 and carries the caller's session
// encrypted as payload; the raw token exists only in the response.
type TokenIssuer struct {
	sealer     *sessioncrypto.Sealer
	store      store.Store
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer creates a token issuer. Zero TTLs fall back to defaults.
func NewTokenIssuer(sealer *sessioncrypto.Sealer, st store.Store, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	if accessTTL <= 0 {
		accessTTL = AccessTokenTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = RefreshTokenTTL
	}
	return &TokenIssuer{
		sealer:     sealer,
		store:      st,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// IssuePair mints an access/refresh token pair bound to the given identity.
func (i *TokenIssuer) IssuePair(ctx context.Context, sess Session) (*TokenPair, error) {
	access, err := i.issue(ctx, sess, TokenKindAccess, i.accessTTL)
	if err != nil {
		return nil, err
	}

	refresh, err := i.issue(ctx, sess, TokenKindRefresh, i.refreshTTL)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(i.accessTTL.Seconds()),
	}, nil
}

func (i *TokenIssuer) issue(ctx context.Context, sess Session, kind TokenKind, ttl time.Duration) (string, error) {
	token, hash, err := GenerateToken()
	if err != nil {
		return "", err
	}

	expiresAt := i.now().Add(ttl)
	sess.ExpiresAt = expiresAt
	sess.IssuedAt = i.now()

	payload, err := json.Marshal(&sess)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token payload: %w", err)
	}

	blob, err := i.sealer.Encrypt(payload, tokenContext)
	if err != nil {
		return "", fmt.Errorf("failed to seal token payload: %w", err)
	}

	rec := store.Record{
		PartitionKey: store.TokenKey(hash),
		SortKey:      store.SortToken,
		Payload:      blob,
		Attributes:   map[string]string{attrKind: string(kind)},
		ExpiresAt:    expiresAt.Unix(),
	}
	if err := i.store.Put(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to persist token: %w", err)
	}

	return token, nil
}

// Validate resolves a presented raw token to its identity. All failure modes
// short of expiry collapse to ErrAuthenticationFailed.
func (i *TokenIssuer) Validate(ctx context.Context, raw string) (*Session, TokenKind, error) {
	if err := ValidateTokenFormat(raw); err != nil {
		return nil, "", autherr.ErrAuthenticationFailed
	}

	rec, err := i.store.Get(ctx, store.TokenKey(HashToken(raw)), store.SortToken)
	if err != nil {
		return nil, "", autherr.ErrAuthenticationFailed
	}
	if rec.Status == statusRevoked {
		return nil, "", autherr.ErrAuthenticationFailed
	}

	payload, err := i.sealer.Decrypt(rec.Payload, tokenContext)
	if err != nil {
		return nil, "", err
	}

	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, "", autherr.ErrAuthenticationFailed
	}

	if sess.Expired(i.now()) {
		i.store.Delete(ctx, store.TokenKey(HashToken(raw)), store.SortToken)
		return nil, "", autherr.ErrTokenExpired
	}

	return &sess, TokenKind(rec.Attributes[attrKind]), nil
}

// Refresh exchanges a refresh token for a fresh pair, rotating the refresh
// token: the presented one is destroyed before the new pair is returned.
func (i *TokenIssuer) Refresh(ctx context.Context, rawRefresh string) (*TokenPair, error) {
	sess, kind, err := i.Validate(ctx, rawRefresh)
	if err != nil {
		return nil, err
	}
	if kind != TokenKindRefresh {
		return nil, autherr.ErrAuthenticationFailed
	}

	if err := i.Revoke(ctx, rawRefresh); err != nil {
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	return i.IssuePair(ctx, *sess)
}

// Revoke destroys a token record by raw value.
func (i *TokenIssuer) Revoke(ctx context.Context, raw string) error {
	return i.store.Delete(ctx, store.TokenKey(HashToken(raw)), store.SortToken)
}
