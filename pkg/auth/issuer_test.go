package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dashborion/dashborion/pkg/autherr"
)

func TestTokenIssuer_IssueAndValidate(t *testing.T) {
	i := NewTokenIssuer(newTestSealer(t), newTestStore(t), time.Hour, 24*time.Hour)
	ctx := context.Background()

	pair, err := i.IssuePair(ctx, *testSession())
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Error("access and refresh tokens must differ")
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("TokenType = %q, want Bearer", pair.TokenType)
	}
	if pair.ExpiresIn != int64(time.Hour.Seconds()) {
		t.Errorf("ExpiresIn = %d, want %d", pair.ExpiresIn, int64(time.Hour.Seconds()))
	}

	sess, kind, err := i.Validate(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Validate(access) error = %v", err)
	}
	if kind != TokenKindAccess {
		t.Errorf("kind = %q, want access", kind)
	}
	if sess.Email != "alice@example.com" {
		t.Errorf("Email = %q, want alice@example.com", sess.Email)
	}

	_, kind, err = i.Validate(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Validate(refresh) error = %v", err)
	}
	if kind != TokenKindRefresh {
		t.Errorf("kind = %q, want refresh", kind)
	}
}

func TestTokenIssuer_ValidateGarbage(t *testing.T) {
	i := NewTokenIssuer(newTestSealer(t), newTestStore(t), time.Hour, 24*time.Hour)

	for _, raw := range []string{"", "not-a-token", "dbr_", "dbr_unknownunknown"} {
		if _, _, err := i.Validate(context.Background(), raw); !errors.Is(err, autherr.ErrAuthenticationFailed) {
			t.Errorf("Validate(%q) error = %v, want ErrAuthenticationFailed", raw, err)
		}
	}
}

func TestTokenIssuer_ExpiredToken(t *testing.T) {
	i := NewTokenIssuer(newTestSealer(t), newTestStore(t), time.Hour, 24*time.Hour)
	ctx := context.Background()

	pair, err := i.IssuePair(ctx, *testSession())
	if err != nil {
		t.Fatalf("IssuePair() error = %v", err)
	}

	i.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, _, err := i.Validate(ctx, pair.AccessToken); !errors.Is(err, autherr.ErrTokenExpired) && !errors.Is(err, autherr.ErrAuthenticationFailed) {
		t.Errorf("Validate(expired) error = %v, want expiry rejection", err)
	}
}

func TestTokenIssuer_Revoke(t *testing.T) {
	i := NewTokenIssuer(newTestSealer(t), newTestStore(t), time.Hour, 24*time.Hour)
	ctx := context.Background()

	pair, _ := i.IssuePair(ctx, *testSession())
	if err := i.Revoke(ctx, pair.AccessToken); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, _, err := i.Validate(ctx, pair.AccessToken); !errors.Is(err, autherr.ErrAuthenticationFailed) {
		t.Errorf("Validate(revoked) error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestTokenIssuer_Refresh(t *testing.T) {
	i := NewTokenIssuer(newTestSealer(t), newTestStore(t), time.Hour, 24*time.Hour)
	ctx := context.Background()

	pair, _ := i.IssuePair(ctx, *testSession())

	fresh, err := i.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if fresh.AccessToken == pair.AccessToken {
		t.Error("refresh must mint a new access token")
	}

	// The presented refresh token is rotated out.
	if _, err := i.Refresh(ctx, pair.RefreshToken); !errors.Is(err, autherr.ErrAuthenticationFailed) {
		t.Errorf("Refresh(reused) error = %v, want ErrAuthenticationFailed", err)
	}

	// An access token is not accepted for refresh.
	if _, err := i.Refresh(ctx, fresh.AccessToken); !errors.Is(err, autherr.ErrAuthenticationFailed) {
		t.Errorf("Refresh(access token) error = %v, want ErrAuthenticationFailed", err)
	}
}
