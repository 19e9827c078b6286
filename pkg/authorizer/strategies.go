package authorizer

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dashborion/dashborion/pkg/auth"
	"github.com/dashborion/dashborion/pkg/autherr"
	"github.com/dashborion/dashborion/pkg/awsident"
	"github.com/dashborion/dashborion/pkg/rbac"
	"github.com/dashborion/dashborion/pkg/saml"
)

// Strategy is one authentication method. Applies reports whether the
// request carries this strategy's credential at all; Authenticate is only
// called when it does.
type Strategy interface {
	Method() auth.Method
	Applies(r *http.Request) bool
	Authenticate(ctx context.Context, r *http.Request) (*auth.AuthContext, error)
}

// CookieStrategy authenticates the browser session cookie.
type CookieStrategy struct {
	Sessions *auth.SessionManager
	Resolver *rbac.Resolver
}

func (s *CookieStrategy) Method() auth.Method { return auth.MethodCookie }

func (s *CookieStrategy) Applies(r *http.Request) bool {
	_, err := r.Cookie(saml.SessionCookieName)
	return err == nil
}

func (s *CookieStrategy) Authenticate(ctx context.Context, r *http.Request) (*auth.AuthContext, error) {
	cookie, err := r.Cookie(saml.SessionCookieName)
	if err != nil {
		return nil, autherr.ErrAuthenticationFailed
	}

	sess, err := s.Sessions.Get(ctx, cookie.Value)
	if err != nil {
		return nil, err
	}

	perms, err := s.Resolver.Resolve(ctx, sess.Email, sess.Groups)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}

	return &auth.AuthContext{
		Method:      auth.MethodCookie,
		UserID:      sess.UserID,
		Email:       sess.Email,
		DisplayName: sess.DisplayName,
		Groups:      sess.Groups,
		Permissions: perms,
		SessionID:   sess.SessionID,
		ExpiresAt:   sess.ExpiresAt,
		MFAVerified: sess.MFAVerified,
	}, nil
}

// BearerStrategy authenticates Authorization: Bearer tokens.
type BearerStrategy struct {
	Issuer   *auth.TokenIssuer
	Resolver *rbac.Resolver
}

func (s *BearerStrategy) Method() auth.Method { return auth.MethodBearer }

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func (s *BearerStrategy) Applies(r *http.Request) bool {
	return bearerToken(r) != ""
}

func (s *BearerStrategy) Authenticate(ctx context.Context, r *http.Request) (*auth.AuthContext, error) {
	raw := bearerToken(r)
	if raw == "" {
		return nil, autherr.ErrAuthenticationFailed
	}

	sess, kind, err := s.Issuer.Validate(ctx, raw)
	if err != nil {
		return nil, err
	}
	// Refresh tokens only work at the refresh endpoint.
	if kind != auth.TokenKindAccess {
		return nil, autherr.ErrAuthenticationFailed
	}

	perms, err := s.Resolver.Resolve(ctx, sess.Email, sess.Groups)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}

	return &auth.AuthContext{
		Method:      auth.MethodBearer,
		UserID:      sess.UserID,
		Email:       sess.Email,
		DisplayName: sess.DisplayName,
		Groups:      sess.Groups,
		Permissions: perms,
		ExpiresAt:   sess.ExpiresAt,
		MFAVerified: sess.MFAVerified,
	}, nil
}

// SigV4Strategy authenticates forwarded STS identity proofs.
type SigV4Strategy struct {
	Verifier *awsident.Verifier
	Resolver *rbac.Resolver
}

func (s *SigV4Strategy) Method() auth.Method { return auth.MethodSigV4 }

func (s *SigV4Strategy) Applies(r *http.Request) bool {
	return awsident.HasProof(r)
}

func (s *SigV4Strategy) Authenticate(ctx context.Context, r *http.Request) (*auth.AuthContext, error) {
	proof, err := awsident.ProofFromRequest(r)
	if err != nil {
		return nil, autherr.ErrAuthenticationFailed
	}

	ident, err := s.Verifier.Verify(ctx, proof)
	if err != nil {
		return nil, err
	}

	perms, err := s.Resolver.Resolve(ctx, ident.Email, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}

	return &auth.AuthContext{
		Method:      auth.MethodSigV4,
		UserID:      ident.UserID,
		Email:       ident.Email,
		DisplayName: ident.DisplayName,
		Permissions: perms,
		// SigV4 proofs are single-shot; there is no credential expiry to
		// carry.
	}, nil
}
