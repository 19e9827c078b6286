package saml

import (
	"context"
	"fmt"
	"strings"

	saml2 "github.com/russellhaering/gosaml2"

	"github.com/dashborion/dashborion/pkg/auth"
	"github.com/dashborion/dashborion/pkg/autherr"
	"github.com/dashborion/dashborion/pkg/directory"
	"github.com/dashborion/dashborion/pkg/observability"
	"github.com/dashborion/dashborion/pkg/rbac"
)

// emailAttributes is the fallback chain for locating the user's email when
// IdPs disagree on attribute naming. The assertion subject NameID is the
// final fallback.
var emailAttributes = []string{
	"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress",
	"emailaddress",
	"email",
	"mail",
}

var displayNameAttributes = []string{
	"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name",
	"displayName",
	"name",
	"cn",
}

// Identity is what an accepted assertion resolves to before role lookup.
type Identity struct {
	Email       string
	DisplayName string
	Groups      []string
}

// Processor exchanges validated SAML assertions for dashboard sessions.
type Processor struct {
	provider *Provider
	sessions *auth.SessionManager
	resolver *rbac.Resolver
	dir      directory.Directory
	logger   *observability.Logger
}

// NewProcessor wires the processor. The directory is used to upsert the
// user record; roles come from the resolver, never from the assertion.
func NewProcessor(provider *Provider, sessions *auth.SessionManager, resolver *rbac.Resolver, dir directory.Directory, logger *observability.Logger) *Processor {
	return &Processor{
		provider: provider,
		sessions: sessions,
		resolver: resolver,
		dir:      dir,
		logger:   logger,
	}
}

// ProcessResponse validates the posted SAMLResponse and creates a session.
// Every validation failure collapses to ErrAuthenticationFailed; the
// distinguishing detail goes to the log, not the caller.
func (p *Processor) ProcessResponse(ctx context.Context, samlResponse, clientIP string) (string, *auth.Session, error) {
	info, err := p.provider.RetrieveAssertion(samlResponse)
	if err != nil {
		p.logger.WithError(err).Warn("SAML assertion rejected")
		return "", nil, autherr.ErrAuthenticationFailed
	}

	ident, err := identityFromAssertion(info, p.provider.groups)
	if err != nil {
		p.logger.WithError(err).Warn("SAML assertion missing identity attributes")
		return "", nil, autherr.ErrAuthenticationFailed
	}

	user, err := p.dir.CreateUser(ctx, ident.Email, ident.DisplayName)
	if err != nil {
		return "", nil, fmt.Errorf("failed to record user %s: %w", ident.Email, err)
	}

	perms, err := p.resolver.Resolve(ctx, ident.Email, ident.Groups)
	if err != nil {
		return "", nil, fmt.Errorf("failed to resolve permissions for %s: %w", ident.Email, err)
	}

	sess := &auth.Session{
		UserID:      fmt.Sprintf("%d", user.ID),
		Email:       ident.Email,
		DisplayName: ident.DisplayName,
		Groups:      ident.Groups,
		Permissions: perms,
		IPAddress:   clientIP,
	}

	sessionID, err := p.sessions.Create(ctx, sess)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create session: %w", err)
	}

	p.logger.WithFields(map[string]interface{}{
		"email":       ident.Email,
		"groups":      len(ident.Groups),
		"permissions": len(perms),
	}).Info("SAML login succeeded")
	return sessionID, sess, nil
}

// identityFromAssertion pulls email, display name and groups out of the
// assertion attributes, tolerating the common naming variants.
func identityFromAssertion(info *saml2.AssertionInfo, groupsAttribute string) (*Identity, error) {
	ident := &Identity{}

	for _, name := range emailAttributes {
		if v := attributeValue(info, name); v != "" {
			ident.Email = v
			break
		}
	}
	if ident.Email == "" && strings.Contains(info.NameID, "@") {
		ident.Email = info.NameID
	}
	if ident.Email == "" {
		return nil, fmt.Errorf("assertion carries no email attribute")
	}
	ident.Email = strings.ToLower(strings.TrimSpace(ident.Email))

	for _, name := range displayNameAttributes {
		if v := attributeValue(info, name); v != "" {
			ident.DisplayName = v
			break
		}
	}
	if ident.DisplayName == "" {
		ident.DisplayName = ident.Email
	}

	ident.Groups = attributeValues(info, groupsAttribute)
	return ident, nil
}

// attributeValue returns the first value of the named attribute, matching
// case-insensitively on either the full name or its last path segment.
func attributeValue(info *saml2.AssertionInfo, name string) string {
	values := attributeValues(info, name)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// attributeValues collects all non-empty values of the named attribute.
// Single values containing commas are split; some IdPs flatten group lists
// that way.
func attributeValues(info *saml2.AssertionInfo, name string) []string {
	var out []string
	for _, attr := range info.Values {
		if !attributeNameMatches(attr.Name, name) {
			continue
		}
		for _, av := range attr.Values {
			v := strings.TrimSpace(av.Value)
			if v == "" {
				continue
			}
			if strings.Contains(v, ",") {
				for _, part := range strings.Split(v, ",") {
					if part = strings.TrimSpace(part); part != "" {
						out = append(out, part)
					}
				}
				continue
			}
			out = append(out, v)
		}
	}
	return out
}

func attributeNameMatches(got, want string) bool {
	if strings.EqualFold(got, want) {
		return true
	}
	if idx := strings.LastIndexAny(got, "/:"); idx >= 0 {
		return strings.EqualFold(got[idx+1:], want)
	}
	return false
}
