package saml

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/dashborion/dashborion/pkg/autherr"
)

// Config holds the trust relationship with the identity provider.
type Config struct {
	// IdPSSOURL is where AuthnRequests are sent.
	IdPSSOURL string
	// IdPIssuer is the IdP's entity id, as it appears in assertions.
	IdPIssuer string
	// IdPCertificatePEM is the IdP's signing certificate.
	IdPCertificatePEM string
	// SPEntityID identifies this deployment; assertions must name it as
	// their audience.
	SPEntityID string
	// ACSURL is the assertion consumer endpoint the IdP posts back to.
	ACSURL string
	// GroupsAttribute names the multi-valued assertion attribute carrying
	// group memberships. Defaults to "groups".
	GroupsAttribute string
}

// Validate reports configuration problems as ConfigurationError so startup
// fails instead of silently accepting nothing.
func (c Config) Validate() error {
	if c.IdPSSOURL == "" {
		return fmt.Errorf("%w: SAML IdP SSO URL is required", autherr.ErrConfigurationError)
	}
	if c.IdPCertificatePEM == "" {
		return fmt.Errorf("%w: SAML IdP certificate is required", autherr.ErrConfigurationError)
	}
	if c.SPEntityID == "" {
		return fmt.Errorf("%w: SAML SP entity id is required", autherr.ErrConfigurationError)
	}
	if c.ACSURL == "" {
		return fmt.Errorf("%w: SAML ACS URL is required", autherr.ErrConfigurationError)
	}
	return nil
}

// Provider wraps the underlying SAML service provider. It is initialized
// once and shared; components receive it explicitly rather than through a
// package-level cache.
type Provider struct {
	sp     *saml2.SAMLServiceProvider
	groups string
}

// NewProvider parses the IdP certificate and builds the service provider.
func NewProvider(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	certBlock, _ := pem.Decode([]byte(cfg.IdPCertificatePEM))
	if certBlock == nil {
		return nil, fmt.Errorf("%w: failed to decode IdP certificate PEM", autherr.ErrConfigurationError)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse IdP certificate: %v", autherr.ErrConfigurationError, err)
	}

	certStore := dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      cfg.IdPSSOURL,
		IdentityProviderIssuer:      cfg.IdPIssuer,
		ServiceProviderIssuer:       cfg.SPEntityID,
		AssertionConsumerServiceURL: cfg.ACSURL,
		AudienceURI:                 cfg.SPEntityID,
		IDPCertificateStore:         &certStore,
	}

	groups := cfg.GroupsAttribute
	if groups == "" {
		groups = "groups"
	}

	return &Provider{sp: sp, groups: groups}, nil
}

// BuildLoginURL produces the IdP redirect carrying an AuthnRequest.
func (p *Provider) BuildLoginURL(relayState string) (string, error) {
	url, err := p.sp.BuildAuthURL(relayState)
	if err != nil {
		return "", fmt.Errorf("failed to build auth URL: %w", err)
	}
	return url, nil
}

// RetrieveAssertion validates a base64 SAMLResponse: signature against the
// trusted certificate, validity window, and audience.
func (p *Provider) RetrieveAssertion(samlResponse string) (*saml2.AssertionInfo, error) {
	info, err := p.sp.RetrieveAssertionInfo(samlResponse)
	if err != nil {
		return nil, autherr.ErrAuthenticationFailed
	}

	if info.WarningInfo != nil {
		if info.WarningInfo.InvalidTime || info.WarningInfo.NotInAudience {
			return nil, autherr.ErrAuthenticationFailed
		}
	}

	return info, nil
}

// Close tears the provider down. Nothing is held today, but callers own the
// handle and tests rely on an explicit teardown point.
func (p *Provider) Close() error {
	p.sp = nil
	return nil
}
