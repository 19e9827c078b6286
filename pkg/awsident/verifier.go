package awsident

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/dashborion/dashborion/pkg/autherr"
	"github.com/dashborion/dashborion/pkg/directory"
	"github.com/dashborion/dashborion/pkg/observability"
)

// STSTimeout caps the forwarded STS call; past it the request is denied
// rather than hung.
const STSTimeout = 3 * time.Second

// stsHostPattern accepts the global and regional STS endpoints only.
var stsHostPattern = regexp.MustCompile(`^sts(\.[a-z0-9-]+)?\.amazonaws\.com$`)

// Identity is a verified AWS caller mapped to a registered user.
type Identity struct {
	Email       string
	DisplayName string
	UserID      string
	ARN         string
	Account     string
}

// Config for the verifier.
type Config struct {
	// ExpectedServerID, when set, requires the proof's server-binding
	// header to match. Stops a proof captured for one deployment being
	// replayed against another.
	ExpectedServerID string
	// ExtractEmailFromSessionName permits falling back to the email in an
	// assumed-role session name when no explicit mapping matches.
	ExtractEmailFromSessionName bool
	// Endpoint overrides the STS URL host check and destination; tests
	// point it at a stub.
	Endpoint string
}

// Verifier validates SigV4 identity proofs by forwarding them to STS.
type Verifier struct {
	cfg      Config
	client   *http.Client
	mappings []MappingSource
	dir      directory.Directory
	logger   *observability.Logger
}

// NewVerifier builds a verifier. Mapping sources are consulted in order;
// the first match wins.
func NewVerifier(cfg Config, dir directory.Directory, logger *observability.Logger, mappings ...MappingSource) *Verifier {
	return &Verifier{
		cfg:      cfg,
		client:   &http.Client{Timeout: STSTimeout},
		mappings: mappings,
		dir:      dir,
		logger:   logger,
	}
}

// Verify forwards the proof to STS and maps the caller to a registered
// user. Every failure mode collapses to ErrAuthenticationFailed; the
// distinguishing reason is logged internally.
func (v *Verifier) Verify(ctx context.Context, proof *Proof) (*Identity, error) {
	if v.cfg.ExpectedServerID != "" && proof.ServerID != v.cfg.ExpectedServerID {
		v.logger.Warn("SigV4 proof rejected: server binding mismatch")
		return nil, autherr.ErrAuthenticationFailed
	}

	if err := v.checkDestination(proof); err != nil {
		v.logger.WithError(err).Warn("SigV4 proof rejected: bad destination")
		return nil, autherr.ErrAuthenticationFailed
	}

	caller, err := v.forward(ctx, proof)
	if err != nil {
		v.logger.WithError(err).Warn("SigV4 proof rejected by STS")
		return nil, autherr.ErrAuthenticationFailed
	}

	email, err := v.resolveEmail(ctx, caller.Arn)
	if err != nil {
		return nil, err
	}
	if email == "" {
		v.logger.WithField("account", caller.Account).Warn("SigV4 proof rejected: no mapping for caller")
		return nil, autherr.ErrAuthenticationFailed
	}

	user, err := v.dir.LookupUser(ctx, email)
	if err == directory.ErrUserNotFound {
		v.logger.WithField("email", email).Warn("SigV4 proof rejected: email not registered")
		return nil, autherr.ErrAuthenticationFailed
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	return &Identity{
		Email:       user.Email,
		DisplayName: user.DisplayName,
		UserID:      fmt.Sprintf("%d", user.ID),
		ARN:         caller.Arn,
		Account:     caller.Account,
	}, nil
}

// checkDestination ensures the proof targets real STS over TLS, so the
// server cannot be used as a request proxy.
func (v *Verifier) checkDestination(proof *Proof) error {
	u, err := url.Parse(proof.URL)
	if err != nil {
		return fmt.Errorf("unparseable URL: %w", err)
	}
	if v.cfg.Endpoint != "" {
		// Test override: the stub endpoint is the only allowed target.
		if !strings.HasPrefix(proof.URL, v.cfg.Endpoint) {
			return fmt.Errorf("URL does not match configured endpoint")
		}
		return nil
	}
	if u.Scheme != "https" {
		return fmt.Errorf("non-TLS scheme %q", u.Scheme)
	}
	if !stsHostPattern.MatchString(u.Hostname()) {
		return fmt.Errorf("host %q is not STS", u.Hostname())
	}
	return nil
}

type callerIdentity struct {
	Arn     string
	Account string
	UserID  string
}

type getCallerIdentityResponse struct {
	XMLName xml.Name `xml:"GetCallerIdentityResponse"`
	Result  struct {
		Arn     string `xml:"Arn"`
		Account string `xml:"Account"`
		UserID  string `xml:"UserId"`
	} `xml:"GetCallerIdentityResult"`
}

// forward replays the signed request byte-for-byte against STS.
func (v *Verifier) forward(ctx context.Context, proof *Proof) (*callerIdentity, error) {
	ctx, cancel := context.WithTimeout(ctx, STSTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, proof.Method, proof.URL, bytes.NewReader(proof.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build STS request: %w", err)
	}
	for name, value := range proof.Headers {
		if strings.EqualFold(name, "Host") {
			req.Host = value
			continue
		}
		req.Header.Set(name, value)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("STS call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("failed to read STS response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("STS returned status %d", resp.StatusCode)
	}

	var parsed getCallerIdentityResponse
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse STS response: %w", err)
	}
	if parsed.Result.Arn == "" {
		return nil, fmt.Errorf("STS response carries no ARN")
	}

	return &callerIdentity{
		Arn:     parsed.Result.Arn,
		Account: parsed.Result.Account,
		UserID:  parsed.Result.UserID,
	}, nil
}

// resolveEmail maps the caller ARN through the configured sources, then
// optionally the session-name fallback. Empty email means no mapping.
func (v *Verifier) resolveEmail(ctx context.Context, arn string) (string, error) {
	for _, src := range v.mappings {
		email, ok, err := src.LookupEmail(ctx, arn)
		if err != nil {
			return "", err
		}
		if ok {
			return email, nil
		}
	}

	sessionFallback := v.cfg.ExtractEmailFromSessionName
	for _, src := range v.mappings {
		if fm, ok := src.(*FileMappings); ok && fm.SessionNameExtractionEnabled() {
			sessionFallback = true
		}
	}
	if sessionFallback {
		if email, ok := ExtractEmailFromSessionName(arn); ok {
			return email, nil
		}
	}
	return "", nil
}
