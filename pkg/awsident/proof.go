package awsident

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

// Proof transport headers. URL, body and signed headers are base64-encoded
// so arbitrary bytes survive intermediaries.
const (
	HeaderMethod   = "X-Amz-Iam-Request-Method"
	HeaderURL      = "X-Amz-Iam-Request-Url"
	HeaderBody     = "X-Amz-Iam-Request-Body"
	HeaderHeaders  = "X-Amz-Iam-Request-Headers"
	HeaderServerID = "X-Dashborion-Server-ID"
)

// Proof is a decoded client-signed GetCallerIdentity request.
type Proof struct {
	Method   string
	URL      string
	Body     []byte
	Headers  map[string]string
	ServerID string
}

// HasProof reports whether the request carries SigV4 proof headers at all,
// used by the authorizer to decide whether this strategy applies.
func HasProof(r *http.Request) bool {
	return r.Header.Get(HeaderURL) != ""
}

// ProofFromRequest decodes the proof headers. Any malformed field fails the
// whole proof.
func ProofFromRequest(r *http.Request) (*Proof, error) {
	method := r.Header.Get(HeaderMethod)
	if method == "" {
		method = http.MethodPost
	}

	rawURL, err := base64.StdEncoding.DecodeString(r.Header.Get(HeaderURL))
	if err != nil {
		return nil, fmt.Errorf("malformed request URL header: %w", err)
	}

	var body []byte
	if encoded := r.Header.Get(HeaderBody); encoded != "" {
		body, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("malformed request body header: %w", err)
		}
	}

	headers := make(map[string]string)
	if encoded := r.Header.Get(HeaderHeaders); encoded != "" {
		rawHeaders, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("malformed signed headers header: %w", err)
		}
		if err := json.Unmarshal(rawHeaders, &headers); err != nil {
			return nil, fmt.Errorf("malformed signed headers JSON: %w", err)
		}
	}

	return &Proof{
		Method:   method,
		URL:      string(rawURL),
		Body:     body,
		Headers:  headers,
		ServerID: r.Header.Get(HeaderServerID),
	}, nil
}
