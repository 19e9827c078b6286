package awsident

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodedProofRequest(t *testing.T) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set(HeaderMethod, http.MethodPost)
	req.Header.Set(HeaderURL, base64.StdEncoding.EncodeToString([]byte("https://sts.amazonaws.com/")))
	req.Header.Set(HeaderBody, base64.StdEncoding.EncodeToString([]byte("Action=GetCallerIdentity&Version=2011-06-15")))
	req.Header.Set(HeaderHeaders, base64.StdEncoding.EncodeToString([]byte(`{"Authorization":"AWS4-HMAC-SHA256 ...","Host":"sts.amazonaws.com"}`)))
	req.Header.Set(HeaderServerID, "dash-prod-1")
	return req
}

func TestHasProof(t *testing.T) {
	assert.True(t, HasProof(encodedProofRequest(t)))
	assert.False(t, HasProof(httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestProofFromRequest(t *testing.T) {
	proof, err := ProofFromRequest(encodedProofRequest(t))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, proof.Method)
	assert.Equal(t, "https://sts.amazonaws.com/", proof.URL)
	assert.Equal(t, "Action=GetCallerIdentity&Version=2011-06-15", string(proof.Body))
	assert.Equal(t, "sts.amazonaws.com", proof.Headers["Host"])
	assert.Equal(t, "dash-prod-1", proof.ServerID)
}

func TestProofFromRequest_DefaultsMethod(t *testing.T) {
	req := encodedProofRequest(t)
	req.Header.Del(HeaderMethod)

	proof, err := ProofFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, proof.Method)
}

func TestProofFromRequest_Malformed(t *testing.T) {
	for _, header := range []string{HeaderURL, HeaderBody, HeaderHeaders} {
		req := encodedProofRequest(t)
		req.Header.Set(header, "%%%not-base64%%%")
		_, err := ProofFromRequest(req)
		assert.Error(t, err, "header %s", header)
	}

	req := encodedProofRequest(t)
	req.Header.Set(HeaderHeaders, base64.StdEncoding.EncodeToString([]byte("not json")))
	_, err := ProofFromRequest(req)
	assert.Error(t, err)
}
