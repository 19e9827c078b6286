package saml

import (
	"testing"

	saml2 "github.com/russellhaering/gosaml2"
	samltypes "github.com/russellhaering/gosaml2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertionWith(nameID string, attrs map[string][]string) *saml2.AssertionInfo {
	values := saml2.Values{}
	for name, vals := range attrs {
		attr := samltypes.Attribute{Name: name}
		for _, v := range vals {
			attr.Values = append(attr.Values, samltypes.AttributeValue{Value: v})
		}
		values[name] = attr
	}
	return &saml2.AssertionInfo{NameID: nameID, Values: values}
}

func TestIdentityFromAssertion_EmailFallbackChain(t *testing.T) {
	tests := []struct {
		name  string
		attrs map[string][]string
		want  string
	}{
		{
			name:  "claims URI wins",
			attrs: map[string][]string{"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress": {"claims@example.com"}, "mail": {"mail@example.com"}},
			want:  "claims@example.com",
		},
		{
			name:  "plain email attribute",
			attrs: map[string][]string{"email": {"plain@example.com"}},
			want:  "plain@example.com",
		},
		{
			name:  "mail attribute",
			attrs: map[string][]string{"mail": {"mail@example.com"}},
			want:  "mail@example.com",
		},
		{
			name:  "normalized to lowercase",
			attrs: map[string][]string{"email": {"  Alice@Example.COM "}},
			want:  "alice@example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ident, err := identityFromAssertion(assertionWith("opaque-id", tt.attrs), "groups")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ident.Email)
		})
	}
}

func TestIdentityFromAssertion_NameIDFallback(t *testing.T) {
	ident, err := identityFromAssertion(assertionWith("bob@example.com", nil), "groups")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", ident.Email)
}

func TestIdentityFromAssertion_NoEmail(t *testing.T) {
	_, err := identityFromAssertion(assertionWith("opaque-id", map[string][]string{"cn": {"Bob"}}), "groups")
	assert.Error(t, err)
}

func TestIdentityFromAssertion_DisplayNameDefaultsToEmail(t *testing.T) {
	ident, err := identityFromAssertion(assertionWith("", map[string][]string{"email": {"carol@example.com"}}), "groups")
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", ident.DisplayName)

	ident, err = identityFromAssertion(assertionWith("", map[string][]string{
		"email":       {"carol@example.com"},
		"displayName": {"Carol"},
	}), "groups")
	require.NoError(t, err)
	assert.Equal(t, "Carol", ident.DisplayName)
}

func TestIdentityFromAssertion_Groups(t *testing.T) {
	tests := []struct {
		name  string
		attrs map[string][]string
		want  []string
	}{
		{
			name:  "multi-valued attribute",
			attrs: map[string][]string{"email": {"a@b.co"}, "groups": {"ops", "dev"}},
			want:  []string{"ops", "dev"},
		},
		{
			name:  "comma-flattened single value",
			attrs: map[string][]string{"email": {"a@b.co"}, "groups": {"ops, dev ,sre"}},
			want:  []string{"ops", "dev", "sre"},
		},
		{
			name:  "URI-style attribute name",
			attrs: map[string][]string{"email": {"a@b.co"}, "http://schemas.example.com/claims/groups": {"ops"}},
			want:  []string{"ops"},
		},
		{
			name:  "absent",
			attrs: map[string][]string{"email": {"a@b.co"}},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ident, err := identityFromAssertion(assertionWith("", tt.attrs), "groups")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ident.Groups)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		IdPSSOURL:         "https://idp.example.com/sso",
		IdPCertificatePEM: "cert",
		SPEntityID:        "https://dash.example.com",
		ACSURL:            "https://dash.example.com/saml/acs",
	}
	assert.NoError(t, valid.Validate())

	for _, clear := range []func(*Config){
		func(c *Config) { c.IdPSSOURL = "" },
		func(c *Config) { c.IdPCertificatePEM = "" },
		func(c *Config) { c.SPEntityID = "" },
		func(c *Config) { c.ACSURL = "" },
	} {
		c := valid
		clear(&c)
		assert.Error(t, c.Validate())
	}
}
