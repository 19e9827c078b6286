// Package saml validates inbound SAML responses from the configured
// enterprise identity provider and turns them into dashboard sessions.
//
// The provider handle is built once at startup from the IdP's certificate
// and endpoints and injected into the processor; there is no process-global
// cached instance, and Close releases it for tests. Validation failures of
// any kind surface to the browser as a single generic authentication
// failure.
package saml
