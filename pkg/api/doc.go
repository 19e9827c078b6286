// Package api wires the HTTP surface: SSO endpoints, the device flow, the
// session/token endpoints, and the admin audit and grant APIs.
//
// Route protection is layered. The unauthenticated endpoints (SAML, device
// code and token, refresh) sit behind rate limiting only; everything else
// goes through the authorizer middleware, and the admin APIs additionally
// require an RBAC permission.
package api
