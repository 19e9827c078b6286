// Package auth holds the core identity types and the session/token
// lifecycle for the Dashborion dashboard.
//
// A Session is created when a browser completes SAML sign-in; it is
// serialized, encrypted, and persisted keyed by an opaque session id that
// travels only in an HttpOnly cookie. CLI access tokens carry the same
// encrypted session payload keyed by the SHA-256 of the token; the raw token
// value is never persisted.
//
// Token format: dbr_[base64url(32 random bytes)], hashed with SHA-256 for
// storage and lookup.
package auth
