// Package httputil provides JSON response helpers, request parsing, and
// generic HTTP middleware shared by all handlers.
//
// Error responses are a single {"error": "..."} object. Handlers on the
// authentication path must pass sanitized messages; WriteInternalError
// never echoes the underlying error to the client.
package httputil
