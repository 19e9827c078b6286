// Package authorizer is the per-request entry point into authentication.
// It runs an ordered list of strategies — session cookie, bearer token,
// SigV4 identity proof — and the first one whose credential is present on
// the request decides the outcome. Methods never combine. Every denial is
// audited with the attempted method and internal reason while the HTTP
// response stays a uniform 401.
package authorizer
