// Package middleware provides HTTP middleware for request identification
// and rate limiting.
//
// RequestID tags every request with an X-Request-ID and threads it through
// the context so audit entries and log lines correlate.
//
// Rate limiting comes in two flavors: an in-memory token bucket for single
// instances, and a Redis-backed counter shared across replicas. The
// unauthenticated device-flow endpoints are the main consumer; they are the
// only part of the surface an anonymous caller can hammer.
package middleware
