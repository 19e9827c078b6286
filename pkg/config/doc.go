// Package config loads and validates all service configuration from
// DASHBORION_* environment variables. Validation is fail-fast: a missing
// session key or IdP certificate stops startup instead of degrading into an
// authenticator that lets nothing (or worse, everything) through.
package config
