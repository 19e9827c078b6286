// Package autherr defines the error taxonomy shared by the authentication
// and authorization packages. External responses must never distinguish
// between these beyond what the device-flow protocol requires, so handlers
// map everything except ErrRateLimited to a uniform denial.
package autherr

import "errors"

var (
	// ErrAuthenticationFailed covers every unverifiable credential: a bad
	// SAML signature, a token hash miss, an STS rejection. Callers must not
	// leak which one it was.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrSessionExpired marks a structurally valid session past its TTL.
	ErrSessionExpired = errors.New("session expired")

	// ErrTokenExpired marks a structurally valid token past its TTL.
	ErrTokenExpired = errors.New("token expired")

	// ErrDeviceCodeInvalid marks an unknown, consumed, or expired device code.
	ErrDeviceCodeInvalid = errors.New("device code invalid")

	// ErrRateLimited is returned when a device-flow client polls faster than
	// the required interval. It is the only error that carries a
	// machine-readable retry hint (slow_down) to the caller.
	ErrRateLimited = errors.New("rate limited")

	// ErrAuthorizationDenied means the identity resolved but the role or
	// scope is insufficient for the requested action.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrConfigurationError marks missing key material or an unreachable
	// IdP/STS. Fatal at startup, 5xx at runtime, never downgraded to allow.
	ErrConfigurationError = errors.New("configuration error")

	// ErrTamperDetected marks an authentication-tag or decryption failure.
	// It unwraps to ErrAuthenticationFailed so callers cannot build a
	// padding/tamper oracle by distinguishing the two.
	ErrTamperDetected = &tamperError{}
)

type tamperError struct{}

func (e *tamperError) Error() string { return "tamper detected" }

// Unwrap folds tampering into the generic authentication failure so that
// errors.Is(err, ErrAuthenticationFailed) holds.
func (e *tamperError) Unwrap() error { return ErrAuthenticationFailed }

// IsDenial reports whether err should surface as a uniform denial response.
func IsDenial(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrAuthorizationDenied) ||
		errors.Is(err, ErrDeviceCodeInvalid)
}
