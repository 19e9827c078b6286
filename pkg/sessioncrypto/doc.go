// Package sessioncrypto provides authenticated encryption for session and
// token payloads. Ciphertexts are bound to an encryption context so a blob
// sealed for one purpose cannot be replayed for another, and every failure
// mode collapses to the same opaque error.
package sessioncrypto
