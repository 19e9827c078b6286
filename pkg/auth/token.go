package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// TokenPrefix identifies Dashborion tokens.
	TokenPrefix = "dbr_"
	// TokenLength is the number of random bytes per token (256 bits).
	TokenLength = 32
)

// GenerateToken creates a new opaque token.
// Format: dbr_<base64url(32 random bytes)>. Only the hash is ever persisted.
func GenerateToken() (token string, tokenHash string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	token = TokenPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return token, HashToken(token), nil
}

// HashToken computes the SHA-256 hex digest of a token for storage lookup.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks the shape of a presented token before any
// storage lookup, so obviously malformed values are rejected cheaply.
func ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}
