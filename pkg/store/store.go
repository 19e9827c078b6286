package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist or has expired.
	// Expired records are indistinguishable from absent ones.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned by UpdateStatus when the record's status does
	// not match the expected value, i.e. another writer won the race.
	ErrConflict = errors.New("conditional update conflict")
)

// Sort key values per partition type.
const (
	SortToken   = "SESSION"
	SortSession = "META"
	SortDevice  = "STATE"
	SortLookup  = "LOOKUP"
	SortIAM     = "MAPPING"
)

// Record is the unit of persistence. Payload is opaque to the store (the
// callers keep it encrypted); Attributes hold small plaintext fields such as
// the device-flow poll interval.
type Record struct {
	PartitionKey string            `json:"pk"`
	SortKey      string            `json:"sk"`
	Status       string            `json:"status,omitempty"`
	Payload      []byte            `json:"payload,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	ExpiresAt    int64             `json:"expires_at"`
}

// Expired reports whether the record's TTL has passed at the given instant.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt > 0 && now.Unix() >= r.ExpiresAt
}

// TokenKey returns the partition key for a hashed token.
func TokenKey(sha256Hex string) string { return "TOKEN#" + sha256Hex }

// SessionKey returns the partition key for a session.
func SessionKey(sessionID string) string { return "SESSION#" + sessionID }

// DeviceKey returns the partition key for a device-flow code.
func DeviceKey(deviceCode string) string { return "DEVICE#" + deviceCode }

// UserCodeKey returns the partition key for the short user-facing device
// code that maps back to the device code.
func UserCodeKey(userCode string) string { return "USERCODE#" + userCode }

// IAMKey returns the partition key for an ARN (or ARN pattern) mapping.
func IAMKey(arn string) string { return "IAM#" + arn }

// Store is the persistence contract shared by the Redis and in-memory
// backends.
type Store interface {
	// Put writes a record, replacing any previous version, and arms its TTL.
	Put(ctx context.Context, rec Record) error

	// Get returns the record or ErrNotFound. Records past their expiry are
	// reported as ErrNotFound even if the engine has not collected them yet.
	Get(ctx context.Context, pk, sk string) (*Record, error)

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, pk, sk string) error

	// UpdateStatus transitions a record's status from an expected value to a
	// new one as a single conditional write, merging attrs into the record's
	// attributes in the same commit. Returns ErrNotFound if the record is
	// missing or expired, ErrConflict if the status was not the expected
	// value at commit time.
	UpdateStatus(ctx context.Context, pk, sk, expect, next string, attrs map[string]string) error

	// Close releases backend resources.
	Close() error
}
