// Package store persists the auth core's state: hashed tokens, encrypted
// sessions, device-flow codes, and IAM identity mappings. Every record
// carries an expiry that the storage engine enforces (TTL) and that readers
// re-check at the moment of use. The single serialized mutation in the
// system, the device-code status transition, goes through UpdateStatus,
// a compare-and-set primitive.
package store
