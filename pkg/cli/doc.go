// Package cli implements the dashborion command-line client: device-flow
// login, credential storage, identity inspection, and SigV4 proof
// generation for automation callers.
package cli
