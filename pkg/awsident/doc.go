// Package awsident authenticates callers by their AWS identity. The client
// signs an STS GetCallerIdentity request with its own credentials and ships
// it, base64-encoded, in request headers; the server forwards it verbatim
// to STS and trusts STS's signature validation instead of re-implementing
// SigV4. The resulting ARN is mapped to a registered dashboard user, either
// through explicit ARN mappings or by extracting the email embedded in an
// Identity Center assumed-role session name. Unregistered identities are
// rejected; there is no automatic provisioning.
package awsident
