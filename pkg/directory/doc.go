// Package directory stores registered users and their permission grants.
// Grants attach either to a user email or to an IdP group name; an
// identity's effective permissions are the union of both. The directory is
// the final word for the SigV4 path: an AWS identity that maps to an email
// with no user row here does not get in.
package directory
