package awsident

import (
	"regexp"
	"strings"
)

// assumedRolePattern matches STS assumed-role ARNs:
// arn:aws:sts::<account>:assumed-role/<role-name>/<session-name>.
var assumedRolePattern = regexp.MustCompile(`^arn:aws:sts::\d{12}:assumed-role/[^/]+/(.+)$`)

// emailPattern is a deliberately loose email shape check; the directory
// lookup is the real gate.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// ExtractEmailFromSessionName pulls the email out of an Identity-Center
// style assumed-role ARN, where the session name is the federated user's
// email. Returns false when the ARN is not an assumed-role ARN or the
// session name is not email-shaped.
func ExtractEmailFromSessionName(arn string) (string, bool) {
	m := assumedRolePattern.FindStringSubmatch(arn)
	if m == nil {
		return "", false
	}
	session := strings.ToLower(strings.TrimSpace(m[1]))
	if !emailPattern.MatchString(session) {
		return "", false
	}
	return session, true
}
