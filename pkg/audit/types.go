package audit

import (
	"encoding/json"
	"time"
)

// Action categorizes what the actor attempted.
type Action string

const (
	ActionLogin        Action = "auth.login"
	ActionLogout       Action = "auth.logout"
	ActionTokenIssue   Action = "auth.token_issue"
	ActionTokenRefresh Action = "auth.token_refresh"
	ActionTokenRevoke  Action = "auth.token_revoke"
	ActionDeviceStart  Action = "device.start"
	ActionDeviceVerify Action = "device.verify"
	ActionDeviceIssue  Action = "device.issue"
	ActionIAMVerify    Action = "iam.verify"
	ActionAuthorize    Action = "authz.check"
	ActionGrantChange  Action = "authz.grant_change"
)

// Outcome is how the attempt ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Entry is a single audit record. Actor is empty when the request never
// authenticated; Target names what was acted on (a project/environment pair,
// a token id, a user email).
type Entry struct {
	ID        int64                  `json:"id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"`
	Action    Action                 `json:"action"`
	Target    string                 `json:"target,omitempty"`
	Outcome   Outcome                `json:"outcome"`
	Detail    string                 `json:"detail,omitempty"`
	IP        string                 `json:"ip,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON serializes the entry for NDJSON sinks.
func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SearchFilter narrows queries over stored entries.
type SearchFilter struct {
	Start   *time.Time
	End     *time.Time
	Actor   string
	Action  Action
	Outcome Outcome
	Target  string
	IP      string

	Limit  int
	Offset int
}

// RetentionPolicy controls how long entries are kept.
type RetentionPolicy struct {
	RetentionDays int
}

// DefaultRetentionPolicy keeps ninety days of history.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{RetentionDays: 90}
}
