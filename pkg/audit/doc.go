// Package audit records security-relevant events: logins, token issuance,
// device-flow approvals, IAM verifications and authorization denials.
//
// Entries are written through the Logger interface. The Postgres logger is
// the durable backend; the file logger writes newline-delimited JSON for
// shipping to external collectors, and MultiLogger fans out to both.
// Retention is enforced by Sweep, driven from the server's cron schedule.
package audit
