package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DBLogger persists audit entries to Postgres.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates the logger and its schema if missing.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	l := &DBLogger{db: db}
	if err := l.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return l, nil
}

func (l *DBLogger) ensureTable() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			actor VARCHAR(255) NOT NULL DEFAULT '',
			action VARCHAR(64) NOT NULL,
			target VARCHAR(512) NOT NULL DEFAULT '',
			outcome VARCHAR(16) NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			ip VARCHAR(64) NOT NULL DEFAULT '',
			request_id VARCHAR(64) NOT NULL DEFAULT '',
			metadata JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_timestamp ON audit_entries(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_actor ON audit_entries(actor)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_entries_action ON audit_entries(action)`,
	}
	for _, q := range queries {
		if _, err := l.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// Log inserts one entry.
func (l *DBLogger) Log(ctx context.Context, entry Entry) error {
	stamp(&entry)

	var metadata interface{}
	if len(entry.Metadata) > 0 {
		b, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
		metadata = b
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_entries (timestamp, actor, action, target, outcome, detail, ip, request_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.Timestamp, entry.Actor, string(entry.Action), entry.Target,
		string(entry.Outcome), entry.Detail, entry.IP, entry.RequestID, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Search returns entries matching the filter, newest first.
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]Entry, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Start != nil {
		add("timestamp >= $%d", *filter.Start)
	}
	if filter.End != nil {
		add("timestamp <= $%d", *filter.End)
	}
	if filter.Actor != "" {
		add("actor = $%d", filter.Actor)
	}
	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if filter.Outcome != "" {
		add("outcome = $%d", string(filter.Outcome))
	}
	if filter.Target != "" {
		add("target = $%d", filter.Target)
	}
	if filter.IP != "" {
		add("ip = $%d", filter.IP)
	}

	query := `SELECT id, timestamp, actor, action, target, outcome, detail, ip, request_id, metadata FROM audit_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			action   string
			outcome  string
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &action, &e.Target, &outcome, &e.Detail, &e.IP, &e.RequestID, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Action = Action(action)
		e.Outcome = Outcome(outcome)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Sweep deletes entries older than the retention window and reports how
// many rows went away.
func (l *DBLogger) Sweep(ctx context.Context, policy RetentionPolicy) (int64, error) {
	if policy.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -policy.RetentionDays)

	res, err := l.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep audit entries: %w", err)
	}
	return res.RowsAffected()
}

// Close is a no-op; the caller owns the *sql.DB.
func (l *DBLogger) Close() error { return nil }
