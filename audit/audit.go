// CLAUDE:SUMMARY SQLite audit trail for crit decisions and restoration outcomes, with retention cleanup.
// Package audit records crit decisions and restoration outcomes as an
// append-only SQLite event log.
//
// This is observability, not state: the History Store remains the in-memory
// source of truth, and a failing audit database never blocks or fails the
// decision or reconciliation paths.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/critlab/critwatch/idgen"
)

// Schema creates the audit tables. Pass to dbopen.WithSchema or execute once
// at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS crit_events (
	event_id    TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,            -- decision | restoration | exhausted
	fingerprint TEXT NOT NULL,
	channel_id  TEXT NOT NULL,
	is_crit     INTEGER NOT NULL DEFAULT 0,
	roll        REAL NOT NULL DEFAULT 0,
	detail      TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL          -- unix seconds
);
CREATE INDEX IF NOT EXISTS idx_crit_events_channel ON crit_events (channel_id, created_at);
`

// Event is one audit row.
type Event struct {
	Kind        string // "decision", "restoration", "exhausted"
	Fingerprint string
	ChannelID   string
	IsCrit      bool
	Roll        float64
	Detail      string
}

// Logger writes audit events and manages retention cleanup.
type Logger struct {
	db    *sql.DB
	newID idgen.Generator
}

// Option configures a Logger.
type Option func(*Logger)

// WithIDGenerator sets a custom ID generator for event IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(l *Logger) { l.newID = gen }
}

// NewLogger creates a Logger backed by the given database. The Schema must
// already be applied.
func NewLogger(db *sql.DB, opts ...Option) *Logger {
	l := &Logger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Log records an event. Non-blocking policy: errors are logged via slog but
// never propagate, so a failing audit store cannot stall message processing.
func (l *Logger) Log(ctx context.Context, ev Event) {
	isCrit := 0
	if ev.IsCrit {
		isCrit = 1
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO crit_events (event_id, kind, fingerprint, channel_id, is_crit, roll, detail, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		l.newID(), ev.Kind, ev.Fingerprint, ev.ChannelID, isCrit, ev.Roll, ev.Detail, time.Now().Unix())
	if err != nil {
		slog.Error("audit: event write failed", "kind", ev.Kind, "error", err)
	}
}

// Cleanup deletes events older than the retention window. Zero days means no
// cleanup.
func Cleanup(ctx context.Context, db *sql.DB, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().Unix() - int64(retentionDays)*86400
	if _, err := db.ExecContext(ctx, `DELETE FROM crit_events WHERE created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("audit: cleanup: %w", err)
	}
	return nil
}
