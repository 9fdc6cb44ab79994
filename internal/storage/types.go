// Package storage persists the reminder settings, the admin audit log
// and fired-trigger marks. Two drivers: "file" (JSON + JSON Lines, no
// further deps) and "sqlite".
package storage

import (
	"context"
	"time"

	"yoteibot/internal/settings"
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON settings + JSONL audit log
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled and the scheduler
// runs on in-memory defaults.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one administrative action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	Action        string    `json:"action"`
	Detail        string    `json:"detail,omitempty"`
	Error         string    `json:"err,omitempty"`
}

// Store is the persistence API used by the reminder service.
type Store interface {
	// LoadSettings returns the stored record; ok is false when nothing
	// has been stored yet.
	LoadSettings(ctx context.Context) (s settings.Settings, ok bool, err error)
	SaveSettings(ctx context.Context, s settings.Settings) error

	AppendAudit(ctx context.Context, e AuditEntry) error

	// MarkFired records that the trigger identified by key fired; the
	// mark expires at until. It returns true exactly once per key while
	// the mark lives, which is the executor's at-most-once send guard.
	MarkFired(ctx context.Context, key string, until time.Time) (first bool, err error)

	Close() error
}
