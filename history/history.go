/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package history keeps a local SQLite copy of the call log so that recent
// calls can be listed without a round trip to the backend.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/tejzpr/chatcall-go-sdk/calling"
)

const schema = `CREATE TABLE IF NOT EXISTS call_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	call_id      TEXT,
	event        TEXT NOT NULL,
	direction    TEXT NOT NULL DEFAULT '',
	call_type    TEXT NOT NULL DEFAULT '',
	peer_id      TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT '',
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	is_group     INTEGER NOT NULL DEFAULT 0,
	at           INTEGER NOT NULL,
	UNIQUE (call_id, event)
)`

// Store is a SQLite-backed calling.HistoryStore
type Store struct {
	db     *sql.DB
	logger logrus.FieldLogger
	mu     sync.Mutex
	closed bool
}

var _ calling.HistoryStore = (*Store)(nil)

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("history store is closed")

// Open opens (or creates) the database at path. Use ":memory:" for a
// throwaway store.
func Open(path string, logger logrus.FieldLogger) (*Store, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open call history: %w", err)
	}
	// A single connection keeps ":memory:" databases alive across calls
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		schema,
		"CREATE INDEX IF NOT EXISTS call_log_at ON call_log (at DESC)",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to prepare call history: %w", err)
		}
	}

	return &Store{db: db, logger: logger.WithField("component", "history")}, nil
}

// Record stores one entry. An entry repeating the (call, event) pair of a
// stored one is ignored; entries without a call ID are always stored.
func (s *Store) Record(ctx context.Context, entry *calling.CallLogEntry) error {
	if entry == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO call_log
		(call_id, event, direction, call_type, peer_id, status, reason, duration_ms, is_group, at)
		VALUES (NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.CallID, entry.Event, string(entry.Direction), string(entry.CallType), entry.PeerID,
		string(entry.Status), entry.Reason, entry.Duration.Milliseconds(), entry.IsGroupCall, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record %s for call %s: %w", entry.Event, entry.CallID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.WithFields(logrus.Fields{"call_id": entry.CallID, "event": entry.Event}).Debug("Duplicate call log entry ignored")
	}
	return nil
}

// Recent returns up to limit entries, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]calling.CallLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.query(ctx, `SELECT call_id, event, direction, call_type, peer_id, status, reason, duration_ms, is_group, at
		FROM call_log ORDER BY at DESC, id DESC LIMIT ?`, limit)
}

// ForCall returns the entries of one call in the order they were recorded
func (s *Store) ForCall(ctx context.Context, callID string) ([]calling.CallLogEntry, error) {
	return s.query(ctx, `SELECT call_id, event, direction, call_type, peer_id, status, reason, duration_ms, is_group, at
		FROM call_log WHERE call_id = ? ORDER BY id`, callID)
}

func (s *Store) query(ctx context.Context, q string, args ...interface{}) ([]calling.CallLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query call history: %w", err)
	}
	defer rows.Close()

	var entries []calling.CallLogEntry
	for rows.Next() {
		var (
			callID                      sql.NullString
			direction, callType, status string
			e                           calling.CallLogEntry
			durationMs, atMs            int64
		)
		if err := rows.Scan(&callID, &e.Event, &direction, &callType, &e.PeerID, &status,
			&e.Reason, &durationMs, &e.IsGroupCall, &atMs); err != nil {
			return nil, fmt.Errorf("failed to read call history: %w", err)
		}
		e.CallID = callID.String
		e.Direction = calling.CallDirection(direction)
		e.CallType = calling.CallType(callType)
		e.Status = calling.CallStatus(status)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		e.At = time.UnixMilli(atMs)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
