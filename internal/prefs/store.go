// Package prefs persists per-install preferences and a log of agent runs in
// a local SQLite database.
package prefs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

// Preference keys.
const (
	KeyLanguage = "translation.language"
	KeyModel    = "agent.model"
)

// Store is a preferences database bound to one install id.
type Store struct {
	db        *sql.DB
	installID string
}

// Open opens (or creates) the database at path and loads the install id,
// generating one on first use.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer avoids "database is locked" between goroutines.
	db.SetMaxOpenConns(1)

	if err := createTables(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if s.installID, err = loadInstallID(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS install(
	  id         TEXT    PRIMARY KEY,
	  created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS preferences(
	  install_id TEXT    NOT NULL,
	  key        TEXT    NOT NULL,
	  value      TEXT    NOT NULL,
	  updated_at INTEGER NOT NULL,
	  PRIMARY KEY (install_id, key)
	);
	CREATE TABLE IF NOT EXISTS runs(
	  id          INTEGER PRIMARY KEY,
	  install_id  TEXT    NOT NULL,
	  started_at  INTEGER NOT NULL,
	  duration_ms INTEGER NOT NULL,
	  task        TEXT    NOT NULL,
	  state       TEXT    NOT NULL,
	  reason      TEXT,
	  steps       INTEGER NOT NULL,
	  final_url   TEXT,
	  trace_json  TEXT    NOT NULL CHECK (json_valid(trace_json))
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(install_id, started_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func loadInstallID(ctx context.Context, db *sql.DB) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, `SELECT id FROM install LIMIT 1`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to read install id: %w", err)
	}

	id = uuid.NewString()
	if _, err := db.ExecContext(ctx, `INSERT INTO install(id, created_at) VALUES(?, ?)`, id, time.Now().Unix()); err != nil {
		return "", fmt.Errorf("failed to store install id: %w", err)
	}
	return id, nil
}

func (s *Store) InstallID() string { return s.installID }

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value for key and whether it is set.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE install_id = ? AND key = ?`, s.installID, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read preference %q: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO preferences(install_id, key, value, updated_at) VALUES(?, ?, ?, ?)
	ON CONFLICT(install_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.installID, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write preference %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM preferences WHERE install_id = ? AND key = ?`, s.installID, key); err != nil {
		return fmt.Errorf("failed to delete preference %q: %w", key, err)
	}
	return nil
}

// Language returns the preferred translation language, "" when unset.
func (s *Store) Language(ctx context.Context) (string, error) {
	v, _, err := s.Get(ctx, KeyLanguage)
	return v, err
}

// SetLanguage stores lang; an empty lang clears the preference.
func (s *Store) SetLanguage(ctx context.Context, lang string) error {
	if lang == "" {
		return s.Delete(ctx, KeyLanguage)
	}
	return s.Set(ctx, KeyLanguage, lang)
}

// RunRecord is one finished agent run.
type RunRecord struct {
	StartedAt time.Time
	Duration  time.Duration
	Task      string
	State     string
	Reason    string
	Steps     int
	FinalURL  string
	Trace     []string
}

func (s *Store) RecordRun(ctx context.Context, r RunRecord) error {
	trace := r.Trace
	if trace == nil {
		trace = []string{}
	}
	traceJSON, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("failed to marshal run trace: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO runs(install_id, started_at, duration_ms, task, state, reason, steps, final_url, trace_json)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, json(?))`,
		s.installID, r.StartedAt.UnixMilli(), r.Duration.Milliseconds(), r.Task, r.State, r.Reason,
		r.Steps, r.FinalURL, string(traceJSON))
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT started_at, duration_ms, task, state, COALESCE(reason, ''), steps, COALESCE(final_url, ''), trace_json
	FROM runs WHERE install_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`, s.installID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r                   RunRecord
			startedMs, duration int64
			traceJSON           string
		)
		if err := rows.Scan(&startedMs, &duration, &r.Task, &r.State, &r.Reason, &r.Steps, &r.FinalURL, &traceJSON); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(startedMs)
		r.Duration = time.Duration(duration) * time.Millisecond
		if err := json.Unmarshal([]byte(traceJSON), &r.Trace); err != nil {
			return nil, fmt.Errorf("failed to decode run trace: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
