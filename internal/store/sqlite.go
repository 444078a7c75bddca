// Package store keeps the rebalance and team run history in SQLite
package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrCorrupted is returned when a stored payload fails checksum verification
var ErrCorrupted = errors.New("checksum verification failed: data corruption detected")

const schema = `
CREATE TABLE IF NOT EXISTS rebalance_cycles (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	profile     TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	order_ids   TEXT NOT NULL,
	data        TEXT NOT NULL,
	checksum    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rebalance_cycles_started ON rebalance_cycles(started_at);

CREATE TABLE IF NOT EXISTS team_runs (
	id          TEXT PRIMARY KEY,
	team        TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	data        TEXT NOT NULL,
	checksum    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_team_runs_started ON team_runs(started_at);
`

// CycleRecord is one persisted rebalance cycle
type CycleRecord struct {
	ID        string
	Status    string
	Profile   string
	StartedAt time.Time
	Duration  time.Duration
	Error     string
	OrderIDs  []string
	// Data is the full cycle result as JSON
	Data json.RawMessage
}

// TeamRunRecord is one persisted agent team run
type TeamRunRecord struct {
	ID        string
	Team      string
	StartedAt time.Time
	Duration  time.Duration
	Error     string
	// Data holds the plan and outputs as JSON
	Data json.RawMessage
}

// SQLiteStore persists run history
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database, enables WAL and creates the schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveCycle inserts or replaces a cycle
func (s *SQLiteStore) SaveCycle(ctx context.Context, rec CycleRecord) error {
	if !json.Valid(rec.Data) {
		return fmt.Errorf("cycle %s: invalid data payload", rec.ID)
	}
	orderIDs, err := json.Marshal(nonNil(rec.OrderIDs))
	if err != nil {
		return fmt.Errorf("failed to marshal order ids: %w", err)
	}

	checksum := sha256.Sum256(rec.Data)
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO rebalance_cycles
			(id, status, profile, started_at, duration_ms, error, order_ids, data, checksum)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Status, rec.Profile, rec.StartedAt.UnixNano(), rec.Duration.Milliseconds(),
		rec.Error, string(orderIDs), string(rec.Data), checksum[:])
	if err != nil {
		return fmt.Errorf("failed to write cycle to db: %w", err)
	}
	return nil
}

// RecentCycles returns up to limit cycles, newest first
func (s *SQLiteStore) RecentCycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, profile, started_at, duration_ms, error, order_ids, data, checksum
		 FROM rebalance_cycles ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read cycles: %w", err)
	}
	defer rows.Close()

	var out []CycleRecord
	for rows.Next() {
		var (
			rec        CycleRecord
			startedAt  int64
			durationMs int64
			orderIDs   string
			data       string
			checksum   []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Status, &rec.Profile, &startedAt, &durationMs,
			&rec.Error, &orderIDs, &data, &checksum); err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		if err := verify([]byte(data), checksum); err != nil {
			return nil, fmt.Errorf("cycle %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(orderIDs), &rec.OrderIDs); err != nil {
			return nil, fmt.Errorf("cycle %s: failed to unmarshal order ids: %w", rec.ID, err)
		}
		rec.StartedAt = time.Unix(0, startedAt)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.Data = json.RawMessage(data)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SaveTeamRun inserts or replaces a team run
func (s *SQLiteStore) SaveTeamRun(ctx context.Context, rec TeamRunRecord) error {
	if !json.Valid(rec.Data) {
		return fmt.Errorf("team run %s: invalid data payload", rec.ID)
	}
	checksum := sha256.Sum256(rec.Data)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO team_runs (id, team, started_at, duration_ms, error, data, checksum)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Team, rec.StartedAt.UnixNano(), rec.Duration.Milliseconds(), rec.Error, string(rec.Data), checksum[:])
	if err != nil {
		return fmt.Errorf("failed to write team run to db: %w", err)
	}
	return nil
}

// RecentTeamRuns returns up to limit team runs, newest first
func (s *SQLiteStore) RecentTeamRuns(ctx context.Context, limit int) ([]TeamRunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, team, started_at, duration_ms, error, data, checksum
		 FROM team_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read team runs: %w", err)
	}
	defer rows.Close()

	var out []TeamRunRecord
	for rows.Next() {
		var (
			rec        TeamRunRecord
			startedAt  int64
			durationMs int64
			data       string
			checksum   []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Team, &startedAt, &durationMs, &rec.Error, &data, &checksum); err != nil {
			return nil, fmt.Errorf("failed to scan team run: %w", err)
		}
		if err := verify([]byte(data), checksum); err != nil {
			return nil, fmt.Errorf("team run %s: %w", rec.ID, err)
		}
		rec.StartedAt = time.Unix(0, startedAt)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.Data = json.RawMessage(data)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Ping checks the database connection
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func verify(data, stored []byte) error {
	computed := sha256.Sum256(data)
	if !bytes.Equal(stored, computed[:]) {
		return ErrCorrupted
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
