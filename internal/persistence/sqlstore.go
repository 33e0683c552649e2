// Package persistence provides an optional SQL-backed snapshot store for
// bandit model state and episode history, used by cmd/apex when a
// database DSN is configured; with no DSN, callers simply never construct
// a Store and everything stays in memory.
package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Driver selects the database/sql driver name a Store opens with.
type Driver string

const (
	DriverSQLite Driver = "sqlite3"
	DriverMySQL  Driver = "mysql"
)

// Store persists bandit model snapshots and episode outcomes across runs.
type Store struct {
	db *sql.DB
}

// Open opens a connection via driver against dsn and ensures the schema
// exists. Callers are responsible for calling Close.
func Open(driver Driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverMySQL:
	default:
		return nil, fmt.Errorf("apex/persistence: unsupported driver %q", driver)
	}

	db, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("apex/persistence: open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("apex/persistence: ping %s: %w", driver, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bandit_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			episode_id TEXT NOT NULL,
			taken_at TEXT NOT NULL,
			state_json TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS episode_outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			episode_id TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			success INTEGER NOT NULL,
			total_reward REAL NOT NULL,
			switch_count INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("apex/persistence: migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BanditModelState is the JSON-serializable snapshot persisted by
// SaveBanditSnapshot; the payload is whatever JSON the caller supplies,
// stored opaquely so this package never imports internal/bandit
// (cmd/apex stores bandit.Stats: decision counts and epsilon, not the
// per-action matrices).
type BanditModelState struct {
	EpisodeID string          `json:"episode_id"`
	TakenAt   time.Time       `json:"taken_at"`
	Payload   json.RawMessage `json:"payload"`
}

// SaveBanditSnapshot persists a bandit state snapshot for episodeID.
func (s *Store) SaveBanditSnapshot(episodeID string, payload json.RawMessage) error {
	_, err := s.db.Exec(
		`INSERT INTO bandit_snapshots (episode_id, taken_at, state_json) VALUES (?, ?, ?)`,
		episodeID, time.Now().UTC().Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return fmt.Errorf("apex/persistence: save snapshot: %w", err)
	}
	return nil
}

// LatestBanditSnapshot returns the most recently saved snapshot for
// episodeID, or ok=false if none exists.
func (s *Store) LatestBanditSnapshot(episodeID string) (state BanditModelState, ok bool, err error) {
	row := s.db.QueryRow(
		`SELECT taken_at, state_json FROM bandit_snapshots WHERE episode_id = ? ORDER BY id DESC LIMIT 1`,
		episodeID,
	)
	var takenAt, stateJSON string
	if err := row.Scan(&takenAt, &stateJSON); err != nil {
		if err == sql.ErrNoRows {
			return BanditModelState{}, false, nil
		}
		return BanditModelState{}, false, fmt.Errorf("apex/persistence: load snapshot: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, takenAt)
	if err != nil {
		return BanditModelState{}, false, fmt.Errorf("apex/persistence: parse snapshot timestamp: %w", err)
	}
	return BanditModelState{
		EpisodeID: episodeID,
		TakenAt:   ts,
		Payload:   json.RawMessage(stateJSON),
	}, true, nil
}

// EpisodeOutcome records one completed episode's terminal stats.
type EpisodeOutcome struct {
	EpisodeID   string
	FinishedAt  time.Time
	Success     bool
	TotalReward float64
	SwitchCount int
}

// RecordEpisodeOutcome persists one completed episode's terminal stats.
func (s *Store) RecordEpisodeOutcome(o EpisodeOutcome) error {
	success := 0
	if o.Success {
		success = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO episode_outcomes (episode_id, finished_at, success, total_reward, switch_count) VALUES (?, ?, ?, ?, ?)`,
		o.EpisodeID, o.FinishedAt.UTC().Format(time.RFC3339Nano), success, o.TotalReward, o.SwitchCount,
	)
	if err != nil {
		return fmt.Errorf("apex/persistence: record outcome: %w", err)
	}
	return nil
}
