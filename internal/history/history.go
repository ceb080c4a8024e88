// Package history records listening sessions in SQLite and remembers where
// each station left off.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/olaradio/olaradio/internal/feedback"
)

// Outcome is how a play ended.
type Outcome string

const (
	OutcomePlaying  Outcome = "playing"
	OutcomeFinished Outcome = "finished"
	OutcomeSkipped  Outcome = "skipped"
)

// Play is one row of listening history.
type Play struct {
	SessionID string
	StationID string
	BatchID   string
	TrackID   string
	PlayID    string
	Title     string
	Artist    string
	Duration  int
	Played    int
	Outcome   Outcome
	StartedAt time.Time
	EndedAt   time.Time
}

// Store persists plays. It is a feedback.Sink.
type Store struct {
	db        *sql.DB
	sessionID string
}

var _ feedback.Sink = (*Store)(nil)

// Open opens (creating if needed) the database at dbPath. If dbPath is
// empty, the default state location is used.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		var err error
		dbPath, err = DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolve history db path: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, sessionID: uuid.NewString()}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DefaultPath is <UserConfigDir>/olaradio/state/history.db.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	name := "olaradio"
	if runtime.GOOS == "windows" {
		name = "Olaradio"
	}
	return filepath.Join(dir, name, "state", "history.db"), nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			station_id TEXT NOT NULL,
			batch_id TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS plays (
			play_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			station_id TEXT NOT NULL,
			batch_id TEXT NOT NULL DEFAULT '',
			track_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			artist TEXT NOT NULL DEFAULT '',
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			played_seconds INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (session_id, play_id)
		);`,
		`CREATE INDEX IF NOT EXISTS plays_started ON plays(started_at);`,
		`CREATE TABLE IF NOT EXISTS station_state (
			station_id TEXT PRIMARY KEY,
			last_track_id TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate history schema: %w", err)
		}
	}
	return nil
}

// SessionID identifies this process's listening session.
func (s *Store) SessionID() string { return s.sessionID }

func (s *Store) ID() string { return "history" }

// Deliver records a feedback event. Traces are ignored.
func (s *Store) Deliver(ctx context.Context, ev feedback.Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	switch ev.Kind {
	case feedback.RadioStarted:
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO sessions (id, station_id, batch_id, started_at) VALUES (?, ?, ?, ?)`,
			s.sessionID, ev.StationID, ev.BatchID, at.UnixMilli())
		if err != nil {
			return fmt.Errorf("record session: %w", err)
		}
		return nil
	case feedback.TrackStarted:
		return s.recordStart(ctx, ev, at)
	case feedback.TrackFinished, feedback.Skip:
		return s.recordEnd(ctx, ev, at)
	default:
		return nil
	}
}

func (s *Store) recordStart(ctx context.Context, ev feedback.Event, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO plays (play_id, session_id, station_id, batch_id, track_id, title, artist, duration_seconds, played_seconds, outcome, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, 0)`,
		ev.PlayID, s.sessionID, ev.StationID, ev.BatchID, ev.TrackID, ev.Title, ev.Artist, ev.DurationSec, string(OutcomePlaying), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert play %s: %w", ev.TrackID, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO station_state (station_id, last_track_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(station_id) DO UPDATE SET last_track_id = excluded.last_track_id, updated_at = excluded.updated_at`,
		ev.StationID, ev.TrackID, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("update station state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) recordEnd(ctx context.Context, ev feedback.Event, at time.Time) error {
	outcome := OutcomeFinished
	if ev.Kind == feedback.Skip {
		outcome = OutcomeSkipped
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE plays SET outcome = ?, played_seconds = ?, ended_at = ? WHERE session_id = ? AND play_id = ?`,
		string(outcome), ev.PlayedSec, at.UnixMilli(), s.sessionID, ev.PlayID)
	if err != nil {
		return fmt.Errorf("update play %s: %w", ev.TrackID, err)
	}
	return nil
}

// LastTrackID returns the id of the last track started on stationID, or ""
// if the station has never been played.
func (s *Store) LastTrackID(ctx context.Context, stationID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_track_id FROM station_state WHERE station_id = ?`, stationID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load station state: %w", err)
	}
	return id, nil
}

// Recent returns up to limit plays, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Play, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, station_id, batch_id, track_id, play_id, title, artist, duration_seconds, played_seconds, outcome, started_at, ended_at
		 FROM plays ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("load plays: %w", err)
	}
	defer rows.Close()

	var out []Play
	for rows.Next() {
		var p Play
		var outcome string
		var started, ended int64
		if err := rows.Scan(&p.SessionID, &p.StationID, &p.BatchID, &p.TrackID, &p.PlayID, &p.Title, &p.Artist,
			&p.Duration, &p.Played, &outcome, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan play: %w", err)
		}
		p.Outcome = Outcome(outcome)
		p.StartedAt = time.UnixMilli(started)
		if ended > 0 {
			p.EndedAt = time.UnixMilli(ended)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plays: %w", err)
	}
	return out, nil
}

// Clear removes all history and resume points.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range []string{`DELETE FROM plays`, `DELETE FROM sessions`, `DELETE FROM station_state`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
