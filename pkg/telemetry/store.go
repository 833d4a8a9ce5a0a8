package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

// Stream names recorded during a session.
const (
	StreamConfidence1   = "Confidence"
	StreamConfidence2   = "Confidence2"
	StreamRobotMoving   = "robotMoving"
	StreamErrorTimestep = "errorTimestep"
	StreamErrorStop     = "errorPotentStop"
	StreamCommands      = "commands"
)

// ErrNoSession is returned when recording before StartSession.
var ErrNoSession = errors.New("telemetry: no active session")

// SessionInfo describes one recorded session.
type SessionInfo struct {
	ID              string
	StartedAt       time.Time
	EndedAt         *time.Time
	ActiveDetection bool
	Layout          string
}

// SampleRow is one recorded sample.
type SampleRow struct {
	ID     string
	Stream string
	Time   time.Time
	Value  json.RawMessage
}

// Store is a SQLite store of named sample streams, one set per session.
type Store struct {
	db   *sql.DB
	path string

	mu      sync.RWMutex
	session string
}

// OpenStore opens or creates the store at path.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		active_detection INTEGER NOT NULL DEFAULT 0,
		layout TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS samples (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		stream TEXT NOT NULL,
		originating_time INTEGER NOT NULL,
		value_json TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_samples_stream ON samples(session_id, stream, originating_time);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartSession creates a session row and makes it the target of Record.
func (s *Store) StartSession(ctx context.Context, activeDetection bool, layout string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at, active_detection, layout) VALUES (?, ?, ?, ?)
	`, id, time.Now().UTC(), activeDetection, layout)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	s.mu.Lock()
	s.session = id
	s.mu.Unlock()
	return id, nil
}

// EndSession stamps the end time of the active session.
func (s *Store) EndSession(ctx context.Context) error {
	s.mu.Lock()
	id := s.session
	s.session = ""
	s.mu.Unlock()
	if id == "" {
		return ErrNoSession
	}
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

// SessionID returns the active session id, or "".
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Record appends one sample to stream name of the active session.
func (s *Store) Record(name string, t time.Time, v any) error {
	id := s.SessionID()
	if id == "" {
		return ErrNoSession
	}
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s sample: %w", name, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO samples (id, session_id, stream, originating_time, value_json) VALUES (?, ?, ?, ?, ?)
	`, ulid.Make().String(), id, name, t.UnixMicro(), string(val))
	if err != nil {
		return fmt.Errorf("insert %s sample: %w", name, err)
	}
	return nil
}

// Samples returns the samples of one stream in originating time order.
func (s *Store) Samples(ctx context.Context, sessionID, name string) ([]SampleRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stream, originating_time, value_json
		FROM samples WHERE session_id = ? AND stream = ? ORDER BY originating_time, id
	`, sessionID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SampleRow
	for rows.Next() {
		var r SampleRow
		var us int64
		var val string
		if err := rows.Scan(&r.ID, &r.Stream, &us, &val); err != nil {
			return nil, err
		}
		r.Time = time.UnixMicro(us)
		r.Value = json.RawMessage(val)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Sessions lists recorded sessions, newest first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, ended_at, active_detection, layout
		FROM sessions ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var ended sql.NullTime
		if err := rows.Scan(&info.ID, &info.StartedAt, &ended, &info.ActiveDetection, &info.Layout); err != nil {
			return nil, err
		}
		if ended.Valid {
			t := ended.Time
			info.EndedAt = &t
		}
		out = append(out, info)
	}
	return out, rows.Err()
}
