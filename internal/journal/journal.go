// Package journal records engine signals in SQLite so a session's
// history can be replayed after the fact.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lox/cardengine/internal/engine"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS signals (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL,
	type       TEXT    NOT NULL,
	at         INTEGER NOT NULL,
	payload    TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS signals_session ON signals (session_id, seq);
`

const writeTimeout = 2 * time.Second

// Entry is one recorded signal.
type Entry struct {
	Seq     int64            `json:"seq"`
	Session uint64           `json:"session_id"`
	Type    engine.EventType `json:"type"`
	At      time.Time        `json:"at"`
	Payload json.RawMessage  `json:"payload"`
}

// Journal is an engine.Subscriber backed by SQLite.
type Journal struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens or creates the journal database at path.
func Open(path string, logger zerolog.Logger) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Journal{
		db:     db,
		logger: logger.With().Str("component", "journal").Logger(),
	}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// OnEvent appends the signal. Failures are logged, never propagated, so
// a broken journal cannot stall the engine.
func (j *Journal) OnEvent(event engine.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := j.Append(ctx, event); err != nil {
		j.logger.Error().Err(err).
			Uint64("session_id", event.SessionID()).
			Str("type", event.EventType().String()).
			Msg("Failed to journal signal")
	}
}

// Append records one signal.
func (j *Journal) Append(ctx context.Context, event engine.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventType(), err)
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO signals (session_id, type, at, payload) VALUES (?, ?, ?, ?)`,
		int64(event.SessionID()),
		string(event.EventType()),
		event.Timestamp().UTC().UnixMilli(),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// History returns the recorded signals of a session in emission order.
func (j *Journal) History(ctx context.Context, session uint64) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT seq, session_id, type, at, payload FROM signals WHERE session_id = ? ORDER BY seq`,
		int64(session),
	)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			id      int64
			typ     string
			at      int64
			payload string
		)
		if err := rows.Scan(&e.Seq, &id, &typ, &at, &payload); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		e.Session = uint64(id)
		e.Type = engine.EventType(typ)
		e.At = time.UnixMilli(at).UTC()
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns how many signals have been recorded across all sessions.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signals`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count signals: %w", err)
	}
	return n, nil
}
