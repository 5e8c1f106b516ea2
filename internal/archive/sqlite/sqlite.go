package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/slamon/internal/event"
)

// Sink writes delivered events to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite archive sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS delivered_events(
		id TEXT NOT NULL,
		channel TEXT NOT NULL,
		kind TEXT NOT NULL,
		occurred_at TIMESTAMP NOT NULL,
		payload TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0
	);`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_delivered_events_channel ON delivered_events(channel);`)
	return err
}

func (s *Sink) Send(ctx context.Context, e event.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO delivered_events(id, channel, kind, occurred_at, payload)
		VALUES(?, ?, ?, ?, ?);`,
		e.ID, e.Channel, string(e.Kind), e.Timestamp.UTC(), string(payload))
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
