package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3" // driver
)

const (
	_defaultBusyTimeout  = 5 * time.Second
	_defaultMaxOpenConns = 4
)

type SQLite struct {
	busyTimeout  time.Duration
	maxOpenConns int

	Builder squirrel.StatementBuilderType
	DB      *sql.DB
}

// New opens the database file at path in WAL mode.
func New(path string, opts ...Option) (*SQLite, error) {
	s := &SQLite{
		busyTimeout:  _defaultBusyTimeout,
		maxOpenConns: _defaultMaxOpenConns,
	}

	for _, opt := range opts {
		opt(s)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		path, s.busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite - New - sql.Open: %w", err)
	}

	db.SetMaxOpenConns(s.maxOpenConns)

	if err = db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite - New - db.PingContext: %w", err)
	}

	s.DB = db
	s.Builder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)

	return s, nil
}

func (s *SQLite) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// Timestamps are stored as unix microseconds, the same precision Postgres keeps.

func ToMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func FromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func FromNullMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := FromMicros(v.Int64)
	return &t
}
