// Package store is the durable client-side storage for the sync daemon:
// the signed-in session and per-section project ordering.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Store is the daemon's local SQLite file. One process owns it.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.RWMutex
	closed bool
}

// dsn applies connection pragmas through the driver so every pooled
// connection gets them, not just the first.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + path + "?" + q.Encode()
}

// New opens the database at path, creating it and its schema when missing.
func New(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info().Str("path", path).Msg("local store ready")
	return s, nil
}

func (s *Store) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	if err := s.migrate(); err != nil {
		return fmt.Errorf("migrating local store: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping backs the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("local store closed")
	}
	return s.db.PingContext(ctx)
}
