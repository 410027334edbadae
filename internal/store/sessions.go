package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cinnamon-msft/tangled/pkg/tokenstore"
)

var _ tokenstore.Store = (*Store)(nil)

// Load returns the persisted session, or tokenstore.ErrNoSession.
func (s *Store) Load(ctx context.Context) (*tokenstore.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		sess      tokenstore.Session
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT token, login, avatar_url, created_at FROM auth_session WHERE id = 1`,
	).Scan(&sess.Token, &sess.User.Login, &sess.User.AvatarURL, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tokenstore.ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	sess.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &sess, nil
}

// Save persists the session, replacing any previous one.
func (s *Store) Save(ctx context.Context, sess *tokenstore.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := sess.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO auth_session (id, token, login, avatar_url, created_at)
	VALUES (1, ?, ?, ?, ?)
	`, sess.Token, sess.User.Login, sess.User.AvatarURL, createdAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Clear deletes the persisted session.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_session`); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
