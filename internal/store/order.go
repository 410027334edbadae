package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ProjectOrder returns the stored project id order for a section. A section
// that was never ordered yields an empty slice.
func (s *Store) ProjectOrder(ctx context.Context, section string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT project_ids FROM project_order WHERE section = ?`, section,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []int{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project order: %w", err)
	}

	ids := []int{}
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("failed to decode project order: %w", err)
	}
	return ids, nil
}

// SetProjectOrder replaces the order for a section.
func (s *Store) SetProjectOrder(ctx context.Context, section string, ids []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ids == nil {
		ids = []int{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode project order: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO project_order (section, project_ids, updated_at)
	VALUES (?, ?, ?)
	`, section, string(raw), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save project order: %w", err)
	}
	return nil
}
