package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	return s.migrateV1()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS auth_session (
		id          INTEGER PRIMARY KEY CHECK (id = 1),
		token       TEXT NOT NULL,
		login       TEXT NOT NULL,
		avatar_url  TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS project_order (
		section     TEXT PRIMARY KEY,
		project_ids TEXT NOT NULL,
		updated_at  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}
	return nil
}
