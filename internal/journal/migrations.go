package journal

import (
	"fmt"
)

func (j *Journal) migrate() error {
	if err := j.migrateV1(); err != nil {
		return err
	}
	return j.migrateV2()
}

func (j *Journal) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS actions (
		id           TEXT PRIMARY KEY,
		request_id   TEXT NOT NULL DEFAULT '',
		source       TEXT NOT NULL,
		user_id      TEXT NOT NULL,
		chat_id      TEXT NOT NULL,
		kind         TEXT NOT NULL,
		action       TEXT NOT NULL,
		outcome      TEXT NOT NULL,
		project_id   TEXT NOT NULL DEFAULT '',
		project_name TEXT NOT NULL DEFAULT '',
		input        TEXT NOT NULL DEFAULT '',
		reply        TEXT NOT NULL DEFAULT '',
		duration_ms  INTEGER NOT NULL DEFAULT 0,
		created_at   INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_actions_user ON actions(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_actions_created ON actions(created_at);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}
	return nil
}

func (j *Journal) migrateV2() error {
	var version string
	err := j.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	if err != nil || version >= "2" {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS failed_deliveries (
		id         TEXT PRIMARY KEY,
		source     TEXT NOT NULL,
		chat_id    TEXT NOT NULL,
		message    TEXT NOT NULL,
		error      TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_failed_created ON failed_deliveries(created_at);
	`

	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v2: %w", err)
	}
	if _, err := j.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '2')`); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return nil
}
