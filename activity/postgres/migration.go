// Copyright 2015-2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package postgres

import (
	"database/sql"

	migrate "github.com/rubenv/sql-migrate"
)

// migrationSource holds the schema in Go source rather than the
// teacher's go-bindata-embedded SQL files (that asset step was never
// run in the teacher tree either); sql-migrate's MemoryMigrationSource
// is a documented alternative that needs no code generation step.
var migrationSource = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001_activity_response",
			Up: []string{
				`CREATE TABLE activity (
					id           TEXT PRIMARY KEY,
					url          TEXT NOT NULL,
					method       TEXT NOT NULL,
					reply_url    TEXT NOT NULL,
					reply_method TEXT NOT NULL,
					state        TEXT NOT NULL,
					node_id      TEXT NOT NULL DEFAULT '',
					created_at   TIMESTAMPTZ NOT NULL,
					headers      BYTEA NOT NULL,
					payload      BYTEA NOT NULL,
					content_type TEXT NOT NULL DEFAULT '',
					leased_at    TIMESTAMPTZ
				)`,
				`CREATE INDEX activity_state_created_at_idx ON activity (state, created_at)`,
				`CREATE TABLE response (
					id           TEXT PRIMARY KEY,
					response_id  TEXT NOT NULL REFERENCES activity(id),
					status_code  INTEGER NOT NULL,
					headers      BYTEA NOT NULL,
					payload      BYTEA NOT NULL,
					content_type TEXT NOT NULL DEFAULT ''
				)`,
				`CREATE INDEX response_response_id_idx ON response (response_id)`,
			},
			Down: []string{
				`DROP TABLE response`,
				`DROP TABLE activity`,
			},
		},
	},
}

// Upgrade migrates db to the latest schema version.
func Upgrade(db *sql.DB) error {
	_, err := migrate.Exec(db, "postgres", migrationSource, migrate.Up)
	return err
}

// Drop rolls back every migration, dropping both tables. Intended for
// test setup/teardown, not production use.
func Drop(db *sql.DB) error {
	_, err := migrate.Exec(db, "postgres", migrationSource, migrate.Down)
	return err
}
