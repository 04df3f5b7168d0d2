// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package postgres_test

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"

	"github.com/diffeo/relayproxy/activity"
	"github.com/diffeo/relayproxy/activity/activitytest"
	"github.com/diffeo/relayproxy/activity/postgres"
)

// TestPostgresStore runs the shared activitytest suite against a real
// PostgreSQL database. Set RELAYPROXY_TEST_POSTGRES_URL (any
// connection string github.com/lib/pq accepts) to exercise it; it is
// skipped otherwise, since this suite needs a live database and
// cannot run in an ordinary sandbox.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("RELAYPROXY_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("RELAYPROXY_TEST_POSTGRES_URL not set, skipping PostgreSQL integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	defer db.Close()

	activitytest.Run(t, func() activity.Store {
		if err := postgres.Drop(db); err != nil {
			t.Fatalf("dropping schema: %v", err)
		}
		if err := postgres.Upgrade(db); err != nil {
			t.Fatalf("upgrading schema: %v", err)
		}
		return postgres.NewFromDB(db)
	})
}
