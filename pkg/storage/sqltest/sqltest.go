// Package sqltest provides migrated in-memory SQLite databases for store tests.
package sqltest

import (
	"context"
	"database/sql"
	"io"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/zODC-Dev/zodc-service-auth-sub000/pkg/storage/postgres"
)

// Open returns an in-memory SQLite database with every migration applied.
// The pool is pinned to one connection because each :memory: connection is
// its own database.
func Open(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	if err := postgres.RunMigrations(context.Background(), db, postgres.DialectSQLite, logger); err != nil {
		db.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// Discard returns a logger that drops everything
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
