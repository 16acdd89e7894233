package testutil

import (
	"database/sql"
	"testing"

	"github.com/vrsandeep/repokeep/internal/db"
	"github.com/vrsandeep/repokeep/internal/logger"
)

// SetupTestDB creates an in-memory SQLite database and applies all migrations.
// It returns the database connection, ready for use in tests.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := db.InitDB(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})

	if err := db.RunMigrations(database, logger.Discard()); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}
