package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"testing"
)

// setupTestDB opens a migrated, named, shared in-memory database. The name
// comes from t.Name() so tests stay isolated from each other.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// WAL does not apply to in-memory databases.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", url.PathEscape(t.Name()))

	db, err := openPair(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })
	return db
}
