package database

import (
	"path/filepath"
	"testing"
)

func TestNewConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sentry.db")

	db, err := NewConnection(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer db.Close()

	version, dirty, err := RunMigrations(db)
	if err != nil {
		t.Fatalf("Expected migrations to apply, got: %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("Expected clean version 1, got %d (dirty=%t)", version, dirty)
	}

	// Running again is a no-op.
	if _, _, err := RunMigrations(db); err != nil {
		t.Errorf("Expected second migration run to succeed, got: %v", err)
	}
}
