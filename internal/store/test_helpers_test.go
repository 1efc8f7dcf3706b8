package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/wins/internal/migrate"
)

// createTestStore creates a migrated store in a temp dir.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return createTestStoreAt(t, filepath.Join(t.TempDir(), "test.db"), opts...)
}

// createTestStoreAt opens (or reopens) a migrated store at path.
func createTestStoreAt(t *testing.T, path string, opts ...Option) *Store {
	t.Helper()
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if _, err := migrate.Default().ApplyPending(context.Background(), s.DB()); err != nil {
		t.Fatalf("ApplyPending() failed: %v", err)
	}
	return s
}
