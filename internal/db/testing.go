// Test helpers for database access. Using these ensures in-memory databases
// (much faster than file-based), cleanup via t.Cleanup, and migrated schema.
package db

import (
	"testing"
)

// NewTestStore creates a migrated in-memory store for testing.
// The store is automatically closed when the test completes.
func NewTestStore(t testing.TB) *Store {
	t.Helper()

	s, err := OpenStoreInMemory()
	if err != nil {
		t.Fatalf("create test store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}
