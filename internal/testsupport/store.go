package testsupport

import (
	"context"
	"testing"

	"tilepipe/internal/config"
	"tilepipe/internal/queue"
	"tilepipe/internal/status"
)

// MustOpenQueues opens the local queue database for tests and registers cleanup.
func MustOpenQueues(t testing.TB, cfg *config.Config) *queue.SQLiteStore {
	t.Helper()

	store, err := queue.OpenSQLite(context.Background(), cfg.QueueDBPath())
	if err != nil {
		t.Fatalf("queue.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustOpenStatus opens the local status database for tests and registers cleanup.
func MustOpenStatus(t testing.TB, cfg *config.Config) *status.SQLite {
	t.Helper()

	store, err := status.OpenSQLite(context.Background(), cfg.StatusDBPath())
	if err != nil {
		t.Fatalf("status.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
