package sqlitedb_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"tilepipe/internal/sqlitedb"
)

func TestEnsureSchemaCreatesAndVerifies(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	db, err := sqlitedb.Open(path)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer db.Close()

	ddl := "CREATE TABLE widgets (id TEXT PRIMARY KEY);"
	if err := sqlitedb.EnsureSchema(ctx, db, "widgets", 1, ddl); err != nil {
		t.Fatalf("EnsureSchema returned error: %v", err)
	}
	if err := sqlitedb.EnsureSchema(ctx, db, "widgets", 1, ddl); err != nil {
		t.Fatalf("EnsureSchema second call returned error: %v", err)
	}
	if _, err := sqlitedb.Exec(ctx, db, "INSERT INTO widgets (id) VALUES (?)", "a"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = sqlitedb.EnsureSchema(ctx, db, "widgets", 2, ddl)
	if !errors.Is(err, sqlitedb.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestRetryOnBusyStopsOnOtherErrors(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := sqlitedb.RetryOnBusy(context.Background(), func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected single attempt returning boom, got %v after %d calls", err, calls)
	}
}

func TestRetryOnBusyRetriesLockedDatabase(t *testing.T) {
	calls := 0
	err := sqlitedb.RetryOnBusy(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success after 3 attempts, got %v after %d calls", err, calls)
	}
}

func TestOpenAppliesBusyTimeoutToEveryConnection(t *testing.T) {
	ctx := context.Background()
	db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "shared.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer db.Close()

	// Holding the first connection forces the pool to dial a second one.
	first, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("first conn: %v", err)
	}
	defer first.Close()
	second, err := db.Conn(ctx)
	if err != nil {
		t.Fatalf("second conn: %v", err)
	}
	defer second.Close()

	for i, conn := range []*sql.Conn{first, second} {
		var timeout int
		if err := conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout); err != nil {
			t.Fatalf("conn %d: read busy_timeout: %v", i, err)
		}
		if timeout != 5000 {
			t.Fatalf("conn %d: busy_timeout = %d, want 5000", i, timeout)
		}
	}
}
