package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"tilepipe/internal/services"
	"tilepipe/internal/sqlitedb"
)

const sqliteSchemaVersion = 1

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	queue TEXT NOT NULL,
	body BLOB NOT NULL,
	enqueued_at INTEGER NOT NULL,
	visible_at INTEGER NOT NULL,
	dequeue_count INTEGER NOT NULL DEFAULT 0,
	pop_receipt TEXT
);
CREATE INDEX IF NOT EXISTS idx_messages_queue_visible ON messages(queue, visible_at);
`

// SQLiteStore holds every local queue in one database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithClock overrides the time source used for lease deadlines.
func WithClock(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}

// OpenSQLite opens (or creates) the queue database at path.
func OpenSQLite(ctx context.Context, path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrQueue, "", "open queue db", path, err)
	}
	if err := sqlitedb.EnsureSchema(ctx, db, "messages", sqliteSchemaVersion, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, services.Wrap(services.ErrQueue, "", "init queue schema", path, err)
	}
	store := &SQLiteStore{db: db, path: path, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Queue returns the named queue with the given lease duration.
func (s *SQLiteStore) Queue(name string, lease time.Duration) *SQLite {
	return &SQLite{store: s, name: name, lease: lease}
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SQLite is one named queue inside a SQLiteStore.
type SQLite struct {
	store *SQLiteStore
	name  string
	lease time.Duration
}

func (q *SQLite) Name() string { return q.name }

func (q *SQLite) Enqueue(ctx context.Context, body []byte) (string, error) {
	id := uuid.NewString()
	now := q.store.now().UnixMilli()
	if _, err := sqlitedb.Exec(ctx, q.store.db,
		`INSERT INTO messages (id, queue, body, enqueued_at, visible_at) VALUES (?, ?, ?, ?, ?)`,
		id, q.name, body, now, now,
	); err != nil {
		return "", services.Wrap(services.ErrQueue, q.name, "enqueue", "", err)
	}
	return id, nil
}

func (q *SQLite) Receive(ctx context.Context) (*Leased, error) {
	now := q.store.now()
	receipt := uuid.NewString()
	var (
		msg        Leased
		enqueuedAt int64
	)
	err := sqlitedb.RetryOnBusy(ctx, func() error {
		return q.store.db.QueryRowContext(ctx,
			`UPDATE messages
			    SET visible_at = ?, dequeue_count = dequeue_count + 1, pop_receipt = ?
			  WHERE seq = (
			        SELECT seq FROM messages
			         WHERE queue = ? AND visible_at <= ?
			         ORDER BY seq LIMIT 1)
			RETURNING id, body, dequeue_count, enqueued_at`,
			now.Add(q.lease).UnixMilli(), receipt, q.name, now.UnixMilli(),
		).Scan(&msg.ID, &msg.Body, &msg.DeliveryCount, &enqueuedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrQueue, q.name, "receive", "", err)
	}
	msg.EnqueuedAt = time.UnixMilli(enqueuedAt)
	msg.receipt = receipt
	return &msg, nil
}

func (q *SQLite) Delete(ctx context.Context, msg *Leased) error {
	res, err := sqlitedb.Exec(ctx, q.store.db,
		`DELETE FROM messages WHERE id = ? AND queue = ? AND pop_receipt = ?`,
		msg.ID, q.name, msg.receipt,
	)
	if err != nil {
		return services.Wrap(services.ErrQueue, q.name, "delete", msg.ID, err)
	}
	return requireAffected(res, q.name, "delete", msg.ID)
}

func (q *SQLite) Extend(ctx context.Context, msg *Leased, d time.Duration) error {
	res, err := sqlitedb.Exec(ctx, q.store.db,
		`UPDATE messages SET visible_at = ? WHERE id = ? AND queue = ? AND pop_receipt = ?`,
		q.store.now().Add(d).UnixMilli(), msg.ID, q.name, msg.receipt,
	)
	if err != nil {
		return services.Wrap(services.ErrQueue, q.name, "extend lease", msg.ID, err)
	}
	return requireAffected(res, q.name, "extend lease", msg.ID)
}

func (q *SQLite) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	now := q.store.now().UnixMilli()
	err := sqlitedb.RetryOnBusy(ctx, func() error {
		return q.store.db.QueryRowContext(ctx,
			`SELECT
			   COALESCE(SUM(CASE WHEN visible_at <= ? THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(CASE WHEN visible_at > ? THEN 1 ELSE 0 END), 0)
			 FROM messages WHERE queue = ?`,
			now, now, q.name,
		).Scan(&stats.Visible, &stats.InFlight)
	})
	if err != nil {
		return Stats{}, services.Wrap(services.ErrQueue, q.name, "stats", "", err)
	}
	return stats, nil
}

// Purge removes every message in the queue, leased or not.
func (q *SQLite) Purge(ctx context.Context) (int64, error) {
	res, err := sqlitedb.Exec(ctx, q.store.db, `DELETE FROM messages WHERE queue = ?`, q.name)
	if err != nil {
		return 0, services.Wrap(services.ErrQueue, q.name, "purge", "", err)
	}
	return res.RowsAffected()
}

func requireAffected(res sql.Result, queueName, operation, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return services.Wrap(services.ErrQueue, queueName, operation, id, err)
	}
	if n == 0 {
		return services.Wrap(services.ErrQueue, queueName, operation, id, ErrLeaseLost)
	}
	return nil
}
