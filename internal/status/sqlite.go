package status

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tilepipe/internal/layer"
	"tilepipe/internal/services"
	"tilepipe/internal/sqlitedb"
)

const sqliteSchemaVersion = 1

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS Statuses (
	Id TEXT PRIMARY KEY,
	Status TEXT NOT NULL,
	UpdatedAt INTEGER NOT NULL
);
`

// SQLite stores statuses in an embedded database file.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the status database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrStore, "", "open status db", path, err)
	}
	if err := sqlitedb.EnsureSchema(ctx, db, "statuses", sqliteSchemaVersion, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, services.Wrap(services.ErrStore, "", "init status schema", path, err)
	}
	return &SQLite{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Get(ctx context.Context, id string) (layer.Status, bool, error) {
	var raw string
	err := sqlitedb.RetryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT Status FROM Statuses WHERE Id = ?", id).Scan(&raw)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, services.Wrap(services.ErrStore, "", "get status", id, err)
	}
	st, err := layer.ParseStatus(raw)
	if err != nil {
		return "", false, services.Wrap(services.ErrStore, "", "get status", id, err)
	}
	return st, true, nil
}

func (s *SQLite) Update(ctx context.Context, id string, st layer.Status) error {
	_, err := sqlitedb.Exec(ctx, s.db,
		`INSERT INTO Statuses (Id, Status, UpdatedAt) VALUES (?, ?, unixepoch())
		 ON CONFLICT(Id) DO UPDATE SET Status = excluded.Status, UpdatedAt = excluded.UpdatedAt`,
		id, string(st),
	)
	if err != nil {
		return services.Wrap(services.ErrStore, "", "update status", id, err)
	}
	return nil
}

// Counts returns the number of jobs per status.
func (s *SQLite) Counts(ctx context.Context) (map[layer.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT Status, COUNT(1) FROM Statuses GROUP BY Status")
	if err != nil {
		return nil, services.Wrap(services.ErrStore, "", "count statuses", "", err)
	}
	defer rows.Close()

	counts := make(map[layer.Status]int)
	for rows.Next() {
		var (
			raw   string
			count int
		)
		if err := rows.Scan(&raw, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[layer.Status(raw)] = count
	}
	return counts, rows.Err()
}

// Clear removes every record. Intended for tests and local debugging.
func (s *SQLite) Clear(ctx context.Context) (int64, error) {
	res, err := sqlitedb.Exec(ctx, s.db, "DELETE FROM Statuses")
	if err != nil {
		return 0, services.Wrap(services.ErrStore, "", "clear statuses", "", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
