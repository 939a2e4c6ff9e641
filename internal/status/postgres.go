package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tilepipe/internal/layer"
	"tilepipe/internal/services"
)

// PostgresOptions configures the partitioned status table.
type PostgresOptions struct {
	DSN         string
	Table       string
	Workspace   string
	MaxConns    int32
	DialTimeout time.Duration
}

// Postgres stores statuses in a table keyed by (partition_key, row_key).
// Every row written by one deployment shares the workspace partition key.
type Postgres struct {
	pool      *pgxpool.Pool
	table     string
	workspace string
}

// OpenPostgres connects and provisions the status table if needed.
func OpenPostgres(ctx context.Context, opts PostgresOptions) (*Postgres, error) {
	pc, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "parse postgres dsn", "", err)
	}
	if opts.MaxConns > 0 {
		pc.MaxConns = opts.MaxConns
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "tilepipe"

	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, services.Wrap(services.ErrStore, "", "connect postgres", "", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, services.Wrap(services.ErrStore, "", "ping postgres", "", err)
	}

	store := &Postgres{
		pool:      pool,
		table:     pgx.Identifier{opts.Table}.Sanitize(),
		workspace: opts.Workspace,
	}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		partition_key TEXT NOT NULL,
		row_key TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (partition_key, row_key)
	)`, p.table)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return services.Wrap(services.ErrStore, "", "create status table", p.table, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (layer.Status, bool, error) {
	var raw string
	query := fmt.Sprintf(`SELECT status FROM %s WHERE partition_key = $1 AND row_key = $2`, p.table)
	err := p.pool.QueryRow(ctx, query, p.workspace, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (p *Postgres) Update(ctx context.Context, id string, st layer.Status) error {
	query := fmt.Sprintf(`INSERT INTO %s (partition_key, row_key, status, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (partition_key, row_key) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`, p.table)
	if _, err := p.pool.Exec(ctx, query, p.workspace, id, string(st)); err != nil {
		return services.Wrap(services.ErrStore, "", "update status", id, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
	return nil
}
