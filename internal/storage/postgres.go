package storage

import (
	"context"
	"fmt"

	"github.com/KevinKickass/VibeChessCore/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresClient struct {
	pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Connection testen
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}

const schema = `
CREATE TABLE IF NOT EXISTS move_journal (
	id          UUID PRIMARY KEY,
	command_id  TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	from_square TEXT NOT NULL DEFAULT '',
	to_square   TEXT NOT NULL,
	piece       TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	detail      JSONB,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS fault_journal (
	id          UUID PRIMARY KEY,
	event       TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	verified    BOOLEAN NOT NULL,
	positions   JSONB,
	recorded_at TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the journal tables if they do not exist.
func (p *PostgresClient) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate journal schema: %w", err)
	}
	return nil
}
