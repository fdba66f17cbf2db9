package postgres

import (
	"context"
	"fmt"
	"time"

	"prop_terminal/pkg/db"
)

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv_store (
	key        text PRIMARY KEY,
	value      jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
)`

// Open connects to dsn, pings it and makes sure the kv_store table exists.
func Open(ctx context.Context, dsn string) (*db.PgTxManager, error) {
	pool, err := db.NewPool(ctx, db.PoolConfig{
		DSN:               dsn,
		MaxConns:          4,
		HealthCheckPeriod: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	tm := db.NewPgTxManager(pool)
	if err := tm.Ping(ctx); err != nil {
		tm.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := tm.Conn().Exec(ctx, kvSchema); err != nil {
		tm.Close()
		return nil, fmt.Errorf("migrate kv_store: %w", err)
	}
	return tm, nil
}
