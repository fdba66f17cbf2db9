package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"prop_terminal/pkg/logger"
)

type PoolConfig struct {
	DSN string
	// Zero values keep the pgxpool defaults.
	MaxConns          int32
	HealthCheckPeriod time.Duration
}

type PgTxManager struct {
	pool *pgxpool.Pool
}

func NewPgTxManager(pool *pgxpool.Pool) *PgTxManager {
	return &PgTxManager{pool: pool}
}

func (m *PgTxManager) Close() {
	m.pool.Close()
}

func NewPool(ctx context.Context, conf PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(conf.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if conf.MaxConns > 0 {
		cfg.MaxConns = conf.MaxConns
	}
	if conf.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = conf.HealthCheckPeriod
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

func (m *PgTxManager) Ping(ctx context.Context) error {
	return m.pool.Ping(ctx)
}

// RunMaster runs fn in a read-committed transaction.
func (m *PgTxManager) RunMaster(ctx context.Context, fn func(ctxTx context.Context, tx Transaction) error) error {
	return m.inTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

// Conn is the pool itself, for single statements.
func (m *PgTxManager) Conn() Transaction {
	return m.pool
}

func (m *PgTxManager) inTx(ctx context.Context, opts pgx.TxOptions, fn func(ctxTx context.Context, tx Transaction) error) (err error) {
	tx, err := m.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("rollback after panic: %v", p)
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				logger.Error("rollback: %v", rbErr)
			}
			return
		}
		if err = tx.Commit(ctx); err != nil {
			err = fmt.Errorf("commit tx: %w", err)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return fmt.Errorf("tx body: %w", err)
	}
	return nil
}
