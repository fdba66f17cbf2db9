package service

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"prop_terminal/pkg/db"
)

type pgConn interface {
	db.TxManager
	Conn() db.Transaction
}

// Pg keeps records in the kv_store table.
type Pg struct {
	tm pgConn
}

func NewPg(tm pgConn) *Pg {
	return &Pg{tm: tm}
}

const (
	getQuery = `SELECT value FROM kv_store WHERE key = $1`
	putQuery = `
INSERT INTO kv_store (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
)

func (p *Pg) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.tm.Conn().QueryRow(ctx, getQuery, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (p *Pg) Put(ctx context.Context, key string, value []byte) error {
	_, err := p.tm.Conn().Exec(ctx, putQuery, key, value)
	return err
}

func (p *Pg) PutMany(ctx context.Context, items map[string][]byte) error {
	if len(items) == 0 {
		return nil
	}
	return p.tm.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		b := &pgx.Batch{}
		for k, v := range items {
			b.Queue(putQuery, k, v)
		}
		br := tx.SendBatch(ctxTx, b)
		for range items {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return err
			}
		}
		return br.Close()
	})
}
