package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

var ErrNotFound = errors.New("store: key not found")

// Store is a small durable key/value space. Values are JSON documents.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	PutMany(ctx context.Context, items map[string][]byte) error
}

const recordVersion = 1

type record struct {
	V    int             `json:"v"`
	Data json.RawMessage `json:"data"`
}

// Encode wraps v into a versioned record.
func Encode(v any) ([]byte, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(record{V: recordVersion, Data: data})
}

// Decode unwraps a record written by Encode into out.
func Decode(b []byte, out any) error {
	var r record
	if err := sonic.Unmarshal(b, &r); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if r.V != recordVersion {
		return fmt.Errorf("unsupported record version %d", r.V)
	}
	return sonic.Unmarshal(r.Data, out)
}

// Load reads key and decodes it into out. A missing key yields ErrNotFound.
func Load(ctx context.Context, s Store, key string, out any) error {
	b, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return Decode(b, out)
}

// Save encodes v and writes it under key.
func Save(ctx context.Context, s Store, key string, v any) error {
	b, err := Encode(v)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, b)
}
