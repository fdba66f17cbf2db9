package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// File keeps every key in one JSON snapshot and rewrites it atomically
// (tmp + rename) on each write.
// An unparsable snapshot is moved aside to <path>.corrupt and the store
// starts empty.
type File struct {
	path string
	log  *zap.Logger

	mu     sync.Mutex
	cache  map[string]json.RawMessage
	loaded bool
}

func NewFile(path string, log *zap.Logger) *File {
	if log == nil {
		log = zap.NewNop()
	}
	return &File{
		path:  path,
		log:   log,
		cache: make(map[string]json.RawMessage),
	}
}

func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.loadLocked(); err != nil {
		return nil, err
	}
	v, ok := f.cache[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (f *File) Put(ctx context.Context, key string, value []byte) error {
	return f.PutMany(ctx, map[string][]byte{key: value})
}

func (f *File) PutMany(_ context.Context, items map[string][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.loadLocked(); err != nil {
		return err
	}
	prev := make(map[string]json.RawMessage, len(items))
	for k, v := range items {
		if !sonic.Valid(v) {
			return fmt.Errorf("store: value for %q is not JSON", k)
		}
		if old, ok := f.cache[k]; ok {
			prev[k] = old
		}
	}
	for k, v := range items {
		f.cache[k] = append(json.RawMessage(nil), v...)
	}
	if err := f.saveLocked(); err != nil {
		for k := range items {
			if old, ok := prev[k]; ok {
				f.cache[k] = old
			} else {
				delete(f.cache, k)
			}
		}
		return err
	}
	return nil
}

type snapshot struct {
	UpdatedAt time.Time                  `json:"updated_at"`
	Items     map[string]json.RawMessage `json:"items"`
}

func (f *File) loadLocked() error {
	if f.loaded {
		return nil
	}

	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			f.loaded = true
			return nil
		}
		return fmt.Errorf("read %s: %w", f.path, err)
	}

	var snap snapshot
	if err := sonic.Unmarshal(b, &snap); err != nil {
		aside := f.path + ".corrupt"
		if rnErr := os.Rename(f.path, aside); rnErr != nil {
			f.log.Error("move corrupt store aside", zap.String("path", f.path), zap.Error(rnErr))
		}
		f.log.Warn("store snapshot unreadable, starting empty",
			zap.String("path", f.path), zap.String("moved_to", aside), zap.Error(err))
		f.loaded = true
		return nil
	}
	if snap.Items != nil {
		f.cache = snap.Items
	}
	f.loaded = true
	return nil
}

func (f *File) saveLocked() error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	b, err := sonic.ConfigStd.MarshalIndent(snapshot{
		UpdatedAt: time.Now().UTC(),
		Items:     f.cache,
	}, "", "  ")
	if err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
