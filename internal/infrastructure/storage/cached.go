package storage

import (
	"context"
	"errors"
	"log/slog"
)

// KeyValueStore matches application.KeyValueStore.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// CachedStore reads through a cache in front of a durable store. The durable
// store is authoritative: cache failures are logged and never returned.
type CachedStore struct {
	primary KeyValueStore
	cache   KeyValueStore
}

func NewCachedStore(primary, cache KeyValueStore) (*CachedStore, error) {
	if primary == nil {
		return nil, errors.New("primary store is required")
	}
	return &CachedStore{primary: primary, cache: cache}, nil
}

func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.cache != nil {
		value, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("ledger cache read failed", "key", key, "err", err)
		} else if ok {
			return value, true, nil
		}
	}

	value, ok, err := s.primary.Get(ctx, key)
	if err != nil || !ok {
		return value, ok, err
	}
	s.fill(ctx, key, value)
	return value, true, nil
}

// Set writes the durable store first; the cache only follows a successful write.
func (s *CachedStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.primary.Set(ctx, key, value); err != nil {
		return err
	}
	s.fill(ctx, key, value)
	return nil
}

func (s *CachedStore) fill(ctx context.Context, key string, value []byte) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value); err != nil {
		slog.Warn("ledger cache write failed", "key", key, "err", err)
	}
}
