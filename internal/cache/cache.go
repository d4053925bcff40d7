// Package cache stores encoded feature payloads for tiles and whole layers.
package cache

import (
	"context"
	"time"
)

type Interface interface {
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Purger is implemented by stores that can drop every key under a prefix,
// including keys this process never wrote.
type Purger interface {
	Purge(ctx context.Context, prefix string) (int, error)
}

// WithTimeout bounds every call on s by d so a slow backend degrades to a
// miss instead of stalling a refresh.
func WithTimeout(s Interface, d time.Duration) Interface {
	if d <= 0 {
		return s
	}
	return &timeoutStore{s: s, d: d}
}

type timeoutStore struct {
	s Interface
	d time.Duration
}

func (t *timeoutStore) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.s.MGet(ctx, keys)
}

func (t *timeoutStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.s.Set(ctx, key, val, ttl)
}

func (t *timeoutStore) Del(ctx context.Context, keys ...string) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.s.Del(ctx, keys...)
}

func (t *timeoutStore) Ping(ctx context.Context) error {
	p, ok := t.s.(Pinger)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return p.Ping(ctx)
}

func (t *timeoutStore) Purge(ctx context.Context, prefix string) (int, error) {
	p, ok := t.s.(Purger)
	if !ok {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return p.Purge(ctx, prefix)
}
