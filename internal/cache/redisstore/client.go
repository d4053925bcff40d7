// Package redisstore is the Redis tile cache shared by every replica of the
// service. All keys live under a namespace so several deployments can share
// one Redis without purging each other's tiles.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/hv-route-sync/internal/core/observability"
)

const DefaultNamespace = "hvsync:"

// scan page size for Purge
const purgeBatch = 500

type Config struct {
	Addr         string
	Namespace    string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig(addr string) Config {
	return Config{
		Addr:         addr,
		Namespace:    DefaultNamespace,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

type Store struct {
	rdb *redis.Client
	ns  string
}

// New connects and pings once so a bad address fails at startup.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})
	s := &Store{rdb: rdb, ns: cfg.Namespace}
	if err := s.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) key(k string) string { return s.ns + k }

func (s *Store) observe(op string, start time.Time, err error) {
	observability.ObserveCacheOp(op, err, time.Since(start).Seconds())
}

// MGet returns the tile payloads that are present. Missing or expired tiles
// are simply absent from the map.
func (s *Store) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}

	start := time.Now()
	vals, err := s.rdb.MGet(ctx, full...).Result()
	s.observe("mget", start, err)
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d tiles: %w", len(keys), err)
	}
	for i, v := range vals {
		switch t := v.(type) {
		case string:
			if t != "" {
				out[keys[i]] = []byte(t)
			}
		case []byte:
			if len(t) > 0 {
				out[keys[i]] = t
			}
		}
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	start := time.Now()
	err := s.rdb.Set(ctx, s.key(key), val, ttl).Err()
	s.observe("set", start, err)
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	start := time.Now()
	err := s.rdb.Unlink(ctx, full...).Err()
	s.observe("del", start, err)
	if err != nil {
		return fmt.Errorf("redis UNLINK %d tiles: %w", len(keys), err)
	}
	return nil
}

// Purge unlinks every key starting with prefix, including tiles cached by
// other replicas. It returns the number of keys removed.
func (s *Store) Purge(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, errors.New("redis purge: empty prefix")
	}
	start := time.Now()
	match := escapeGlob(s.key(prefix)) + "*"
	n := 0
	iter := s.rdb.Scan(ctx, 0, match, purgeBatch).Iterator()
	batch := make([]string, 0, purgeBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.rdb.Unlink(ctx, batch...).Err(); err != nil {
			return err
		}
		n += len(batch)
		batch = batch[:0]
		return nil
	}
	var err error
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == purgeBatch {
			if err = flush(); err != nil {
				break
			}
		}
	}
	if err == nil {
		err = iter.Err()
	}
	if err == nil {
		err = flush()
	}
	s.observe("purge", start, err)
	if err != nil {
		return n, fmt.Errorf("redis purge %q: %w", prefix, err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.rdb.Ping(ctx).Err()
	s.observe("ping", start, err)
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string { return globEscaper.Replace(s) }
