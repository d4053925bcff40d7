package memstore

import (
	"context"
	"testing"
	"time"
)

func TestSetMGetDel(t *testing.T) {
	s := New(8)
	ctx := context.Background()

	if err := s.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "k2", []byte("v2"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.MGet(ctx, []string{"k1", "k2", "missing"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 2 || string(got["k1"]) != "v1" || string(got["k2"]) != "v2" {
		t.Fatalf("unexpected values: %v", got)
	}
	if err := s.Del(ctx, "k1"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	got, _ = s.MGet(ctx, []string{"k1"})
	if _, ok := got["k1"]; ok {
		t.Fatal("k1 should be gone")
	}
}

func TestTTLExpiry(t *testing.T) {
	s := New(8)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_ = s.Set(ctx, "ttl-key", []byte("v"), 2*time.Second)
	if got, _ := s.MGet(ctx, []string{"ttl-key"}); string(got["ttl-key"]) != "v" {
		t.Fatalf("pre expiry got=%v", got)
	}
	now = now.Add(3 * time.Second)
	got, _ := s.MGet(ctx, []string{"ttl-key"})
	if _, ok := got["ttl-key"]; ok {
		t.Fatalf("expected ttl-key absent after expiry; got=%v", got)
	}
	if s.Len() != 0 {
		t.Fatalf("expired entry should be evicted, len=%d", s.Len())
	}
}

func TestLRUEviction(t *testing.T) {
	s := New(2)
	ctx := context.Background()
	_ = s.Set(ctx, "a", []byte("1"), 0)
	_ = s.Set(ctx, "b", []byte("2"), 0)
	_, _ = s.MGet(ctx, []string{"a"}) // a becomes most recent
	_ = s.Set(ctx, "c", []byte("3"), 0)

	got, _ := s.MGet(ctx, []string{"a", "b", "c"})
	if _, ok := got["b"]; ok {
		t.Fatal("b should have been evicted")
	}
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
}

func TestSet_CopiesValue(t *testing.T) {
	s := New(2)
	ctx := context.Background()
	buf := []byte("abc")
	_ = s.Set(ctx, "k", buf, 0)
	buf[0] = 'x'
	got, _ := s.MGet(ctx, []string{"k"})
	if string(got["k"]) != "abc" {
		t.Fatalf("stored value aliased caller buffer: %q", got["k"])
	}
}

func TestCanceledContext(t *testing.T) {
	s := New(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Set(ctx, "k", nil, 0); err == nil {
		t.Fatal("expected error on canceled Set")
	}
	if _, err := s.MGet(ctx, []string{"k"}); err == nil {
		t.Fatal("expected error on canceled MGet")
	}
	if err := s.Del(ctx, "k"); err == nil {
		t.Fatal("expected error on canceled Del")
	}
}

func TestPurge_RemovesPrefixOnly(t *testing.T) {
	s := New(8)
	ctx := context.Background()
	for _, k := range []string{"tile:qld:a", "tile:qld:b", "tile:qld2:a", "layer:qld:a"} {
		if err := s.Set(ctx, k, []byte("v"), time.Minute); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	n, err := s.Purge(ctx, "tile:qld:")
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 2 || s.Len() != 2 {
		t.Fatalf("purged=%d len=%d want 2/2", n, s.Len())
	}
}
