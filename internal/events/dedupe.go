package events

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// seqDedupe remembers the highest sequence seen per client so replays and
// out-of-order deliveries do not move the viewport backwards.
type seqDedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, uint64]
}

func newSeqDedupe(size int) *seqDedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, uint64](size)
	return &seqDedupe{lru: c}
}

// returns true if seq is greater than the last one seen for client
func (d *seqDedupe) shouldApply(client string, seq uint64) bool {
	if client == "" || seq == 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(client); ok && seq <= last {
		return false
	}
	d.lru.Add(client, seq)
	return true
}
