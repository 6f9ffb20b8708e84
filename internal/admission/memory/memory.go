// Package memory is the in-process admission store: sliding-window
// timestamp logs plus the block list, sharded by client hash. State is
// process-lifetime only; each instance of the gate enforces its limits
// independently.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/stockpulse/gate/internal/admission"
	"github.com/stockpulse/gate/internal/tier"
)

const shardCount = 64

type client struct {
	logs      map[tier.Tier][]time.Time // each log is ordered oldest-first
	unblockAt time.Time
}

type shard struct {
	mu      sync.Mutex
	clients map[string]*client
}

// Store implements admission.Store in memory.
type Store struct {
	retention time.Duration
	shards    [shardCount]shard
}

var _ admission.Store = (*Store)(nil)

func New() *Store {
	s := &Store{retention: admission.SustainedWindow}
	for i := range s.shards {
		s.shards[i].clients = map[string]*client{}
	}
	return s
}

func (s *Store) Close() error { return nil }

func (s *Store) shardFor(key string) *shard {
	return &s.shards[xxhash.Sum64String(key)%shardCount]
}

func (s *Store) IsBlocked(_ context.Context, key string, now time.Time) (bool, time.Time, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.clients[key]
	if !ok {
		return false, time.Time{}, nil
	}
	if now.Before(c.unblockAt) {
		return true, c.unblockAt, nil
	}
	// lapsed: evict the entry on read
	c.unblockAt = time.Time{}
	if len(c.logs) == 0 {
		delete(sh.clients, key)
	}
	return false, time.Time{}, nil
}

func (s *Store) Block(_ context.Context, key string, until, _ time.Time) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c := sh.get(key)
	if until.After(c.unblockAt) {
		c.unblockAt = until
	}
	return nil
}

func (s *Store) Count(_ context.Context, key string, t tier.Tier, since, now time.Time) (int, time.Time, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.clients[key]
	if !ok {
		return 0, time.Time{}, nil
	}
	log := prune(c.logs[t], now.Add(-s.retention))
	if len(log) == 0 {
		delete(c.logs, t)
		return 0, time.Time{}, nil
	}
	c.logs[t] = log

	// count entries at or after since; logs hold at most the sustained
	// limit, so a linear scan is fine
	n := 0
	var oldest time.Time
	for _, ts := range log {
		if !ts.Before(since) {
			if n == 0 {
				oldest = ts
			}
			n++
		}
	}
	return n, oldest, nil
}

func (s *Store) Record(_ context.Context, key string, t tier.Tier, now time.Time) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c := sh.get(key)
	c.logs[t] = append(c.logs[t], now)
	return nil
}

// Sweep drops clients whose logs have fully aged out and whose block, if
// any, has lapsed. It returns the number of clients evicted. Pruning on
// read already bounds per-client memory; the sweep bounds the number of
// idle clients held at all.
func (s *Store) Sweep(now time.Time) int {
	cutoff := now.Add(-s.retention)
	evicted := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, c := range sh.clients {
			for t, log := range c.logs {
				log = prune(log, cutoff)
				if len(log) == 0 {
					delete(c.logs, t)
				} else {
					c.logs[t] = log
				}
			}
			if len(c.logs) == 0 && !now.Before(c.unblockAt) {
				delete(sh.clients, key)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

// get returns the client entry, creating it if needed. Caller holds the
// shard lock.
func (sh *shard) get(key string) *client {
	c, ok := sh.clients[key]
	if !ok {
		c = &client{logs: map[tier.Tier][]time.Time{}}
		sh.clients[key] = c
	}
	return c
}

// prune drops entries before cutoff. Entries are appended in time order,
// so only a prefix can be stale.
func prune(log []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(log) && log[i].Before(cutoff) {
		i++
	}
	return log[i:]
}
