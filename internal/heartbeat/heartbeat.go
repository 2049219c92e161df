// Package heartbeat implements the worker heartbeat store of spec.md §4.J/§6:
// a shared key-value cache, keyed by worker id, holding the worker's last
// reported (cpu_percent, memory_percent) with a 60s TTL. Absence of a key
// means the dispatcher sees that worker as offline. Grounded on the way
// evalgo-org-eve and jordigilh-kubernaut use redis/go-redis for ephemeral
// cross-process state (session/lock keys with an explicit TTL).
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL is the heartbeat freshness window named in spec.md §4.J/§6: a worker
// that hasn't posted in this long is considered offline.
const TTL = 60 * time.Second

const keyPrefix = "scanhub:heartbeat:"

// Heartbeat is one worker's most recently posted load sample.
type Heartbeat struct {
	WorkerID      string    `json:"worker_id"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	PostedAt      time.Time `json:"posted_at"`
}

// Store is the Redis-backed heartbeat cache.
type Store struct {
	rdb *redis.Client
}

// New wraps an already-configured *redis.Client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Post records worker's current load sample, refreshing its TTL. No status
// is stored: internal/dispatch treats a worker as online exactly while its
// heartbeat key exists, so the first successful Post makes it online.
func (s *Store) Post(ctx context.Context, workerID string, cpuPercent, memoryPercent float64) error {
	hb := Heartbeat{
		WorkerID:      workerID,
		CPUPercent:    cpuPercent,
		MemoryPercent: memoryPercent,
		PostedAt:      time.Now(),
	}
	b, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("heartbeat: marshal: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+workerID, b, TTL).Err(); err != nil {
		return fmt.Errorf("heartbeat: post %s: %w", workerID, err)
	}
	return nil
}

// Get returns worker's last heartbeat, or ok=false if it has none (expired
// or never posted) — the dispatcher treats that worker as offline.
func (s *Store) Get(ctx context.Context, workerID string) (Heartbeat, bool, error) {
	b, err := s.rdb.Get(ctx, keyPrefix+workerID).Bytes()
	if err == redis.Nil {
		return Heartbeat{}, false, nil
	}
	if err != nil {
		return Heartbeat{}, false, fmt.Errorf("heartbeat: get %s: %w", workerID, err)
	}
	var hb Heartbeat
	if err := json.Unmarshal(b, &hb); err != nil {
		return Heartbeat{}, false, fmt.Errorf("heartbeat: unmarshal %s: %w", workerID, err)
	}
	return hb, true, nil
}

// List returns the live heartbeats for the given worker ids, skipping any
// that have expired or never posted.
func (s *Store) List(ctx context.Context, workerIDs []string) (map[string]Heartbeat, error) {
	out := make(map[string]Heartbeat, len(workerIDs))
	for _, id := range workerIDs {
		hb, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out[id] = hb
		}
	}
	return out, nil
}
