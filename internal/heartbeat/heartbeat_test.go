package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb)
}

func TestPostAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Post(ctx, "worker-1", 12.5, 40.0); err != nil {
		t.Fatalf("post: %v", err)
	}
	hb, ok, err := s.Get(ctx, "worker-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected heartbeat present")
	}
	if hb.CPUPercent != 12.5 || hb.MemoryPercent != 40.0 {
		t.Fatalf("got %+v", hb)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected missing heartbeat to report not found")
	}
}

func TestListSkipsMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Post(ctx, "worker-1", 1, 1); err != nil {
		t.Fatalf("post: %v", err)
	}
	out, err := s.List(ctx, []string{"worker-1", "worker-2"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d entries", len(out))
	}
	if _, ok := out["worker-1"]; !ok {
		t.Fatal("expected worker-1 present")
	}
}

func TestHeartbeatExpiresAfterTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := New(rdb)
	ctx := context.Background()

	if err := s.Post(ctx, "worker-1", 1, 1); err != nil {
		t.Fatalf("post: %v", err)
	}
	mr.FastForward(TTL + time.Second)

	_, ok, err := s.Get(ctx, "worker-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected heartbeat to have expired")
	}
}
