package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/surfacectl/scanhub/internal/heartbeat"
)

type fakeInvoker struct {
	lastWorker Worker
	err        error
}

func (f *fakeInvoker) Invoke(ctx context.Context, w Worker, req InvocationRequest) (string, error) {
	f.lastWorker = w
	if f.err != nil {
		return "", f.err
	}
	return "container-1", nil
}

func (f *fakeInvoker) Cancel(ctx context.Context, w Worker, containerID string) error { return nil }

func newStore(t *testing.T) *heartbeat.Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return heartbeat.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestDispatchPicksLeastLoadedOnlineWorker(t *testing.T) {
	hb := newStore(t)
	ctx := context.Background()
	if err := hb.Post(ctx, "w1", 80, 10); err != nil {
		t.Fatal(err)
	}
	if err := hb.Post(ctx, "w2", 5, 5); err != nil {
		t.Fatal(err)
	}
	// w3 never posted: offline, must be excluded.
	reg := StaticRegistry{Workers: []Worker{{ID: "w1"}, {ID: "w2"}, {ID: "w3"}}}
	inv := &fakeInvoker{}
	d := New(reg, hb, inv)

	res, err := d.Dispatch(ctx, InvocationRequest{ScanID: "s1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK || res.WorkerID != "w2" {
		t.Fatalf("got %+v", res)
	}
}

func TestDispatchFailsWhenNoWorkerOnline(t *testing.T) {
	hb := newStore(t)
	reg := StaticRegistry{Workers: []Worker{{ID: "w1"}}}
	d := New(reg, hb, &fakeInvoker{})

	res, err := d.Dispatch(context.Background(), InvocationRequest{ScanID: "s1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if res.OK {
		t.Fatalf("expected not-ok result, got %+v", res)
	}
}

func TestDispatchSurfacesInvokerFailure(t *testing.T) {
	hb := newStore(t)
	ctx := context.Background()
	if err := hb.Post(ctx, "w1", 1, 1); err != nil {
		t.Fatal(err)
	}
	reg := StaticRegistry{Workers: []Worker{{ID: "w1"}}}
	d := New(reg, hb, &fakeInvoker{err: errors.New("boom")})

	res, err := d.Dispatch(ctx, InvocationRequest{ScanID: "s1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if res.OK || res.WorkerID != "w1" {
		t.Fatalf("got %+v", res)
	}
}
