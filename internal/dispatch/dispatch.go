package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/surfacectl/scanhub/internal/heartbeat"
	domainerrors "github.com/surfacectl/scanhub/pkg/domain/errors"
)

// InvocationRequest is what the dispatcher hands an Invoker for one scan.
type InvocationRequest struct {
	ScanID       string
	TargetID     string
	TargetName   string
	WorkspaceDir string
	EngineName   string
}

// Invoker sends a scan invocation to a worker by whatever mechanism that
// worker uses — process spawn locally, SSH/command remotely (spec.md
// §4.J: "mechanism is opaque"). It returns the container/process id the
// worker reports back.
type Invoker interface {
	Invoke(ctx context.Context, worker Worker, req InvocationRequest) (containerID string, err error)
	Cancel(ctx context.Context, worker Worker, containerID string) error
}

// Result is what Dispatch returns, matching spec.md §4.J's
// (ok, message, container_id, worker_id) contract.
type Result struct {
	OK          bool
	Message     string
	ContainerID string
	WorkerID    string
}

// Dispatcher selects the least-loaded online worker and hands it a scan
// invocation.
type Dispatcher struct {
	registry  Registry
	heartbeat *heartbeat.Store
	invoker   Invoker
}

// New constructs a Dispatcher.
func New(registry Registry, hb *heartbeat.Store, invoker Invoker) *Dispatcher {
	return &Dispatcher{registry: registry, heartbeat: hb, invoker: invoker}
}

// Dispatch picks the least-loaded online worker and invokes req on it. A
// worker with no live heartbeat is offline and excluded, per spec.md §4.J.
func (d *Dispatcher) Dispatch(ctx context.Context, req InvocationRequest) (Result, error) {
	worker, err := d.pickWorker(ctx)
	if err != nil {
		return Result{OK: false, Message: err.Error()}, domainerrors.New(
			domainerrors.CodeWorkerUnavailable, "dispatch", "no online worker available", err)
	}

	containerID, err := d.invoker.Invoke(ctx, worker, req)
	if err != nil {
		return Result{OK: false, Message: err.Error(), WorkerID: worker.ID}, domainerrors.New(
			domainerrors.CodeWorkerUnavailable, "dispatch", fmt.Sprintf("invoking worker %s", worker.ID), err)
	}

	return Result{OK: true, Message: "dispatched", ContainerID: containerID, WorkerID: worker.ID}, nil
}

// Cancel requests that workerID stop containerID, per spec.md §4.J's
// stop_scan: "looks up the worker and container, requests cancellation".
func (d *Dispatcher) Cancel(ctx context.Context, workerID, containerID string) error {
	workers, err := d.registry.ListWorkers()
	if err != nil {
		return fmt.Errorf("dispatch: listing workers: %w", err)
	}
	for _, w := range workers {
		if w.ID == workerID {
			return d.invoker.Cancel(ctx, w, containerID)
		}
	}
	return fmt.Errorf("dispatch: worker %q not found", workerID)
}

type candidate struct {
	worker Worker
	load   float64
}

// pickWorker returns the online worker with the lowest combined CPU+memory
// load, per spec.md §4.J.
func (d *Dispatcher) pickWorker(ctx context.Context) (Worker, error) {
	workers, err := d.registry.ListWorkers()
	if err != nil {
		return Worker{}, fmt.Errorf("dispatch: listing workers: %w", err)
	}
	if len(workers) == 0 {
		return Worker{}, fmt.Errorf("dispatch: no workers registered")
	}

	ids := make([]string, len(workers))
	for i, w := range workers {
		ids[i] = w.ID
	}
	beats, err := d.heartbeat.List(ctx, ids)
	if err != nil {
		return Worker{}, fmt.Errorf("dispatch: reading heartbeats: %w", err)
	}

	var candidates []candidate
	for _, w := range workers {
		hb, online := beats[w.ID]
		if !online {
			continue
		}
		candidates = append(candidates, candidate{worker: w, load: hb.CPUPercent + hb.MemoryPercent})
	}
	if len(candidates) == 0 {
		return Worker{}, fmt.Errorf("dispatch: no online worker")
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].load < candidates[j].load })
	return candidates[0].worker, nil
}

// Health reports the current status of every registered worker, built from
// heartbeat presence — used by admin/status surfaces (out of scope per
// spec.md §1, but the data this needs is naturally exposed here).
func (d *Dispatcher) Health(ctx context.Context) (map[string]Health, error) {
	workers, err := d.registry.ListWorkers()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(workers))
	for i, w := range workers {
		ids[i] = w.ID
	}
	beats, err := d.heartbeat.List(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make(map[string]Health, len(workers))
	for _, w := range workers {
		if hb, ok := beats[w.ID]; ok {
			out[w.ID] = Health{
				Status:        StatusOnline,
				CPUPercent:    hb.CPUPercent,
				MemoryPercent: hb.MemoryPercent,
				LastHeartbeat: hb.PostedAt,
			}
			continue
		}
		out[w.ID] = Health{Status: StatusOffline, LastHeartbeat: time.Time{}}
	}
	return out, nil
}
