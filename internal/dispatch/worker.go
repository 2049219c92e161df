// Package dispatch implements the load-aware Worker selection and
// invocation half of spec.md §4.J: the dispatcher picks the least-loaded
// online worker (per internal/heartbeat) and hands a scan invocation to it
// through an opaque Invoker. Grounded on pkg/core/worker.ServiceImpl's
// Status/Health enum shape, narrowed from a generic periodic-worker manager
// to the scan dispatcher's notion of a remote execution target.
package dispatch

import "time"

// Status is a worker's online/offline state, derived from heartbeat
// presence rather than tracked independently (spec.md §4.J: "a worker is
// offline when its heartbeat is absent").
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Health mirrors the teacher's worker.Health shape, narrowed to the fields
// the dispatcher's selection and reporting need.
type Health struct {
	Status        Status
	CPUPercent    float64
	MemoryPercent float64
	LastHeartbeat time.Time
}

// Worker is one registered scan-execution target.
type Worker struct {
	ID      string
	Name    string
	Address string // opaque to the dispatcher: local process tag, SSH host, etc.
}

// Registry lists the workers known to the dispatcher. In production this is
// backed by a small table or static configuration; it is kept as an
// interface so tests can supply a fixed worker set without a store.
type Registry interface {
	ListWorkers() ([]Worker, error)
}

// StaticRegistry is a Registry over a fixed, in-memory worker list — the
// common case for a scan engine with a small, operator-configured worker
// pool that doesn't churn often enough to need dynamic registration.
type StaticRegistry struct {
	Workers []Worker
}

func (r StaticRegistry) ListWorkers() ([]Worker, error) {
	return r.Workers, nil
}
