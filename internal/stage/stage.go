// Package stage defines the Stage interface every scan stage implements and
// the Run state threaded through a scan's execution, generalized from
// workflow.Step/WorkflowState's fixed containerization-result fields into a
// data-driven Outputs map (SPEC_FULL.md §4.H).
package stage

import (
	"context"
	"fmt"
	"sync"

	"github.com/surfacectl/scanhub/internal/provider"
)

// Status is the per-stage lifecycle value recorded in a scan's stage_progress.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
	StatusPartial   Status = "partial"
)

// Result is a stage's outcome with minimal data and metadata, mirroring
// workflow.StepResult's {Success, Data, Metadata} shape.
type Result struct {
	Status   Status
	Message  string
	Stats    map[string]interface{}
}

// Stage is the interface every scan stage implements: Name() plus
// Execute(ctx, *Run), generalized from workflow.Step's
// Execute(ctx, *WorkflowState).
type Stage interface {
	Name() string
	Execute(ctx context.Context, run *Run) (*Result, error)
}

// Observer is the stage-callback interface named in spec.md §9 Design
// Notes, generalizing pkg/api.ProgressEmitter's Emit(ctx, stage, pct, msg)
// into three named hooks.
type Observer interface {
	OnStart(name string)
	OnComplete(name string, stats map[string]interface{})
	OnFail(name string, err error)
}

// NoOpObserver implements Observer with no side effects, used by tests and
// any caller that does not want progress callbacks.
type NoOpObserver struct{}

func (NoOpObserver) OnStart(string)                                 {}
func (NoOpObserver) OnComplete(string, map[string]interface{})      {}
func (NoOpObserver) OnFail(string, error)                           {}

// Run holds all the state that flows between stages within one scan
// execution: scan/target identity, the provider for this mode, the
// workspace root, and a generic Outputs map stages can use to hand data to
// one another. Stages currently only write to it (each records its
// "<stage>_input_count"); they take their inputs from the Provider.
type Run struct {
	ScanID      string
	TargetID    string
	TargetName  string
	TargetKind  string
	WorkspaceDir string
	Mode        string // FULL | QUICK
	Provider    provider.Provider
	Observer    Observer

	mu      sync.RWMutex
	Outputs map[string]interface{}
}

// NewRun constructs a Run with an initialized Outputs map.
func NewRun(scanID, targetID, targetName, targetKind, workspaceDir, mode string, p provider.Provider, obs Observer) *Run {
	if obs == nil {
		obs = NoOpObserver{}
	}
	return &Run{
		ScanID:       scanID,
		TargetID:     targetID,
		TargetName:   targetName,
		TargetKind:   targetKind,
		WorkspaceDir: workspaceDir,
		Mode:         mode,
		Provider:     p,
		Observer:     obs,
		Outputs:      make(map[string]interface{}),
	}
}

// SetOutput stores a stage's output under its own name for downstream stages.
func (r *Run) SetOutput(key string, v interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Outputs[key] = v
}

// GetOutput retrieves a prior stage's output.
func (r *Run) GetOutput(key string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.Outputs[key]
	return v, ok
}

// StageDir returns (and the caller is expected to mkdir) the per-stage
// working directory under the scan workspace, per §4.H step 3.
func (r *Run) StageDir(stageName string) string {
	return fmt.Sprintf("%s/%s", r.WorkspaceDir, stageName)
}
