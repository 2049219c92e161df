// Package orchestrate implements the Orchestrator of spec.md §4.I: it reads
// the merged stage configuration, builds an execution plan of sequential and
// parallel groups, and drives every registered internal/stage.Stage through
// it, maintaining the scan's stage_progress and lifecycle state as it goes.
//
// Grounded on reconpipe's RunPipeline (internal-pipeline-orchestrator.go.go)
// for stage filtering, resumable-by-already-done-stages, and per-stage panic
// isolation, combined with the teacher's workflow.Orchestrator's
// executeSequentially completed/total percentage math, extended with a
// parallel fan-out-join group using golang.org/x/sync/errgroup for Stage 2.
package orchestrate

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/surfacectl/scanhub/internal/config"
	"github.com/surfacectl/scanhub/internal/stage"
	"github.com/surfacectl/scanhub/internal/stage/stages"
	"github.com/surfacectl/scanhub/internal/store"
)

// Group is one unit of an execution Plan: an ordered set of stage names run
// either strictly in sequence or fanned out together, per spec.md §4.I.
type Group struct {
	Parallel bool
	Stages   []string
}

// Plan is the ordered list of groups the orchestrator executes. Between
// groups, stages always run strictly in order.
type Plan []Group

// sequentialStages is Stage 1 of spec.md §4.I: each stage's output feeds the
// next (subdomains -> hosts -> sites).
var sequentialStages = []string{"subdomain_discovery", "port_scan", "site_scan"}

// parallelStages is Stage 2: independent consumers of site_scan's output.
var parallelStages = []string{"url_fetch", "directory_scan", "fingerprint_detect", "screenshot", "vuln_scan"}

// BuildPlan filters the canonical two-group layout down to the stages
// enabled in cfg, preserving each group's internal order. A group that ends
// up empty is dropped entirely.
func BuildPlan(cfg *config.ScanConfig) Plan {
	seq := filterEnabled(cfg, sequentialStages)
	par := filterEnabled(cfg, parallelStages)

	var plan Plan
	if len(seq) > 0 {
		plan = append(plan, Group{Parallel: false, Stages: seq})
	}
	if len(par) > 0 {
		plan = append(plan, Group{Parallel: true, Stages: par})
	}
	return plan
}

func filterEnabled(cfg *config.ScanConfig, names []string) []string {
	var out []string
	for _, name := range names {
		if cfg.Enabled(name).Enabled {
			out = append(out, name)
		}
	}
	return out
}

// Total reports how many stages the plan will actually attempt.
func (p Plan) Total() int {
	n := 0
	for _, g := range p {
		n += len(g.Stages)
	}
	return n
}

// Names returns every stage name in the plan, group order preserved.
func (p Plan) Names() []string {
	var out []string
	for _, g := range p {
		out = append(out, g.Stages...)
	}
	return out
}

// Orchestrator drives a Run through a Plan, persisting lifecycle and
// progress transitions to the ScanStore as it goes.
type Orchestrator struct {
	Scans  *store.ScanStore
	Config *config.ScanConfig
}

// New constructs an Orchestrator.
func New(scans *store.ScanStore, cfg *config.ScanConfig) *Orchestrator {
	return &Orchestrator{Scans: scans, Config: cfg}
}

// runState is the mutable bookkeeping shared across sequential and parallel
// stage invocations — guarded by mu since a parallel group runs its
// members concurrently.
type runState struct {
	mu        sync.Mutex
	total     int
	completed int
	status    map[string]stage.Status
	order     []string
}

func newRunState(plan Plan, alreadyCompleted map[string]bool) *runState {
	rs := &runState{total: plan.Total(), status: make(map[string]stage.Status), order: plan.Names()}
	for _, name := range rs.order {
		if alreadyCompleted[name] {
			rs.status[name] = stage.StatusCompleted
			rs.completed++
		} else {
			rs.status[name] = stage.StatusPending
		}
	}
	return rs
}

func (rs *runState) record(name string, status stage.Status) (percentage int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.status[name] = status
	rs.completed++
	if rs.total == 0 {
		return 100
	}
	return rs.completed * 100 / rs.total
}

func (rs *runState) progress() []store.StageProgress {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]store.StageProgress, 0, len(rs.order))
	for _, name := range rs.order {
		out = append(out, store.StageProgress{Name: name, Status: string(rs.status[name])})
	}
	return out
}

func (rs *runState) cancelRemaining() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, name := range rs.order {
		if rs.status[name] == stage.StatusPending {
			rs.status[name] = stage.StatusCancelled
		}
	}
}

// Run executes every stage named in BuildPlan(o.Config) against run, in
// plan order, persisting stage_progress after every stage and flipping the
// scan to RUNNING on the first stage start and to COMPLETED/FAILED on exit,
// per spec.md §4.I/§4.J. alreadyCompleted lets a resumed scan skip stages a
// prior attempt already finished.
func (o *Orchestrator) Run(ctx context.Context, run *stage.Run, alreadyCompleted map[string]bool) error {
	plan := BuildPlan(o.Config)
	if plan.Total() == 0 {
		return fmt.Errorf("orchestrate: no stages enabled")
	}
	if alreadyCompleted == nil {
		alreadyCompleted = map[string]bool{}
	}
	rs := newRunState(plan, alreadyCompleted)

	var startedOnce sync.Once
	markRunning := func() error {
		var err error
		startedOnce.Do(func() {
			err = o.Scans.UpdateStatus(ctx, run.ScanID, store.ScanRunning, "")
		})
		return err
	}

	runOne := func(name string, alreadyDone bool) error {
		if alreadyDone {
			return nil
		}
		if err := ctx.Err(); err != nil {
			rs.record(name, stage.StatusCancelled)
			return nil
		}
		if err := markRunning(); err != nil {
			return err
		}
		run.Observer.OnStart(name)

		st, ok := stages.Get(name)
		if !ok {
			err := fmt.Errorf("orchestrate: stage %q not registered", name)
			pct := rs.record(name, stage.StatusFailed)
			run.Observer.OnFail(name, err)
			_ = o.Scans.UpdateProgress(ctx, run.ScanID, name, rs.progress(), pct)
			return err
		}

		res, err := executeIsolated(ctx, st, run)
		if err != nil {
			pct := rs.record(name, stage.StatusFailed)
			run.Observer.OnFail(name, err)
			_ = o.Scans.UpdateProgress(ctx, run.ScanID, name, rs.progress(), pct)
			return err
		}

		pct := rs.record(name, res.Status)
		run.Observer.OnComplete(name, res.Stats)
		_ = o.Scans.UpdateProgress(ctx, run.ScanID, name, rs.progress(), pct)
		return nil
	}

	var groupErr error
	for _, g := range plan {
		if ctx.Err() != nil {
			groupErr = ctx.Err()
			break
		}
		if g.Parallel {
			// A plain errgroup.Group, not WithContext: one stage's failure
			// must not cancel its siblings, per spec.md §4.I.
			var eg errgroup.Group
			for _, name := range g.Stages {
				name := name
				eg.Go(func() error { return runOne(name, alreadyCompleted[name]) })
			}
			if err := eg.Wait(); err != nil && groupErr == nil {
				groupErr = err
			}
			continue
		}
		for _, name := range g.Stages {
			if err := runOne(name, alreadyCompleted[name]); err != nil {
				groupErr = err
				break
			}
		}
		if groupErr != nil {
			break
		}
	}

	if ctx.Err() != nil || groupErr == context.Canceled {
		rs.cancelRemaining()
		// ctx is already cancelled here, so the final writes use a context
		// that keeps its values but not its cancellation.
		final := context.WithoutCancel(ctx)
		_ = o.Scans.UpdateProgress(final, run.ScanID, "", rs.progress(), rs.completed*100/rs.total)
		return o.Scans.UpdateStatus(final, run.ScanID, store.ScanCancelled, "")
	}

	if groupErr != nil {
		_ = o.Scans.UpdateStatus(ctx, run.ScanID, store.ScanFailed, groupErr.Error())
		return groupErr
	}

	if err := o.Scans.UpdateStatus(ctx, run.ScanID, store.ScanCompleted, ""); err != nil {
		return err
	}
	if sc, err := o.Scans.Get(ctx, run.ScanID); err == nil {
		_ = o.Scans.RefreshCachedCounts(ctx, sc)
	}
	return nil
}

// executeIsolated runs one stage behind a deferred recover so a panicking
// stage is reported as a failure instead of crashing the whole scan,
// grounded on reconpipe's runStageIsolated.
func executeIsolated(ctx context.Context, st stage.Stage, run *stage.Run) (res *stage.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %q panicked: %v", st.Name(), r)
		}
	}()
	return st.Execute(ctx, run)
}
