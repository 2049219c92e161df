// Package lifecycle implements the scan lifecycle and dispatcher wiring of
// spec.md §4.J: creating scans with a unique results directory, dispatching
// each to a worker, stopping a running scan, and the two-phase soft/hard
// delete.
//
// Grounded on raccoon-recon's scanner.Executor
// (internal-scanner-executor.go.go) for the mutex-guarded
// map[id]context.CancelFunc pattern a local invocation uses to support
// cancellation, combined with internal/sink's uuid.NewString() id
// convention for the results-directory suffix.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/surfacectl/scanhub/internal/blacklist"
	"github.com/surfacectl/scanhub/internal/config"
	"github.com/surfacectl/scanhub/internal/dispatch"
	"github.com/surfacectl/scanhub/internal/orchestrate"
	"github.com/surfacectl/scanhub/internal/provider"
	"github.com/surfacectl/scanhub/internal/runner"
	"github.com/surfacectl/scanhub/internal/sink"
	"github.com/surfacectl/scanhub/internal/stage"
	"github.com/surfacectl/scanhub/internal/stage/stages"
	"github.com/surfacectl/scanhub/internal/store"
)

// BlacklistAdapter turns a store.BlacklistStore into the
// provider.BlacklistLoader function the Inventory provider expects,
// converting each persisted BlacklistRule row into a blacklist.Rule.
type BlacklistAdapter struct {
	Store *store.BlacklistStore
}

// Load implements provider.BlacklistLoader.
func (a BlacklistAdapter) Load(ctx context.Context, targetID string) ([]blacklist.Rule, error) {
	rows, err := a.Store.ForTarget(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: loading blacklist rules: %w", err)
	}
	rules := make([]blacklist.Rule, len(rows))
	for i, r := range rows {
		rules[i] = blacklist.Rule{Pattern: r.Pattern, Kind: blacklist.Kind(r.Kind)}
	}
	return rules, nil
}

// Manager owns scan creation, dispatch, stop, and delete — the piece of
// §4.J that is not the Dispatcher itself (worker selection and invocation)
// but everything that surrounds it.
type Manager struct {
	scans          *store.ScanStore
	targets        *store.TargetStore
	dispatcher     *dispatch.Dispatcher
	resultsBaseDir string
	logger         *slog.Logger
}

// NewManager constructs a Manager.
func NewManager(scans *store.ScanStore, targets *store.TargetStore, dispatcher *dispatch.Dispatcher, resultsBaseDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{scans: scans, targets: targets, dispatcher: dispatcher, resultsBaseDir: resultsBaseDir, logger: logger}
}

// CreateScans persists one INITIATED scan row per target, each with its own
// results directory named {base}/scan_{timestamp}_{uuid8} per §4.J step 1,
// then detaches a background dispatch attempt per scan and returns
// immediately with the created rows.
func (m *Manager) CreateScans(ctx context.Context, targetIDs []string, engineIDs, engineNames []string, cfg *config.ScanConfig, mode store.ScanMode) ([]*store.Scan, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: marshal scan config: %w", err)
	}

	scans := make([]*store.Scan, 0, len(targetIDs))
	for _, targetID := range targetIDs {
		t, err := m.targets.Get(ctx, targetID)
		if err != nil {
			return nil, err
		}

		sc := &store.Scan{
			ID:          uuid.NewString(),
			TargetID:    t.ID,
			EngineIDs:   store.StringSlice(engineIDs),
			EngineNames: store.StringSlice(engineNames),
			Config:      string(cfgJSON),
			Mode:        mode,
			Status:      store.ScanInitiated,
			ResultsDir:  m.newResultsDir(),
		}
		if err := m.scans.Create(ctx, sc); err != nil {
			return nil, err
		}
		if err := m.targets.TouchLastScanned(ctx, t.ID); err != nil {
			m.logger.Warn("lifecycle: touch last_scanned_at failed", "target_id", t.ID, "error", err)
		}
		scans = append(scans, sc)
	}

	go m.dispatchAll(scans)
	return scans, nil
}

// newResultsDir builds {base}/scan_{timestamp}_{uuid8} per §4.J step 1.
func (m *Manager) newResultsDir() string {
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("%s/scan_%d_%s", m.resultsBaseDir, time.Now().Unix(), suffix)
}

func (m *Manager) dispatchAll(scans []*store.Scan) {
	for _, sc := range scans {
		m.dispatchOne(context.Background(), sc)
	}
}

func (m *Manager) dispatchOne(ctx context.Context, sc *store.Scan) {
	t, err := m.targets.Get(ctx, sc.TargetID)
	if err != nil {
		_ = m.scans.UpdateStatus(ctx, sc.ID, store.ScanFailed, err.Error())
		return
	}

	res, err := m.dispatcher.Dispatch(ctx, dispatch.InvocationRequest{
		ScanID:       sc.ID,
		TargetID:     sc.TargetID,
		TargetName:   t.Name,
		WorkspaceDir: sc.ResultsDir,
	})
	if err != nil || !res.OK {
		msg := res.Message
		if msg == "" && err != nil {
			msg = err.Error()
		}
		m.logger.Error("lifecycle: dispatch failed", "scan_id", sc.ID, "error", msg)
		_ = m.scans.UpdateStatus(ctx, sc.ID, store.ScanFailed, msg)
		return
	}
	if err := m.scans.SetDispatchResult(ctx, sc.ID, res.WorkerID, res.ContainerID); err != nil {
		m.logger.Error("lifecycle: recording dispatch result failed", "scan_id", sc.ID, "error", err)
	}
}

// StopScan requests cancellation of a running or not-yet-started scan, per
// §4.J's stop_scan: look up the worker and container, request cancellation,
// then mark the scan CANCELLED. A scan already in a terminal state is left
// untouched.
func (m *Manager) StopScan(ctx context.Context, scanID string) error {
	sc, err := m.scans.Get(ctx, scanID)
	if err != nil {
		return err
	}
	if sc.Status != store.ScanRunning && sc.Status != store.ScanInitiated {
		return nil
	}

	if sc.WorkerID != nil && len(sc.ContainerIDs) > 0 {
		containerID := sc.ContainerIDs[len(sc.ContainerIDs)-1]
		if err := m.dispatcher.Cancel(ctx, *sc.WorkerID, containerID); err != nil {
			m.logger.Warn("lifecycle: cancel request failed", "scan_id", scanID, "error", err)
		}
	}

	return m.scans.UpdateStatus(ctx, scanID, store.ScanCancelled, "")
}

// Delete runs the two-phase delete of §4.J: soft-delete the rows
// immediately (so they disappear from list views), then remove the
// on-disk results directories and hard-delete the rows in the background.
func (m *Manager) Delete(ctx context.Context, scanIDs []string) error {
	if err := m.scans.SoftDelete(ctx, scanIDs); err != nil {
		return err
	}
	go m.hardDelete(scanIDs)
	return nil
}

func (m *Manager) hardDelete(ids []string) {
	ctx := context.Background()
	dirs, err := m.scans.ResultsDirs(ctx, ids)
	if err != nil {
		m.logger.Error("lifecycle: looking up results dirs for hard delete failed", "error", err)
		return
	}
	for id, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			m.logger.Error("lifecycle: removing results dir failed", "scan_id", id, "dir", dir, "error", err)
		}
	}
	if err := m.scans.HardDelete(ctx, ids); err != nil {
		m.logger.Error("lifecycle: hard delete failed", "error", err)
	}
}

// LocalInvoker implements dispatch.Invoker by running the orchestrator in a
// goroutine within this process — the single-node deployment of §4.J,
// where "worker" is this process itself and "container" is a cancellable
// in-memory run.
type LocalInvoker struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	scans      *store.ScanStore
	targets    *store.TargetStore
	db         *store.DB
	blacklists *store.BlacklistStore
	cfg        *config.ScanConfig
	logger     *slog.Logger
}

// NewLocalInvoker constructs a LocalInvoker and registers every stage in
// the package-level registry exactly once, per internal/stage/stages'
// registration contract.
func NewLocalInvoker(scans *store.ScanStore, targets *store.TargetStore, db *store.DB, blacklists *store.BlacklistStore, sk *sink.Sink, rnr runner.Runner, cfg *config.ScanConfig, gate stage.Gate, wordlistDir string, manifest config.WordlistManifest, logger *slog.Logger) *LocalInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	stages.BuildAll(sk, rnr, cfg, gate, wordlistDir, manifest)
	return &LocalInvoker{
		cancels:    make(map[string]context.CancelFunc),
		scans:      scans,
		targets:    targets,
		db:         db,
		blacklists: blacklists,
		cfg:        cfg,
		logger:     logger,
	}
}

// Invoke starts a scan run in a detached goroutine and returns immediately
// with a synthetic container id the returned Cancel call can look up later.
func (li *LocalInvoker) Invoke(ctx context.Context, w dispatch.Worker, req dispatch.InvocationRequest) (string, error) {
	containerID := "local-" + req.ScanID

	runCtx, cancel := context.WithCancel(context.Background())
	li.mu.Lock()
	li.cancels[containerID] = cancel
	li.mu.Unlock()

	sc, err := li.scans.Get(ctx, req.ScanID)
	if err != nil {
		cancel()
		li.forget(containerID)
		return "", err
	}
	t, err := li.targets.Get(ctx, req.TargetID)
	if err != nil {
		cancel()
		li.forget(containerID)
		return "", err
	}

	var p provider.Provider
	if sc.Mode == store.ModeQuick {
		p = provider.NewSnapshot(li.db, sc.ID, t.Name)
	} else {
		p = provider.NewInventory(li.db, t.ID, BlacklistAdapter{Store: li.blacklists}.Load)
	}

	run := stage.NewRun(sc.ID, t.ID, t.Name, string(t.Type), req.WorkspaceDir, string(sc.Mode), p, stage.NoOpObserver{})
	orc := orchestrate.New(li.scans, li.cfg)

	go func() {
		defer li.forget(containerID)
		if err := orc.Run(runCtx, run, nil); err != nil {
			li.logger.Error("lifecycle: scan run failed", "scan_id", sc.ID, "error", err)
		}
	}()

	return containerID, nil
}

// Cancel looks up the cancel func registered for containerID and invokes
// it; a containerID with no registered func (already finished, or unknown)
// is a no-op.
func (li *LocalInvoker) Cancel(ctx context.Context, w dispatch.Worker, containerID string) error {
	li.mu.Lock()
	cancel, ok := li.cancels[containerID]
	li.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func (li *LocalInvoker) forget(containerID string) {
	li.mu.Lock()
	delete(li.cancels, containerID)
	li.mu.Unlock()
}
