package orchestrate

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/surfacectl/scanhub/internal/config"
	"github.com/surfacectl/scanhub/internal/provider"
	"github.com/surfacectl/scanhub/internal/stage"
	"github.com/surfacectl/scanhub/internal/stage/stages"
	"github.com/surfacectl/scanhub/internal/store"
)

// fakeStage is a stage.Stage whose Execute delegates to a per-name behavior
// set by each test, so every test can drive the same registered stage set
// (the registry panics on duplicate registration, so stages are registered
// once for the whole package in init()).
type fakeStage struct{ name string }

func (f fakeStage) Name() string { return f.name }

func (f fakeStage) Execute(ctx context.Context, run *stage.Run) (*stage.Result, error) {
	behaviorsMu.Lock()
	b := behaviors[f.name]
	behaviorsMu.Unlock()
	if b == nil {
		return &stage.Result{Status: stage.StatusCompleted}, nil
	}
	return b(ctx, run)
}

var (
	behaviorsMu sync.Mutex
	behaviors   = map[string]func(ctx context.Context, run *stage.Run) (*stage.Result, error){}
)

func setBehavior(name string, f func(ctx context.Context, run *stage.Run) (*stage.Result, error)) {
	behaviorsMu.Lock()
	behaviors[name] = f
	behaviorsMu.Unlock()
}

func resetBehaviors() {
	behaviorsMu.Lock()
	behaviors = map[string]func(ctx context.Context, run *stage.Run) (*stage.Result, error){}
	behaviorsMu.Unlock()
}

func init() {
	for _, name := range config.StageNames {
		stages.Register(fakeStage{name: name})
	}
}

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orchestrate.db")
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	require.NoError(t, err)
	db := store.New(gdb)
	require.NoError(t, db.AutoMigrate())
	return db
}

type nopProvider struct{}

func (nopProvider) TargetName(ctx context.Context) (string, bool) { return "example.com", true }
func (nopProvider) Subdomains(ctx context.Context) (provider.Iterator, error) {
	return provider.NewSliceIterator(nil), nil
}
func (nopProvider) HostPortURLs(ctx context.Context) (provider.Iterator, error) {
	return provider.NewSliceIterator(nil), nil
}
func (nopProvider) WebsiteURLs(ctx context.Context) (provider.Iterator, error) {
	return provider.NewSliceIterator(nil), nil
}
func (nopProvider) EndpointURLs(ctx context.Context) (provider.Iterator, error) {
	return provider.NewSliceIterator(nil), nil
}
func (nopProvider) DefaultURLs(ctx context.Context) (provider.Iterator, error) {
	return provider.NewSliceIterator(nil), nil
}
func (nopProvider) BlacklistFilter(ctx context.Context) (provider.Filter, error) { return nil, nil }

func newScan(t *testing.T, scans *store.ScanStore) *store.Scan {
	t.Helper()
	sc := &store.Scan{ID: fmt.Sprintf("scan-%s", t.Name()), TargetID: "target-1", Status: store.ScanInitiated, Mode: store.ModeFull, ResultsDir: t.TempDir()}
	require.NoError(t, scans.Create(context.Background(), sc))
	return sc
}

func newRunFor(sc *store.Scan) *stage.Run {
	return stage.NewRun(sc.ID, sc.TargetID, "example.com", "DOMAIN", sc.ResultsDir, string(sc.Mode), nopProvider{}, stage.NoOpObserver{})
}

func TestRunCompletesAllEnabledStages(t *testing.T) {
	resetBehaviors()
	db := newTestDB(t)
	scans := store.NewScanStore(db)
	sc := newScan(t, scans)

	o := New(scans, config.Default())
	require.NoError(t, o.Run(context.Background(), newRunFor(sc), nil))

	got, err := scans.Get(context.Background(), sc.ID)
	require.NoError(t, err)
	require.Equal(t, store.ScanCompleted, got.Status)
	require.Equal(t, 100, got.Progress)
}

func TestRunFailsScanWhenASequentialStageFails(t *testing.T) {
	resetBehaviors()
	setBehavior("port_scan", func(ctx context.Context, run *stage.Run) (*stage.Result, error) {
		return nil, fmt.Errorf("boom")
	})

	db := newTestDB(t)
	scans := store.NewScanStore(db)
	sc := newScan(t, scans)

	o := New(scans, config.Default())
	require.Error(t, o.Run(context.Background(), newRunFor(sc), nil))

	got, err := scans.Get(context.Background(), sc.ID)
	require.NoError(t, err)
	require.Equal(t, store.ScanFailed, got.Status)
	require.NotEmpty(t, got.ErrorMessage)
}

func TestRunParallelGroupSurvivesOneStageFailure(t *testing.T) {
	resetBehaviors()
	var mu sync.Mutex
	screenshotRan := false

	setBehavior("url_fetch", func(ctx context.Context, run *stage.Run) (*stage.Result, error) {
		return nil, fmt.Errorf("url_fetch down")
	})
	setBehavior("screenshot", func(ctx context.Context, run *stage.Run) (*stage.Result, error) {
		mu.Lock()
		screenshotRan = true
		mu.Unlock()
		return &stage.Result{Status: stage.StatusCompleted}, nil
	})

	db := newTestDB(t)
	scans := store.NewScanStore(db)
	sc := newScan(t, scans)

	o := New(scans, config.Default())
	_ = o.Run(context.Background(), newRunFor(sc), nil)

	mu.Lock()
	ran := screenshotRan
	mu.Unlock()
	require.True(t, ran, "expected screenshot to run despite url_fetch failing in the same parallel group")
}

func TestRunCancelsRemainingStagesOnContextCancel(t *testing.T) {
	resetBehaviors()
	ctx, cancel := context.WithCancel(context.Background())
	setBehavior("subdomain_discovery", func(ctx context.Context, run *stage.Run) (*stage.Result, error) {
		cancel()
		return &stage.Result{Status: stage.StatusCompleted}, nil
	})

	db := newTestDB(t)
	scans := store.NewScanStore(db)
	sc := newScan(t, scans)

	o := New(scans, config.Default())
	require.NoError(t, o.Run(ctx, newRunFor(sc), nil))

	got, err := scans.Get(context.Background(), sc.ID)
	require.NoError(t, err)
	require.Equal(t, store.ScanCancelled, got.Status)
}

func TestRunSkipsAlreadyCompletedStages(t *testing.T) {
	resetBehaviors()
	setBehavior("subdomain_discovery", func(ctx context.Context, run *stage.Run) (*stage.Result, error) {
		t.Fatal("subdomain_discovery should have been skipped as already completed")
		return nil, nil
	})

	db := newTestDB(t)
	scans := store.NewScanStore(db)
	sc := newScan(t, scans)

	o := New(scans, config.Default())
	alreadyCompleted := map[string]bool{"subdomain_discovery": true}
	require.NoError(t, o.Run(context.Background(), newRunFor(sc), alreadyCompleted))

	got, err := scans.Get(context.Background(), sc.ID)
	require.NoError(t, err)
	require.Equal(t, store.ScanCompleted, got.Status)
}
