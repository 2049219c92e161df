package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/surfacectl/scanhub/internal/blacklist"
	"github.com/surfacectl/scanhub/internal/config"
	"github.com/surfacectl/scanhub/internal/dispatch"
	"github.com/surfacectl/scanhub/internal/heartbeat"
	"github.com/surfacectl/scanhub/internal/store"
)

type fakeInvoker struct {
	cancelled []string
	err       error
}

func (f *fakeInvoker) Invoke(ctx context.Context, w dispatch.Worker, req dispatch.InvocationRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "container-" + req.ScanID, nil
}

func (f *fakeInvoker) Cancel(ctx context.Context, w dispatch.Worker, containerID string) error {
	f.cancelled = append(f.cancelled, containerID)
	return nil
}

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lifecycle.db")
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	require.NoError(t, err)
	db := store.New(gdb)
	require.NoError(t, db.AutoMigrate())
	return db
}

func newDispatcher(t *testing.T, inv dispatch.Invoker) *dispatch.Dispatcher {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	hb := heartbeat.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	require.NoError(t, hb.Post(context.Background(), "w1", 1, 1))
	reg := dispatch.StaticRegistry{Workers: []dispatch.Worker{{ID: "w1"}}}
	return dispatch.New(reg, hb, inv)
}

func newManager(t *testing.T, inv dispatch.Invoker) (*Manager, *store.DB) {
	t.Helper()
	db := newTestDB(t)
	scans := store.NewScanStore(db)
	targets := store.NewTargetStore(db)
	target := &store.Target{ID: "target-1", Name: "example.com", Type: store.TargetDomain}
	require.NoError(t, targets.Create(context.Background(), target))
	return NewManager(scans, targets, newDispatcher(t, inv), t.TempDir(), nil), db
}

func TestCreateScansPersistsAndDispatches(t *testing.T) {
	inv := &fakeInvoker{}
	mgr, db := newManager(t, inv)
	scans := store.NewScanStore(db)

	created, err := mgr.CreateScans(context.Background(), []string{"target-1"}, nil, []string{"nmap"}, config.Default(), store.ModeFull)
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.NotEmpty(t, created[0].ResultsDir)

	waitForDispatch(t, scans, created[0].ID)

	got, err := scans.Get(context.Background(), created[0].ID)
	require.NoError(t, err)
	require.NotNil(t, got.WorkerID)
	require.Equal(t, "w1", *got.WorkerID)
}

func TestCreateScansTwoTargetsGetDistinctResultsDirs(t *testing.T) {
	inv := &fakeInvoker{}
	mgr, db := newManager(t, inv)
	targets := store.NewTargetStore(db)
	second := &store.Target{ID: "target-2", Name: "second.example.com", Type: store.TargetDomain}
	require.NoError(t, targets.Create(context.Background(), second))

	created, err := mgr.CreateScans(context.Background(), []string{"target-1", "target-2"}, nil, nil, config.Default(), store.ModeFull)
	require.NoError(t, err)
	require.NotEqual(t, created[0].ResultsDir, created[1].ResultsDir)
}

func TestStopScanCancelsDispatchedContainer(t *testing.T) {
	inv := &fakeInvoker{}
	mgr, db := newManager(t, inv)
	scans := store.NewScanStore(db)

	created, err := mgr.CreateScans(context.Background(), []string{"target-1"}, nil, nil, config.Default(), store.ModeFull)
	require.NoError(t, err)
	scanID := created[0].ID
	waitForDispatch(t, scans, scanID)

	require.NoError(t, mgr.StopScan(context.Background(), scanID))

	got, err := scans.Get(context.Background(), scanID)
	require.NoError(t, err)
	require.Equal(t, store.ScanCancelled, got.Status)
	require.Equal(t, []string{"container-" + scanID}, inv.cancelled)
}

func TestStopScanOnTerminalScanIsNoOp(t *testing.T) {
	inv := &fakeInvoker{}
	mgr, db := newManager(t, inv)
	scans := store.NewScanStore(db)

	sc := &store.Scan{ID: "already-done", TargetID: "target-1", Status: store.ScanCompleted, ResultsDir: t.TempDir()}
	require.NoError(t, scans.Create(context.Background(), sc))

	require.NoError(t, mgr.StopScan(context.Background(), sc.ID))
	require.Empty(t, inv.cancelled)
}

func TestDeleteSoftDeletesThenHardDeletesResultsDir(t *testing.T) {
	inv := &fakeInvoker{}
	mgr, db := newManager(t, inv)
	scans := store.NewScanStore(db)

	resultsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(resultsDir, "marker.txt"), []byte("x"), 0o644))
	sc := &store.Scan{ID: "to-delete", TargetID: "target-1", Status: store.ScanCompleted, ResultsDir: resultsDir}
	require.NoError(t, scans.Create(context.Background(), sc))

	require.NoError(t, mgr.Delete(context.Background(), []string{sc.ID}))
	_, err := scans.Get(context.Background(), sc.ID)
	require.Error(t, err, "expected soft-deleted scan to be invisible to Get")

	mgr.hardDelete([]string{sc.ID})

	_, err = os.Stat(resultsDir)
	require.True(t, os.IsNotExist(err), "expected results dir to be removed, stat err = %v", err)
}

func TestBlacklistAdapterConvertsRules(t *testing.T) {
	db := newTestDB(t)
	bl := store.NewBlacklistStore(db)
	targetID := "target-1"
	require.NoError(t, bl.Create(context.Background(), &store.BlacklistRule{ID: "r1", TargetID: &targetID, Pattern: "*.internal.example.com", Kind: "glob"}))
	require.NoError(t, bl.Create(context.Background(), &store.BlacklistRule{ID: "r2", Pattern: "admin", Kind: "substring"}))

	adapter := BlacklistAdapter{Store: bl}
	rules, err := adapter.Load(context.Background(), targetID)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	for _, r := range rules {
		switch r.Pattern {
		case "*.internal.example.com":
			require.Equal(t, blacklist.KindGlob, r.Kind)
		case "admin":
			require.Equal(t, blacklist.KindSubstring, r.Kind)
		default:
			t.Fatalf("unexpected pattern %q", r.Pattern)
		}
	}
}

// waitForDispatch polls until CreateScans' detached dispatch goroutine has
// recorded a worker id on the scan row.
func waitForDispatch(t *testing.T, scans *store.ScanStore, scanID string) {
	t.Helper()
	for i := 0; i < 200; i++ {
		sc, err := scans.Get(context.Background(), scanID)
		require.NoError(t, err)
		if sc.WorkerID != nil || sc.Status == store.ScanFailed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for dispatch to complete")
}
