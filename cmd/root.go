// Package cmd wires the scanhubctl CLI: cobra command tree, configuration
// loading, and dependency construction (store, dispatcher, orchestrator),
// generalized from the teacher's root.go flag-parsing/graceful-shutdown
// shape into a cobra.Command tree (teacher's direct spf13/cobra dep, kept).
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/glebarez/sqlite"

	"github.com/surfacectl/scanhub/internal/config"
	"github.com/surfacectl/scanhub/internal/dispatch"
	"github.com/surfacectl/scanhub/internal/heartbeat"
	"github.com/surfacectl/scanhub/internal/lifecycle"
	"github.com/surfacectl/scanhub/internal/runner"
	"github.com/surfacectl/scanhub/internal/sink"
	"github.com/surfacectl/scanhub/internal/stage"
	"github.com/surfacectl/scanhub/internal/store"
	"github.com/surfacectl/scanhub/internal/target"
	"github.com/surfacectl/scanhub/pkg/logger"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var (
	flagDSN         string
	flagSqlitePath  string
	flagRedisAddr   string
	flagConfigFile  string
	flagResultsDir  string
	flagWordlistDir string
	flagLoadLimit   float64
	flagWorkerID    string
)

// Execute is the scanhubctl entry point.
func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "scanhubctl",
		Short:   "Attack-surface scan orchestration engine",
		Version: fmt.Sprintf("%s (%s)", Version, GitCommit),
	}

	root.PersistentFlags().StringVar(&flagDSN, "db-dsn", "", "Postgres DSN (empty uses the local sqlite file below)")
	root.PersistentFlags().StringVar(&flagSqlitePath, "sqlite-path", "scanhub.db", "sqlite file used when --db-dsn is empty")
	root.PersistentFlags().StringVar(&flagRedisAddr, "redis-addr", "127.0.0.1:6379", "Redis address for the worker heartbeat store")
	root.PersistentFlags().StringVar(&flagConfigFile, "config", "", "Path to the stage configuration file")
	root.PersistentFlags().StringVar(&flagResultsDir, "results-dir", "./results", "Base directory for per-scan results directories")
	root.PersistentFlags().StringVar(&flagWordlistDir, "wordlist-dir", "./wordlists", "Directory holding subdomain/directory wordlists")
	root.PersistentFlags().Float64Var(&flagLoadLimit, "load-limit", 0, "1-minute load average above which stages wait before starting (0 disables the gate)")
	root.PersistentFlags().StringVar(&flagWorkerID, "worker-id", "local", "This process's worker id, posted with every heartbeat")

	root.AddCommand(newMigrateCmd(), newTargetCmd(), newScanCmd(), newServeCmd())
	return root
}

func openDB() (*store.DB, error) {
	var gdb *gorm.DB
	var err error
	if flagDSN != "" {
		gdb, err = gorm.Open(postgres.Open(flagDSN), &gorm.Config{})
	} else {
		gdb, err = gorm.Open(sqlite.Open(flagSqlitePath), &gorm.Config{})
	}
	if err != nil {
		return nil, fmt.Errorf("cmd: opening database: %w", err)
	}
	return store.New(gdb), nil
}

func openRedis() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: flagRedisAddr})
}

func loadConfig() (*config.ScanConfig, error) {
	if flagConfigFile == "" {
		return config.Default(), nil
	}
	return config.Load(flagConfigFile)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update every table",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			return db.AutoMigrate()
		},
	}
}

func newTargetCmd() *cobra.Command {
	targetCmd := &cobra.Command{Use: "target", Short: "Manage scan targets"}

	var targetType string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a new target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			name, err := target.Normalize(store.TargetType(targetType), args[0])
			if err != nil {
				return err
			}
			targets := store.NewTargetStore(db)
			t := &store.Target{
				ID:   uuidString(),
				Name: name,
				Type: store.TargetType(targetType),
			}
			if err := targets.Create(cmd.Context(), t); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.ID)
			return nil
		},
	}
	add.Flags().StringVar(&targetType, "type", "DOMAIN", "Target type: DOMAIN, IP, or CIDR")
	targetCmd.AddCommand(add)
	return targetCmd
}

func newScanCmd() *cobra.Command {
	scanCmd := &cobra.Command{Use: "scan", Short: "Start, stop, and remove scans"}

	var quick bool
	var engineNames []string
	start := &cobra.Command{
		Use:   "start <target-id>...",
		Short: "Start a scan against one or more targets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, db, err := buildManager(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB(db)

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			mode := store.ModeFull
			if quick {
				mode = store.ModeQuick
			}
			engineIDs := make([]string, len(engineNames))
			for i := range engineNames {
				engineIDs[i] = uuidString()
			}
			scans, err := mgr.CreateScans(cmd.Context(), args, engineIDs, engineNames, cfg, mode)
			if err != nil {
				return err
			}
			for _, sc := range scans {
				fmt.Fprintln(cmd.OutOrStdout(), sc.ID)
			}
			return nil
		},
	}
	start.Flags().BoolVar(&quick, "quick", false, "Run in QUICK mode (read from this scan's own snapshots)")
	start.Flags().StringSliceVar(&engineNames, "engine", nil, "Named scan engine to record against this scan")

	stop := &cobra.Command{
		Use:   "stop <scan-id>",
		Short: "Stop a running or initiated scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, db, err := buildManager(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB(db)
			return mgr.StopScan(cmd.Context(), args[0])
		},
	}

	rm := &cobra.Command{
		Use:   "rm <scan-id>...",
		Short: "Soft-delete scans, hard-deleting them and their results directories in the background",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, db, err := buildManager(cmd.Context())
			if err != nil {
				return err
			}
			defer closeDB(db)
			return mgr.Delete(cmd.Context(), args)
		},
	}

	scanCmd.AddCommand(start, stop, rm)
	return scanCmd
}

// newServeCmd runs this process as a worker: it posts heartbeats for
// --worker-id so the dispatcher sees that worker as online. The LocalInvoker
// it builds receives no scans; a scan dispatched to this worker id runs in
// the LocalInvoker of the CLI process that dispatched it (see buildManager).
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run this process as a scan-execution worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer closeDB(db)

			rdb := openRedis()
			defer rdb.Close()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			scans := store.NewScanStore(db)
			targets := store.NewTargetStore(db)
			blacklists := store.NewBlacklistStore(db)
			hbStore := heartbeat.New(rdb)

			slogger := logger.GetGlobalSlogger()
			sk := sink.New(db, scans, slogger)

			var gate stage.Gate = stage.NoOpGate{}
			if flagLoadLimit > 0 {
				gate = stage.LoadGate{Sample: stage.ReadLoadAverage, Threshold: flagLoadLimit, PollInterval: 2 * time.Second}
			}

			invoker := lifecycle.NewLocalInvoker(scans, targets, db, blacklists, sk, runner.Tool{}, cfg, gate, flagWordlistDir, config.WordlistManifest{}, slogger)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			go postHeartbeats(ctx, hbStore, flagWorkerID)

			_ = invoker // kept alive for the lifetime of the process; scans arrive via the dispatcher in the CLI process

			slog.Info("scanhubctl worker serving", "worker_id", flagWorkerID)
			<-ctx.Done()
			slog.Info("scanhubctl worker shutting down")
			return nil
		},
	}
}

func postHeartbeats(ctx context.Context, hb *heartbeat.Store, workerID string) {
	ticker := time.NewTicker(heartbeat.TTL / 3)
	defer ticker.Stop()
	for {
		cpu, mem := sampleLoad()
		if err := hb.Post(ctx, workerID, cpu, mem); err != nil {
			slog.Error("heartbeat post failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sampleLoad reports a coarse load figure for the heartbeat: ten times the
// 1-minute load average as the CPU figure, and 0 as the memory figure.
// No pack example wires a cross-platform CPU/memory sampling library and a
// precise figure isn't load-bearing for worker selection beyond relative
// ordering, so this stays on /proc/loadavg via the existing stage.Gate
// reader rather than adding a dependency (see DESIGN.md).
func sampleLoad() (cpu, mem float64) {
	load, err := stage.ReadLoadAverage()
	if err != nil {
		return 0, 0
	}
	return load * 10, 0
}

func buildManager(ctx context.Context) (*lifecycle.Manager, *store.DB, error) {
	db, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	rdb := openRedis()
	hbStore := heartbeat.New(rdb)

	scans := store.NewScanStore(db)
	targets := store.NewTargetStore(db)
	registry := dispatch.StaticRegistry{Workers: []dispatch.Worker{{ID: flagWorkerID, Name: flagWorkerID}}}

	blacklists := store.NewBlacklistStore(db)
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	slogger := logger.GetGlobalSlogger()
	sk := sink.New(db, scans, slogger)
	invoker := lifecycle.NewLocalInvoker(scans, targets, db, blacklists, sk, runner.Tool{}, cfg, stage.NoOpGate{}, flagWordlistDir, config.WordlistManifest{}, slogger)
	dispatcher := dispatch.New(registry, hbStore, invoker)

	return lifecycle.NewManager(scans, targets, dispatcher, flagResultsDir, slogger), db, nil
}

func closeDB(db *store.DB) {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return
	}
	_ = sqlDB.Close()
}

func uuidString() string {
	return uuid.NewString()
}
