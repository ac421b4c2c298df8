package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/whalefall/accountsync/internal/classify"
	"github.com/whalefall/accountsync/internal/credentials"
	"github.com/whalefall/accountsync/internal/database/common"
	"github.com/whalefall/accountsync/internal/engine"
	"github.com/whalefall/accountsync/internal/pool"
	"github.com/whalefall/accountsync/internal/scheduler"
	"github.com/whalefall/accountsync/internal/store"
	"github.com/whalefall/accountsync/pkg/config"
	"github.com/whalefall/accountsync/pkg/database"
	"github.com/whalefall/accountsync/pkg/encryption"
	"github.com/whalefall/accountsync/pkg/logger"

	// Import all database adapters to trigger their init() registration
	_ "github.com/whalefall/accountsync/internal/database/mssql"
	_ "github.com/whalefall/accountsync/internal/database/mysql"
	_ "github.com/whalefall/accountsync/internal/database/oracle"
	_ "github.com/whalefall/accountsync/internal/database/postgres"
)

var (
	configPath  = flag.String("config", "accountsync.yaml", "Path to the configuration file")
	metricsAddr = flag.String("metrics", ":9190", "Prometheus metrics listen address (serve mode)")
	instanceArg = flag.Int64("instance", 0, "Instance id filter for cleanup / classify")
	version     = "1.0.0"
)

const usage = `Usage: accountsync [flags] <command> [args]

Commands:
  serve                      run the scheduler and metrics endpoint
  migrate                    create the canonical schema
  sync-single <id>           sync one instance
  sync-batch <id,id,...>     sync a set of instances as one session
  sync-dialect <dialect>     sync every active instance of a dialect
  run-task <id>              fire a scheduled task immediately
  test-connection <id>       probe an instance and report version/latency
  cleanup [-instance id]     hard-delete orphaned local accounts
  classify [-instance id]    run rule-based auto-classification
`

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	log := logger.New("accountsync", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer app.Close()

	if err := app.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

// app holds the wired components for one process.
type app struct {
	cfg         *config.Config
	logger      *logger.Logger
	db          *database.PostgreSQL
	store       *store.Store
	pool        *pool.Manager
	coordinator *engine.Coordinator
	classifier  *classify.Engine
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	db, err := database.New(ctx, database.FromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect canonical store: %w", err)
	}

	st := store.New(db.Pool(), log)

	enc, err := encryption.NewManager()
	if err != nil {
		db.Close()
		return nil, err
	}

	provider := credentials.NewProvider(st, enc, cfg)
	pm := pool.NewManager(provider.InstanceConfig, log,
		pool.WithMaxPerInstance(cfg.GetInt("sync.max_per_instance", pool.DefaultMaxPerInstance)),
		pool.WithSweepInterval(cfg.GetDuration("sync.pool_sweep_interval", pool.DefaultSweepInterval)))

	return &app{
		cfg:         cfg,
		logger:      log,
		db:          db,
		store:       st,
		pool:        pm,
		coordinator: engine.NewCoordinator(st, pm, cfg, log),
		classifier:  classify.NewEngine(st, log),
	}, nil
}

func (a *app) Close() {
	a.pool.Close()
	a.db.Close()
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "serve":
		return a.serve(ctx)
	case "migrate":
		return a.store.Migrate(ctx)
	case "sync-single":
		id, err := argInt64(args, "instance id")
		if err != nil {
			return err
		}
		result, err := a.coordinator.SyncSingle(ctx, id)
		if err != nil {
			return err
		}
		if !result.Success {
			return fmt.Errorf("%s: %s", result.ErrorKind, result.Detail)
		}
		a.logger.Infof("synced: %d added, %d modified, %d removed in %s",
			result.Counters.Added, result.Counters.Modified, result.Counters.Removed,
			result.Duration.Round(time.Millisecond))
		return nil
	case "sync-batch":
		if len(args) == 0 {
			return fmt.Errorf("expected a comma-separated instance id list")
		}
		ids, err := parseIDList(args[0])
		if err != nil {
			return err
		}
		sessionID, err := a.coordinator.SyncBatch(ctx, ids, store.SyncManualBatch, nil)
		if err != nil {
			return err
		}
		fmt.Println(sessionID)
		return nil
	case "sync-dialect":
		if len(args) == 0 {
			return fmt.Errorf("expected a dialect (%v)", common.Dialects())
		}
		dialect, err := common.ParseDialect(args[0])
		if err != nil {
			return err
		}
		sessionID, err := a.coordinator.SyncByDialect(ctx, dialect)
		if err != nil {
			return err
		}
		fmt.Println(sessionID)
		return nil
	case "run-task":
		id, err := argInt64(args, "task id")
		if err != nil {
			return err
		}
		sched, err := scheduler.New(a.store, a.coordinator, a.cfg, a.logger)
		if err != nil {
			return err
		}
		sessionID, err := sched.RunTask(ctx, id)
		if err != nil {
			return err
		}
		if sessionID == "" {
			a.logger.Warn("task matched no active instances")
			return nil
		}
		fmt.Println(sessionID)
		return nil
	case "test-connection":
		id, err := argInt64(args, "instance id")
		if err != nil {
			return err
		}
		result, err := a.coordinator.TestConnection(ctx, id)
		if err != nil {
			return err
		}
		if !result.OK {
			return fmt.Errorf("connection failed: %s", result.Error)
		}
		a.logger.Infof("ok: %s (%s)", result.Version, result.Latency.Round(time.Millisecond))
		return nil
	case "cleanup":
		result, err := a.coordinator.CleanupOrphans(ctx, optionalInstance())
		if err != nil {
			return err
		}
		a.logger.Infof("checked %d instances, removed %d orphans",
			result.InstancesChecked, result.OrphansDeleted)
		for _, e := range result.Errors {
			a.logger.Warnf("cleanup: %s", e)
		}
		return nil
	case "classify":
		batch, err := a.classifier.AutoClassify(ctx, optionalInstance())
		if err != nil {
			return err
		}
		a.logger.Infof("batch %d: %d accounts, %d matched",
			batch.ID, batch.TotalAccounts, batch.MatchedAccounts)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// serve runs the scheduler loop, the metrics endpoint and the change-log
// retention purge until interrupted.
func (a *app) serve(ctx context.Context) error {
	if err := a.store.Migrate(ctx); err != nil {
		return err
	}

	sched, err := scheduler.New(a.store, a.coordinator, a.cfg, a.logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Errorf("metrics server: %v", err)
		}
	}()
	a.logger.Infof("metrics listening on %s", *metricsAddr)

	go a.retentionLoop(ctx)

	sched.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// retentionLoop purges old change-log rows once a day.
func (a *app) retentionLoop(ctx context.Context) {
	retention := a.cfg.GetDuration("changelog.retention", 90*24*time.Hour)
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.coordinator.PurgeChangeLog(ctx, retention); err != nil {
				a.logger.Errorf("change log purge: %v", err)
			}
		}
	}
}

func argInt64(args []string, what string) (int64, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("expected %s", what)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, args[0])
	}
	return id, nil
}

func parseIDList(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid instance id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func optionalInstance() *int64 {
	if *instanceArg > 0 {
		id := *instanceArg
		return &id
	}
	return nil
}
