package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agenda4go/internal/agenda"
	"agenda4go/internal/agenda/engine"
	"agenda4go/internal/agenda/index"
	"agenda4go/internal/agenda/lifecycle"
	"agenda4go/internal/agenda/registry"
	"agenda4go/internal/agenda/store"
	"agenda4go/internal/config"
	"agenda4go/internal/eventbus"

	examplespeedtest "agenda4go/examples/handlers/speedtest"

	logx "agenda4go/pkg/logx"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func main() {
	var (
		cfgPath      string
		ensureIndex  bool
		printVersion bool
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config json")
	flag.BoolVar(&ensureIndex, "ensure-indexes", false, "ensure required store indexes exist, then exit")
	flag.BoolVar(&printVersion, "version", false, "print version and exit")
	flag.Parse()

	if printVersion {
		fmt.Println("agenda4go-demo (dev)")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mgr := config.NewConfigManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		fmt.Println("fatal: load config:", err)
		os.Exit(1)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	defer logSvc.Close()
	mgr.SetLogger(log)

	st, err := store.Open(ctx, store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: mustDuration(log, "storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second),
	}, log)
	if err != nil {
		log.Error("fatal: open store", logx.Err(err))
		os.Exit(1)
	}
	defer st.Close()

	if ensureIndex {
		if err := ensureIndexes(ctx, cfg.Storage); err != nil {
			log.Error("fatal: ensure indexes", logx.Err(err))
			os.Exit(1)
		}
		log.Info("required indexes present")
		return
	}

	bus := eventbus.New()

	reg, err := registry.New(
		examplespeedtest.NewHandler(func(r examplespeedtest.Result) {
			log.Info("speedtest completed",
				logx.String("isp", r.ISP),
				logx.String("server", r.ServerName),
			)
		}),
	)
	if err != nil {
		log.Error("fatal: build registry", logx.Err(err))
		os.Exit(1)
	}

	workerID := cfg.Agenda.WorkerID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString())
		if len(workerID) > 128 {
			workerID = workerID[:128]
		}
	}

	engCfg := engine.Config{
		Enabled:             cfg.Agenda.Enabled,
		WorkerID:            workerID,
		ProcessEvery:        mustDuration(log, "agenda.process_every", cfg.Agenda.ProcessEvery, 5*time.Second),
		DefaultLockLifetime: mustDuration(log, "agenda.default_lock_lifetime", cfg.Agenda.DefaultLockLifetime, 10*time.Minute),
		MaxConcurrency:      cfg.Agenda.MaxConcurrency,
		DefaultConcurrency:  cfg.Agenda.DefaultConcurrency,
		LockLimit:           cfg.Agenda.LockLimit,
		BatchSize:           cfg.Agenda.BatchSize,
		MaxRetryCount:       cfg.Agenda.MaxRetryCount,
	}
	svc := engine.New(engCfg, log, bus, st, reg)

	binding, err := lifecycle.Bind(ctx, svc, log, lifecycle.Options{
		Systemd:       cfg.Agenda.Systemd.Enabled,
		WatchdogEvery: mustDuration(log, "agenda.systemd.watchdog_every", cfg.Agenda.Systemd.WatchdogEvery, 0),
	})
	if err != nil {
		log.Error("fatal: start engine", logx.Err(err))
		os.Exit(1)
	}

	seedDemoJob(ctx, svc, log)

	<-ctx.Done()
	binding.Stop(context.Background())
}

// ensureIndexes opens a raw connection (bypassing the store's own
// migration) and creates any index.Required descriptor that is missing, for
// operators whose schema is managed by a separate migration tool.
func ensureIndexes(ctx context.Context, cfg config.StorageConfig) error {
	driver := cfg.Driver
	dsn := cfg.DSN
	switch driver {
	case "sqlite", "sqlite3":
		dsn = cfg.Path
	case "postgres", "postgresql":
		driver = "postgres"
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}

	sqlDriver := driver
	if sqlDriver == "sqlite3" {
		sqlDriver = "sqlite"
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", driver, err)
	}
	defer db.Close()

	return index.EnsureAll(ctx, db, driver)
}

func mustDuration(log logx.Logger, path, raw string, def time.Duration) time.Duration {
	d, err := config.ParseDurationOrDefault(path, raw, def)
	if err != nil {
		log.Warn("invalid duration, using default", logx.String("path", path), logx.Err(err))
		return def
	}
	return d
}

// seedDemoJob registers one recurring speedtest job so a freshly started
// demo node has something to observe immediately.
func seedDemoJob(ctx context.Context, svc *engine.Service, log logx.Logger) {
	_, result, err := engine.Every(svc, examplespeedtest.HandlerName, "15m", examplespeedtest.Payload{}).
		Single().
		Priority(agenda.PriorityNormal).
		Save(ctx)
	if err != nil {
		log.Warn("seed demo job failed", logx.Err(err))
		return
	}
	log.Info("seeded demo job", logx.String("result", result.String()))
}
