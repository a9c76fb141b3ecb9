package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/velocityhq/velocity/internal/expressions"
	"github.com/velocityhq/velocity/internal/graph"
	"github.com/velocityhq/velocity/internal/jobs"
	"github.com/velocityhq/velocity/internal/ledger"
	"github.com/velocityhq/velocity/internal/logging"
	"github.com/velocityhq/velocity/internal/scheduler"
	"github.com/velocityhq/velocity/internal/secrets"
	"github.com/velocityhq/velocity/internal/server"
	"github.com/velocityhq/velocity/internal/stages"
	"github.com/velocityhq/velocity/internal/store"
	"github.com/velocityhq/velocity/internal/streaming"
	"github.com/velocityhq/velocity/internal/tools"
	"github.com/velocityhq/velocity/internal/validation"
	"github.com/velocityhq/velocity/pkg/mcp"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	mcpMode := flag.Bool("mcp", false, "serve the MCP stdio transport instead of HTTP")
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if err := run(*mcpMode); err != nil {
		fmt.Fprintf(os.Stderr, "velocityd: %v\n", err)
		os.Exit(1)
	}
}

func run(mcpMode bool) error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	validator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return fmt.Errorf("build validator: %w", err)
	}
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return fmt.Errorf("build cel engine: %w", err)
	}

	var sim *tools.Simulation
	if cfg.Simulate {
		sim = tools.NewSimulation()
	}
	registry := tools.NewRegistry(validator, sim, cfg.Offline)
	tools.RegisterBuiltins(registry)

	led := ledger.New(st, logger)

	handlers := stages.All(&stages.Deps{
		Registry: registry,
		JQ:       expressions.NewGoJQEngine(),
		Expr:     expressions.NewExprEngine(),
		Logger:   logger,
		RiskExpr: cfg.RiskExpr,
	})
	g, err := graph.New(handlers)
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}
	hub := streaming.NewMemoryHub()
	router := graph.NewRouter(g, st, led, celEngine, logger, graph.RouterOptions{
		MaxRetries: cfg.MaxRetries,
		Hub:        hub,
	})

	pool := jobs.NewWorkerPool(cfg.PoolSize)
	manager := jobs.NewManager(ctx, st, router, led, validator, pool, logger)
	defer manager.Shutdown()

	// Credentials in the application payload are only sealed when a master
	// key is present; without one they are checkpointed as received.
	if passphrase := os.Getenv("VELOCITY_MASTER_KEY"); passphrase != "" {
		sealer, err := secrets.NewAESSealer(secrets.SealerConfig{
			Passphrase: passphrase,
			Salt:       []byte("velocity-checkpoint-v1"),
		})
		if err != nil {
			return fmt.Errorf("build sealer: %w", err)
		}
		manager.WithSealer(sealer)
	} else {
		logger.Warn("VELOCITY_MASTER_KEY not set, application credentials stored unsealed")
	}

	sched := scheduler.New(st, led, registry, logger, scheduler.Options{
		CronExpr:   cfg.ReviewCron,
		StaleAfter: cfg.staleAfter(),
	})
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() { _ = sched.Stop() }()

	if mcpMode {
		logger.Info("starting mcp stdio server", slog.String("db", cfg.DBPath))
		mcpSrv := mcp.NewVelocityServer(mcp.VelocityServerDeps{
			Manager:  manager,
			Ledger:   led,
			Store:    st,
			Registry: registry,
			Graph:    g,
			Logger:   logger,
		})
		return mcpSrv.Serve(ctx)
	}

	logger.Info("starting http server",
		slog.String("addr", cfg.ListenAddr),
		slog.String("db", cfg.DBPath),
		slog.Bool("offline", cfg.Offline),
		slog.Bool("simulate", cfg.Simulate))
	srv := server.New(server.Deps{
		Store:     st,
		Manager:   manager,
		Ledger:    led,
		Registry:  registry,
		Graph:     g,
		Scheduler: sched,
		Hub:       hub,
		Logger:    logger,
	})
	return srv.ListenAndServe(ctx, cfg.ListenAddr)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
