package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"neuroforge/internal/banner"
	"neuroforge/internal/codegen"
	"neuroforge/internal/config"
	"neuroforge/internal/db"
	"neuroforge/internal/docsync"
	"neuroforge/internal/domain"
	"neuroforge/internal/embedding"
	"neuroforge/internal/gateway"
	"neuroforge/internal/llm"
	"neuroforge/internal/memory"
	"neuroforge/internal/metrics"
	"neuroforge/internal/orchestrator"
	"neuroforge/internal/runnerclient"
	"neuroforge/internal/sandbox"
	"neuroforge/internal/scheduler"
	"neuroforge/internal/tokenizer"
	"neuroforge/internal/vectorindex"
)

// waitForShutdown is set by init in main_signal.go so tests can inject a
// no-op to cover the nil-shutdownCh path.
var waitForShutdown func()

// serveShutdownCh is set by tests to unblock runServe without signals.
// Production leaves it nil.
var serveShutdownCh <-chan struct{}

// serveBindWaitIterations is the max loop count waiting for the gateway to
// bind. Tests may set it to 0 to cover the bind-failure branch.
var serveBindWaitIterations = 50

// serveBindErrWriter is where bind errors are written. Tests capture it.
var serveBindErrWriter interface{ Write([]byte) (int, error) } = os.Stderr

func loadConfigAndLogger() (*domain.Config, *slog.Logger, bool) {
	cfgPath := os.Getenv("NEUROFORGE_CONFIG")
	if cfgPath == "" {
		cfgPath = "neuroforge.json"
	}
	cfg, err := config.Load(cfgPath)
	loaded := err == nil
	if !loaded {
		cfg = config.Default()
		if envErr := config.ApplyEnv(cfg); envErr != nil {
			fmt.Fprintf(os.Stderr, "  config env: %v\n", envErr)
		}
		config.CleanPaths(cfg)
	}
	return cfg, newLogger(cfg.Infra), loaded
}

func newLogger(infra domain.InfraConfig) *slog.Logger {
	var level slog.Level
	switch infra.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if infra.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// buildEngine assembles the orchestration engine from config: memory index,
// LLM agents, tokenizer clipper, and the code runner (remote or in-process).
func buildEngine(cfg *domain.Config, logger *slog.Logger) (*orchestrator.Engine, *memory.Store, func(), error) {
	conn, err := db.Connect(cfg.Memory.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("memory database: %w", err)
	}
	embedder := embedding.NewOllamaEmbedder(cfg.Memory.EmbedModel, cfg.Memory.EmbedURL)
	index, err := vectorindex.NewSQLiteIndex(conn, embedder)
	if err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("vector index: %w", err)
	}
	store := memory.NewStore(index)

	writerProvider, err := llm.NewProvider(cfg.Agents.Provider, cfg.Agents.WriterModel, &cfg.Retry)
	if err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("writer provider: %w", err)
	}
	fixerProvider, err := llm.NewProvider(cfg.Agents.Provider, cfg.Agents.FixerModel, &cfg.Retry)
	if err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("fixer provider: %w", err)
	}
	writer := codegen.NewWriter(writerProvider, logger)
	fixer := codegen.NewFixer(fixerProvider, logger)

	var clipper orchestrator.ContextClipper
	if tk, err := tokenizer.NewTikToken(""); err != nil {
		logger.Warn("tokenizer unavailable, priming context unclipped", "error", err)
	} else {
		clipper = tk
	}

	var runner domain.CodeRunner
	if cfg.Kernel.RunnerURL != "" {
		runner = runnerclient.New(cfg.Kernel.RunnerURL)
	} else {
		local, err := sandbox.NewRunner(sandbox.NewDockerCLI(), cfg.Runner, logger)
		if err != nil {
			conn.Close()
			return nil, nil, nil, fmt.Errorf("sandbox runner: %w", err)
		}
		runner = local
	}

	engine := orchestrator.NewEngine(writer, fixer, runner, store, clipper, cfg.Agents.ContextLimit, cfg.Kernel, logger)
	cleanup := func() { conn.Close() }
	return engine, store, cleanup, nil
}

// runServe starts the kernel API. If shutdownCh is non-nil, it returns when
// shutdownCh is closed (for tests). Otherwise it blocks on OS signals.
func runServe(cmd *cobra.Command, shutdownCh <-chan struct{}) error {
	cfg, logger, loaded := loadConfigAndLogger()
	banner.Startup(getVersion(), nil)
	if !loaded {
		fmt.Println("  (no config file, using defaults)")
	}

	engine, store, cleanup, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	m := metrics.New()
	api := gateway.NewKernelAPI(engine, m, logger)
	srv, err := gateway.NewServer(cfg.Gateway.Port, cfg.Gateway.AuthToken, api.Routes())
	if err != nil {
		return err
	}

	var watcher *docsync.Watcher
	if cfg.Kernel.DocsDir != "" {
		watcher = docsync.New(cfg.Kernel.DocsDir, store, logger)
		if err := watcher.Start(context.Background()); err != nil {
			logger.Warn("docs watcher failed to start", "dir", cfg.Kernel.DocsDir, "error", err)
			watcher = nil
		} else {
			fmt.Printf("  docs %s\n", cfg.Kernel.DocsDir)
		}
	}

	gatewayShutdown := make(chan struct{})
	go func() {
		_ = srv.Run(gatewayShutdown)
	}()
	// Wait until the server has bound so "ready." means clients can connect.
	var bound string
	for i := 0; i < serveBindWaitIterations; i++ {
		if a := srv.Addr(); a != "" {
			bound = a
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if bound != "" {
		fmt.Printf("  listen %s\n  ready.\n", bound)
	} else {
		if err := srv.ListenErr(); err != nil {
			fmt.Fprintf(serveBindErrWriter, "  gateway failed to bind: %v\n", err)
		} else {
			fmt.Fprintln(serveBindErrWriter, "  gateway failed to bind (check port or permissions)")
		}
	}

	var sched *scheduler.Scheduler
	if cfg.Kernel.RunnerURL == "" {
		sched = startReaper(cfg.Kernel.ReapSchedule, sandbox.NewDockerCLI(), logger)
	}

	if shutdownCh != nil {
		<-shutdownCh
	} else {
		waitForShutdown()
	}
	if sched != nil {
		sched.Stop()
	}
	if watcher != nil {
		_ = watcher.Stop()
	}
	close(gatewayShutdown)
	return nil
}

// startReaper schedules the stale-container and workspace reaper when a
// schedule is configured. Returns nil when disabled.
func startReaper(schedule string, cli *sandbox.DockerCLI, logger *slog.Logger) *scheduler.Scheduler {
	if schedule == "" {
		return nil
	}
	reaper := sandbox.NewReaper(cli, logger)
	sched := scheduler.NewScheduler(scheduler.NewRobfigCronEngine(), scheduler.WithLogger(logger))
	job := scheduler.Job{
		ID:       "reap",
		Name:     "sandbox reaper",
		CronExpr: schedule,
		Run: func(ctx context.Context) error {
			reaper.Reap(ctx)
			return nil
		},
	}
	if err := sched.AddJob(job); err != nil {
		logger.Warn("reaper job not scheduled", "error", err)
		return nil
	}
	sched.Start()
	fmt.Println("  scheduler started")
	return sched
}
