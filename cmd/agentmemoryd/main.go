// agentmemoryd runs the memory service: session buffers with Redis
// snapshot recovery, a durable fact store, goal tracking, episode
// detection, and the hourly consolidation worker, with health and
// Prometheus metrics endpoints.
//
// Usage:
//
//	agentmemoryd serve                        # start the service
//	agentmemoryd serve --config config.yaml   # with a config file
//	agentmemoryd version                      # show version information
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentmemory/config"
	"github.com/BaSui01/agentmemory/consolidation"
	"github.com/BaSui01/agentmemory/episodes"
	"github.com/BaSui01/agentmemory/goals"
	"github.com/BaSui01/agentmemory/internal/cache"
	"github.com/BaSui01/agentmemory/internal/database"
	"github.com/BaSui01/agentmemory/internal/metrics"
	"github.com/BaSui01/agentmemory/memory"
	"github.com/BaSui01/agentmemory/orchestrator"
	"github.com/BaSui01/agentmemory/salience"
	"github.com/BaSui01/agentmemory/store"
)

// Version information, injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	metricsAddr := fs.String("metrics-addr", ":9090", "Health and metrics listen address (empty disables)")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, level := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting agentmemoryd",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config hot reload: only the log level applies live; everything else
	// needs a restart, which the subscriber says out loud.
	if *configPath != "" {
		reloader, err := config.NewReloader(loader, 10*time.Second, logger)
		if err != nil {
			logger.Fatal("config reloader", zap.Error(err))
		}
		reloader.Subscribe(func(old, updated *config.Config) {
			if old.Log.Level != updated.Log.Level {
				level.SetLevel(parseLevel(updated.Log.Level))
				logger.Info("log level changed", zap.String("level", updated.Log.Level))
			} else {
				logger.Info("config changed, restart to apply")
			}
		})
		reloader.Start(ctx)
		defer reloader.Stop()
	}

	collector := metrics.NewCollector("agentmemory", logger)

	// Session buffers, with Redis snapshots when Redis is reachable.
	var snapshots memory.SnapshotStore
	if rdb, err := cache.Connect(ctx, cfg.Redis, logger); err != nil {
		logger.Warn("redis unavailable, sessions will not survive eviction", zap.Error(err))
	} else {
		defer rdb.Close()
		snapshots = memory.NewRedisSnapshotStore(rdb.Client(), cfg.Memory.SnapshotTTL, logger)
	}

	sessions := memory.NewManager(memory.ManagerConfig{
		MaxSessionsPerUser: cfg.Memory.MaxSessionsPerUser,
		IdleTimeout:        cfg.Memory.IdleTimeout,
		SweepInterval:      cfg.Memory.SweepInterval,
		SnapshotTimeout:    cfg.Memory.SnapshotTimeout,
		WorkingMemory:      memory.WorkingMemoryConfig{MaxTurns: cfg.Memory.MaxTurns},
	}, snapshots, logger)
	sessions.SetMetrics(collector)
	if err := sessions.Start(ctx); err != nil {
		logger.Fatal("memory manager", zap.Error(err))
	}
	defer sessions.Stop()

	// Durable facts: SQL when the database opens, in-memory otherwise.
	var facts store.FactStore
	pool, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Warn("database unavailable, facts will not persist", zap.Error(err))
		facts = store.NewInMemoryFactStore(store.InMemoryFactStoreConfig{}, logger)
	} else {
		defer pool.Close()
		sqlFacts, err := store.NewSQLFactStore(pool.DB(), logger)
		if err != nil {
			logger.Fatal("fact store", zap.Error(err))
		}
		facts = sqlFacts
	}

	graph := store.NewInMemoryGraph(store.InMemoryGraphConfig{}, logger)
	patterns := store.NewInMemoryPatternStore(nil, logger)

	tracker := goals.NewTracker(goals.TrackerConfig{
		MinConfidence:     cfg.Goals.MinConfidence,
		CompletionOverlap: cfg.Goals.CompletionOverlap,
	}, logger)

	detector := episodes.NewDetector(graph, episodes.DetectorConfig{
		Window:             cfg.Episodes.Window,
		MinClusterSize:     cfg.Episodes.MinClusterSize,
		MinDeadlineCluster: cfg.Episodes.MinDeadlineCluster,
		ActivityNorm:       cfg.Episodes.ActivityNorm,
		CacheTTL:           cfg.Episodes.CacheTTL,
		MaxEpisodes:        cfg.Episodes.MaxEpisodes,
	}, logger)
	detector.SetMetrics(collector)

	scorer := salience.NewScorer(salience.ScorerConfig{
		Weights: salience.Weights{
			Recency:       cfg.Salience.Weights.Recency,
			Frequency:     cfg.Salience.Weights.Frequency,
			Relevance:     cfg.Salience.Weights.Relevance,
			Importance:    cfg.Salience.Weights.Importance,
			GoalAlignment: cfg.Salience.Weights.GoalAlignment,
			EntityOverlap: cfg.Salience.Weights.EntityOverlap,
		},
		RecencyHalfLife:    cfg.Salience.RecencyHalfLife,
		MaxAssumedAccesses: cfg.Salience.MaxAssumedAccesses,
	}, logger)

	orch := orchestrator.New(sessions, tracker, facts, graph, scorer, detector, orchestrator.Config{
		FactSearchLimit:  cfg.Orchestrator.FactSearchLimit,
		RecentTurnWindow: cfg.Orchestrator.RecentTurnWindow,
		BranchTimeout:    cfg.Orchestrator.BranchTimeout,
		DueSoonWindow:    cfg.Orchestrator.DueSoonWindow,
		MaxContextLength: cfg.Orchestrator.MaxContextLength,
	}, collector, logger)

	worker := consolidation.NewWorker(sessions, facts, tracker, patterns, consolidation.WorkerConfig{
		Interval:           cfg.Consolidation.Interval,
		RunTimeout:         cfg.Consolidation.RunTimeout,
		PromotionThreshold: cfg.Consolidation.PromotionThreshold,
		DecayAfter:         cfg.Consolidation.DecayAfter,
		DecayRate:          cfg.Consolidation.DecayRate,
		MergeThreshold:     cfg.Consolidation.MergeThreshold,
		MergeBoost:         cfg.Consolidation.MergeBoost,
		RemovalFloor:       cfg.Consolidation.RemovalFloor,
		GoalRetention:      cfg.Consolidation.GoalRetention,
		PatternStaleness:   cfg.Consolidation.PatternStaleness,
		PatternPenalty:     cfg.Consolidation.PatternPenalty,
		StoreOpsPerSecond:  cfg.Consolidation.StoreOpsPerSecond,
		HistoryLimit:       cfg.Consolidation.HistoryLimit,
	}, logger)
	worker.SetMetrics(collector)
	// Empty user list: consolidate whoever has live sessions each tick.
	if err := worker.Start(ctx, nil); err != nil {
		logger.Fatal("consolidation worker", zap.Error(err))
	}
	defer worker.Stop()

	var httpServer *http.Server
	if *metricsAddr != "" {
		httpServer = serveMetrics(*metricsAddr, sessions, orch, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = httpServer.Shutdown(shutdownCtx)
			cancel()
		}()
	}

	logger.Info("agentmemoryd ready")
	<-ctx.Done()
	logger.Info("shutting down")
}

// serveMetrics exposes /healthz, /metrics, and an operator-facing context
// inspection endpoint on its own listener.
func serveMetrics(addr string, sessions *memory.Manager, orch *orchestrator.Orchestrator, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "ok sessions=%d\n", sessions.Len())
	})
	// Debug view of what an agent would receive right now. Not a product
	// API; it renders the assembled context as plain text for operators.
	mux.HandleFunc("/debug/context", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		if userID == "" {
			http.Error(w, "user query parameter is required", http.StatusBadRequest)
			return
		}
		ac := orch.ContextForAgent(r.Context(), orchestrator.Request{
			UserID:    userID,
			AgentName: "debug",
			Query:     r.URL.Query().Get("q"),
			SessionID: r.URL.Query().Get("session"),
		})
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, orch.RenderContext(ac, 0))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	logger.Info("metrics listening", zap.String("addr", addr))
	return srv
}

func printVersion() {
	fmt.Printf("agentmemoryd %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`agentmemoryd - conversational memory service

Usage:
  agentmemoryd <command> [options]

Commands:
  serve     Start the memory service
  version   Show version information
  help      Show this help message

Options for 'serve':
  --config <path>        Path to configuration file (YAML)
  --metrics-addr <addr>  Health and metrics listen address (default :9090)

Examples:
  agentmemoryd serve
  agentmemoryd serve --config /etc/agentmemory/config.yaml`)
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// initLogger builds the process logger and returns the atomic level so a
// config reload can adjust verbosity without a restart.
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            level,
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger, level
}
