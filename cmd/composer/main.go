// Copyright (c) Composer Authors.
// Licensed under the MIT License.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/albertlabs/composer/api"
	"github.com/albertlabs/composer/config"
	"github.com/albertlabs/composer/engine"
	"github.com/albertlabs/composer/intent"
	"github.com/albertlabs/composer/internal/cache"
	"github.com/albertlabs/composer/internal/database"
	"github.com/albertlabs/composer/internal/metrics"
	"github.com/albertlabs/composer/internal/server"
	"github.com/albertlabs/composer/internal/telemetry"
	"github.com/albertlabs/composer/knowledge"
	"github.com/albertlabs/composer/learning"
	"github.com/albertlabs/composer/orchestrator"
	"github.com/albertlabs/composer/registry"
	"github.com/albertlabs/composer/toolpool"
	"github.com/albertlabs/composer/transform"
)

// Version information injected at build time.
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
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
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
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting composer",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProviders.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	pool, err := database.NewPool(db, logger)
	if err != nil {
		logger.Fatal("failed to initialize connection pool", zap.Error(err))
	}
	defer pool.Close()

	compositionStore, err := registry.NewGormStore(db)
	if err != nil {
		logger.Fatal("failed to initialize composition store", zap.Error(err))
	}
	knowledgeStore, err := knowledge.NewGormStore(db, cfg.Knowledge.QueryLimit)
	if err != nil {
		logger.Fatal("failed to initialize knowledge store", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
	defer redisClient.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		// Search falls back to store scans while Redis is away.
		logger.Warn("redis not reachable, semantic index degraded", zap.Error(err))
	}
	cancelPing()

	executor, err := toolpool.New(cfg.ToolPool, logger)
	if err != nil {
		logger.Fatal("failed to initialize tool pool client", zap.Error(err))
	}

	collector := metrics.NewCollector("composer", nil, logger)
	index := registry.NewIndex(redisClient, nil, cfg.Redis.KeyPrefix, logger)
	reg := registry.New(compositionStore, index, executor, pool, cfg.Registry, logger)

	compositionCache := cache.NewManagerFromClient("compositions", redisClient, cache.Config{
		KeyPrefix:  cfg.Redis.KeyPrefix,
		DefaultTTL: 5 * time.Minute,
	}, collector, logger)
	reg.UseCache(compositionCache)

	monitor := knowledge.NewMonitor(knowledgeStore, cfg.Knowledge.Retention, logger)
	generator := learning.NewGenerator(monitor, executor, cfg.Learning.CatalogSearchRPS, logger)
	transformer := transform.NewTransformer(logger)
	eng := engine.New(executor, transformer, generator, cfg.Orchestrator, logger)

	var rules []intent.Rule
	if cfg.Intent.RulesPath != "" {
		rules, err = intent.LoadRules(cfg.Intent.RulesPath)
		if err != nil {
			logger.Fatal("failed to load intent rules",
				zap.String("path", cfg.Intent.RulesPath),
				zap.Error(err))
		}
		logger.Info("loaded intent rules", zap.Int("rules", len(rules)))
	}
	resolver := intent.NewResolver(rules, cfg.Intent.ClassifierConfidence, logger)

	orch := orchestrator.New(resolver, reg, eng, monitor, executor, collector, cfg.Orchestrator, logger)
	evaluator := learning.NewEvaluator(monitor, cfg.Learning.FailureRateThreshold, logger)
	optimizer := learning.NewOptimizer(reg, evaluator, generator, cfg.Learning.MinSamples, logger)
	miner := learning.NewMiner(monitor, logger)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	if err := reg.Reconcile(startupCtx); err != nil {
		logger.Warn("catalog reconciliation failed", zap.Error(err))
	}
	cancelStartup()

	cycle := learning.NewCycle(reg, optimizer, monitor, cfg.Learning, logger)
	cycle.Start(context.Background())
	defer cycle.Stop()

	gaugeCtx, stopGauges := context.WithCancel(context.Background())
	defer stopGauges()
	go reportPoolStats(gaugeCtx, pool, collector, cfg.Database.Driver)

	apiServer := api.NewServer(orch, reg, evaluator, optimizer, collector, cfg.Auth, logger,
		api.WithPatternMiner(miner),
		api.WithHealthCheck("database", pool.Ping),
		api.WithHealthCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
		api.WithHealthCheck("tool_pool", executor.Ping),
	)

	manager := server.NewManager(apiServer.Handler(), server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	if err := manager.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	manager.WaitForShutdown()
	logger.Info("composer stopped")
}

// reportPoolStats feeds connection pool gauges until ctx is canceled.
func reportPoolStats(ctx context.Context, pool *database.Pool, collector *metrics.Collector, driver string) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := pool.Stats()
			collector.RecordDBConnections(driver, stats.OpenConnections, stats.Idle)
		}
	}
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("Composer %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`Composer - Adaptive Task Orchestration Engine

Usage:
  composer <command> [options]

Commands:
  serve     Start the Composer server
  migrate   Database migration commands
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Migration subcommands:
  migrate up        Apply all pending migrations
  migrate down      Rollback the last migration
  migrate status    Show migration status
  migrate version   Show current migration version
  migrate goto <v>  Migrate to a specific version
  migrate force <v> Force set migration version
  migrate reset     Rollback all migrations

Examples:
  composer serve
  composer serve --config /etc/composer/config.yaml
  composer migrate up
  composer migrate status
  composer health --addr http://localhost:8080
  composer version`)
}

// initLogger builds the zap logger from the logging configuration.
func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

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

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
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
	return logger
}
