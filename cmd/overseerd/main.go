package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/overseer/internal/agents"
	"github.com/nidhogg/overseer/internal/api"
	"github.com/nidhogg/overseer/internal/bus"
	"github.com/nidhogg/overseer/internal/config"
	"github.com/nidhogg/overseer/internal/pipeline"
	"github.com/nidhogg/overseer/internal/plugin"
	"github.com/nidhogg/overseer/internal/runtime"
	"github.com/nidhogg/overseer/internal/sandbox"
	"github.com/nidhogg/overseer/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/overseer.json"
	}

	bootLogger, _ := zap.NewDevelopment()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		bootLogger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()
	logger.Info("Starting overseer", zap.String("config", cfgPath))

	// Sandbox and process resource limits
	sb := sandbox.New(sandbox.Config{
		AllowedPaths:    cfg.Sandbox.AllowedPaths,
		AllowedDomains:  cfg.Sandbox.AllowedDomains,
		MemoryLimitMB:   cfg.Sandbox.MemoryLimitMB,
		CPUTimeLimitSec: cfg.Sandbox.CPUTimeLimitSec,
	}, logger)
	if err := sb.ApplyLimits(); err != nil {
		logger.Warn("resource limits not applied", zap.Error(err))
	}

	// Agent runtime
	rt := runtime.New(runtime.Config{
		MaxConcurrentAgents: cfg.Runtime.MaxConcurrentAgents,
		MaxExecutionTime:    cfg.Runtime.MaxExecutionTime(),
		MaxMemoryMB:         cfg.Runtime.MaxMemoryMB,
		WorkspaceDir:        cfg.Runtime.WorkspaceDir,
	}, logger)

	// Message bus
	b := bus.New(logger)
	b.Start()

	// Result store
	st, err := newStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}

	// Result pipeline, fed from the bus
	processor := pipeline.NewProcessor(logger)
	if strategy, ok := pipeline.ParseStrategy(cfg.Pipeline.Strategy); ok {
		processor.SetStrategy(strategy)
	} else {
		logger.Warn("unknown pipeline strategy, using sequential", zap.String("strategy", cfg.Pipeline.Strategy))
	}
	listener := processor.AttachBus(b, st, logger)

	// Plugin registry
	registry := plugin.NewRegistry(logger)

	// HTTP server
	handler := api.NewHandler(rt, agents.Factories(sb, logger), processor, st, registry, logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("overseer listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down overseer...")
	ctx := context.Background()
	srv.Shutdown(ctx)
	if err := rt.Cleanup(ctx, false); err != nil {
		logger.Warn("runtime cleanup failed", zap.Error(err))
	}
	listener.Detach()
	b.Stop()
	if err := sb.Cleanup(); err != nil {
		logger.Warn("sandbox cleanup failed", zap.Error(err))
	}
	if err := st.Close(); err != nil {
		logger.Warn("store close failed", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	if level == "debug" {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	cfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		cfg.Level = lvl
	}
	logger, _ := cfg.Build()
	return logger
}

func newStore(cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory", "":
		return store.NewMemory(), nil
	case "redis":
		return store.NewRedis(cfg.Store.Redis.URL, logger)
	case "postgres":
		pg, err := store.NewPostgres(cfg.Store.Postgres.DSN, logger)
		if err != nil {
			return nil, err
		}
		dir := cfg.Store.Postgres.MigrationsDir
		if dir == "" {
			dir = "migrations"
		}
		if err := pg.Migrate(context.Background(), dir); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
