package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/progression-engine/internal/config"
	"github.com/progression-engine/internal/content"
	"github.com/progression-engine/internal/handler"
	"github.com/progression-engine/internal/kafka"
	"github.com/progression-engine/internal/orchestrator"
	"github.com/progression-engine/internal/postgres"
	"github.com/progression-engine/internal/redis"
	"github.com/progression-engine/internal/store"
	"github.com/progression-engine/internal/websocket"
	"github.com/progression-engine/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	storeKind := flag.String("store", "postgres", "Backing store: postgres or memory")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the backing store
	var st store.Store
	var postgresRepo *postgres.Repository
	switch *storeKind {
	case "memory":
		logger.Info("using in-memory store")
		st = store.NewMemStore()
	default:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		postgresRepo, err = postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer postgresRepo.Close()
		logger.Info("connected to PostgreSQL")

		if err := postgresRepo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		st = postgresRepo
	}

	// Seed default quests and skill paths
	if err := content.SeedDefaults(ctx, st, logger); err != nil {
		logger.Error("failed to seed default content", "error", err)
		os.Exit(1)
	}

	// Initialize Redis leaderboard projection
	var leaderboard *redis.LeaderboardService
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	leaderboard, err = redis.NewLeaderboardService(&cfg.Redis, logger)
	if err != nil {
		logger.Warn("failed to connect to Redis, continuing without leaderboards", "error", err)
		leaderboard = nil
	} else {
		defer leaderboard.Close()
		logger.Info("connected to Redis")
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize the progression orchestrator
	orch, err := orchestrator.New(st, &cfg.Progression, logger)
	if err != nil {
		logger.Error("failed to build orchestrator", "error", err)
		os.Exit(1)
	}
	orch.SetHub(wsHub)
	if leaderboard != nil {
		orch.SetLeaderboard(leaderboard)
	}

	// Initialize reconciliation worker
	reconcileWorker := worker.NewReconcileWorker(
		st,
		leaderboard,
		orch.Resolver(),
		&cfg.Reconcile,
		logger,
	)

	// Rebuild Redis projections from the store on startup (recovery)
	if leaderboard != nil {
		if err := reconcileWorker.RebuildLeaderboards(ctx); err != nil {
			logger.Warn("failed to rebuild leaderboards on startup", "error", err)
		}
	}

	// Start reconciliation worker
	if cfg.Reconcile.Enabled {
		if err := reconcileWorker.Start(ctx); err != nil {
			logger.Error("failed to start reconcile worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka consumer for high-volume action ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		var err error
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, orch, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else {
			if err := kafkaConsumer.Start(); err != nil {
				logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
				kafkaConsumer = nil
			} else {
				logger.Info("Kafka consumer started successfully")
			}
		}
	}

	// Initialize HTTP handler with WebSocket hub
	httpHandler := handler.NewHandler(orch, leaderboard, wsHub, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		logger.Info("WebSocket endpoint available at /ws")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop WebSocket hub
	wsHub.Stop()

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Stop reconcile worker
	if cfg.Reconcile.Enabled {
		if err := reconcileWorker.Stop(); err != nil {
			logger.Error("failed to stop reconcile worker", "error", err)
		}
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
