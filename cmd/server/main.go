package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/koios/esphome-designer/internal/amqp"
	"github.com/koios/esphome-designer/internal/config"
	"github.com/koios/esphome-designer/internal/designer"
	"github.com/koios/esphome-designer/internal/handlers"
	"github.com/koios/esphome-designer/internal/homeassistant"
	"github.com/koios/esphome-designer/internal/notify"
	"github.com/koios/esphome-designer/internal/redis"
	"github.com/koios/esphome-designer/internal/simulator"
	"github.com/koios/esphome-designer/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newLogger(level string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	return zapCfg.Build()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifiers := notify.NewMulti()
	var layoutStore store.Store = store.NewMemoryStore()

	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()

		notifiers.Add("redis", redisClient)
		if cfg.Store.Backend == "redis" {
			layoutStore = store.NewRedisStore(redisClient.Redis(), logger)
		}
	}

	if cfg.AMQP.Enabled {
		conn, err := amqp.NewConnection(cfg.AMQP, logger)
		if err != nil {
			logger.Fatal("Failed to connect to AMQP broker", zap.Error(err))
		}
		defer conn.Close()
		notifiers.Add("amqp", conn)
	}

	logger.Info("Layout store initialized",
		zap.String("backend", cfg.Store.Backend),
		zap.Int("notifiers", notifiers.Len()))

	service := designer.NewService(layoutStore, notifiers, designer.NewGenerator(cfg.Snippet), cfg.DefaultDevice, logger)

	entities, err := homeassistant.NewSource(cfg.HomeAssistant, logger)
	if err != nil {
		logger.Fatal("Failed to initialize entity source", zap.Error(err))
	}

	manager := simulator.NewManager(simulator.NewESPHome(cfg.Simulator.ESPHomePath, logger), cfg.Simulator, logger)

	router := mux.NewRouter()
	handlers.NewHandler(service, entities, manager, logger).RegisterRoutes(router, cfg.Server.BasePath)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Start HTTP server
	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", zap.Error(err))
			cancel()
		}
	}()

	logger.Info("Server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("base_path", cfg.Server.BasePath),
		zap.String("default_device", cfg.DefaultDevice))

	// Wait for interrupt signal or a server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	// Give outstanding requests a deadline for completion
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	// Stop running simulators and the compile pool
	manager.Shutdown(shutdownCtx)

	cancel()
	logger.Info("Server shutdown complete")
}
