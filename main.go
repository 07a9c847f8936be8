package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"paygate/internal/addrs"
	"paygate/internal/counters"
	"paygate/internal/gateway"
	"paygate/internal/orders"
	"paygate/internal/rates"
	"paygate/internal/secrets"
	"paygate/internal/subs"
)

func newLogger() *zap.Logger {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	var zapConfig zap.Config
	if os.Getenv("LOG_FORMAT") == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return logger
}

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg := loadConfig(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		logger.Fatal("Failed to create data directory",
			zap.String("dir", cfg.DataDir), zap.Error(err))
	}

	db, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		logger.Fatal("Failed to open database",
			zap.String("path", cfg.DBPath), zap.Error(err))
	}

	repo, err := orders.NewRepository(db, logger)
	if err != nil {
		logger.Fatal("Failed to initialize order repository", zap.Error(err))
	}

	var store gateway.Store
	switch cfg.StoreBackend {
	case "db":
		cipher, err := secrets.New(cfg.EncryptionKey)
		if err != nil {
			logger.Fatal("Failed to initialize secret cipher", zap.Error(err))
		}
		store, err = gateway.NewDBStore(db, cipher, cfg.GlobalSecret, logger)
		if err != nil {
			logger.Fatal("Failed to initialize db gateway store", zap.Error(err))
		}
	default:
		store, err = gateway.NewConfigStoreFromFile(cfg.GatewaysFile, cfg.DataDir, cfg.GlobalSecret, logger)
		if err != nil {
			logger.Fatal("Failed to load gateway config file",
				zap.String("path", cfg.GatewaysFile), zap.Error(err))
		}
	}

	var counterStore counters.CounterStore = counters.NewMemoryStore()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		counterStore = counters.NewRedisStore(client, cfg.RedisPrefix)
		logger.Info("Using redis order counters",
			zap.String("addr", cfg.RedisAddr),
			zap.String("prefix", cfg.RedisPrefix),
		)
	}

	params := &chaincfg.MainNetParams
	if cfg.Network == "testnet" {
		params = &chaincfg.TestNet3Params
	}

	adapters := map[string]rates.Adapter{
		"coinbase": rates.NewCoinbase("", logger),
	}

	manager := subs.NewManager(logger)
	dispatcher := gateway.NewDispatcher(gateway.DispatcherConfig{
		Subs:       manager,
		Saver:      repo,
		HTTPClient: &http.Client{Timeout: cfg.CallbackTimeout},
		Logger:     logger,
	})
	engine := gateway.NewEngine(gateway.EngineConfig{
		Store:        store,
		Builder:      repo,
		NewDeriver:   func(pubkey string) (addrs.Deriver, error) { return addrs.NewBIP32(pubkey, params) },
		Adapters:     adapters,
		CounterStore: counterStore,
		CountOrders:  cfg.CountOrders,
		Subs:         manager,
		Dispatcher:   dispatcher,
		Logger:       logger,
	})

	server := NewServer(cfg, store, engine, repo, logger)

	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if cleaned := server.limiter.cleanup(30 * time.Minute); cleaned > 0 {
				logger.Debug("stale rate limiters cleaned", zap.Int("count", cleaned))
			}
		}
	}()

	port := ":" + strings.TrimPrefix(cfg.Port, ":")

	logger.Info("Payment gateway server starting",
		zap.String("port", port),
		zap.String("store", cfg.StoreBackend),
		zap.String("network", cfg.Network),
		zap.Bool("count_orders", cfg.CountOrders),
	)

	logger.Info("Endpoints registered",
		zap.Strings("endpoints", []string{
			"POST /gateways/{hashed_id}/orders - Create a payment order",
			"GET /gateways/{hashed_id}/orders/{order_id}/ws - Subscribe to order status changes",
			"POST /orders/{order_id}/status - Report an order status transition",
			"GET /health - Liveness probe",
			"GET /metrics - Prometheus metrics",
		}),
	)

	httpServer := &http.Server{
		Addr:         port,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket subscriptions stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	serverDone := make(chan struct{})

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
		close(serverDone)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	<-serverDone

	logger.Info("Server shutdown complete")
}
