package main

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config holds all server configuration, loaded from the environment.
type Config struct {
	Port string

	// GlobalSecret derives gateway hashed ids.
	GlobalSecret string
	// EncryptionKey protects gateway secrets at rest (database backend).
	EncryptionKey string

	// StoreBackend selects the gateway store: "config" or "db".
	StoreBackend string
	GatewaysFile string
	DataDir      string
	DBPath       string

	// Redis-backed order counters; empty address selects the in-memory store.
	RedisAddr   string
	RedisPrefix string
	CountOrders bool

	// Bitcoin network for address derivation: "mainnet" or "testnet".
	Network string

	CallbackTimeout time.Duration

	// Per-gateway order-creation rate limiting.
	CreateRateLimit  rate.Limit
	CreateBurstLimit int
}

func loadConfig(logger *zap.Logger) *Config {
	logFatal := func(msg string, fields ...zap.Field) {
		if logger != nil {
			logger.Fatal(msg, fields...)
		} else {
			log.Fatal(msg)
		}
	}

	cfg := &Config{}

	cfg.GlobalSecret = os.Getenv("PAYGATE_GLOBAL_SECRET")
	if cfg.GlobalSecret == "" {
		logFatal("PAYGATE_GLOBAL_SECRET environment variable not set")
	}

	cfg.DataDir = os.Getenv("PAYGATE_DATA_DIR")
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			logFatal("cannot resolve home directory for default data dir", zap.Error(err))
		}
		cfg.DataDir = filepath.Join(home, ".paygate")
	}

	cfg.StoreBackend = os.Getenv("PAYGATE_STORE")
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "config"
	}
	if cfg.StoreBackend != "config" && cfg.StoreBackend != "db" {
		logFatal("PAYGATE_STORE must be \"config\" or \"db\"",
			zap.String("value", cfg.StoreBackend))
	}

	cfg.EncryptionKey = os.Getenv("PAYGATE_ENCRYPTION_KEY")
	if cfg.EncryptionKey == "" && cfg.StoreBackend == "db" {
		logFatal("PAYGATE_ENCRYPTION_KEY environment variable not set (required for the db store)")
	}

	cfg.GatewaysFile = os.Getenv("PAYGATE_GATEWAYS_FILE")
	if cfg.GatewaysFile == "" {
		cfg.GatewaysFile = filepath.Join(cfg.DataDir, "gateways.yml")
	}

	cfg.DBPath = os.Getenv("PAYGATE_DB_PATH")
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "paygate.db")
	}

	cfg.RedisAddr = os.Getenv("PAYGATE_REDIS_ADDR")
	cfg.RedisPrefix = os.Getenv("PAYGATE_REDIS_PREFIX")
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = "paygate"
	}

	cfg.CountOrders = true
	if v := os.Getenv("PAYGATE_COUNT_ORDERS"); v != "" {
		cfg.CountOrders = v == "true" || v == "1"
	}

	cfg.Network = os.Getenv("PAYGATE_NETWORK")
	if cfg.Network == "" {
		cfg.Network = "mainnet"
	}
	if cfg.Network != "mainnet" && cfg.Network != "testnet" {
		logFatal("PAYGATE_NETWORK must be \"mainnet\" or \"testnet\"",
			zap.String("value", cfg.Network))
	}

	cfg.CallbackTimeout = 20 * time.Second
	if v := os.Getenv("CALLBACK_TIMEOUT_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil || seconds <= 0 {
			logFatal("Invalid CALLBACK_TIMEOUT_SECONDS", zap.String("value", v))
		}
		cfg.CallbackTimeout = time.Duration(seconds) * time.Second
	}

	cfg.CreateRateLimit = 5
	if v := os.Getenv("CREATE_RATE_LIMIT"); v != "" {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil || limit <= 0 {
			logFatal("Invalid CREATE_RATE_LIMIT", zap.String("value", v))
		}
		cfg.CreateRateLimit = rate.Limit(limit)
	}

	cfg.CreateBurstLimit = 10
	if v := os.Getenv("CREATE_BURST_LIMIT"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil || burst <= 0 {
			logFatal("Invalid CREATE_BURST_LIMIT", zap.String("value", v))
		}
		cfg.CreateBurstLimit = burst
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	return cfg
}
