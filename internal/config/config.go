// Package config reads the watcher's tunables from the environment.
// Endpoints and DSNs are flag-level concerns in cmd; this covers the
// behavioral knobs with their production defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the behavioral tunables.
type Config struct {
	// Lifecycle
	WatchWindow       time.Duration // WATCH_WINDOW_HOURS, default 24h
	MaxCascadedActive int           // MAX_CASCADED_ACTIVE, default 100
	SweepInterval     time.Duration // SWEEP_INTERVAL_MS, default 5m

	// Classification
	MinLargeTransfer float64 // MIN_LARGE_TRANSFER_SOL, default 1.0

	// Reconciliation
	PollInterval time.Duration // POLL_INTERVAL_MS, default 30s
	PollWindow   int           // POLL_WINDOW, default 10
	DedupTTL     time.Duration // DEDUP_TTL_SECONDS, default 1h

	// Connection
	ReconnectBaseDelay   time.Duration // RECONNECT_BASE_DELAY_MS, default 5s
	MaxReconnectAttempts int           // MAX_RECONNECT_ATTEMPTS, default 10
	RequestTimeout       time.Duration // REQUEST_TIMEOUT_MS, default 30s
	PingInterval         time.Duration // PING_INTERVAL_MS, default 30s
	Workers              int           // WORKER_POOL_SIZE, default 16
	QueueSize            int           // WORKER_QUEUE_SIZE, default 1024
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		WatchWindow:          24 * time.Hour,
		MaxCascadedActive:    100,
		SweepInterval:        5 * time.Minute,
		MinLargeTransfer:     1.0,
		PollInterval:         30 * time.Second,
		PollWindow:           10,
		DedupTTL:             time.Hour,
		ReconnectBaseDelay:   5 * time.Second,
		MaxReconnectAttempts: 10,
		RequestTimeout:       30 * time.Second,
		PingInterval:         30 * time.Second,
		Workers:              16,
		QueueSize:            1024,
	}
}

// LoadEnvFile loads a .env file if present. Missing files are fine;
// system environment always wins.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// FromEnv returns the defaults overridden by any set environment
// variables. Malformed values are reported, not silently ignored.
func FromEnv() (Config, error) {
	cfg := Default()

	var err error
	if cfg.WatchWindow, err = envHours("WATCH_WINDOW_HOURS", cfg.WatchWindow); err != nil {
		return cfg, err
	}
	if cfg.MaxCascadedActive, err = envInt("MAX_CASCADED_ACTIVE", cfg.MaxCascadedActive); err != nil {
		return cfg, err
	}
	if cfg.SweepInterval, err = envMillis("SWEEP_INTERVAL_MS", cfg.SweepInterval); err != nil {
		return cfg, err
	}
	if cfg.MinLargeTransfer, err = envFloat("MIN_LARGE_TRANSFER_SOL", cfg.MinLargeTransfer); err != nil {
		return cfg, err
	}
	if cfg.PollInterval, err = envMillis("POLL_INTERVAL_MS", cfg.PollInterval); err != nil {
		return cfg, err
	}
	if cfg.PollWindow, err = envInt("POLL_WINDOW", cfg.PollWindow); err != nil {
		return cfg, err
	}
	if cfg.DedupTTL, err = envSeconds("DEDUP_TTL_SECONDS", cfg.DedupTTL); err != nil {
		return cfg, err
	}
	if cfg.ReconnectBaseDelay, err = envMillis("RECONNECT_BASE_DELAY_MS", cfg.ReconnectBaseDelay); err != nil {
		return cfg, err
	}
	if cfg.MaxReconnectAttempts, err = envInt("MAX_RECONNECT_ATTEMPTS", cfg.MaxReconnectAttempts); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout, err = envMillis("REQUEST_TIMEOUT_MS", cfg.RequestTimeout); err != nil {
		return cfg, err
	}
	if cfg.PingInterval, err = envMillis("PING_INTERVAL_MS", cfg.PingInterval); err != nil {
		return cfg, err
	}
	if cfg.Workers, err = envInt("WORKER_POOL_SIZE", cfg.Workers); err != nil {
		return cfg, err
	}
	if cfg.QueueSize, err = envInt("WORKER_QUEUE_SIZE", cfg.QueueSize); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envFloat(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envMillis(key string, def time.Duration) (time.Duration, error) {
	v, err := envInt(key, int(def.Milliseconds()))
	if err != nil {
		return def, err
	}
	return time.Duration(v) * time.Millisecond, nil
}

func envSeconds(key string, def time.Duration) (time.Duration, error) {
	v, err := envInt(key, int(def/time.Second))
	if err != nil {
		return def, err
	}
	return time.Duration(v) * time.Second, nil
}

func envHours(key string, def time.Duration) (time.Duration, error) {
	v, err := envInt(key, int(def/time.Hour))
	if err != nil {
		return def, err
	}
	return time.Duration(v) * time.Hour, nil
}
