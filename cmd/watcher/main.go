// Package main runs the wallet watcher: a single streaming connection
// multiplexing per-address log subscriptions, a watched-address registry
// with cascade discovery and TTL expiry, a reconciliation poller, and a
// signal bus feeding persistence and downstream consumers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"solana-wallet-watch/internal/bus"
	"solana-wallet-watch/internal/classify"
	"solana-wallet-watch/internal/config"
	"solana-wallet-watch/internal/dedup"
	"solana-wallet-watch/internal/domain"
	"solana-wallet-watch/internal/observability"
	"solana-wallet-watch/internal/poller"
	"solana-wallet-watch/internal/processor"
	"solana-wallet-watch/internal/registry"
	"solana-wallet-watch/internal/solana"
	"solana-wallet-watch/internal/storage"
	chstore "solana-wallet-watch/internal/storage/clickhouse"
	"solana-wallet-watch/internal/storage/memory"
	"solana-wallet-watch/internal/storage/migrations"
	pgstore "solana-wallet-watch/internal/storage/postgres"
	"solana-wallet-watch/internal/wsmux"
)

func main() {
	// Load .env file if exists
	config.LoadEnvFile()

	// Parse flags (env vars as defaults)
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("SOLANA_RPC_ENDPOINT"), "Solana RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("SOLANA_WS_ENDPOINT"), "Solana WebSocket endpoint")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	redisAddr := flag.String("redis-addr", os.Getenv("REDIS_ADDR"), "Redis address for the dedup store")
	watch := flag.String("watch", os.Getenv("WATCH_ADDRESSES"), "Comma-separated source addresses to watch")
	pinned := flag.String("pinned", os.Getenv("PINNED_ADDRESSES"), "Comma-separated addr:user pairs to pin")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse/Redis")
	httpAddr := flag.String("http-addr", ":9090", "HTTP address for health, status and metrics")

	flag.Parse()

	logger := log.New(os.Stdout, "[watcher] ", log.LstdFlags|log.Lshortfile)

	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	if *wsEndpoint == "" {
		logger.Fatal("--ws-endpoint is required")
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatalf("Bad configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stores and dedup
	waStore, sigStore, dedupStore, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *redisAddr, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// RPC connectivity probe before anything subscribes.
	rpc := solana.NewHTTPClient(*rpcEndpoint)
	slot, err := rpc.GetSlot(ctx)
	if err != nil {
		logger.Fatalf("RPC probe failed: %v", err)
	}
	logger.Printf("RPC reachable, current slot %d", slot)

	// Degraded-health flag flipped when the reconnect budget runs out.
	var degraded atomic.Bool

	muxCfg := wsmux.DefaultConfig()
	muxCfg.ReconnectBaseDelay = cfg.ReconnectBaseDelay
	muxCfg.MaxReconnectAttempts = cfg.MaxReconnectAttempts
	muxCfg.RequestTimeout = cfg.RequestTimeout
	muxCfg.PingInterval = cfg.PingInterval
	muxCfg.Workers = cfg.Workers
	muxCfg.QueueSize = cfg.QueueSize
	muxCfg.Logger = logger
	muxCfg.OnDown = func(err error) {
		degraded.Store(true)
		logger.Printf("Streaming connection is down for good: %v", err)
	}

	mux := wsmux.New(*wsEndpoint, muxCfg)
	if err := mux.Connect(ctx); err != nil {
		logger.Fatalf("WebSocket connect failed: %v", err)
	}

	signalBus := bus.New(bus.DefaultBufferSize, logger)
	engine := classify.New(cfg.MinLargeTransfer)

	// The registry needs the processor's push handler and the processor
	// needs the registry; proc is assigned before Start, so the handler
	// never fires on a nil pointer.
	var proc *processor.Processor

	reg := registry.New(mux, waStore, func(subject, signature string) {
		proc.HandleTransaction(subject, signature)
	}, registry.Config{
		WatchWindow:       cfg.WatchWindow,
		MaxCascadedActive: cfg.MaxCascadedActive,
		SweepInterval:     cfg.SweepInterval,
		Logger:            logger,
	})

	proc = processor.New(rpc, engine, reg, dedupStore, signalBus, sigStore, processor.Config{
		DedupTTL: cfg.DedupTTL,
		Logger:   logger,
	})

	if err := reg.Start(ctx); err != nil {
		logger.Fatalf("Registry start failed: %v", err)
	}

	if err := registerInitial(ctx, reg, *watch, *pinned, logger); err != nil {
		logger.Fatalf("Initial registration failed: %v", err)
	}

	recon := poller.New(rpc, reg, proc, poller.Config{
		Interval: cfg.PollInterval,
		Window:   cfg.PollWindow,
		Logger:   logger,
	})
	recon.Start()

	// HTTP surface: health, status, metrics.
	go serveHTTP(*httpAddr, mux, reg, &degraded, logger)

	logger.Printf("Watcher running: %d addresses under watch", len(reg.Pollable()))

	// Handle shutdown signals; a second signal forces exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Printf("Received signal %v, initiating graceful shutdown...", sig)

	done := make(chan struct{})
	go func() {
		recon.Stop()
		reg.Stop()
		mux.Close()
		close(done)
	}()

	select {
	case sig := <-sigCh:
		logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
		os.Exit(1)
	case <-time.After(30 * time.Second):
		logger.Println("Graceful shutdown timed out after 30s, forcing exit")
		os.Exit(1)
	case <-done:
	}

	logger.Println("Shutdown complete")
}

// createStores builds the watched-address mirror, the signal history and
// the dedup store, either in memory or against Postgres, ClickHouse and
// Redis with migrations applied.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN, redisAddr string, useMemory bool) (storage.WatchedAddressStore, storage.SignalStore, dedup.Store, func(), error) {
	if useMemory {
		return memory.NewWatchedAddressStore(), memory.NewSignalStore(), dedup.NewMemoryStore(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	var dedupStore dedup.Store
	var redisClient *redis.Client
	if redisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			pool.Close()
			chConn.Close()
			return nil, nil, nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		dedupStore = dedup.NewRedisStore(redisClient)
	} else {
		dedupStore = dedup.NewMemoryStore()
	}

	cleanup := func() {
		pool.Close()
		chConn.Close()
		if redisClient != nil {
			redisClient.Close()
		}
	}
	return pgstore.NewWatchedAddressStore(pool), chstore.NewSignalStore(chConn), dedupStore, cleanup, nil
}

// registerInitial registers the --watch sources and --pinned addresses,
// tolerating entries already present from a previous run.
func registerInitial(ctx context.Context, reg *registry.Registry, watch, pinned string, logger *log.Logger) error {
	for _, addr := range splitList(watch) {
		if _, err := reg.Register(ctx, addr, domain.KindSource, "", ""); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				logger.Printf("Source address %s already under watch", addr)
				continue
			}
			return fmt.Errorf("register source %s: %w", addr, err)
		}
		logger.Printf("Watching source address %s", addr)
	}

	for _, pair := range splitList(pinned) {
		addr, user := pair, ""
		if i := strings.IndexByte(pair, ':'); i > 0 {
			addr, user = pair[:i], pair[i+1:]
		}
		if _, err := reg.Register(ctx, addr, domain.KindPinned, "", user); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				logger.Printf("Pinned address %s already under watch", addr)
				continue
			}
			return fmt.Errorf("register pinned %s: %w", addr, err)
		}
		logger.Printf("Watching pinned address %s for user %s", addr, user)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// serveHTTP exposes /healthz, /status and /metrics.
func serveHTTP(addr string, mux *wsmux.Mux, reg *registry.Registry, degraded *atomic.Bool, logger *log.Logger) {
	httpMux := http.NewServeMux()

	httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if degraded.Load() || mux.State() == wsmux.StateFailed {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "degraded: streaming connection lost")
			return
		}
		fmt.Fprintln(w, "ok")
	})

	httpMux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		entries := reg.Snapshot()
		byStatus := make(map[string]int)
		for _, wa := range entries {
			byStatus[string(wa.Status)]++
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"connection":    mux.State().String(),
			"subscriptions": mux.SubscriptionCount(),
			"watched":       len(entries),
			"by_status":     byStatus,
			"addresses":     entries,
		})
	})

	httpMux.Handle("/metrics", observability.Handler())

	logger.Printf("HTTP listening on %s", addr)
	if err := http.ListenAndServe(addr, httpMux); err != nil {
		logger.Printf("HTTP server error: %v", err)
	}
}
