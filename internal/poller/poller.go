// Package poller reconciles missed push notifications by periodically
// re-reading each watched address's recent signatures through the same
// dedup-guarded pipeline the push path uses.
package poller

import (
	"context"
	"log"
	"sync"
	"time"

	"solana-wallet-watch/internal/observability"
	"solana-wallet-watch/internal/solana"
)

// Default reconciliation parameters.
const (
	DefaultInterval = 30 * time.Second
	DefaultWindow   = 10
)

// AddressSource yields the addresses to reconcile each cycle.
type AddressSource interface {
	Pollable() []string
}

// Pipeline is the processing entry point shared with the push path.
type Pipeline interface {
	Process(ctx context.Context, subject, signature string) bool
}

// Config configures the poller.
type Config struct {
	Interval time.Duration
	// Window is the number of recent signatures fetched per address. A
	// full page means older transactions may have scrolled past the
	// window during an outage; that gap is logged, not recovered.
	Window int
	Logger *log.Logger
}

// Poller is the pull-side correctness backstop for dropped notifications.
type Poller struct {
	rpc    solana.RPCClient
	source AddressSource
	pipe   Pipeline
	cfg    Config
	logger *log.Logger

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a poller.
func New(rpc solana.RPCClient, source AddressSource, pipe Pipeline, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &Poller{
		rpc:    rpc,
		source: source,
		pipe:   pipe,
		cfg:    cfg,
		logger: cfg.Logger,
		done:   make(chan struct{}),
	}
}

// Start launches the poll loop.
func (p *Poller) Start() {
	p.wg.Add(1)
	go p.loop()
	p.logger.Printf("[poller] started, interval=%v window=%d", p.cfg.Interval, p.cfg.Window)
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (p *Poller) Stop() {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
}

func (p *Poller) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Interval)
			p.PollOnce(ctx)
			cancel()
		}
	}
}

// PollOnce runs one reconciliation cycle over every pollable address.
func (p *Poller) PollOnce(ctx context.Context) {
	observability.RecordPollCycle()

	for _, address := range p.source.Pollable() {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		default:
		}
		p.pollAddress(ctx, address)
	}
}

func (p *Poller) pollAddress(ctx context.Context, address string) {
	start := time.Now()
	sigs, err := p.rpc.GetSignaturesForAddress(ctx, address, &solana.SignaturesOpts{Limit: p.cfg.Window})
	observability.RecordRPCLatency("getSignaturesForAddress", time.Since(start).Seconds())
	if err != nil {
		p.logger.Printf("[poller] signatures for %s failed: %v", address, err)
		return
	}

	if len(sigs) >= p.cfg.Window {
		observability.RecordPollWindowFull()
		p.logger.Printf("[poller] %s returned a full page (%d); older activity may have scrolled past the window", address, len(sigs))
	}

	for _, info := range sigs {
		if info.Err != nil {
			continue
		}
		if p.pipe.Process(ctx, address, info.Signature) {
			observability.RecordPollRecovered()
			p.logger.Printf("[poller] recovered %s for %s", info.Signature, address)
		}
	}
}
