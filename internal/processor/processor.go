// Package processor is the shared pipeline behind both the push callback
// and the reconciliation poller: dedup, fetch, classify, record, publish.
package processor

import (
	"context"
	"log"
	"time"

	"solana-wallet-watch/internal/bus"
	"solana-wallet-watch/internal/classify"
	"solana-wallet-watch/internal/dedup"
	"solana-wallet-watch/internal/domain"
	"solana-wallet-watch/internal/observability"
	"solana-wallet-watch/internal/registry"
	"solana-wallet-watch/internal/solana"
	"solana-wallet-watch/internal/storage"
)

// Default pipeline parameters.
const (
	DefaultDedupTTL        = time.Hour
	DefaultFetchRetries    = 3
	DefaultFetchRetryDelay = 2 * time.Second
	DefaultProcessTimeout  = 30 * time.Second
)

// Config configures the processor.
type Config struct {
	// DedupTTL is how long a processed signature stays marked.
	DedupTTL time.Duration
	// FetchRetries covers the propagation gap between a confirmed push
	// notification and getTransaction visibility.
	FetchRetries    int
	FetchRetryDelay time.Duration
	Logger          *log.Logger
}

// Processor turns a (subject, signature) pair into recorded activity and
// published signals, exactly once per signature.
type Processor struct {
	rpc     solana.RPCClient
	engine  *classify.Engine
	reg     *registry.Registry
	dedup   dedup.Store
	bus     *bus.Bus
	signals storage.SignalStore
	cfg     Config
	logger  *log.Logger
}

// New creates a processor. signals may be nil when no history store is
// configured.
func New(rpc solana.RPCClient, engine *classify.Engine, reg *registry.Registry, ds dedup.Store, b *bus.Bus, signals storage.SignalStore, cfg Config) *Processor {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = DefaultDedupTTL
	}
	if cfg.FetchRetries <= 0 {
		cfg.FetchRetries = DefaultFetchRetries
	}
	if cfg.FetchRetryDelay <= 0 {
		cfg.FetchRetryDelay = DefaultFetchRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &Processor{
		rpc:     rpc,
		engine:  engine,
		reg:     reg,
		dedup:   ds,
		bus:     b,
		signals: signals,
		cfg:     cfg,
		logger:  cfg.Logger,
	}
}

// HandleTransaction is the push-path entry point, wired as the registry's
// TxHandler. It runs on the multiplexer's worker pool.
func (p *Processor) HandleTransaction(subject, signature string) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultProcessTimeout)
	defer cancel()
	p.Process(ctx, subject, signature)
}

// Process runs the full pipeline once per signature. The dedup mark is
// taken before any other work, so a concurrent push and poll on the same
// signature cannot both proceed. Returns true when this call did the
// processing.
func (p *Processor) Process(ctx context.Context, subject, signature string) bool {
	claimed, err := p.dedup.MarkIfNew(ctx, signature, p.cfg.DedupTTL)
	if err != nil {
		p.logger.Printf("[processor] dedup check %s failed: %v", signature, err)
		return false
	}
	if !claimed {
		observability.RecordDedupHit()
		return false
	}

	tx, err := p.fetchTransaction(ctx, signature)
	if err != nil {
		p.logger.Printf("[processor] fetch %s failed: %v", signature, err)
		return false
	}
	if tx == nil {
		observability.RecordClassifyDiscard("not_found")
		p.logger.Printf("[processor] %s not found after %d attempts", signature, p.cfg.FetchRetries)
		return false
	}

	signals := p.engine.Classify(tx, subject)
	if len(signals) == 0 {
		observability.RecordClassifyDiscard("no_match")
		return true
	}

	owner := ""
	if wa := p.reg.Get(subject); wa != nil {
		owner = wa.OwnerUserID
	}

	for _, sig := range signals {
		p.reg.RecordActivity(ctx, subject, sig)

		if p.signals != nil {
			if err := p.signals.Insert(ctx, &sig); err != nil {
				p.logger.Printf("[processor] persist signal %s/%s failed: %v", sig.Type, sig.Signature, err)
			}
		}

		observability.RecordSignal(string(sig.Type))
		p.bus.Publish(sig, owner)
		p.logger.Printf("[processor] %s %s conf=%.2f sig=%s", subject, sig.Type, sig.Confidence, sig.Signature)

		if sig.Type == domain.SignalLargeTransfer &&
			sig.Direction == domain.DirectionOutgoing &&
			sig.Counterparty != "" {
			p.reg.CascadeFrom(ctx, subject, sig.Counterparty, sig.SolAmount, sig.Signature)
		}
	}
	return true
}

// fetchTransaction retries getTransaction over the propagation gap: a
// confirmed notification can precede HTTP visibility by a few seconds.
func (p *Processor) fetchTransaction(ctx context.Context, signature string) (*solana.Transaction, error) {
	var tx *solana.Transaction
	var err error
	for attempt := 0; attempt < p.cfg.FetchRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.cfg.FetchRetryDelay):
			}
		}

		start := time.Now()
		tx, err = p.rpc.GetTransaction(ctx, signature)
		observability.RecordRPCLatency("getTransaction", time.Since(start).Seconds())
		if err != nil {
			return nil, err
		}
		if tx != nil {
			return tx, nil
		}
	}
	return nil, nil
}
