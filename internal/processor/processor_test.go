package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"solana-wallet-watch/internal/bus"
	"solana-wallet-watch/internal/classify"
	"solana-wallet-watch/internal/dedup"
	"solana-wallet-watch/internal/domain"
	"solana-wallet-watch/internal/registry"
	"solana-wallet-watch/internal/solana"
	"solana-wallet-watch/internal/storage/memory"
	"solana-wallet-watch/internal/wsmux"
)

// On-curve wallet addresses for fixtures.
const (
	subjectAddr = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	destAddr    = "So11111111111111111111111111111111111111112"
)

// fakeRPC serves canned transactions and signature lists.
type fakeRPC struct {
	mu        sync.Mutex
	txs       map[string]*solana.Transaction
	getCalls  int
	neverFind bool
}

func (f *fakeRPC) GetTransaction(_ context.Context, signature string) (*solana.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.neverFind {
		return nil, nil
	}
	return f.txs[signature], nil
}

func (f *fakeRPC) GetSignaturesForAddress(_ context.Context, _ string, _ *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	return nil, nil
}

func (f *fakeRPC) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.getCalls
}

type nopMux struct{}

func (nopMux) Subscribe(context.Context, wsmux.ChannelKind, []interface{}, wsmux.Callback) (wsmux.Handle, error) {
	return 1, nil
}
func (nopMux) Unsubscribe(wsmux.Handle) error { return nil }

// transferTx is a large outgoing transfer from subject to dest.
func transferTx(signature string, amountSOL float64) *solana.Transaction {
	const start = 100 * solana.LamportsPerSol
	lamports := int64(amountSOL * solana.LamportsPerSol)
	return &solana.Transaction{
		Slot:      200,
		Signature: signature,
		BlockTime: 1_700_000_000,
		Meta: &solana.TransactionMeta{
			PreBalances:  []uint64{start, start},
			PostBalances: []uint64{uint64(start - lamports), uint64(start + lamports)},
		},
		Message: &solana.TransactionMessage{
			AccountKeys: []string{subjectAddr, destAddr},
		},
	}
}

type testEnv struct {
	proc    *Processor
	reg     *registry.Registry
	rpc     *fakeRPC
	signals *memory.SignalStore
	global  <-chan domain.Signal
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	rpc := &fakeRPC{txs: make(map[string]*solana.Transaction)}
	waStore := memory.NewWatchedAddressStore()
	sigStore := memory.NewSignalStore()
	b := bus.New(16, nil)
	globalCh, cancel := b.SubscribeGlobal()
	t.Cleanup(cancel)

	reg := registry.New(nopMux{}, waStore, func(string, string) {}, registry.Config{SweepInterval: time.Hour})
	if err := reg.Start(ctx); err != nil {
		t.Fatalf("registry start: %v", err)
	}
	t.Cleanup(reg.Stop)

	proc := New(rpc, classify.New(1.0), reg, dedup.NewMemoryStore(), b, sigStore, Config{
		FetchRetries:    2,
		FetchRetryDelay: time.Millisecond,
	})

	if _, err := reg.Register(ctx, subjectAddr, domain.KindSource, "", ""); err != nil {
		t.Fatalf("register subject: %v", err)
	}

	return &testEnv{proc: proc, reg: reg, rpc: rpc, signals: sigStore, global: globalCh}
}

func TestProcessor_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.rpc.txs["sig1"] = transferTx("sig1", 2.0)

	if !env.proc.Process(ctx, subjectAddr, "sig1") {
		t.Fatal("first Process must claim and run")
	}

	select {
	case sig := <-env.global:
		if sig.Type != domain.SignalLargeTransfer || sig.Direction != domain.DirectionOutgoing {
			t.Errorf("unexpected signal %+v", sig)
		}
	case <-time.After(time.Second):
		t.Fatal("signal never published")
	}

	wa := env.reg.Get(subjectAddr)
	if wa.Status != domain.StatusActive || wa.SignalCount != 1 {
		t.Errorf("activity not recorded: %+v", wa)
	}

	stored, _ := env.signals.GetBySubject(ctx, subjectAddr, 0, time.Now().UnixMilli())
	if len(stored) != 1 {
		t.Errorf("expected 1 persisted signal, got %d", len(stored))
	}
}

func TestProcessor_IdempotentAcrossPushAndPoll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.rpc.txs["sig1"] = transferTx("sig1", 2.0)

	// Push path first, then the poller reconciles the same signature.
	first := env.proc.Process(ctx, subjectAddr, "sig1")
	second := env.proc.Process(ctx, subjectAddr, "sig1")

	if !first || second {
		t.Fatalf("expected exactly one claim, got first=%v second=%v", first, second)
	}

	if wa := env.reg.Get(subjectAddr); wa.SignalCount != 1 {
		t.Errorf("expected exactly 1 recordActivity, got %d", wa.SignalCount)
	}

	published := 0
	for {
		select {
		case <-env.global:
			published++
		case <-time.After(100 * time.Millisecond):
			if published != 1 {
				t.Errorf("expected exactly 1 published signal, got %d", published)
			}
			return
		}
	}
}

func TestProcessor_ConcurrentDuplicateProcessesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.rpc.txs["sig1"] = transferTx("sig1", 2.0)

	var wg sync.WaitGroup
	wins := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- env.proc.Process(ctx, subjectAddr, "sig1")
		}()
	}
	wg.Wait()
	close(wins)

	total := 0
	for won := range wins {
		if won {
			total++
		}
	}
	if total != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", total)
	}
	if wa := env.reg.Get(subjectAddr); wa.SignalCount != 1 {
		t.Errorf("expected 1 recorded signal, got %d", wa.SignalCount)
	}
}

func TestProcessor_CascadesOnOutgoingTransfer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.rpc.txs["sig1"] = transferTx("sig1", 5.0)
	env.proc.Process(ctx, subjectAddr, "sig1")

	if !env.reg.IsTracked(destAddr) {
		t.Fatal("transfer destination must be cascaded into the watch set")
	}
	wa := env.reg.Get(destAddr)
	if wa.Kind != domain.KindCascaded || wa.SourceAddress != subjectAddr {
		t.Errorf("unexpected cascade entry %+v", wa)
	}
	if wa.WatchUntil == 0 {
		t.Error("cascaded entry must carry a watch window")
	}
}

func TestProcessor_NoCascadeOnIncoming(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Reverse the transfer: subject receives.
	tx := transferTx("sig1", 2.0)
	tx.Meta.PreBalances = []uint64{100 * solana.LamportsPerSol, 100 * solana.LamportsPerSol}
	tx.Meta.PostBalances = []uint64{102 * solana.LamportsPerSol, 98 * solana.LamportsPerSol}
	env.rpc.txs["sig1"] = tx

	env.proc.Process(ctx, subjectAddr, "sig1")

	if env.reg.IsTracked(destAddr) {
		t.Error("incoming transfers must not cascade")
	}
}

func TestProcessor_NotFoundRetriesThenGivesUp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.rpc.neverFind = true
	if env.proc.Process(ctx, subjectAddr, "sig-missing") {
		t.Error("missing transaction must not count as processed")
	}
	if calls := env.rpc.calls(); calls != 2 {
		t.Errorf("expected 2 fetch attempts, got %d", calls)
	}
	if wa := env.reg.Get(subjectAddr); wa.SignalCount != 0 {
		t.Error("missing transaction must not record activity")
	}
}

func TestProcessor_NoMatchStillClaims(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Below threshold, no token movement: zero signals, but the
	// signature is consumed so it is not refetched forever.
	env.rpc.txs["sig1"] = transferTx("sig1", 0.1)

	if !env.proc.Process(ctx, subjectAddr, "sig1") {
		t.Fatal("no-match transaction still claims its signature")
	}
	if env.proc.Process(ctx, subjectAddr, "sig1") {
		t.Error("second attempt must hit dedup")
	}
	if calls := env.rpc.calls(); calls != 1 {
		t.Errorf("expected 1 fetch, got %d", calls)
	}
}
