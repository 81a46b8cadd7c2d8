package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"solana-wallet-watch/internal/solana"
)

type fakeSource struct {
	addrs []string
}

func (f *fakeSource) Pollable() []string { return f.addrs }

type fakeRPC struct {
	mu   sync.Mutex
	sigs map[string][]solana.SignatureInfo
}

func (f *fakeRPC) GetTransaction(context.Context, string) (*solana.Transaction, error) {
	return nil, nil
}

func (f *fakeRPC) GetSignaturesForAddress(_ context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sigs := f.sigs[address]
	if opts != nil && opts.Limit > 0 && len(sigs) > opts.Limit {
		sigs = sigs[:opts.Limit]
	}
	return sigs, nil
}

type fakePipeline struct {
	mu      sync.Mutex
	claimed map[string]bool
	calls   []string
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{claimed: make(map[string]bool)}
}

func (f *fakePipeline) Process(_ context.Context, subject, signature string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, subject+"/"+signature)
	if f.claimed[signature] {
		return false
	}
	f.claimed[signature] = true
	return true
}

func (f *fakePipeline) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestPoller_ProcessesAllAddresses(t *testing.T) {
	rpc := &fakeRPC{sigs: map[string][]solana.SignatureInfo{
		"addr1": {{Signature: "s1", Slot: 1}, {Signature: "s2", Slot: 2}},
		"addr2": {{Signature: "s3", Slot: 3}},
	}}
	pipe := newFakePipeline()
	p := New(rpc, &fakeSource{addrs: []string{"addr1", "addr2"}}, pipe, Config{Window: 10})

	p.PollOnce(context.Background())

	if pipe.callCount() != 3 {
		t.Fatalf("expected 3 pipeline calls, got %d", pipe.callCount())
	}
}

func TestPoller_IdempotentAcrossCycles(t *testing.T) {
	rpc := &fakeRPC{sigs: map[string][]solana.SignatureInfo{
		"addr1": {{Signature: "s1", Slot: 1}},
	}}
	pipe := newFakePipeline()
	p := New(rpc, &fakeSource{addrs: []string{"addr1"}}, pipe, Config{Window: 10})

	ctx := context.Background()
	p.PollOnce(ctx)
	p.PollOnce(ctx)

	pipe.mu.Lock()
	claims := len(pipe.claimed)
	pipe.mu.Unlock()
	if claims != 1 {
		t.Fatalf("expected 1 claimed signature across cycles, got %d", claims)
	}
}

func TestPoller_SkipsFailedTransactions(t *testing.T) {
	rpc := &fakeRPC{sigs: map[string][]solana.SignatureInfo{
		"addr1": {
			{Signature: "ok", Slot: 1},
			{Signature: "failed", Slot: 2, Err: map[string]interface{}{"InstructionError": 0}},
		},
	}}
	pipe := newFakePipeline()
	p := New(rpc, &fakeSource{addrs: []string{"addr1"}}, pipe, Config{Window: 10})

	p.PollOnce(context.Background())

	pipe.mu.Lock()
	defer pipe.mu.Unlock()
	if len(pipe.calls) != 1 || pipe.calls[0] != "addr1/ok" {
		t.Fatalf("expected only the successful signature, got %v", pipe.calls)
	}
}

func TestPoller_WindowLimit(t *testing.T) {
	sigs := make([]solana.SignatureInfo, 25)
	for i := range sigs {
		sigs[i] = solana.SignatureInfo{Signature: string(rune('a' + i)), Slot: int64(i)}
	}
	rpc := &fakeRPC{sigs: map[string][]solana.SignatureInfo{"addr1": sigs}}
	pipe := newFakePipeline()
	p := New(rpc, &fakeSource{addrs: []string{"addr1"}}, pipe, Config{Window: 10})

	p.PollOnce(context.Background())

	if pipe.callCount() != 10 {
		t.Fatalf("expected window of 10, got %d", pipe.callCount())
	}
}

func TestPoller_StartStop(t *testing.T) {
	rpc := &fakeRPC{sigs: map[string][]solana.SignatureInfo{
		"addr1": {{Signature: "s1", Slot: 1}},
	}}
	pipe := newFakePipeline()
	p := New(rpc, &fakeSource{addrs: []string{"addr1"}}, pipe, Config{Interval: 10 * time.Millisecond, Window: 10})

	p.Start()
	time.Sleep(50 * time.Millisecond)
	p.Stop()

	if pipe.callCount() == 0 {
		t.Fatal("poller never ran a cycle")
	}
	// Stop is idempotent.
	p.Stop()
}
