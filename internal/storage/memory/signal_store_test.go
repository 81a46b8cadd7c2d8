package memory

import (
	"context"
	"errors"
	"testing"

	"solana-wallet-watch/internal/domain"
	"solana-wallet-watch/internal/storage"
)

func testSignal(subject, signature string, sigType domain.SignalType, ts int64) *domain.Signal {
	return &domain.Signal{
		Type:       sigType,
		Subject:    subject,
		Signature:  signature,
		Slot:       100,
		Confidence: 0.95,
		Timestamp:  ts,
	}
}

func TestSignalStore_InsertAndGetBySubject(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	store.Insert(ctx, testSignal("addr1", "sig1", domain.SignalBuy, 1000))
	store.Insert(ctx, testSignal("addr1", "sig2", domain.SignalSell, 3000))
	store.Insert(ctx, testSignal("addr2", "sig3", domain.SignalMint, 2000))

	got, err := store.GetBySubject(ctx, "addr1", 0, 5000)
	if err != nil {
		t.Fatalf("GetBySubject failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(got))
	}
	if got[0].Timestamp > got[1].Timestamp {
		t.Error("signals not ordered by timestamp ASC")
	}
}

func TestSignalStore_TimeRangeInclusive(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	store.Insert(ctx, testSignal("addr1", "sig1", domain.SignalBuy, 1000))
	store.Insert(ctx, testSignal("addr1", "sig2", domain.SignalBuy, 2000))
	store.Insert(ctx, testSignal("addr1", "sig3", domain.SignalBuy, 3000))

	got, err := store.GetBySubject(ctx, "addr1", 1000, 2000)
	if err != nil {
		t.Fatalf("GetBySubject failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 signals in inclusive range, got %d", len(got))
	}
}

func TestSignalStore_InvalidInput(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	if err := store.Insert(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for nil, got %v", err)
	}
	if err := store.Insert(ctx, &domain.Signal{Subject: "addr1"}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for missing signature, got %v", err)
	}
}

func TestSignalStore_CountByType(t *testing.T) {
	store := NewSignalStore()
	ctx := context.Background()

	store.InsertBulk(ctx, []*domain.Signal{
		testSignal("addr1", "sig1", domain.SignalBuy, 1000),
		testSignal("addr1", "sig2", domain.SignalBuy, 2000),
		testSignal("addr2", "sig3", domain.SignalLargeTransfer, 3000),
		testSignal("addr2", "sig4", domain.SignalMint, 99_000),
	})

	counts, err := store.CountByType(ctx, 0, 5000)
	if err != nil {
		t.Fatalf("CountByType failed: %v", err)
	}
	if counts[domain.SignalBuy] != 2 {
		t.Errorf("expected 2 buys, got %d", counts[domain.SignalBuy])
	}
	if counts[domain.SignalLargeTransfer] != 1 {
		t.Errorf("expected 1 large_transfer, got %d", counts[domain.SignalLargeTransfer])
	}
	if counts[domain.SignalMint] != 0 {
		t.Errorf("mint outside range must not count, got %d", counts[domain.SignalMint])
	}
}
