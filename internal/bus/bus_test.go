package bus

import (
	"testing"
	"time"

	"solana-wallet-watch/internal/domain"
)

func signalFor(subject string) domain.Signal {
	return domain.Signal{
		Type:      domain.SignalBuy,
		Subject:   subject,
		Signature: "sig-" + subject,
		Timestamp: time.Now().UnixMilli(),
	}
}

func recvOrFail(t *testing.T, ch <-chan domain.Signal) domain.Signal {
	t.Helper()
	select {
	case sig := <-ch:
		return sig
	case <-time.After(time.Second):
		t.Fatal("no signal delivered")
		return domain.Signal{}
	}
}

func TestBus_AddressScope(t *testing.T) {
	b := New(4, nil)

	addrCh, cancel := b.SubscribeAddress("addr1")
	defer cancel()
	otherCh, cancelOther := b.SubscribeAddress("addr2")
	defer cancelOther()

	b.Publish(signalFor("addr1"), "")

	got := recvOrFail(t, addrCh)
	if got.Subject != "addr1" {
		t.Errorf("unexpected subject %s", got.Subject)
	}

	select {
	case sig := <-otherCh:
		t.Errorf("addr2 listener received foreign signal: %+v", sig)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_UserScope(t *testing.T) {
	b := New(4, nil)

	userCh, cancel := b.SubscribeUser("user1")
	defer cancel()

	b.Publish(signalFor("pinned-addr"), "user1")
	if got := recvOrFail(t, userCh); got.Subject != "pinned-addr" {
		t.Errorf("unexpected subject %s", got.Subject)
	}

	// No owner: the user room stays silent.
	b.Publish(signalFor("pinned-addr"), "")
	select {
	case <-userCh:
		t.Error("user listener received signal without owner")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_GlobalScope(t *testing.T) {
	b := New(4, nil)

	globalCh, cancel := b.SubscribeGlobal()
	defer cancel()

	b.Publish(signalFor("addr1"), "")
	b.Publish(signalFor("addr2"), "user9")

	if got := recvOrFail(t, globalCh); got.Subject != "addr1" {
		t.Errorf("unexpected first subject %s", got.Subject)
	}
	if got := recvOrFail(t, globalCh); got.Subject != "addr2" {
		t.Errorf("unexpected second subject %s", got.Subject)
	}
}

func TestBus_SlowListenerDoesNotBlockOthers(t *testing.T) {
	b := New(1, nil)

	// Slow listener: buffer of 1, never drained.
	_, cancelSlow := b.SubscribeAddress("addr1")
	defer cancelSlow()
	fastCh, cancelFast := b.SubscribeAddress("addr1")
	defer cancelFast()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(signalFor("addr1"), "")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow listener")
	}

	// Fast listener got at least its buffer's worth.
	if len(fastCh) == 0 {
		t.Error("fast listener received nothing")
	}
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	b := New(4, nil)

	ch, cancel := b.SubscribeAddress("addr1")
	cancel()

	// Channel is closed after cancel.
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after cancel")
	}

	// Publishing afterwards must not panic.
	b.Publish(signalFor("addr1"), "")
}
