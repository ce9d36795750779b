package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/hyperliquid"
	"github.com/hlindexer/pnl-indexer/internal/persistence"
	"github.com/hlindexer/pnl-indexer/internal/ratebudget"
)

func newTestHybrid() *Hybrid {
	budget := ratebudget.New(1200, 100)
	ws := hyperliquid.NewWSClient("wss://example.invalid/ws", budget)
	http := hyperliquid.NewHTTPClient("https://example.invalid", budget)
	events := make(chan persistence.IngestEvent, 16)
	return NewHybrid(ws, http, budget, events)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	h := newTestHybrid()
	ctx := context.Background()

	h.Subscribe(ctx, "0xabc")
	h.Subscribe(ctx, "0xabc")

	if len(h.subscribers) != 1 {
		t.Fatalf("expected exactly one subscriber entry after duplicate Subscribe calls, got %d", len(h.subscribers))
	}
}

func TestSubscribeAdmitsWSModeUnderCap(t *testing.T) {
	h := newTestHybrid()
	h.Subscribe(context.Background(), "0xabc")

	entry, ok := h.subscribers["0xabc"]
	if !ok {
		t.Fatal("expected subscriber entry to exist")
	}
	if entry.mode != modeWSFills {
		t.Fatalf("expected WS fills mode while under the subscription cap, got %v", entry.mode)
	}
}

func TestSubscribeFallsBackToPollOnlyAtCap(t *testing.T) {
	h := newTestHybrid()
	ctx := context.Background()

	for i := 0; i < hyperliquid.MaxUserFillsSubscriptions; i++ {
		h.ws.Subscribe(hyperliquid.Subscription{Type: "userFills", User: string(rune('a' + i))})
	}

	h.Subscribe(ctx, "0xoverflow")
	entry := h.subscribers["0xoverflow"]
	if entry.mode != modePollOnly {
		t.Fatalf("expected poll-only mode once the WS cap is reached, got %v", entry.mode)
	}
}

func TestUnsubscribeRemovesEntry(t *testing.T) {
	h := newTestHybrid()
	ctx := context.Background()

	h.Subscribe(ctx, "0xabc")
	h.Unsubscribe("0xabc")

	if _, ok := h.subscribers["0xabc"]; ok {
		t.Fatal("expected subscriber entry to be removed after Unsubscribe")
	}
}

func TestDueAddressesOnlyReturnsStaleEntries(t *testing.T) {
	h := newTestHybrid()
	h.subscribers["fresh"] = &subscriberEntry{address: "fresh", lastSnapshot: time.Now()}
	h.subscribers["stale"] = &subscriberEntry{address: "stale", lastSnapshot: time.Now().Add(-2 * SnapshotInterval)}

	due := h.dueAddresses()
	if len(due) != 1 || due[0] != "stale" {
		t.Fatalf("expected only the stale entry to be due, got %v", due)
	}
}
