package ingest

import (
	"testing"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/hyperliquid"
	"github.com/hlindexer/pnl-indexer/internal/persistence"
	"github.com/hlindexer/pnl-indexer/internal/ratebudget"
	"github.com/hlindexer/pnl-indexer/internal/state"

	"github.com/shopspring/decimal"
)

func newTestCapture() (*MarketTradeCapture, *state.Store, chan persistence.IngestEvent) {
	budget := ratebudget.New(1200, 100)
	ws := hyperliquid.NewWSClient("wss://example.invalid/ws", budget)
	store := state.New()
	events := make(chan persistence.IngestEvent, 16)
	return NewMarketTradeCapture(ws, store, nil, nil, events), store, events
}

func TestConsiderDiscoveryOnlyQueuesNewAddresses(t *testing.T) {
	m, _, _ := newTestCapture()

	m.considerDiscovery("0xabc")
	m.considerDiscovery("0xabc")
	m.considerDiscovery("0xdef")

	if len(m.knownAddresses) != 2 {
		t.Fatalf("expected 2 known addresses, got %d", len(m.knownAddresses))
	}
	if len(m.seenThisTick) != 2 {
		t.Fatalf("expected 2 pending discoveries, got %d", len(m.seenThisTick))
	}

	// a later sighting of an already-known address must not re-queue it.
	m.seenThisTick = map[string]struct{}{}
	m.considerDiscovery("0xabc")
	if len(m.seenThisTick) != 0 {
		t.Fatal("expected already-known address not to be re-queued for discovery")
	}
}

func TestConsiderDiscoveryIgnoresEmptyAddress(t *testing.T) {
	m, _, _ := newTestCapture()
	m.considerDiscovery("")
	if len(m.knownAddresses) != 0 {
		t.Fatal("expected empty address to be ignored")
	}
}

func TestCaptureFillIfTrackedDropsUntrackedAddress(t *testing.T) {
	m, _, events := newTestCapture()
	trade := hyperliquid.MarketTrade{Coin: "BTC", Px: decimal.NewFromInt(50000), Sz: decimal.NewFromInt(1), Tid: 7}

	m.captureFillIfTracked("0xuntracked", trade, "B", time.Unix(0, 0).UTC())

	select {
	case evt := <-events:
		t.Fatalf("expected no event for an untracked address, got %+v", evt)
	default:
	}
}

func TestCaptureFillIfTrackedEmitsForTrackedAddress(t *testing.T) {
	m, store, events := newTestCapture()
	store.Initialize(1, "0xtracked")

	trade := hyperliquid.MarketTrade{Coin: "BTC", Px: decimal.NewFromInt(50000), Sz: decimal.NewFromInt(2), Tid: 9}
	m.captureFillIfTracked("0xtracked", trade, "A", time.Unix(0, 0).UTC())

	select {
	case evt := <-events:
		if evt.MarketFill == nil {
			t.Fatal("expected a MarketFill event")
		}
		if evt.MarketFill.Address != "0xtracked" || evt.MarketFill.Tid != 9 {
			t.Fatalf("unexpected event payload: %+v", evt.MarketFill)
		}
	default:
		t.Fatal("expected an event to be emitted for a tracked address")
	}
}
