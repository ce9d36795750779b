package backfill

import (
	"testing"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/pnl"
	"github.com/hlindexer/pnl-indexer/internal/state"

	"github.com/shopspring/decimal"
)

func TestDayAlignedChunksWithinSingleDay(t *testing.T) {
	from := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 1, 18, 0, 0, 0, time.UTC)

	chunks := dayAlignedChunks(from, to)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if !chunks[0].start.Equal(from) || !chunks[0].end.Equal(to) {
		t.Fatalf("expected chunk to exactly match [from, to), got [%v, %v)", chunks[0].start, chunks[0].end)
	}
}

func TestDayAlignedChunksSpanningMultipleDays(t *testing.T) {
	from := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 4, 6, 0, 0, 0, time.UTC)

	chunks := dayAlignedChunks(from, to)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks (partial, full, full, partial), got %d", len(chunks))
	}

	if !chunks[0].start.Equal(from) {
		t.Fatalf("first chunk should start at from, got %v", chunks[0].start)
	}
	midnight := func(day int) time.Time {
		return time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC)
	}
	if !chunks[0].end.Equal(midnight(2)) {
		t.Fatalf("first chunk should end at UTC midnight, got %v", chunks[0].end)
	}
	if !chunks[1].start.Equal(midnight(2)) || !chunks[1].end.Equal(midnight(3)) {
		t.Fatalf("second chunk should be the full day of Jan 2, got [%v, %v)", chunks[1].start, chunks[1].end)
	}
	if !chunks[2].start.Equal(midnight(3)) || !chunks[2].end.Equal(midnight(4)) {
		t.Fatalf("third chunk should be the full day of Jan 3, got [%v, %v)", chunks[2].start, chunks[2].end)
	}
	if !chunks[3].start.Equal(midnight(4)) || !chunks[3].end.Equal(to) {
		t.Fatalf("last chunk should be clipped to to, got [%v, %v)", chunks[3].start, chunks[3].end)
	}
}

func TestDayAlignedChunksEmptyRange(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if chunks := dayAlignedChunks(now, now); chunks != nil {
		t.Fatalf("expected nil for an empty range, got %v", chunks)
	}
	if chunks := dayAlignedChunks(now, now.Add(-time.Hour)); chunks != nil {
		t.Fatalf("expected nil when to precedes from, got %v", chunks)
	}
}

// TestChunkChainingIsAssociative mirrors the two-24h-chunk scenario: chunk
// A carries a single +100 closedPnl trade, chunk B a single +200. Chaining
// chunk A's output state into chunk B's input must land on the same final
// realized_trading_pnl as applying both trades in one pass, regardless of
// which chunk is fetched first.
func TestChunkChainingIsAssociative(t *testing.T) {
	tradeA := pnl.TradeEvent{Coin: "BTC", Side: "A", Size: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), ClosedPnl: decimal.NewFromInt(100), Timestamp: time.Unix(0, 0), Tid: 1}
	tradeB := pnl.TradeEvent{Coin: "BTC", Side: "A", Size: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), ClosedPnl: decimal.NewFromInt(200), Timestamp: time.Unix(1, 0), Tid: 2}

	chained := state.NewTraderState(1, "0xabc")
	chained = pnl.ApplyTrade(chained, tradeA)
	chained = pnl.ApplyTrade(chained, tradeB)

	union := state.NewTraderState(1, "0xabc")
	for _, trade := range []pnl.TradeEvent{tradeA, tradeB} {
		union = pnl.ApplyTrade(union, trade)
	}

	if !chained.RealizedTradingPnl.Equal(union.RealizedTradingPnl) {
		t.Fatalf("chunk chaining must be associative: chained=%s union=%s", chained.RealizedTradingPnl, union.RealizedTradingPnl)
	}
	if !chained.RealizedTradingPnl.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected final realized_trading_pnl of 300, got %s", chained.RealizedTradingPnl)
	}
}
