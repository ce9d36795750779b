package pnl

import (
	"testing"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/state"

	"github.com/shopspring/decimal"
)

func dec(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return d
}

func TestOpenCloseScenario(t *testing.T) {
	s := state.NewTraderState(1, "0xabc")
	now := time.Now()

	buy := TradeEvent{Coin: "BTC", Side: "B", Size: dec("2"), Price: dec("40000"), ClosedPnl: decimal.Zero, Fee: decimal.Zero, Timestamp: now}
	s = ApplyTrade(s, buy)
	s = UpdatePositionFromFill(s, "BTC", "B", dec("2"), dec("40000"))

	sell := TradeEvent{Coin: "BTC", Side: "A", Size: dec("2"), Price: dec("45000"), ClosedPnl: dec("10000"), Fee: decimal.Zero, Timestamp: now}
	s = ApplyTrade(s, sell)
	s = UpdatePositionFromFill(s, "BTC", "A", dec("2"), dec("45000"))

	if !s.RealizedTradingPnl.Equal(dec("10000")) {
		t.Fatalf("realized_trading_pnl = %s, want 10000", s.RealizedTradingPnl)
	}
	if !s.TotalVolume.Equal(dec("170000")) {
		t.Fatalf("total_volume = %s, want 170000", s.TotalVolume)
	}
	if _, ok := s.Positions["BTC"]; ok {
		t.Fatal("expected BTC position to be closed")
	}
}

func TestPartialCloseSplitPnlOnOversell(t *testing.T) {
	s := state.NewTraderState(1, "0xabc")
	s.Positions["BTC"] = state.Position{Coin: "BTC", Size: dec("2"), EntryPrice: dec("50000")}

	fill := ComputeFillFromMarketTrade(s, "BTC", "A", dec("55000"), dec("5"), time.Now(), 1)
	if !fill.ClosedPnl.Equal(dec("10000")) {
		t.Fatalf("closed_pnl = %s, want 10000", fill.ClosedPnl)
	}

	s = UpdatePositionFromFill(s, "BTC", "A", dec("5"), dec("55000"))
	pos, ok := s.Positions["BTC"]
	if !ok {
		t.Fatal("expected flipped position to remain open")
	}
	if !pos.Size.Equal(dec("-3")) {
		t.Fatalf("size = %s, want -3", pos.Size)
	}
	if !pos.EntryPrice.Equal(dec("55000")) {
		t.Fatalf("entry price = %s, want 55000 after flip", pos.EntryPrice)
	}
}

func TestWeightedEntryAverage(t *testing.T) {
	s := state.NewTraderState(1, "0xabc")
	s.Positions["BTC"] = state.Position{Coin: "BTC", Size: dec("1"), EntryPrice: dec("40000")}

	s = UpdatePositionFromFill(s, "BTC", "B", dec("1"), dec("50000"))

	pos := s.Positions["BTC"]
	if !pos.Size.Equal(dec("2")) {
		t.Fatalf("size = %s, want 2", pos.Size)
	}
	if !pos.EntryPrice.Equal(dec("45000")) {
		t.Fatalf("entry price = %s, want 45000", pos.EntryPrice)
	}
}

func TestScalperSequenceTwelveTrades(t *testing.T) {
	s := state.NewTraderState(1, "0xabc")
	now := time.Now()

	// A 12-trade open/add/reduce/close sequence over one coin. This asserts
	// the primitive applyTrade exercises: cumulative realized_trading_pnl
	// is the exact sum of closedPnl fields, and trade_count increments once
	// per applied trade regardless of direction.
	fills := []TradeEvent{
		{Coin: "BTC", Side: "B", Size: dec("10"), Price: dec("60000"), ClosedPnl: dec("0"), Timestamp: now},
		{Coin: "BTC", Side: "B", Size: dec("5"), Price: dec("60100"), ClosedPnl: dec("0"), Timestamp: now},
		{Coin: "BTC", Side: "A", Size: dec("3"), Price: dec("60300"), ClosedPnl: dec("40"), Timestamp: now},
		{Coin: "BTC", Side: "A", Size: dec("4"), Price: dec("60400"), ClosedPnl: dec("60"), Timestamp: now},
		{Coin: "BTC", Side: "A", Size: dec("8"), Price: dec("60000"), ClosedPnl: dec("0"), Timestamp: now},
		{Coin: "BTC", Side: "B", Size: dec("2"), Price: dec("59900"), ClosedPnl: dec("0"), Timestamp: now},
		{Coin: "BTC", Side: "B", Size: dec("3"), Price: dec("59850"), ClosedPnl: dec("0"), Timestamp: now},
		{Coin: "BTC", Side: "A", Size: dec("5"), Price: dec("59950"), ClosedPnl: dec("50"), Timestamp: now},
		{Coin: "BTC", Side: "A", Size: dec("5"), Price: dec("59700"), ClosedPnl: dec("10"), Timestamp: now},
		{Coin: "BTC", Side: "B", Size: dec("5"), Price: dec("59800"), ClosedPnl: dec("0"), Timestamp: now},
		{Coin: "BTC", Side: "A", Size: dec("10"), Price: dec("59750"), ClosedPnl: dec("100"), Timestamp: now},
		{Coin: "BTC", Side: "A", Size: dec("5"), Price: dec("59800"), ClosedPnl: dec("0"), Timestamp: now},
	}

	want := decimal.Zero
	for _, f := range fills {
		s = ApplyTrade(s, f)
		want = want.Add(f.ClosedPnl)
	}

	if s.TradeCount != 12 {
		t.Fatalf("trade_count = %d, want 12", s.TradeCount)
	}
	if !s.RealizedTradingPnl.Equal(want) {
		t.Fatalf("realized_trading_pnl = %s, want %s", s.RealizedTradingPnl, want)
	}
}

func TestBackfillChunkChainingIsAssociative(t *testing.T) {
	now := time.Now()
	chunkA := TradeEvent{Coin: "BTC", Side: "B", Size: dec("1"), Price: dec("1"), ClosedPnl: dec("100"), Timestamp: now}
	chunkB := TradeEvent{Coin: "BTC", Side: "B", Size: dec("1"), Price: dec("1"), ClosedPnl: dec("200"), Timestamp: now.Add(24 * time.Hour)}

	chained := state.NewTraderState(1, "0xabc")
	chained = ApplyTrade(chained, chunkA)
	chained = ApplyTrade(chained, chunkB)

	reversed := state.NewTraderState(1, "0xabc")
	reversed = ApplyTrade(reversed, chunkB)
	reversed = ApplyTrade(reversed, chunkA)

	if !chained.RealizedTradingPnl.Equal(dec("300")) {
		t.Fatalf("chained realized_trading_pnl = %s, want 300", chained.RealizedTradingPnl)
	}
	if !chained.RealizedTradingPnl.Equal(reversed.RealizedTradingPnl) {
		t.Fatal("expected chunk chaining to be order-independent for disjoint time ranges")
	}
}

func TestTidDedupLeavesStateUnchangedAfterFirstApplication(t *testing.T) {
	st := state.New()
	st.Initialize(1, "0xabc")

	apply := func() {
		if !st.MarkTid("0xabc", 42) {
			return
		}
		st.Update("0xabc", func(s state.TraderState) state.TraderState {
			return ApplyTrade(s, TradeEvent{Coin: "BTC", Side: "B", Size: dec("1"), Price: dec("100"), ClosedPnl: dec("5"), Timestamp: time.Now()})
		})
	}

	apply()
	apply()

	got, _ := st.Get("0xabc")
	if got.TradeCount != 1 {
		t.Fatalf("trade_count = %d, want 1 after replayed tid", got.TradeCount)
	}
	if !got.RealizedTradingPnl.Equal(dec("5")) {
		t.Fatalf("realized_trading_pnl = %s, want 5", got.RealizedTradingPnl)
	}
}

func TestRealizedPnlInvariantHoldsAcrossSequence(t *testing.T) {
	s := state.NewTraderState(1, "0xabc")
	now := time.Now()

	s = ApplyTrade(s, TradeEvent{Coin: "BTC", Side: "B", Size: dec("1"), Price: dec("100"), ClosedPnl: dec("10"), Fee: dec("1"), Timestamp: now})
	s = ApplyFunding(s, FundingEvent{Coin: "BTC", Payment: dec("2"), Timestamp: now})
	s = ApplyTrade(s, TradeEvent{Coin: "BTC", Side: "A", Size: dec("1"), Price: dec("110"), ClosedPnl: dec("10"), Fee: dec("1"), Timestamp: now})

	want := s.RealizedTradingPnl.Sub(s.TotalFees).Add(s.RealizedFundingPnl)
	if !s.RealizedPnl().Equal(want) {
		t.Fatalf("RealizedPnl() = %s, want %s", s.RealizedPnl(), want)
	}
}

func TestTotalVolumeMonotonicNonDecreasing(t *testing.T) {
	s := state.NewTraderState(1, "0xabc")
	now := time.Now()
	prev := s.TotalVolume

	trades := []TradeEvent{
		{Coin: "BTC", Side: "B", Size: dec("1"), Price: dec("100"), Timestamp: now},
		{Coin: "BTC", Side: "A", Size: dec("1"), Price: dec("90"), Timestamp: now},
		{Coin: "ETH", Side: "B", Size: dec("3"), Price: dec("2000"), Timestamp: now},
	}
	for _, trade := range trades {
		s = ApplyTrade(s, trade)
		if s.TotalVolume.LessThan(prev) {
			t.Fatalf("total_volume decreased: %s -> %s", prev, s.TotalVolume)
		}
		prev = s.TotalVolume
	}
}

func TestUpdatePositionFromFillNeverStoresZeroSizeEntry(t *testing.T) {
	s := state.NewTraderState(1, "0xabc")
	s = UpdatePositionFromFill(s, "BTC", "B", dec("1"), dec("100"))
	s = UpdatePositionFromFill(s, "BTC", "A", dec("1"), dec("110"))

	if _, ok := s.Positions["BTC"]; ok {
		t.Fatal("expected zero-size position to be removed, not stored")
	}
}

func TestCalculateSummaryStatsUsesRunningPeakDrawdown(t *testing.T) {
	// peak 100 at i=1, trough -20 at i=3, but a later higher peak (150) at
	// i=4 means the single-extrema (trough - peak) formula would be wrong;
	// the correct running formula still reports the 100 -> -20 drawdown of
	// 120 as the max, since no later decline from 150 exceeds it.
	history := []decimal.Decimal{dec("0"), dec("100"), dec("50"), dec("-20"), dec("150"), dec("140")}

	stats := CalculateSummaryStats(history)

	if !stats.PeakPnl.Equal(dec("150")) {
		t.Fatalf("peak = %s, want 150", stats.PeakPnl)
	}
	if !stats.TroughPnl.Equal(dec("-20")) {
		t.Fatalf("trough = %s, want -20", stats.TroughPnl)
	}
	if !stats.MaxDrawdown.Equal(dec("120")) {
		t.Fatalf("max_drawdown = %s, want 120 (100 -> -20)", stats.MaxDrawdown)
	}
}

func TestSnapshotIdempotence(t *testing.T) {
	s := state.NewTraderState(1, "0xabc")
	s.RealizedTradingPnl = dec("50")
	ts := time.Now()

	snap1, err := CreateSnapshot(s, ts, nil)
	if err != nil {
		t.Fatal(err)
	}
	snap2, err := CreateSnapshot(s, ts, nil)
	if err != nil {
		t.Fatal(err)
	}

	if snap1.TraderID != snap2.TraderID || snap1.Timestamp != snap2.Timestamp || !snap1.TotalPnL.Equal(snap2.TotalPnL) {
		t.Fatal("expected identical snapshots for identical state and timestamp")
	}
}

func TestIsPositionFlip(t *testing.T) {
	cases := []struct {
		name          string
		startPosition decimal.Decimal
		side          string
		size          decimal.Decimal
		want          bool
	}{
		{"no prior position", decimal.Zero, "A", dec("5"), false},
		{"reduce without crossing", dec("10"), "A", dec("5"), false},
		{"sell through zero", dec("2"), "A", dec("5"), true},
		{"buy through zero", dec("-2"), "B", dec("5"), true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			trade := TradeEvent{StartPosition: c.startPosition, Side: c.side, Size: c.size}
			if got := IsPositionFlip(trade); got != c.want {
				t.Fatalf("IsPositionFlip = %v, want %v", got, c.want)
			}
		})
	}
}
