package state

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestStoreInitializeAndGet(t *testing.T) {
	s := New()
	_, ok := s.Get("0xabc")
	if ok {
		t.Fatal("expected untracked address to be absent")
	}

	s.Initialize(1, "0xabc")
	got, ok := s.Get("0xabc")
	if !ok {
		t.Fatal("expected address to be tracked after Initialize")
	}
	if got.TraderID != 1 || got.Address != "0xabc" {
		t.Fatalf("unexpected state: %+v", got)
	}
	if !got.RealizedTradingPnl.Equal(decimal.Zero) {
		t.Fatalf("expected zero initial pnl, got %s", got.RealizedTradingPnl)
	}
}

func TestStoreInitializeIsIdempotent(t *testing.T) {
	s := New()
	s.Initialize(1, "0xabc")
	s.Update("0xabc", func(st TraderState) TraderState {
		st.RealizedTradingPnl = decimal.NewFromInt(100)
		return st
	})

	s.Initialize(1, "0xabc")
	got, _ := s.Get("0xabc")
	if !got.RealizedTradingPnl.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("Initialize must not clobber existing state, got %s", got.RealizedTradingPnl)
	}
}

func TestMarkTidDedup(t *testing.T) {
	s := New()
	s.Initialize(1, "0xabc")

	if !s.MarkTid("0xabc", 42) {
		t.Fatal("expected first MarkTid to report tid as new")
	}
	if s.MarkTid("0xabc", 42) {
		t.Fatal("expected replayed tid to report as already seen")
	}
}

func TestTidSetFIFOEviction(t *testing.T) {
	ts := newTidSet(3)
	ts.add(1)
	ts.add(2)
	ts.add(3)
	ts.add(4) // evicts 1

	if ts.add(1) != true {
		t.Fatal("expected evicted tid 1 to be re-addable")
	}
	if ts.add(4) != false {
		t.Fatal("expected tid 4 to still be tracked")
	}
}

func TestRemoveDropsState(t *testing.T) {
	s := New()
	s.Initialize(1, "0xabc")
	s.Remove("0xabc")

	if _, ok := s.Get("0xabc"); ok {
		t.Fatal("expected state to be gone after Remove")
	}
}

func TestRealizedAndTotalPnl(t *testing.T) {
	st := NewTraderState(1, "0xabc")
	st.RealizedTradingPnl = decimal.NewFromInt(100)
	st.TotalFees = decimal.NewFromInt(5)
	st.RealizedFundingPnl = decimal.NewFromInt(10)
	st.Positions["BTC"] = Position{Coin: "BTC", UnrealizedPnl: decimal.NewFromInt(20)}

	wantRealized := decimal.NewFromInt(105) // 100 - 5 + 10
	if !st.RealizedPnl().Equal(wantRealized) {
		t.Fatalf("RealizedPnl = %s, want %s", st.RealizedPnl(), wantRealized)
	}

	wantTotal := decimal.NewFromInt(125) // 105 + 20
	if !st.TotalPnl().Equal(wantTotal) {
		t.Fatalf("TotalPnl = %s, want %s", st.TotalPnl(), wantTotal)
	}
}
