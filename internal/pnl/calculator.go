// Package pnl holds the pure state-transition functions that turn fills,
// funding events, and position snapshots into running trader state. Nothing
// here touches the database or the trader state store directly; every
// function takes a state.TraderState and returns a new one.
package pnl

import (
	"encoding/json"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/models"
	"github.com/hlindexer/pnl-indexer/internal/money"
	"github.com/hlindexer/pnl-indexer/internal/state"

	"github.com/shopspring/decimal"
)

// TradeEvent is the normalized shape applyTrade consumes, built from either
// a userFills push or a backfilled userFillsByTime row.
type TradeEvent struct {
	Coin          string
	Side          string // "B" | "A"
	Size          decimal.Decimal
	Price         decimal.Decimal
	ClosedPnl     decimal.Decimal
	Fee           decimal.Decimal
	Timestamp     time.Time
	Tid           int64
	IsLiquidation bool
	Direction     string
	StartPosition decimal.Decimal
	TxHash        string
	OrderID       int64
}

// FundingEvent is the normalized shape applyFunding consumes.
type FundingEvent struct {
	Coin               string
	FundingRate        decimal.Decimal
	Payment            decimal.Decimal
	PositionSizeAtTime decimal.Decimal
	Timestamp          time.Time
}

// IsPositionFlip reports whether trade crosses the position through zero:
// start_position != 0, start_position ± size != 0, and
// sign(start_position) != sign(start_position ± size). A trade that closes
// the position exactly to zero is not a flip.
func IsPositionFlip(trade TradeEvent) bool {
	if money.IsZero(trade.StartPosition) {
		return false
	}

	delta := trade.Size
	if trade.Side == "A" {
		delta = trade.Size.Neg()
	}
	newPosition := trade.StartPosition.Add(delta)

	return !money.IsZero(newPosition) && money.Sign(trade.StartPosition) != money.Sign(newPosition)
}

// ApplyTrade folds one trade into state per:
//
//	realized_trading_pnl += closed_pnl
//	total_fees           += fee
//	total_volume         += size * price
//	trade_count          += 1
//	liquidation_count    += 1 if is_liquidation
//	flip_count           += 1 if isPositionFlip
//	last_updated          = trade.timestamp
func ApplyTrade(s state.TraderState, trade TradeEvent) state.TraderState {
	s.RealizedTradingPnl = s.RealizedTradingPnl.Add(trade.ClosedPnl)
	s.TotalFees = s.TotalFees.Add(trade.Fee)
	s.TotalVolume = s.TotalVolume.Add(trade.Size.Mul(trade.Price))
	s.TradeCount++
	if trade.IsLiquidation {
		s.LiquidationCount++
	}
	if IsPositionFlip(trade) {
		s.FlipCount++
	}
	s.LastUpdated = trade.Timestamp
	return s
}

// ApplyFunding folds one funding payment into state:
// realized_funding_pnl += payment.
func ApplyFunding(s state.TraderState, funding FundingEvent) state.TraderState {
	s.RealizedFundingPnl = s.RealizedFundingPnl.Add(funding.Payment)
	if funding.Timestamp.After(s.LastUpdated) {
		s.LastUpdated = funding.Timestamp
	}
	return s
}

// UpdatePositions replaces the positions map wholesale, dropping any
// zero-size entries (the reconciliation path, fed by clearinghouseState).
func UpdatePositions(s state.TraderState, positions []state.Position) state.TraderState {
	next := make(map[string]state.Position, len(positions))
	for _, pos := range positions {
		if money.IsZero(pos.Size) {
			continue
		}
		next[pos.Coin] = pos
	}
	s.Positions = next
	return s
}

// ComputeFillFromMarketTrade derives a TradeEvent from a coin-level market
// trade when our own fee/closedPnl is not available (the "trades" WS
// channel carries neither). fee is always zero here; the periodic
// reconciliation poll restores the authoritative figure.
func ComputeFillFromMarketTrade(s state.TraderState, coin, ourSide string, price, size decimal.Decimal, ts time.Time, tid int64) TradeEvent {
	pos, hasPosition := s.Positions[coin]

	closedPnl := decimal.Zero
	startPosition := decimal.Zero
	direction := "open"

	if hasPosition && !money.IsZero(pos.Size) {
		startPosition = pos.Size
		reducingLong := money.Sign(pos.Size) > 0 && ourSide == "A"
		reducingShort := money.Sign(pos.Size) < 0 && ourSide == "B"

		if reducingLong || reducingShort {
			closeSize := decimal.Min(size, pos.Size.Abs())
			directionSign := decimal.NewFromInt(1)
			if money.Sign(pos.Size) < 0 {
				directionSign = decimal.NewFromInt(-1)
			}
			closedPnl = price.Sub(pos.EntryPrice).Mul(closeSize).Mul(directionSign)
			direction = "close"
		} else {
			direction = "add"
		}
	}

	return TradeEvent{
		Coin:          coin,
		Side:          ourSide,
		Size:          size,
		Price:         price,
		ClosedPnl:     closedPnl,
		Fee:           decimal.Zero,
		Timestamp:     ts,
		Tid:           tid,
		Direction:     direction,
		StartPosition: startPosition,
	}
}

// UpdatePositionFromFill applies a fill's size/price to the open position
// for coin, mutating (returning a new) position map entry:
//   - new_size = old_size + (+size if side=B else -size)
//   - new_size == 0: position closed, entry removed
//   - old_size == 0 or sign flips: entry_price = price
//   - same-sign add: entry_price = size-weighted average, half-to-even
//   - same-sign partial reduce: entry_price unchanged
func UpdatePositionFromFill(s state.TraderState, coin, side string, size, price decimal.Decimal) state.TraderState {
	old, hasPosition := s.Positions[coin]
	oldSize := decimal.Zero
	if hasPosition {
		oldSize = old.Size
	}

	delta := size
	if side == "A" {
		delta = size.Neg()
	}
	newSize := oldSize.Add(delta)

	if money.IsZero(newSize) {
		delete(s.Positions, coin)
		return s
	}

	entryPrice := old.EntryPrice
	switch {
	case money.IsZero(oldSize):
		entryPrice = price
	case money.Sign(oldSize) != money.Sign(newSize):
		entryPrice = price
	case money.SameSign(oldSize, delta):
		entryPrice = money.WeightedAverage(old.EntryPrice, oldSize.Abs(), price, size)
	}

	updated := old
	updated.Coin = coin
	updated.Size = newSize
	updated.EntryPrice = entryPrice
	s.Positions[coin] = updated
	return s
}

// CreateSnapshot assembles a persisted snapshot row from state at instant
// ts. accountValue is nil when no authoritative clearinghouse reading is
// available at this instant (e.g. a push-path-only fill event).
func CreateSnapshot(s state.TraderState, ts time.Time, accountValue *decimal.Decimal) (models.PnLSnapshot, error) {
	positionsJSON, err := json.Marshal(s.Positions)
	if err != nil {
		return models.PnLSnapshot{}, err
	}

	realized := s.RealizedPnl()
	unrealized := s.UnrealizedPnl()

	return models.PnLSnapshot{
		TraderID:      s.TraderID,
		Timestamp:     ts,
		RealizedPnL:   realized,
		UnrealizedPnL: unrealized,
		TotalPnL:      realized.Add(unrealized),
		FundingPnL:    s.RealizedFundingPnl,
		TradingPnL:    s.RealizedTradingPnl,
		OpenPositions: string(positionsJSON),
		TotalVolume:   s.TotalVolume,
		AccountValue:  accountValue,
	}, nil
}

// SummaryStats is the result of scanning a chronological PnL history.
type SummaryStats struct {
	PeakPnl     decimal.Decimal
	TroughPnl   decimal.Decimal
	MaxDrawdown decimal.Decimal
}

// CalculateSummaryStats scans pnlHistory (chronological total_pnl values)
// and returns peak, trough, and max drawdown, where
// max_drawdown = max over i of (running_peak_up_to_i - value_i). This is
// the corrected running formula; a single peak-minus-trough difference
// overstates drawdown whenever the trough precedes a later, higher peak.
func CalculateSummaryStats(pnlHistory []decimal.Decimal) SummaryStats {
	if len(pnlHistory) == 0 {
		return SummaryStats{}
	}

	peak := pnlHistory[0]
	trough := pnlHistory[0]
	runningPeak := pnlHistory[0]
	maxDrawdown := decimal.Zero

	for _, v := range pnlHistory {
		if v.GreaterThan(peak) {
			peak = v
		}
		if v.LessThan(trough) {
			trough = v
		}
		if v.GreaterThan(runningPeak) {
			runningPeak = v
		}
		drawdown := runningPeak.Sub(v)
		if drawdown.GreaterThan(maxDrawdown) {
			maxDrawdown = drawdown
		}
	}

	return SummaryStats{PeakPnl: peak, TroughPnl: trough, MaxDrawdown: maxDrawdown}
}
