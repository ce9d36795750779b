package backfill

import (
	"time"

	"github.com/hlindexer/pnl-indexer/internal/hyperliquid"
	"github.com/hlindexer/pnl-indexer/internal/pnl"
)

func tradeEventFromFill(fill hyperliquid.Fill) pnl.TradeEvent {
	return pnl.TradeEvent{
		Coin:          fill.Coin,
		Side:          fill.Side,
		Size:          fill.Sz,
		Price:         fill.Px,
		ClosedPnl:     fill.ClosedPnl,
		Fee:           fill.Fee,
		Timestamp:     time.UnixMilli(fill.Time).UTC(),
		Tid:           fill.Tid,
		IsLiquidation: fill.Liquidation != nil,
		Direction:     fill.Dir,
		StartPosition: fill.StartPosition,
		TxHash:        fill.Hash,
		OrderID:       fill.Oid,
	}
}

func fundingEventFromUpstream(evt hyperliquid.FundingEvent) pnl.FundingEvent {
	return pnl.FundingEvent{
		Coin:               evt.Delta.Coin,
		FundingRate:        evt.Delta.FundingRate,
		Payment:            evt.Delta.Usdc,
		PositionSizeAtTime: evt.Delta.Szi,
		Timestamp:          time.UnixMilli(evt.Time).UTC(),
	}
}
