// Package persistence drives the PnL calculator off the ingestion fan-out
// channel and owns the buffer-then-flush write path, grounded on the
// teacher's WriteQueue (internal/database/write_queue.go in the source
// repo) but specialized to the spec's exact cadence: flush every 30s or
// once 1000 snapshots have accumulated, deduplicating by (trader, ts) and
// keeping the last value on collision.
package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/logger"
	"github.com/hlindexer/pnl-indexer/internal/models"
	"github.com/hlindexer/pnl-indexer/internal/pnl"
	"github.com/hlindexer/pnl-indexer/internal/repositories"
	"github.com/hlindexer/pnl-indexer/internal/state"

	"github.com/shopspring/decimal"
)

const (
	flushInterval  = 30 * time.Second
	flushThreshold = 1000
)

// FillEvent is a push-path fill, arriving via the userFills WS feed;
// market-trade synthesis sends MarketFillEvent instead.
type FillEvent struct {
	Address string
	Trade   pnl.TradeEvent
}

// SnapshotEvent is a pull-path clearinghouse reading.
type SnapshotEvent struct {
	Address      string
	Positions    []state.Position
	AccountValue *decimal.Decimal
	Timestamp    time.Time
}

// MarketFillEvent is a fill inferred from the coin-level "trades" channel:
// unlike FillEvent it carries no authoritative closedPnl/fee, so the
// batcher must derive them from the trader's current position under the
// same per-address lock it updates, rather than racing a separate reader.
type MarketFillEvent struct {
	Address   string
	Coin      string
	Side      string
	Price     decimal.Decimal
	Size      decimal.Decimal
	Timestamp time.Time
	Tid       int64
}

// IngestEvent is the single channel type the batcher consumes; exactly one
// field is set.
type IngestEvent struct {
	Fill       *FillEvent
	Snapshot   *SnapshotEvent
	MarketFill *MarketFillEvent
}

type traderResolver interface {
	GetOrCreate(ctx context.Context, address, discoverySource string) (*models.Trader, bool, error)
}

// Batcher is the single-reader consumer of the ingestion fan-out channel.
// It drives the PnL calculator against the shared trader state store,
// persists trade rows best-effort, and buffers derived snapshots for
// periodic batched writes.
type Batcher struct {
	store    *state.Store
	traders  traderResolver
	trades   *repositories.TradeRepository
	snapshots *repositories.SnapshotRepository

	mu     sync.Mutex
	buffer map[snapshotKey]models.PnLSnapshot
}

type snapshotKey struct {
	traderID  uint
	timestamp time.Time
}

// NewBatcher wires a batcher against its repositories and the shared state store.
func NewBatcher(store *state.Store, traders traderResolver, trades *repositories.TradeRepository, snapshots *repositories.SnapshotRepository) *Batcher {
	return &Batcher{
		store:     store,
		traders:   traders,
		trades:    trades,
		snapshots: snapshots,
		buffer:    make(map[snapshotKey]models.PnLSnapshot),
	}
}

// Run consumes events until ctx is cancelled, flushing on both the 30s
// ticker and the 1000-item threshold, and once more before returning.
func (b *Batcher) Run(ctx context.Context, events <-chan IngestEvent) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.flush(context.Background())
			return

		case evt, ok := <-events:
			if !ok {
				b.flush(context.Background())
				return
			}
			b.handle(ctx, evt)
			if b.bufferedCount() >= flushThreshold {
				b.flush(ctx)
			}

		case <-ticker.C:
			b.flush(ctx)
		}
	}
}

func (b *Batcher) bufferedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

func (b *Batcher) handle(ctx context.Context, evt IngestEvent) {
	switch {
	case evt.Fill != nil:
		b.handleFill(ctx, *evt.Fill)
	case evt.Snapshot != nil:
		b.handleSnapshot(ctx, *evt.Snapshot)
	case evt.MarketFill != nil:
		b.handleMarketFill(ctx, *evt.MarketFill)
	}
}

func (b *Batcher) handleFill(ctx context.Context, fill FillEvent) {
	trader, _, err := b.traders.GetOrCreate(ctx, fill.Address, "fill_event")
	if err != nil {
		logger.Error("failed to resolve trader for fill", err, "address", fill.Address)
		return
	}

	b.store.Initialize(trader.ID, fill.Address)

	if !b.store.MarkTid(fill.Address, fill.Trade.Tid) {
		return // DuplicateEvent: silent drop per error-handling policy
	}

	var snapshot models.PnLSnapshot
	b.store.Update(fill.Address, func(s state.TraderState) state.TraderState {
		s = pnl.ApplyTrade(s, fill.Trade)
		s = pnl.UpdatePositionFromFill(s, fill.Trade.Coin, fill.Trade.Side, fill.Trade.Size, fill.Trade.Price)
		snap, err := pnl.CreateSnapshot(s, fill.Trade.Timestamp, nil)
		if err != nil {
			logger.Error("failed to build snapshot from fill", err, "address", fill.Address)
		} else {
			snapshot = snap
		}
		return s
	})
	b.enqueueSnapshot(snapshot)

	row := models.Trade{
		TraderID:      trader.ID,
		Coin:          fill.Trade.Coin,
		Side:          fill.Trade.Side,
		Size:          fill.Trade.Size,
		Price:         fill.Trade.Price,
		ClosedPnL:     fill.Trade.ClosedPnl,
		Fee:           fill.Trade.Fee,
		Timestamp:     fill.Trade.Timestamp,
		Tid:           fill.Trade.Tid,
		IsLiquidation: fill.Trade.IsLiquidation,
		Direction:     fill.Trade.Direction,
		StartPosition: fill.Trade.StartPosition,
		TxHash:        fill.Trade.TxHash,
		OrderID:       fill.Trade.OrderID,
	}
	if err := b.trades.Create(ctx, &row); err != nil {
		logger.Error("failed to persist trade row, continuing", err, "address", fill.Address, "tid", fill.Trade.Tid)
	}
}

// handleMarketFill captures a fill for an already-tracked trader from the
// coin-level trades channel, used to cover traders beyond the WS userFills
// 10-address cap. closedPnl/fee are derived from the position snapshot
// under the same lock the update applies against, so the read-then-apply
// is atomic per address.
func (b *Batcher) handleMarketFill(ctx context.Context, evt MarketFillEvent) {
	trader, _, err := b.traders.GetOrCreate(ctx, evt.Address, "market_trade")
	if err != nil {
		logger.Error("failed to resolve trader for market fill", err, "address", evt.Address)
		return
	}
	b.store.Initialize(trader.ID, evt.Address)

	if !b.store.MarkTid(evt.Address, evt.Tid) {
		return
	}

	var snapshot models.PnLSnapshot
	var tradeEvt pnl.TradeEvent
	b.store.Update(evt.Address, func(s state.TraderState) state.TraderState {
		tradeEvt = pnl.ComputeFillFromMarketTrade(s, evt.Coin, evt.Side, evt.Price, evt.Size, evt.Timestamp, evt.Tid)
		s = pnl.ApplyTrade(s, tradeEvt)
		s = pnl.UpdatePositionFromFill(s, evt.Coin, evt.Side, evt.Size, evt.Price)
		snap, err := pnl.CreateSnapshot(s, evt.Timestamp, nil)
		if err != nil {
			logger.Error("failed to build snapshot from market fill", err, "address", evt.Address)
		} else {
			snapshot = snap
		}
		return s
	})
	b.enqueueSnapshot(snapshot)

	row := models.Trade{
		TraderID:  trader.ID,
		Coin:      tradeEvt.Coin,
		Side:      tradeEvt.Side,
		Size:      tradeEvt.Size,
		Price:     tradeEvt.Price,
		ClosedPnL: tradeEvt.ClosedPnl,
		Fee:       tradeEvt.Fee,
		Timestamp: tradeEvt.Timestamp,
		Tid:       tradeEvt.Tid,
		Direction: tradeEvt.Direction,
		StartPosition: tradeEvt.StartPosition,
	}
	if err := b.trades.Create(ctx, &row); err != nil {
		logger.Error("failed to persist market-trade fill row, continuing", err, "address", evt.Address, "tid", evt.Tid)
	}
}

func (b *Batcher) handleSnapshot(ctx context.Context, evt SnapshotEvent) {
	trader, _, err := b.traders.GetOrCreate(ctx, evt.Address, "snapshot_poll")
	if err != nil {
		logger.Error("failed to resolve trader for snapshot", err, "address", evt.Address)
		return
	}

	b.store.Initialize(trader.ID, evt.Address)

	var snapshot models.PnLSnapshot
	b.store.Update(evt.Address, func(s state.TraderState) state.TraderState {
		s = pnl.UpdatePositions(s, evt.Positions)
		snap, err := pnl.CreateSnapshot(s, evt.Timestamp, evt.AccountValue)
		if err != nil {
			logger.Error("failed to build snapshot from poll", err, "address", evt.Address)
		} else {
			snapshot = snap
		}
		return s
	})
	b.enqueueSnapshot(snapshot)
}

func (b *Batcher) enqueueSnapshot(snapshot models.PnLSnapshot) {
	if snapshot.TraderID == 0 {
		return
	}
	key := snapshotKey{traderID: snapshot.TraderID, timestamp: snapshot.Timestamp}

	b.mu.Lock()
	b.buffer[key] = snapshot // last write wins within the same (trader, ts)
	b.mu.Unlock()
}

// flush writes the buffered snapshots in one batch. On DB error the buffer
// is retained (not dropped) and retried on the next tick.
func (b *Batcher) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return
	}
	batch := make([]models.PnLSnapshot, 0, len(b.buffer))
	for _, snap := range b.buffer {
		batch = append(batch, snap)
	}
	b.mu.Unlock()

	if err := b.snapshots.UpsertBatch(ctx, batch); err != nil {
		logger.Error("snapshot batch flush failed, retaining buffer", err, "count", len(batch))
		return
	}

	b.mu.Lock()
	for _, snap := range batch {
		delete(b.buffer, snapshotKey{traderID: snap.TraderID, timestamp: snap.Timestamp})
	}
	b.mu.Unlock()
}
