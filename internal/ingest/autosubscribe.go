package ingest

import (
	"context"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/backfill"
	"github.com/hlindexer/pnl-indexer/internal/hyperliquid"
	"github.com/hlindexer/pnl-indexer/internal/logger"
	"github.com/hlindexer/pnl-indexer/internal/models"
	"github.com/hlindexer/pnl-indexer/internal/repositories"
)

const (
	autoSubscribeInterval = 60 * time.Second
	autoSubscribeBatch    = 10
	autoSubscribeDelay    = 500 * time.Millisecond
	initialBackfillDays   = 7
)

// AutoSubscribeWorker periodically drains the discovery queue, promoting
// newly discovered addresses into active trader rows and subscribing them
// to the hybrid stream.
type AutoSubscribeWorker struct {
	discovery *repositories.DiscoveryRepository
	traders   *repositories.TraderRepository
	hybrid    *Hybrid
	backfill  *backfill.Scheduler
}

// NewAutoSubscribeWorker wires the worker against its dependencies.
func NewAutoSubscribeWorker(discovery *repositories.DiscoveryRepository, traders *repositories.TraderRepository, hybrid *Hybrid, scheduler *backfill.Scheduler) *AutoSubscribeWorker {
	return &AutoSubscribeWorker{discovery: discovery, traders: traders, hybrid: hybrid, backfill: scheduler}
}

// Run ticks every autoSubscribeInterval until ctx is cancelled.
func (w *AutoSubscribeWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(autoSubscribeInterval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *AutoSubscribeWorker) tick(ctx context.Context) {
	items, err := w.discovery.NextBatch(ctx, autoSubscribeBatch)
	if err != nil {
		logger.Error("auto-subscribe failed to fetch discovery batch", err)
		return
	}

	for i, item := range items {
		w.processOne(ctx, item)
		if i < len(items)-1 {
			select {
			case <-time.After(autoSubscribeDelay):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *AutoSubscribeWorker) processOne(ctx context.Context, item models.DiscoveryQueueItem) {
	address, err := hyperliquid.NormalizeAddress(item.Address)
	if err != nil {
		w.markProcessed(ctx, item.ID, "invalid_address")
		return
	}

	existing, err := w.traders.GetByAddress(ctx, address)
	if err != nil {
		logger.Error("auto-subscribe failed to look up trader", err, "address", address)
		return
	}
	if existing != nil {
		w.markProcessed(ctx, item.ID, "already_subscribed")
		return
	}

	trader, _, err := w.traders.GetOrCreate(ctx, address, item.Source)
	if err != nil {
		logger.Error("auto-subscribe failed to create trader", err, "address", address)
		return
	}

	w.hybrid.Subscribe(ctx, address)

	if err := w.backfill.Schedule(ctx, trader.ID, address, initialBackfillDays); err != nil {
		logger.Error("auto-subscribe failed to schedule backfill", err, "address", address)
	}

	w.markProcessed(ctx, item.ID, "subscribed")
}

func (w *AutoSubscribeWorker) markProcessed(ctx context.Context, id uint, result string) {
	if err := w.discovery.MarkProcessed(ctx, id, result); err != nil {
		logger.Error("auto-subscribe failed to mark queue item processed", err, "id", id)
	}
}
