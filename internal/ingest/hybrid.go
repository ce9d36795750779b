// Package ingest implements the three live-data feeds: the per-address
// hybrid push/pull stream, the coin-level market-trade/discovery sweep,
// and the auto-subscribe worker that drains the discovery queue into
// active subscriptions. The hybrid stream and the market-trade sweep
// publish onto the same fan-out channel the persistence batcher reads
// from; the auto-subscribe worker only subscribes addresses.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/hyperliquid"
	"github.com/hlindexer/pnl-indexer/internal/logger"
	"github.com/hlindexer/pnl-indexer/internal/persistence"
	"github.com/hlindexer/pnl-indexer/internal/pnl"
	"github.com/hlindexer/pnl-indexer/internal/ratebudget"
	"github.com/hlindexer/pnl-indexer/internal/state"
)

// SnapshotInterval is the pull-path poll cadence; a timer starts 10s after
// boot and fires at this interval thereafter.
const SnapshotInterval = 5 * time.Minute

const (
	snapshotPollBatchSize = 10
	snapshotPollBatchGap  = 3 * time.Second
	pollStartDelay        = 10 * time.Second
)

// subscriptionMode records whether an address currently has a live WS
// userFills subscription or is covered by the poll loop only.
type subscriptionMode int

const (
	modeWSFills subscriptionMode = iota
	modePollOnly
)

type subscriberEntry struct {
	address      string
	mode         subscriptionMode
	lastSnapshot time.Time
}

// Hybrid combines the WS userFills push path with the HTTP
// clearinghouseState pull loop for every subscribed address.
type Hybrid struct {
	ws     *hyperliquid.WSClient
	http   *hyperliquid.HTTPClient
	budget *ratebudget.Budget
	events chan<- persistence.IngestEvent

	mu          sync.Mutex
	subscribers map[string]*subscriberEntry
}

// NewHybrid wires a hybrid stream publishing onto events.
func NewHybrid(ws *hyperliquid.WSClient, httpClient *hyperliquid.HTTPClient, budget *ratebudget.Budget, events chan<- persistence.IngestEvent) *Hybrid {
	return &Hybrid{
		ws:          ws,
		http:        httpClient,
		budget:      budget,
		events:      events,
		subscribers: make(map[string]*subscriberEntry),
	}
}

// Subscribe admits address into the stream: attaches a WS userFills
// subscription if the connection has spare capacity, otherwise marks the
// address poll-only. Idempotent.
func (h *Hybrid) Subscribe(ctx context.Context, address string) {
	h.mu.Lock()
	if _, ok := h.subscribers[address]; ok {
		h.mu.Unlock()
		return
	}

	mode := modePollOnly
	if h.ws.ActiveUserFillsCount() < hyperliquid.MaxUserFillsSubscriptions {
		mode = modeWSFills
	}
	entry := &subscriberEntry{address: address, mode: mode}
	h.subscribers[address] = entry
	h.mu.Unlock()

	if mode == modeWSFills {
		h.attachFillsSubscription(ctx, address)
	} else {
		logger.Info("address added as poll-only, WS fills capacity exhausted", "address", address)
	}
}

// Unsubscribe removes address from both the push and pull paths.
func (h *Hybrid) Unsubscribe(address string) {
	h.mu.Lock()
	entry, ok := h.subscribers[address]
	delete(h.subscribers, address)
	h.mu.Unlock()

	if ok && entry.mode == modeWSFills {
		h.ws.Unsubscribe(hyperliquid.Subscription{Type: "userFills", User: address})
	}
}

func (h *Hybrid) attachFillsSubscription(ctx context.Context, address string) {
	frames := h.ws.Subscribe(hyperliquid.Subscription{Type: "userFills", User: address})
	go h.consumeFills(ctx, address, frames)
}

func (h *Hybrid) consumeFills(ctx context.Context, address string, frames <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-frames:
			if !ok {
				return
			}
			h.handleFillFrame(address, raw)
		}
	}
}

func (h *Hybrid) handleFillFrame(address string, raw []byte) {
	fills, err := decodeUserFillsFrame(raw)
	if err != nil {
		logger.Warn("failed to decode userFills frame, skipping", "address", address, "error", err.Error())
		return
	}
	for _, fill := range fills {
		trade := tradeEventFromFill(fill)
		select {
		case h.events <- persistence.IngestEvent{Fill: &persistence.FillEvent{Address: address, Trade: trade}}:
		default:
			logger.Warn("ingest fan-out channel full, dropping fill", "address", address, "tid", trade.Tid)
		}
	}
}

// Run starts the pull-path poll loop, ticking at SnapshotInterval after an
// initial pollStartDelay, until ctx is cancelled.
func (h *Hybrid) Run(ctx context.Context) {
	select {
	case <-time.After(pollStartDelay):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(SnapshotInterval)
	defer ticker.Stop()

	h.pollDue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pollDue(ctx)
		}
	}
}

func (h *Hybrid) pollDue(ctx context.Context) {
	due := h.dueAddresses()
	for i := 0; i < len(due); i += snapshotPollBatchSize {
		end := i + snapshotPollBatchSize
		if end > len(due) {
			end = len(due)
		}
		batch := due[i:end]

		var wg sync.WaitGroup
		for _, address := range batch {
			wg.Add(1)
			go func(addr string) {
				defer wg.Done()
				h.pollOne(ctx, addr)
			}(address)
		}
		wg.Wait()

		if end < len(due) {
			select {
			case <-time.After(snapshotPollBatchGap):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Hybrid) dueAddresses() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	due := make([]string, 0, len(h.subscribers))
	for _, entry := range h.subscribers {
		if now.Sub(entry.lastSnapshot) >= SnapshotInterval {
			due = append(due, entry.address)
		}
	}
	return due
}

func (h *Hybrid) pollOne(ctx context.Context, address string) {
	var resp hyperliquid.ClearinghouseState
	req := hyperliquid.InfoRequest{Type: "clearinghouseState", User: address}
	if err := h.http.Info(ctx, req, ratebudget.WeightInfoLight, &resp); err != nil {
		logger.Warn("clearinghouseState poll failed", "address", address, "error", err.Error())
		return
	}

	positions := make([]state.Position, 0, len(resp.AssetPositions))
	for _, ap := range resp.AssetPositions {
		positions = append(positions, state.Position{
			Coin:             ap.Position.Coin,
			Size:             ap.Position.Szi,
			EntryPrice:       ap.Position.EntryPx,
			Leverage:         ap.Position.Leverage.Value,
			LiquidationPrice: ap.Position.LiquidationPx,
			MarginUsed:       ap.Position.MarginUsed,
			UnrealizedPnl:    ap.Position.UnrealizedPnl,
		})
	}

	accountValue := resp.MarginSummary.AccountValue
	now := time.Now()

	select {
	case h.events <- persistence.IngestEvent{Snapshot: &persistence.SnapshotEvent{
		Address:      address,
		Positions:    positions,
		AccountValue: &accountValue,
		Timestamp:    now,
	}}:
	default:
		logger.Warn("ingest fan-out channel full, dropping snapshot poll", "address", address)
	}

	h.mu.Lock()
	if entry, ok := h.subscribers[address]; ok {
		entry.lastSnapshot = now
	}
	h.mu.Unlock()
}

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
