package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/hyperliquid"
	"github.com/hlindexer/pnl-indexer/internal/logger"
	"github.com/hlindexer/pnl-indexer/internal/models"
	"github.com/hlindexer/pnl-indexer/internal/persistence"
	"github.com/hlindexer/pnl-indexer/internal/repositories"
	"github.com/hlindexer/pnl-indexer/internal/state"
)

// TrackedCoins is the static, redeploy-to-change list of coins the
// market-trade capture sweep subscribes to, chosen for volume and to keep
// the WS subscription count and rate budget bounded and predictable.
var TrackedCoins = []string{"BTC", "ETH", "SOL", "ARB", "AVAX", "DOGE", "SUI", "HYPE"}

const discoveryFlushInterval = 5 * time.Second

// MarketTradeCapture subscribes to the coin-level "trades" channel for
// TrackedCoins, discovers new trader addresses, and synthesizes fills for
// already-tracked traders regardless of whether they hold a WS userFills
// slot — this is how traders beyond the 10-address cap still get push-path
// coverage.
type MarketTradeCapture struct {
	ws      *hyperliquid.WSClient
	store   *state.Store
	traders *repositories.TraderRepository
	events  chan<- persistence.IngestEvent

	mu             sync.Mutex
	knownAddresses map[string]struct{} // active traders at startup, plus addresses seen since
	seenThisTick   map[string]struct{} // discoveries pending the 5s flush
	discoveryQueue *repositories.DiscoveryRepository
}

// NewMarketTradeCapture wires the sweep against its repositories.
func NewMarketTradeCapture(ws *hyperliquid.WSClient, store *state.Store, traders *repositories.TraderRepository, discoveryQueue *repositories.DiscoveryRepository, events chan<- persistence.IngestEvent) *MarketTradeCapture {
	return &MarketTradeCapture{
		ws:             ws,
		store:          store,
		traders:        traders,
		discoveryQueue: discoveryQueue,
		events:         events,
		knownAddresses: make(map[string]struct{}),
		seenThisTick:   make(map[string]struct{}),
	}
}

// Hydrate loads the known-address set from the active rows of the traders
// table. Addresses that are only in the discovery queue, or belong to
// inactive traders, are not loaded, so after a restart their first sighting
// queues them again (the queue insert ignores duplicates).
func (m *MarketTradeCapture) Hydrate(ctx context.Context) error {
	traders, err := m.traders.ListActive(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	for _, t := range traders {
		m.knownAddresses[t.Address] = struct{}{}
	}
	m.mu.Unlock()
	return nil
}

// Run subscribes to every tracked coin and starts the discovery flush
// timer, until ctx is cancelled.
func (m *MarketTradeCapture) Run(ctx context.Context) {
	go m.flushDiscoveriesLoop(ctx)

	var wg sync.WaitGroup
	for _, coin := range TrackedCoins {
		wg.Add(1)
		go func(c string) {
			defer wg.Done()
			m.consumeCoin(ctx, c)
		}(coin)
	}
	wg.Wait()
}

func (m *MarketTradeCapture) consumeCoin(ctx context.Context, coin string) {
	frames := m.ws.Subscribe(hyperliquid.Subscription{Type: "trades", Coin: coin})
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-frames:
			if !ok {
				return
			}
			m.handleFrame(raw)
		}
	}
}

func (m *MarketTradeCapture) handleFrame(raw []byte) {
	trades, err := decodeMarketTradesFrame(raw)
	if err != nil {
		logger.Warn("failed to decode trades frame, skipping", "error", err.Error())
		return
	}
	for _, trade := range trades {
		m.handleTrade(trade)
	}
}

func (m *MarketTradeCapture) handleTrade(trade hyperliquid.MarketTrade) {
	buyer := strings.ToLower(trade.Users[0])
	seller := strings.ToLower(trade.Users[1])

	m.considerDiscovery(buyer)
	m.considerDiscovery(seller)

	ts := time.UnixMilli(trade.Time).UTC()
	m.captureFillIfTracked(buyer, trade, "B", ts)
	m.captureFillIfTracked(seller, trade, "A", ts)
}

func (m *MarketTradeCapture) considerDiscovery(address string) {
	if address == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, known := m.knownAddresses[address]; known {
		return
	}
	m.knownAddresses[address] = struct{}{}
	m.seenThisTick[address] = struct{}{}
}

func (m *MarketTradeCapture) captureFillIfTracked(address string, trade hyperliquid.MarketTrade, side string, ts time.Time) {
	if _, ok := m.store.Get(address); !ok {
		return // not a tracked trader; discovery path (if new) already ran above
	}

	evt := persistence.MarketFillEvent{
		Address:   address,
		Coin:      trade.Coin,
		Side:      side,
		Price:     trade.Px,
		Size:      trade.Sz,
		Timestamp: ts,
		Tid:       trade.Tid,
	}

	select {
	case m.events <- persistence.IngestEvent{MarketFill: &evt}:
	default:
		logger.Warn("ingest fan-out channel full, dropping market-trade fill", "address", address, "tid", trade.Tid)
	}
}

func (m *MarketTradeCapture) flushDiscoveriesLoop(ctx context.Context) {
	ticker := time.NewTicker(discoveryFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.flushDiscoveries(context.Background())
			return
		case <-ticker.C:
			m.flushDiscoveries(ctx)
		}
	}
}

func (m *MarketTradeCapture) flushDiscoveries(ctx context.Context) {
	m.mu.Lock()
	if len(m.seenThisTick) == 0 {
		m.mu.Unlock()
		return
	}
	batch := make([]models.DiscoveryQueueItem, 0, len(m.seenThisTick))
	now := time.Now()
	for address := range m.seenThisTick {
		batch = append(batch, models.DiscoveryQueueItem{
			Address:      address,
			Source:       "market_trade",
			Priority:     0,
			DiscoveredAt: now,
		})
	}
	m.seenThisTick = make(map[string]struct{})
	m.mu.Unlock()

	if err := m.discoveryQueue.EnqueueBatch(ctx, batch); err != nil {
		logger.Error("failed to flush discovery batch", err, "count", len(batch))
	}
}
