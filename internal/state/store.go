// Package state holds the process-wide trader state map: address to
// running PnL state, plus address to a bounded set of processed fill ids.
// It is the generalization of the teacher's PriceCache (internal/cache in
// the source repo) from one RWMutex-guarded TTL map to one mutex per
// address, since per-trader writes here are far more frequent than the
// teacher's price lookups and must not serialize across unrelated traders.
package state

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Position is one open perpetual position; size = 0 means it does not
// exist, and the store never holds a zero-size entry.
type Position struct {
	Coin            string
	Size            decimal.Decimal // signed
	EntryPrice      decimal.Decimal
	Leverage        decimal.Decimal
	LiquidationPrice *decimal.Decimal
	MarginUsed      decimal.Decimal
	MarginType      string // "cross" | "isolated"
	UnrealizedPnl   decimal.Decimal
}

// TraderState is the per-address running aggregate the PnL calculator
// mutates. It never touches the store itself.
type TraderState struct {
	TraderID uint
	Address  string

	RealizedTradingPnl decimal.Decimal
	RealizedFundingPnl decimal.Decimal
	TotalFees          decimal.Decimal
	TotalVolume        decimal.Decimal

	TradeCount       int
	LiquidationCount int
	FlipCount        int

	Positions map[string]Position

	LastUpdated time.Time
}

// Clone returns a deep-enough copy for safe handoff across goroutines (the
// Positions map is copied; decimal.Decimal is already immutable).
func (s TraderState) Clone() TraderState {
	clone := s
	clone.Positions = make(map[string]Position, len(s.Positions))
	for k, v := range s.Positions {
		clone.Positions[k] = v
	}
	return clone
}

// NewTraderState returns the zero state for a newly tracked trader.
func NewTraderState(traderID uint, address string) TraderState {
	return TraderState{
		TraderID:           traderID,
		Address:            address,
		RealizedTradingPnl: decimal.Zero,
		RealizedFundingPnl: decimal.Zero,
		TotalFees:          decimal.Zero,
		TotalVolume:        decimal.Zero,
		Positions:          make(map[string]Position),
	}
}

// RealizedPnl implements realized_pnl = trading - fees + funding.
func (s TraderState) RealizedPnl() decimal.Decimal {
	return s.RealizedTradingPnl.Sub(s.TotalFees).Add(s.RealizedFundingPnl)
}

// UnrealizedPnl sums every open position's unrealized PnL.
func (s TraderState) UnrealizedPnl() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range s.Positions {
		total = total.Add(pos.UnrealizedPnl)
	}
	return total
}

// TotalPnl implements total_pnl = realized + unrealized.
func (s TraderState) TotalPnl() decimal.Decimal {
	return s.RealizedPnl().Add(s.UnrealizedPnl())
}

const tidSetCapacity = 5000

// entry bundles one address's state with its own lock and dedup set, so
// operations on different addresses never contend.
type entry struct {
	mu    sync.Mutex
	state TraderState
	tids  *tidSet
}

// Store is the process-wide address -> state map. Each address is guarded
// by its own lock; Count() reads an eventually-consistent size.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty store.
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

func (s *Store) entryFor(address string) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[address]
	s.mu.RUnlock()
	return e, ok
}

// Get returns a snapshot copy of address's state, or false if untracked.
func (s *Store) Get(address string) (TraderState, bool) {
	e, ok := s.entryFor(address)
	if !ok {
		return TraderState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone(), true
}

// Initialize creates zero state for address if none exists yet. Safe to
// call repeatedly; a no-op once the trader is tracked.
func (s *Store) Initialize(traderID uint, address string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[address]; ok {
		return
	}
	s.entries[address] = &entry{
		state: NewTraderState(traderID, address),
		tids:  newTidSet(tidSetCapacity),
	}
}

// Set replaces address's state wholesale, for use after a pure
// state-transition function has produced a new value.
func (s *Store) Set(address string, newState TraderState) {
	e, ok := s.entryFor(address)
	if !ok {
		s.mu.Lock()
		e, ok = s.entries[address]
		if !ok {
			e = &entry{tids: newTidSet(tidSetCapacity)}
			s.entries[address] = e
		}
		s.mu.Unlock()
	}
	e.mu.Lock()
	e.state = newState
	e.mu.Unlock()
}

// Update applies fn to address's current state under its lock and stores
// the result, avoiding a Get/Set race for read-modify-write callers.
func (s *Store) Update(address string, fn func(TraderState) TraderState) {
	s.mu.Lock()
	e, ok := s.entries[address]
	if !ok {
		e = &entry{tids: newTidSet(tidSetCapacity)}
		s.entries[address] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	e.state = fn(e.state)
	e.mu.Unlock()
}

// MarkTid records tid as processed for address and reports whether it was
// previously absent — false means this is a replay and the caller must
// drop the event.
func (s *Store) MarkTid(address string, tid int64) bool {
	s.mu.Lock()
	e, ok := s.entries[address]
	if !ok {
		e = &entry{tids: newTidSet(tidSetCapacity)}
		s.entries[address] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tids.add(tid)
}

// Remove drops address's state and tid set entirely.
func (s *Store) Remove(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, address)
}

// Count returns the number of tracked addresses. Eventually consistent
// with concurrent Initialize/Remove calls, per the store's contract.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// tidSet is a bounded FIFO set: once capacity is reached, the oldest tid is
// evicted to admit the newest.
type tidSet struct {
	capacity int
	seen     map[int64]struct{}
	order    []int64
}

func newTidSet(capacity int) *tidSet {
	return &tidSet{
		capacity: capacity,
		seen:     make(map[int64]struct{}, capacity),
		order:    make([]int64, 0, capacity),
	}
}

// add returns true iff tid was not already present.
func (t *tidSet) add(tid int64) bool {
	if _, exists := t.seen[tid]; exists {
		return false
	}

	if len(t.order) >= t.capacity {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.seen, oldest)
	}

	t.seen[tid] = struct{}{}
	t.order = append(t.order, tid)
	return true
}
