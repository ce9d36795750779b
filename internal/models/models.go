// Package models holds the GORM-mapped rows the indexer persists: traders,
// trades, funding payments, PnL snapshots, data gaps, and the discovery
// queue. Position state is deliberately not a table here — it only ever
// lives in the in-memory trader state (internal/state) and inside a
// snapshot's OpenPositions column.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trader is created once per address the system has ever observed and is
// never deleted; IsActive toggles with subscribe/unsubscribe.
type Trader struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Address         string    `gorm:"size:42;uniqueIndex;not null" json:"address"`
	FirstSeenAt     time.Time `gorm:"not null" json:"first_seen_at"`
	LastUpdatedAt   time.Time `gorm:"not null" json:"last_updated_at"`
	IsActive        bool      `gorm:"not null;default:true;index" json:"is_active"`
	DiscoverySource string    `gorm:"size:32;not null" json:"discovery_source"`
}

func (Trader) TableName() string { return "traders" }

// Trade is one filled order on the upstream. It is insert-only and
// idempotent on the upstream fill id (Tid).
type Trade struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	TraderID      uint            `gorm:"not null;index:idx_trades_trader_time" json:"trader_id"`
	Coin          string          `gorm:"size:16;not null;index" json:"coin"`
	Side          string          `gorm:"size:1;not null" json:"side"` // "B" buyer, "A" seller
	Size          decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"size"`
	Price         decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"price"`
	ClosedPnL     decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"closed_pnl"`
	Fee           decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"fee"`
	Timestamp     time.Time       `gorm:"not null;index:idx_trades_trader_time" json:"timestamp"`
	Tid           int64           `gorm:"uniqueIndex;not null" json:"tid"`
	IsLiquidation bool            `gorm:"not null;default:false" json:"is_liquidation"`
	Direction     string          `gorm:"size:24" json:"direction,omitempty"`
	StartPosition decimal.Decimal `gorm:"type:numeric(38,18)" json:"start_position,omitempty"`
	TxHash        string          `gorm:"size:80" json:"tx_hash,omitempty"`
	OrderID       int64           `json:"oid,omitempty"`
}

func (Trade) TableName() string { return "trades" }

// FundingPayment is a periodic cashflow between long and short holders of a
// perpetual, insert-only and idempotent on (trader_id, coin, timestamp).
type FundingPayment struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	TraderID          uint            `gorm:"not null;uniqueIndex:idx_funding_unique" json:"trader_id"`
	Coin              string          `gorm:"size:16;not null;uniqueIndex:idx_funding_unique" json:"coin"`
	FundingRate       decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"funding_rate"`
	Payment           decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"payment"`
	PositionSizeAtTime decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"position_size_at_time"`
	Timestamp         time.Time       `gorm:"not null;uniqueIndex:idx_funding_unique" json:"timestamp"`
}

func (FundingPayment) TableName() string { return "funding_payments" }

// PnLSnapshot records every PnL aggregate for one trader at one instant. Its
// primary key is (trader_id, timestamp); writes are idempotent upserts.
type PnLSnapshot struct {
	TraderID      uint            `gorm:"primaryKey;autoIncrement:false" json:"trader_id"`
	Timestamp     time.Time       `gorm:"primaryKey" json:"timestamp"`
	RealizedPnL   decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"unrealized_pnl"`
	TotalPnL      decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"total_pnl"`
	FundingPnL    decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"funding_pnl"`
	TradingPnL    decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"trading_pnl"`
	OpenPositions string          `gorm:"type:jsonb" json:"open_positions"` // JSON-encoded map[coin]Position
	TotalVolume   decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"total_volume"`
	AccountValue  *decimal.Decimal `gorm:"type:numeric(38,18)" json:"account_value,omitempty"`
}

func (PnLSnapshot) TableName() string { return "pnl_snapshots" }

// DataGap records a contiguous time range for one trader with no snapshot
// coverage. ResolvedAt is set once a later scan finds the window covered.
type DataGap struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	TraderID   uint       `gorm:"not null;index" json:"trader_id"`
	GapStart   time.Time  `gorm:"not null" json:"gap_start"`
	GapEnd     time.Time  `gorm:"not null" json:"gap_end"`
	GapType    string     `gorm:"size:16;not null" json:"gap_type"` // snapshots | fills | funding
	DetectedAt time.Time  `gorm:"not null" json:"detected_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func (DataGap) TableName() string { return "data_gaps" }

// DiscoveryQueueItem is a candidate trader address awaiting auto-subscribe
// processing, unique by address.
type DiscoveryQueueItem struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Address       string     `gorm:"size:42;uniqueIndex;not null" json:"address"`
	Source        string     `gorm:"size:32;not null" json:"source"`
	Priority      int        `gorm:"not null;default:0" json:"priority"`
	DiscoveredAt  time.Time  `gorm:"not null" json:"discovered_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	Notes         string     `gorm:"size:256" json:"notes,omitempty"`
}

func (DiscoveryQueueItem) TableName() string { return "trader_discovery_queue" }

// BackfillJob is a durable unit of historical-fill work for one trader over
// one time range (processed in UTC-day-aligned chunks), idempotent on JobID so a re-requested
// backfill never duplicates work.
type BackfillJob struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	JobID           string     `gorm:"size:128;uniqueIndex;not null" json:"job_id"` // "backfill-<address>-<start_time>"
	TraderID        uint       `gorm:"not null;index" json:"trader_id"`
	Address         string     `gorm:"size:42;not null" json:"address"`
	StartTime       time.Time  `gorm:"not null" json:"start_time"`
	EndTime         time.Time  `gorm:"not null" json:"end_time"`
	Status          string     `gorm:"size:16;not null;index" json:"status"` // waiting | active | completed | failed
	Attempts        int        `gorm:"not null;default:0" json:"attempts"`
	PercentComplete float64    `gorm:"not null;default:0" json:"percent_complete"`
	FillsCount      int        `gorm:"not null;default:0" json:"fills_count"`
	FundingCount    int        `gorm:"not null;default:0" json:"funding_count"`
	SnapshotsCount  int        `gorm:"not null;default:0" json:"snapshots_count"`
	LastError       string     `gorm:"size:512" json:"last_error,omitempty"`
	CreatedAt       time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"not null" json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func (BackfillJob) TableName() string { return "backfill_jobs" }

// SystemLog is the optional database sink for the centralized logger.
type SystemLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Service   string    `gorm:"size:64;not null;index" json:"service"`
	Level     string    `gorm:"size:16;not null" json:"level"`
	Message   string    `gorm:"size:512;not null" json:"message"`
	EventType string    `gorm:"size:64" json:"event_type,omitempty"`
	EventData string    `gorm:"type:jsonb" json:"event_data,omitempty"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (SystemLog) TableName() string { return "system_logs" }
