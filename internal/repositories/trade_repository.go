package repositories

import (
	"context"

	"github.com/hlindexer/pnl-indexer/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TradeRepository persists fills. Every insert is idempotent on the
// upstream tid: trades and funding payments are insert-only, never
// updated, so the only conflict policy needed is "do nothing".
type TradeRepository struct {
	db *gorm.DB
}

func NewTradeRepository(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create inserts one trade row, silently ignoring a duplicate tid.
func (r *TradeRepository) Create(ctx context.Context, trade *models.Trade) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tid"}}, DoNothing: true}).
		Create(trade).Error
}

// CreateBatch bulk-inserts trades, used by the backfill worker to persist
// a whole chunk's fills in one statement.
func (r *TradeRepository) CreateBatch(ctx context.Context, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tid"}}, DoNothing: true}).
		CreateInBatches(trades, 500).Error
}

// ListByTrader returns up to limit of a trader's most recent trades, newest first.
func (r *TradeRepository) ListByTrader(ctx context.Context, traderID uint, limit int) ([]models.Trade, error) {
	var trades []models.Trade
	err := r.db.WithContext(ctx).
		Where("trader_id = ?", traderID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&trades).Error
	return trades, err
}
