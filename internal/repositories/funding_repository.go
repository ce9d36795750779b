package repositories

import (
	"context"

	"github.com/hlindexer/pnl-indexer/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FundingRepository persists funding payments, idempotent on
// (trader_id, coin, timestamp).
type FundingRepository struct {
	db *gorm.DB
}

func NewFundingRepository(db *gorm.DB) *FundingRepository {
	return &FundingRepository{db: db}
}

func (r *FundingRepository) conflictClause() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "trader_id"}, {Name: "coin"}, {Name: "timestamp"}},
		DoNothing: true,
	}
}

func (r *FundingRepository) Create(ctx context.Context, payment *models.FundingPayment) error {
	return r.db.WithContext(ctx).Clauses(r.conflictClause()).Create(payment).Error
}

// CreateBatch bulk-inserts funding payments for a backfill chunk.
func (r *FundingRepository) CreateBatch(ctx context.Context, payments []models.FundingPayment) error {
	if len(payments) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(r.conflictClause()).CreateInBatches(payments, 500).Error
}

func (r *FundingRepository) ListByTrader(ctx context.Context, traderID uint, limit int) ([]models.FundingPayment, error) {
	var payments []models.FundingPayment
	err := r.db.WithContext(ctx).
		Where("trader_id = ?", traderID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}
