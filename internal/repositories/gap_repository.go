package repositories

import (
	"context"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/models"

	"gorm.io/gorm"
)

// GapRepository persists and resolves data-gap records.
type GapRepository struct {
	db *gorm.DB
}

func NewGapRepository(db *gorm.DB) *GapRepository {
	return &GapRepository{db: db}
}

// OpenGapsForTrader returns every unresolved gap for a trader.
func (r *GapRepository) OpenGapsForTrader(ctx context.Context, traderID uint, gapType string) ([]models.DataGap, error) {
	var gaps []models.DataGap
	err := r.db.WithContext(ctx).
		Where("trader_id = ? AND gap_type = ? AND resolved_at IS NULL", traderID, gapType).
		Order("gap_start ASC").
		Find(&gaps).Error
	return gaps, err
}

// Create inserts a new gap record.
func (r *GapRepository) Create(ctx context.Context, gap *models.DataGap) error {
	gap.DetectedAt = time.Now()
	return r.db.WithContext(ctx).Create(gap).Error
}

// Resolve marks a gap as covered as of now.
func (r *GapRepository) Resolve(ctx context.Context, gapID uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.DataGap{}).
		Where("id = ?", gapID).
		Update("resolved_at", now).Error
}

// ListForRange returns gaps overlapping [from, to) for a trader, used by
// the read API's data_status attachment.
func (r *GapRepository) ListForRange(ctx context.Context, traderID uint, from, to time.Time) ([]models.DataGap, error) {
	var gaps []models.DataGap
	err := r.db.WithContext(ctx).
		Where("trader_id = ? AND gap_start < ? AND gap_end > ?", traderID, to, from).
		Order("gap_start ASC").
		Find(&gaps).Error
	return gaps, err
}
