// Package repositories wraps every table the indexer owns behind small,
// GORM-backed interfaces, in the teacher's transactional style (see
// trade_repository.go in the source repo): each method runs a short
// sequence of statements and returns a plain Go error.
package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/models"

	"gorm.io/gorm"
)

// TraderRepository persists and looks up trader rows.
type TraderRepository struct {
	db *gorm.DB
}

func NewTraderRepository(db *gorm.DB) *TraderRepository {
	return &TraderRepository{db: db}
}

// GetByAddress returns the trader row for a normalized address, or
// (nil, nil) if none exists yet.
func (r *TraderRepository) GetByAddress(ctx context.Context, address string) (*models.Trader, error) {
	var trader models.Trader
	err := r.db.WithContext(ctx).Where("address = ?", address).First(&trader).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &trader, nil
}

// Create inserts a new trader row, active by default.
func (r *TraderRepository) Create(ctx context.Context, address, discoverySource string) (*models.Trader, error) {
	now := time.Now()
	trader := models.Trader{
		Address:         address,
		FirstSeenAt:     now,
		LastUpdatedAt:   now,
		IsActive:        true,
		DiscoverySource: discoverySource,
	}
	if err := r.db.WithContext(ctx).Create(&trader).Error; err != nil {
		return nil, err
	}
	return &trader, nil
}

// GetOrCreate returns the existing trader for address, creating one (with
// discoverySource as provenance) if this is the first time the system has
// observed it.
func (r *TraderRepository) GetOrCreate(ctx context.Context, address, discoverySource string) (*models.Trader, bool, error) {
	existing, err := r.GetByAddress(ctx, address)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	created, err := r.Create(ctx, address, discoverySource)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// ListActive returns every trader currently marked active.
func (r *TraderRepository) ListActive(ctx context.Context) ([]models.Trader, error) {
	var traders []models.Trader
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Find(&traders).Error
	return traders, err
}

// SetActive toggles is_active for an address (subscribe/unsubscribe).
func (r *TraderRepository) SetActive(ctx context.Context, address string, active bool) error {
	return r.db.WithContext(ctx).Model(&models.Trader{}).
		Where("address = ?", address).
		Updates(map[string]interface{}{"is_active": active, "last_updated_at": time.Now()}).Error
}
