package repositories

import (
	"context"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DiscoveryRepository backs the trader discovery queue: candidate
// addresses awaiting the auto-subscribe worker, unique by address.
type DiscoveryRepository struct {
	db *gorm.DB
}

func NewDiscoveryRepository(db *gorm.DB) *DiscoveryRepository {
	return &DiscoveryRepository{db: db}
}

// Enqueue inserts a discovered address, ignoring it if already queued.
func (r *DiscoveryRepository) Enqueue(ctx context.Context, item *models.DiscoveryQueueItem) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "address"}}, DoNothing: true}).
		Create(item).Error
}

// EnqueueBatch bulk-inserts discoveries collected over the 5s auto-queue
// window, ignoring addresses already present.
func (r *DiscoveryRepository) EnqueueBatch(ctx context.Context, items []models.DiscoveryQueueItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "address"}}, DoNothing: true}).
		CreateInBatches(items, 200).Error
}

// NextBatch selects up to limit unprocessed entries with priority >= 0,
// ordered highest-priority-first then oldest-first.
func (r *DiscoveryRepository) NextBatch(ctx context.Context, limit int) ([]models.DiscoveryQueueItem, error) {
	var items []models.DiscoveryQueueItem
	err := r.db.WithContext(ctx).
		Where("processed_at IS NULL AND priority >= 0").
		Order("priority DESC, discovered_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// MarkProcessed records the auto-subscribe outcome for one queue item.
func (r *DiscoveryRepository) MarkProcessed(ctx context.Context, id uint, note string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.DiscoveryQueueItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"processed_at": now, "notes": note}).Error
}
