package repositories

import (
	"context"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SnapshotRepository persists PnL snapshots, upserting on the
// (trader_id, timestamp) primary key. Within a collapsed upsert, last
// write wins, per the specification's millisecond-resolution semantics.
type SnapshotRepository struct {
	db *gorm.DB
}

func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// OnConflict is the upsert clause every snapshot write shares; UpsertBatch
// applies it.
func (r *SnapshotRepository) OnConflict() clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "trader_id"}, {Name: "timestamp"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"realized_pnl", "unrealized_pnl", "total_pnl", "funding_pnl",
			"trading_pnl", "open_positions", "total_volume", "account_value",
		}),
	}
}

// UpsertBatch writes a de-duplicated batch of snapshots in one statement.
func (r *SnapshotRepository) UpsertBatch(ctx context.Context, snapshots []models.PnLSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(r.OnConflict()).CreateInBatches(snapshots, 500).Error
}

// LatestForTrader returns the most recent snapshot for a trader, if any.
func (r *SnapshotRepository) LatestForTrader(ctx context.Context, traderID uint) (*models.PnLSnapshot, error) {
	var snap models.PnLSnapshot
	err := r.db.WithContext(ctx).
		Where("trader_id = ?", traderID).
		Order("timestamp DESC").
		Limit(1).
		First(&snap).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return &snap, err
}

// ListInRange returns a trader's snapshots in [from, to), ascending.
func (r *SnapshotRepository) ListInRange(ctx context.Context, traderID uint, from, to time.Time) ([]models.PnLSnapshot, error) {
	var snaps []models.PnLSnapshot
	err := r.db.WithContext(ctx).
		Where("trader_id = ? AND timestamp >= ? AND timestamp < ?", traderID, from, to).
		Order("timestamp ASC").
		Find(&snaps).Error
	return snaps, err
}

// CountInRange reports how many snapshots fall within [from, to), used by
// the data-status reporter to compute coverage without loading every row.
func (r *SnapshotRepository) CountInRange(ctx context.Context, traderID uint, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PnLSnapshot{}).
		Where("trader_id = ? AND timestamp >= ? AND timestamp < ?", traderID, from, to).
		Count(&count).Error
	return count, err
}

// LeaderboardEntry pairs a trader's address with their latest snapshot
// metrics, ordered for the read API's ranking endpoint.
type LeaderboardEntry struct {
	TraderID    uint            `json:"trader_id"`
	Address     string          `json:"address"`
	TotalPnL    decimal.Decimal `json:"total_pnl"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	TotalVolume decimal.Decimal `json:"total_volume"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Leaderboard ranks active traders by their most recent total_pnl,
// descending. It joins against a per-trader latest-snapshot subquery
// rather than a window function, matching the plain-join style the rest
// of this package uses.
func (r *SnapshotRepository) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	latest := r.db.WithContext(ctx).
		Model(&models.PnLSnapshot{}).
		Select("trader_id, MAX(timestamp) AS timestamp").
		Group("trader_id")

	var entries []LeaderboardEntry
	err := r.db.WithContext(ctx).
		Table("pnl_snapshots AS s").
		Joins("JOIN (?) AS latest ON latest.trader_id = s.trader_id AND latest.timestamp = s.timestamp", latest).
		Joins("JOIN traders AS t ON t.id = s.trader_id").
		Where("t.is_active = ?", true).
		Select("s.trader_id AS trader_id, t.address AS address, s.total_pnl AS total_pnl, s.realized_pnl AS realized_pnl, s.total_volume AS total_volume, s.timestamp AS timestamp").
		Order("s.total_pnl DESC").
		Limit(limit).
		Scan(&entries).Error
	return entries, err
}

// TimestampsInRange returns just the timestamp column, ascending, which is
// all the gap detector needs to find holes.
func (r *SnapshotRepository) TimestampsInRange(ctx context.Context, traderID uint, from, to time.Time) ([]time.Time, error) {
	var rows []models.PnLSnapshot
	err := r.db.WithContext(ctx).Model(&models.PnLSnapshot{}).
		Select("timestamp").
		Where("trader_id = ? AND timestamp >= ? AND timestamp < ?", traderID, from, to).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	timestamps := make([]time.Time, len(rows))
	for i, row := range rows {
		timestamps[i] = row.Timestamp
	}
	return timestamps, nil
}
