package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BackfillRepository persists backfill job state, idempotent on job_id.
type BackfillRepository struct {
	db *gorm.DB
}

func NewBackfillRepository(db *gorm.DB) *BackfillRepository {
	return &BackfillRepository{db: db}
}

// Enqueue inserts a waiting job, silently no-op'ing if job_id already
// exists (scheduleBackfill's idempotency contract).
func (r *BackfillRepository) Enqueue(ctx context.Context, job *models.BackfillJob) (bool, error) {
	now := time.Now()
	job.Status = "waiting"
	job.CreatedAt = now
	job.UpdatedAt = now

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "job_id"}}, DoNothing: true}).
		Create(job)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ClaimNextBatch atomically moves up to limit waiting jobs to active and
// returns them, so multiple worker goroutines never claim the same job.
func (r *BackfillRepository) ClaimNextBatch(ctx context.Context, limit int) ([]models.BackfillJob, error) {
	var claimed []models.BackfillJob

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var jobs []models.BackfillJob
		if err := tx.Where("status = ?", "waiting").
			Order("created_at ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&jobs).Error; err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}

		ids := make([]uint, len(jobs))
		for i, j := range jobs {
			ids[i] = j.ID
		}
		if err := tx.Model(&models.BackfillJob{}).Where("id IN ?", ids).
			Updates(map[string]interface{}{"status": "active", "updated_at": time.Now()}).Error; err != nil {
			return err
		}
		for i := range jobs {
			jobs[i].Status = "active"
		}
		claimed = jobs
		return nil
	})

	return claimed, err
}

// UpdateProgress records the monotonic progress fields for one job.
func (r *BackfillRepository) UpdateProgress(ctx context.Context, jobID uint, percent float64, fills, funding, snapshots int) error {
	return r.db.WithContext(ctx).Model(&models.BackfillJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"percent_complete": percent,
			"fills_count":      fills,
			"funding_count":    funding,
			"snapshots_count":  snapshots,
			"updated_at":       time.Now(),
		}).Error
}

// Complete marks a job finished.
func (r *BackfillRepository) Complete(ctx context.Context, jobID uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.BackfillJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{"status": "completed", "completed_at": now, "updated_at": now, "percent_complete": 100.0}).Error
}

// Fail records a failed attempt. If attempts remain under maxAttempts the
// job is returned to waiting for a later retry, otherwise it is marked
// failed terminally.
func (r *BackfillRepository) Fail(ctx context.Context, jobID uint, errMsg string, maxAttempts int) error {
	var job models.BackfillJob
	if err := r.db.WithContext(ctx).First(&job, jobID).Error; err != nil {
		return err
	}

	attempts := job.Attempts + 1
	status := "waiting"
	if attempts >= maxAttempts {
		status = "failed"
	}

	return r.db.WithContext(ctx).Model(&models.BackfillJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":     status,
			"attempts":   attempts,
			"last_error": errMsg,
			"updated_at": time.Now(),
		}).Error
}

// StatusForAddress reports every non-completed job for an address, used by
// getBackfillStatus.
func (r *BackfillRepository) StatusForAddress(ctx context.Context, address string) ([]models.BackfillJob, error) {
	var jobs []models.BackfillJob
	err := r.db.WithContext(ctx).
		Where("address = ? AND status IN ?", address, []string{"waiting", "active", "failed"}).
		Order("created_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// GetByJobID looks up a job by its idempotency key.
func (r *BackfillRepository) GetByJobID(ctx context.Context, jobID string) (*models.BackfillJob, error) {
	var job models.BackfillJob
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &job, err
}
