// Package backfill implements the durable historical-fill job system:
// UTC-day-aligned, strictly sequential chunk processing per job, with
// concurrency across jobs capped by the shared rate budget's recommended
// worker count. Jobs are persisted to Postgres (internal/repositories)
// rather than a separate broker, the same "durable state lives in the
// primary database" idiom the teacher uses for its write queue.
package backfill

import (
	"context"
	"fmt"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/models"
	"github.com/hlindexer/pnl-indexer/internal/repositories"
)

// Scheduler is the scheduleBackfill/getBackfillStatus API surface other
// components (the auto-subscribe worker, the admin API) call against.
type Scheduler struct {
	jobs *repositories.BackfillRepository
}

// NewScheduler wires a scheduler against the job repository.
func NewScheduler(jobs *repositories.BackfillRepository) *Scheduler {
	return &Scheduler{jobs: jobs}
}

// Schedule inserts a backfill job covering the trailing `days` days ending
// now, idempotent on job_id = "backfill-<address>-<start_time>" so a
// duplicate request for the same window is silently absorbed.
func (s *Scheduler) Schedule(ctx context.Context, traderID uint, address string, days int) error {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)
	return s.ScheduleRange(ctx, traderID, address, start, end)
}

// ScheduleRange inserts a backfill job for an explicit [start, end) range.
func (s *Scheduler) ScheduleRange(ctx context.Context, traderID uint, address string, start, end time.Time) error {
	jobID := fmt.Sprintf("backfill-%s-%d", address, start.Unix())
	job := &models.BackfillJob{
		JobID:     jobID,
		TraderID:  traderID,
		Address:   address,
		StartTime: start,
		EndTime:   end,
	}
	_, err := s.jobs.Enqueue(ctx, job)
	return err
}

// Status reports every job for address that has not completed (waiting,
// active or failed).
func (s *Scheduler) Status(ctx context.Context, address string) ([]models.BackfillJob, error) {
	return s.jobs.StatusForAddress(ctx, address)
}
