package backfill

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/concurrency"
	"github.com/hlindexer/pnl-indexer/internal/hyperliquid"
	"github.com/hlindexer/pnl-indexer/internal/logger"
	"github.com/hlindexer/pnl-indexer/internal/models"
	"github.com/hlindexer/pnl-indexer/internal/pnl"
	"github.com/hlindexer/pnl-indexer/internal/ratebudget"
	"github.com/hlindexer/pnl-indexer/internal/repositories"
	"github.com/hlindexer/pnl-indexer/internal/state"
)

const claimPollInterval = ratebudget.PollInterval

// Worker claims waiting backfill jobs and runs each one's chunks strictly
// sequentially, while running up to budget.GetRecommendedWorkers() jobs
// concurrently across the pool.
type Worker struct {
	jobs      *repositories.BackfillRepository
	trades    *repositories.TradeRepository
	funding   *repositories.FundingRepository
	snapshots *repositories.SnapshotRepository
	http      *hyperliquid.HTTPClient
	budget    *ratebudget.Budget

	mu      sync.Mutex
	running int
}

// NewWorker wires a backfill worker against its repositories and the
// shared upstream client/budget.
func NewWorker(jobs *repositories.BackfillRepository, trades *repositories.TradeRepository, funding *repositories.FundingRepository, snapshots *repositories.SnapshotRepository, httpClient *hyperliquid.HTTPClient, budget *ratebudget.Budget) *Worker {
	return &Worker{jobs: jobs, trades: trades, funding: funding, snapshots: snapshots, http: httpClient, budget: budget}
}

// Run polls for recommended worker capacity every 10s and claims jobs up
// to that capacity, until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(claimPollInterval)
	defer ticker.Stop()

	w.fillCapacity(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.fillCapacity(ctx)
		}
	}
}

func (w *Worker) fillCapacity(ctx context.Context) {
	capacity := w.budget.GetRecommendedWorkers()

	w.mu.Lock()
	spare := capacity - w.running
	w.mu.Unlock()
	if spare <= 0 {
		return
	}

	jobs, err := w.jobs.ClaimNextBatch(ctx, spare)
	if err != nil {
		logger.Error("backfill worker failed to claim jobs", err)
		return
	}

	for _, job := range jobs {
		w.mu.Lock()
		w.running++
		w.mu.Unlock()

		go func(j models.BackfillJob) {
			defer func() {
				w.mu.Lock()
				w.running--
				w.mu.Unlock()
			}()
			w.runJob(ctx, j)
		}(job)
	}
}

func (w *Worker) runJob(ctx context.Context, job models.BackfillJob) {
	err := concurrency.RetryWithBackoff(func() error {
		return w.processChunks(ctx, job)
	}, concurrency.BackfillRetryConfig())

	if err != nil {
		logger.Error("backfill job failed", err, "job_id", job.JobID, "address", job.Address)
		if failErr := w.jobs.Fail(ctx, job.ID, err.Error(), concurrency.BackfillRetryConfig().MaxRetries); failErr != nil {
			logger.Error("failed to record backfill job failure", failErr, "job_id", job.JobID)
		}
		return
	}

	if err := w.jobs.Complete(ctx, job.ID); err != nil {
		logger.Error("failed to mark backfill job complete", err, "job_id", job.JobID)
	}
}

// processChunks walks [job.StartTime, job.EndTime) in UTC-day-aligned
// chunks, chaining state strictly sequentially: chunk N+1's input is
// chunk N's output. This chaining is the central correctness property of
// the whole worker.
func (w *Worker) processChunks(ctx context.Context, job models.BackfillJob) error {
	chunks := dayAlignedChunks(job.StartTime, job.EndTime)
	if len(chunks) == 0 {
		return nil
	}

	s := state.NewTraderState(job.TraderID, job.Address)
	totalFills, totalFunding, totalSnapshots := 0, 0, 0

	for i, chunk := range chunks {
		fills, funding, err := w.fetchChunk(ctx, job.Address, chunk)
		if err != nil {
			logger.Warn("backfill chunk fetch failed, substituting empty chunk", "address", job.Address, "chunk_start", chunk.start, "error", err.Error())
			fills, funding = nil, nil
		} else {
			w.budget.RecordChunkCost(ratebudget.WeightInfoHeavy * 2)
		}

		for _, fill := range fills {
			trade := tradeEventFromFill(fill)
			s = pnl.ApplyTrade(s, trade)
			s = pnl.UpdatePositionFromFill(s, trade.Coin, trade.Side, trade.Size, trade.Price)
		}
		for _, fe := range funding {
			s = pnl.ApplyFunding(s, fundingEventFromUpstream(fe))
		}

		if err := w.persistChunk(ctx, job, fills, funding); err != nil {
			logger.Error("backfill chunk persistence failed, continuing", err, "address", job.Address, "chunk_start", chunk.start)
		}

		snapshot, err := pnl.CreateSnapshot(s, chunk.end, nil)
		if err != nil {
			logger.Error("backfill failed to build chunk snapshot", err, "address", job.Address)
		} else if err := w.snapshots.UpsertBatch(ctx, []models.PnLSnapshot{snapshot}); err != nil {
			logger.Error("backfill failed to upsert chunk snapshot", err, "address", job.Address)
		}

		totalFills += len(fills)
		totalFunding += len(funding)
		totalSnapshots++
		percent := float64(i+1) / float64(len(chunks)) * 100.0
		if err := w.jobs.UpdateProgress(ctx, job.ID, percent, totalFills, totalFunding, totalSnapshots); err != nil {
			logger.Error("backfill failed to update progress", err, "job_id", job.JobID)
		}

		if i < len(chunks)-1 {
			select {
			case <-time.After(1 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return nil
}

func (w *Worker) fetchChunk(ctx context.Context, address string, chunk dayChunk) ([]hyperliquid.Fill, []hyperliquid.FundingEvent, error) {
	var fills []hyperliquid.Fill
	var fundingEvents []hyperliquid.FundingEvent
	var fillsErr, fundingErr error

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		req := hyperliquid.InfoRequest{Type: "userFillsByTime", User: address, StartTime: chunk.start.UnixMilli(), EndTime: chunk.end.UnixMilli()}
		fillsErr = w.http.Info(ctx, req, ratebudget.WeightInfoHeavy, &fills)
	}()

	go func() {
		defer wg.Done()
		req := hyperliquid.InfoRequest{Type: "userFunding", User: address, StartTime: chunk.start.UnixMilli(), EndTime: chunk.end.UnixMilli()}
		fundingErr = w.http.Info(ctx, req, ratebudget.WeightInfoHeavy, &fundingEvents)
	}()

	wg.Wait()

	if fillsErr != nil {
		return nil, nil, fillsErr
	}
	if fundingErr != nil {
		return nil, nil, fundingErr
	}

	sort.Slice(fills, func(i, j int) bool { return fills[i].Time < fills[j].Time })
	sort.Slice(fundingEvents, func(i, j int) bool { return fundingEvents[i].Time < fundingEvents[j].Time })

	return fills, fundingEvents, nil
}

func (w *Worker) persistChunk(ctx context.Context, job models.BackfillJob, fills []hyperliquid.Fill, fundingEvents []hyperliquid.FundingEvent) error {
	if len(fills) > 0 {
		rows := make([]models.Trade, len(fills))
		for i, fill := range fills {
			trade := tradeEventFromFill(fill)
			rows[i] = models.Trade{
				TraderID:      job.TraderID,
				Coin:          trade.Coin,
				Side:          trade.Side,
				Size:          trade.Size,
				Price:         trade.Price,
				ClosedPnL:     trade.ClosedPnl,
				Fee:           trade.Fee,
				Timestamp:     trade.Timestamp,
				Tid:           trade.Tid,
				IsLiquidation: trade.IsLiquidation,
				Direction:     trade.Direction,
				StartPosition: trade.StartPosition,
				TxHash:        trade.TxHash,
				OrderID:       trade.OrderID,
			}
		}
		if err := w.trades.CreateBatch(ctx, rows); err != nil {
			return err
		}
	}

	if len(fundingEvents) > 0 {
		rows := make([]models.FundingPayment, len(fundingEvents))
		for i, fe := range fundingEvents {
			f := fundingEventFromUpstream(fe)
			rows[i] = models.FundingPayment{
				TraderID:           job.TraderID,
				Coin:               f.Coin,
				FundingRate:        f.FundingRate,
				Payment:            f.Payment,
				PositionSizeAtTime: f.PositionSizeAtTime,
				Timestamp:          f.Timestamp,
			}
		}
		if err := w.funding.CreateBatch(ctx, rows); err != nil {
			return err
		}
	}

	return nil
}

type dayChunk struct {
	start time.Time
	end   time.Time
}

// dayAlignedChunks slices [from, to) into UTC-midnight-aligned day chunks,
// with the first and last chunks clipped to from/to.
func dayAlignedChunks(from, to time.Time) []dayChunk {
	from = from.UTC()
	to = to.UTC()
	if !to.After(from) {
		return nil
	}

	var chunks []dayChunk
	cursor := from
	for cursor.Before(to) {
		dayEnd := time.Date(cursor.Year(), cursor.Month(), cursor.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		if dayEnd.After(to) {
			dayEnd = to
		}
		chunks = append(chunks, dayChunk{start: cursor, end: dayEnd})
		cursor = dayEnd
	}
	return chunks
}
