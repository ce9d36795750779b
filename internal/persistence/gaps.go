package persistence

import (
	"context"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/logger"
	"github.com/hlindexer/pnl-indexer/internal/models"
	"github.com/hlindexer/pnl-indexer/internal/repositories"
)

// expectedSnapshotInterval is the cadence the poll-path clearinghouse reads
// are expected to land at; a hole wider than 2x this is flagged as a gap.
const expectedSnapshotInterval = 5 * time.Minute

const gapDetectorInterval = 5 * time.Minute

// GapDetector periodically scans each active trader's snapshot coverage
// over a trailing window, opening a DataGap row for any hole wider than
// twice expectedSnapshotInterval and resolving previously open gaps a later scan
// finds covered.
type GapDetector struct {
	traders   *repositories.TraderRepository
	snapshots *repositories.SnapshotRepository
	gaps      *repositories.GapRepository
	window    time.Duration
}

// NewGapDetector wires a detector scanning the trailing window of history
// on each tick.
func NewGapDetector(traders *repositories.TraderRepository, snapshots *repositories.SnapshotRepository, gaps *repositories.GapRepository, window time.Duration) *GapDetector {
	return &GapDetector{traders: traders, snapshots: snapshots, gaps: gaps, window: window}
}

// Run ticks every gapDetectorInterval until ctx is cancelled.
func (g *GapDetector) Run(ctx context.Context) {
	ticker := time.NewTicker(gapDetectorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.scan(ctx)
		}
	}
}

func (g *GapDetector) scan(ctx context.Context) {
	active, err := g.traders.ListActive(ctx)
	if err != nil {
		logger.Error("gap detector failed to list active traders", err)
		return
	}

	now := time.Now().UTC()
	from := now.Add(-g.window)

	for _, trader := range active {
		if err := g.scanTrader(ctx, trader, from, now); err != nil {
			logger.Error("gap scan failed for trader", err, "address", trader.Address)
		}
	}
}

func (g *GapDetector) scanTrader(ctx context.Context, trader models.Trader, from, to time.Time) error {
	timestamps, err := g.snapshots.TimestampsInRange(ctx, trader.ID, from, to)
	if err != nil {
		return err
	}

	open, err := g.gaps.OpenGapsForTrader(ctx, trader.ID, "snapshots")
	if err != nil {
		return err
	}

	holes := findHoles(timestamps, from, to, expectedSnapshotInterval)

	for _, gap := range open {
		if !coveredByAny(gap, holes) {
			if err := g.gaps.Resolve(ctx, gap.ID); err != nil {
				return err
			}
		}
	}

	for _, hole := range holes {
		if overlapsAny(hole, open) {
			continue
		}
		record := models.DataGap{
			TraderID: trader.ID,
			GapStart: hole.start,
			GapEnd:   hole.end,
			GapType:  "snapshots",
		}
		if err := g.gaps.Create(ctx, &record); err != nil {
			return err
		}
	}

	return nil
}

type timeRange struct {
	start time.Time
	end   time.Time
}

// findHoles walks timestamps in order and reports every gap between
// consecutive points (and before the first / after the last) wider than
// 2x threshold.
func findHoles(timestamps []time.Time, from, to time.Time, threshold time.Duration) []timeRange {
	var holes []timeRange
	cursor := from
	limit := 2 * threshold

	for _, ts := range timestamps {
		if ts.Sub(cursor) > limit {
			holes = append(holes, timeRange{start: cursor, end: ts})
		}
		if ts.After(cursor) {
			cursor = ts
		}
	}
	if to.Sub(cursor) > limit {
		holes = append(holes, timeRange{start: cursor, end: to})
	}
	return holes
}

func coveredByAny(gap models.DataGap, holes []timeRange) bool {
	for _, h := range holes {
		if gap.GapStart.Equal(h.start) && gap.GapEnd.Equal(h.end) {
			return true
		}
		if overlaps(gap.GapStart, gap.GapEnd, h.start, h.end) {
			return true
		}
	}
	return false
}

func overlapsAny(hole timeRange, open []models.DataGap) bool {
	for _, gap := range open {
		if overlaps(hole.start, hole.end, gap.GapStart, gap.GapEnd) {
			return true
		}
	}
	return false
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// DataStatus is the read API's per-trader coverage summary.
type DataStatus struct {
	Address         string       `json:"address"`
	LastSnapshotAt  *time.Time   `json:"last_snapshot_at,omitempty"`
	OpenGaps        []models.DataGap `json:"open_gaps"`
	CoveragePercent float64      `json:"coverage_percent"`
}

// Reporter answers read-API data-status queries, grounded on the same
// repositories the detector scans with.
type Reporter struct {
	traders   *repositories.TraderRepository
	snapshots *repositories.SnapshotRepository
	gaps      *repositories.GapRepository
}

func NewReporter(traders *repositories.TraderRepository, snapshots *repositories.SnapshotRepository, gaps *repositories.GapRepository) *Reporter {
	return &Reporter{traders: traders, snapshots: snapshots, gaps: gaps}
}

// Status reports one trader's coverage over [from, to).
func (r *Reporter) Status(ctx context.Context, address string, from, to time.Time) (*DataStatus, error) {
	trader, err := r.traders.GetByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	if trader == nil {
		return nil, nil
	}

	latest, err := r.snapshots.LatestForTrader(ctx, trader.ID)
	if err != nil {
		return nil, err
	}

	gaps, err := r.gaps.ListForRange(ctx, trader.ID, from, to)
	if err != nil {
		return nil, err
	}

	count, err := r.snapshots.CountInRange(ctx, trader.ID, from, to)
	if err != nil {
		return nil, err
	}

	expectedPoints := float64(to.Sub(from) / expectedSnapshotInterval)
	coverage := 100.0
	if expectedPoints > 0 {
		coverage = (float64(count) / expectedPoints) * 100.0
		if coverage > 100.0 {
			coverage = 100.0
		}
	}

	status := &DataStatus{
		Address:         address,
		OpenGaps:        gaps,
		CoveragePercent: coverage,
	}
	if latest != nil {
		status.LastSnapshotAt = &latest.Timestamp
	}
	return status, nil
}
