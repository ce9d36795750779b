// Package metrics periodically samples process and host resource usage
// and records ingestion throughput counters, both mirrored into the
// database-backed observability.MetricsCollector so dashboards don't need
// a separate metrics backend. Process sampling is grounded on the
// teacher's system_health_controller.go gopsutil usage.
package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/observability"
	"github.com/hlindexer/pnl-indexer/internal/state"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const sampleInterval = 30 * time.Second

// Reporter owns the process-wide ingestion counters and drives the
// periodic resource sample.
type Reporter struct {
	collector *observability.MetricsCollector
	store     *state.Store
}

// NewReporter wires a reporter against the durable metrics sink and the
// trader state store (for the tracked-address gauge).
func NewReporter(collector *observability.MetricsCollector, store *state.Store) *Reporter {
	return &Reporter{collector: collector, store: store}
}

// Run samples resource usage every sampleInterval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sample()
		}
	}
}

func (r *Reporter) sample() {
	var mstats runtime.MemStats
	runtime.ReadMemStats(&mstats)

	r.collector.RecordGauge("process_heap_alloc_mb", float64(mstats.Alloc)/(1024*1024), nil)
	r.collector.RecordGauge("process_goroutines", float64(runtime.NumGoroutine()), nil)
	r.collector.RecordGauge("tracked_traders", float64(r.store.Count()), nil)

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		r.collector.RecordGauge("host_cpu_percent", percents[0], nil)
	}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		r.collector.RecordGauge("host_mem_used_percent", vmStat.UsedPercent, nil)
	}
}

// RecordIngestCounter is a thin pass-through so ingest/persistence/backfill
// components can record a named event count without importing gorm
// directly.
func (r *Reporter) RecordIngestCounter(name string, delta float64, labels map[string]string) {
	r.collector.RecordCounter(name, delta, labels)
}
