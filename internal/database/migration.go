package database

import (
	"log"

	"github.com/hlindexer/pnl-indexer/internal/models"
	"github.com/hlindexer/pnl-indexer/internal/observability"

	"gorm.io/gorm"
)

// AutoMigrateAll creates or updates every table the indexer owns.
func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Trader{},
		&models.Trade{},
		&models.FundingPayment{},
		&models.PnLSnapshot{},
		&models.DataGap{},
		&models.DiscoveryQueueItem{},
		&models.BackfillJob{},
		&models.SystemLog{},
		&observability.ServiceMetric{},
	)
}

// EnableTimescale converts pnl_snapshots into a hypertable and builds the
// hourly/daily continuous aggregates the read API's longer-range queries
// use. TimescaleDB is an optional accelerant, not a hard dependency: when
// the extension is absent this logs a warning and leaves plain Postgres
// tables in place, the same tolerance the teacher shows toward pgvector.
func EnableTimescale(db *gorm.DB) {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS timescaledb;").Error; err != nil {
		log.Printf("[MIGRATE] timescaledb extension unavailable, continuing on plain postgres: %v", err)
		return
	}

	if err := db.Exec(`SELECT create_hypertable('pnl_snapshots', 'timestamp', if_not_exists => TRUE, migrate_data => TRUE);`).Error; err != nil {
		log.Printf("[MIGRATE] failed to hypertable pnl_snapshots: %v", err)
		return
	}

	if err := db.Exec(`
		CREATE MATERIALIZED VIEW IF NOT EXISTS pnl_hourly
		WITH (timescaledb.continuous) AS
		SELECT trader_id,
		       time_bucket('1 hour', timestamp) AS bucket,
		       last(total_pnl, timestamp)        AS total_pnl,
		       last(realized_pnl, timestamp)     AS realized_pnl,
		       last(unrealized_pnl, timestamp)   AS unrealized_pnl,
		       max(total_volume)                 AS total_volume
		FROM pnl_snapshots
		GROUP BY trader_id, bucket
		WITH NO DATA;
	`).Error; err != nil {
		log.Printf("[MIGRATE] failed to create pnl_hourly continuous aggregate: %v", err)
	}

	if err := db.Exec(`
		CREATE MATERIALIZED VIEW IF NOT EXISTS pnl_daily
		WITH (timescaledb.continuous) AS
		SELECT trader_id,
		       time_bucket('1 day', timestamp) AS bucket,
		       last(total_pnl, timestamp)       AS total_pnl,
		       last(realized_pnl, timestamp)    AS realized_pnl,
		       last(unrealized_pnl, timestamp)  AS unrealized_pnl,
		       max(total_volume)                AS total_volume
		FROM pnl_snapshots
		GROUP BY trader_id, bucket
		WITH NO DATA;
	`).Error; err != nil {
		log.Printf("[MIGRATE] failed to create pnl_daily continuous aggregate: %v", err)
	}
}
