// Command migrate runs the indexer's schema migration and TimescaleDB
// setup standalone, for deploy pipelines that migrate before rolling out
// the indexer binary rather than migrating on every boot.
package main

import (
	"log"

	"github.com/hlindexer/pnl-indexer/internal/config"
	"github.com/hlindexer/pnl-indexer/internal/database"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed: ", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal("database connection failed: ", err)
	}

	if err := database.AutoMigrateAll(db); err != nil {
		log.Fatal("migration failed: ", err)
	}
	database.EnableTimescale(db)

	log.Println("[MIGRATE] schema up to date")
}
