package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/api"
	"github.com/hlindexer/pnl-indexer/internal/auth"
	"github.com/hlindexer/pnl-indexer/internal/backfill"
	"github.com/hlindexer/pnl-indexer/internal/cache"
	"github.com/hlindexer/pnl-indexer/internal/config"
	"github.com/hlindexer/pnl-indexer/internal/database"
	"github.com/hlindexer/pnl-indexer/internal/docs"
	"github.com/hlindexer/pnl-indexer/internal/hyperliquid"
	"github.com/hlindexer/pnl-indexer/internal/ingest"
	"github.com/hlindexer/pnl-indexer/internal/logger"
	"github.com/hlindexer/pnl-indexer/internal/metrics"
	"github.com/hlindexer/pnl-indexer/internal/middleware"
	"github.com/hlindexer/pnl-indexer/internal/observability"
	"github.com/hlindexer/pnl-indexer/internal/ops"
	"github.com/hlindexer/pnl-indexer/internal/persistence"
	"github.com/hlindexer/pnl-indexer/internal/ratebudget"
	"github.com/hlindexer/pnl-indexer/internal/repositories"
	"github.com/hlindexer/pnl-indexer/internal/state"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/mux"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	eventBufferSize        = 4096
	gapScanWindow          = 48 * time.Hour
	readAPIShutdownTimeout = 10 * time.Second
	opsShutdownTimeout     = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed: ", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		log.Fatal("database connection failed: ", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("database handle failed: ", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := database.AutoMigrateAll(db); err != nil {
		log.Fatal("migration failed: ", err)
	}
	database.EnableTimescale(db)

	otelShutdown, err := observability.SetupOTelSDK(context.Background(), cfg.OTelServiceName)
	if err != nil {
		log.Fatal("otel setup failed: ", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	auth.Init(cfg.AdminJWTSecret)
	logger.SetGlobalLogger(logger.NewLogger(cfg.OTelServiceName, db))

	traderRepo := repositories.NewTraderRepository(db)
	tradeRepo := repositories.NewTradeRepository(db)
	fundingRepo := repositories.NewFundingRepository(db)
	snapshotRepo := repositories.NewSnapshotRepository(db)
	gapRepo := repositories.NewGapRepository(db)
	discoveryRepo := repositories.NewDiscoveryRepository(db)
	backfillRepo := repositories.NewBackfillRepository(db)

	store := state.New()
	budget := ratebudget.New(1200, 200)
	metricsCollector := observability.NewMetricsCollector(db, cfg.OTelServiceName)
	responseCache := cache.New(cfg.CacheURL)

	httpClient := hyperliquid.NewHTTPClient(cfg.UpstreamBaseURL, budget)
	wsClient := hyperliquid.NewWSClient(cfg.WebSocketURL, budget)

	events := make(chan persistence.IngestEvent, eventBufferSize)

	batcher := persistence.NewBatcher(store, traderRepo, tradeRepo, snapshotRepo)
	gapDetector := persistence.NewGapDetector(traderRepo, snapshotRepo, gapRepo, gapScanWindow)
	reporter := persistence.NewReporter(traderRepo, snapshotRepo, gapRepo)
	metricsReporter := metrics.NewReporter(metricsCollector, store)

	hybrid := ingest.NewHybrid(wsClient, httpClient, budget, events)
	marketCapture := ingest.NewMarketTradeCapture(wsClient, store, traderRepo, discoveryRepo, events)
	backfillScheduler := backfill.NewScheduler(backfillRepo)
	backfillWorker := backfill.NewWorker(backfillRepo, tradeRepo, fundingRepo, snapshotRepo, httpClient, budget)
	autoSubscribe := ingest.NewAutoSubscribeWorker(discoveryRepo, traderRepo, hybrid, backfillScheduler)

	ctx, cancel := context.WithCancel(context.Background())

	go wsClient.Run(ctx)
	go batcher.Run(ctx, events)
	go gapDetector.Run(ctx)
	go metricsReporter.Run(ctx)
	go hybrid.Run(ctx)
	go backfillWorker.Run(ctx)
	go autoSubscribe.Run(ctx)

	if err := marketCapture.Hydrate(ctx); err != nil {
		log.Printf("[BOOT] market-trade capture hydrate failed, starting with an empty known-address set: %v", err)
	}
	go marketCapture.Run(ctx)

	resubscribeActiveTraders(ctx, traderRepo, hybrid)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())
	router.Use(middleware.RateLimiter(300, time.Minute))

	docs.SwaggerInfo.Host = "localhost:" + cfg.Port
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	handlers := api.NewHandlers(traderRepo, snapshotRepo, tradeRepo, fundingRepo, reporter, backfillScheduler, responseCache)
	handlers.RegisterRoutes(router.Group("/api/v1"), middleware.AdminAuth())

	readAPISrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := readAPISrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("read API listen failed: %s", err)
		}
	}()

	opsHandlers := ops.NewHandlers(store, metricsCollector, reporter)
	opsRouter := mux.NewRouter()
	opsHandlers.RegisterRoutes(opsRouter)
	opsSrv := &http.Server{
		Addr:         ":9090",
		Handler:      opsRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		if err := opsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ops server listen failed: %s", err)
		}
	}()

	log.Printf("[BOOT] pnl-indexer up: read API on :%s, ops server on :9090, hybrid mode=%v", cfg.Port, cfg.UseHybridMode)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("[SHUTDOWN] signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), readAPIShutdownTimeout)
	defer shutdownCancel()
	if err := readAPISrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[SHUTDOWN] read API forced shutdown: %v", err)
	}

	opsCtx, opsCancel := context.WithTimeout(context.Background(), opsShutdownTimeout)
	defer opsCancel()
	if err := opsSrv.Shutdown(opsCtx); err != nil {
		log.Printf("[SHUTDOWN] ops server forced shutdown: %v", err)
	}

	cancel() // stops ingestion, backfill, batcher, gap detector, metrics loops
	if err := responseCache.Close(); err != nil {
		log.Printf("[SHUTDOWN] cache close error: %v", err)
	}
	log.Println("[SHUTDOWN] complete")
}

// resubscribeActiveTraders re-attaches the hybrid ingestion stream for
// every trader marked active at last shutdown, so a restart doesn't drop
// coverage until the next market-trade sighting or auto-subscribe pass.
func resubscribeActiveTraders(ctx context.Context, traders *repositories.TraderRepository, hybrid *ingest.Hybrid) {
	active, err := traders.ListActive(ctx)
	if err != nil {
		log.Printf("[BOOT] failed to list active traders for resubscribe: %v", err)
		return
	}
	for _, trader := range active {
		hybrid.Subscribe(ctx, trader.Address)
	}
	log.Printf("[BOOT] resubscribed %d active traders", len(active))
}
