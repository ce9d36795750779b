// Package api exposes the read-only HTTP surface over indexed PnL data:
// per-trader history, stats, positions, data-status, and a leaderboard,
// plus the one privileged endpoint for manually triggering a backfill.
// Handlers stay thin and delegate to internal/repositories and
// internal/pnl, the same controller-over-service split the teacher's
// internal/api/controllers package uses.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hlindexer/pnl-indexer/internal/backfill"
	"github.com/hlindexer/pnl-indexer/internal/cache"
	"github.com/hlindexer/pnl-indexer/internal/hyperliquid"
	"github.com/hlindexer/pnl-indexer/internal/persistence"
	"github.com/hlindexer/pnl-indexer/internal/pnl"
	"github.com/hlindexer/pnl-indexer/internal/repositories"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const defaultHistoryWindow = 7 * 24 * time.Hour

// leaderboardCacheTTL trades a short staleness window for sparing the
// leaderboard's two-table join on every poll from a dashboard.
const leaderboardCacheTTL = 10 * time.Second

const leaderboardCacheKey = "leaderboard:v1"

// Handlers wires every read-API route against the repositories and
// services it needs.
type Handlers struct {
	traders   *repositories.TraderRepository
	snapshots *repositories.SnapshotRepository
	trades    *repositories.TradeRepository
	funding   *repositories.FundingRepository
	reporter  *persistence.Reporter
	scheduler *backfill.Scheduler
	cache     cache.Cache
}

// NewHandlers builds the read-API handler set.
func NewHandlers(traders *repositories.TraderRepository, snapshots *repositories.SnapshotRepository, trades *repositories.TradeRepository, funding *repositories.FundingRepository, reporter *persistence.Reporter, scheduler *backfill.Scheduler, responseCache cache.Cache) *Handlers {
	return &Handlers{traders: traders, snapshots: snapshots, trades: trades, funding: funding, reporter: reporter, scheduler: scheduler, cache: responseCache}
}

// RegisterRoutes mounts every handler under the given group.
func (h *Handlers) RegisterRoutes(router *gin.RouterGroup, adminAuth gin.HandlerFunc) {
	router.GET("/leaderboard", h.GetLeaderboard)

	traders := router.Group("/traders/:address")
	{
		traders.GET("/pnl", h.GetPnLHistory)
		traders.GET("/stats", h.GetStats)
		traders.GET("/trades", h.GetTrades)
		traders.GET("/funding", h.GetFunding)
		traders.GET("/positions", h.GetPositions)
		traders.GET("/data-status", h.GetDataStatus)
		traders.GET("/backfill", h.GetBackfillStatus)
	}

	admin := router.Group("/admin")
	admin.Use(adminAuth)
	{
		admin.POST("/backfill", h.TriggerBackfill)
	}
}

func (h *Handlers) resolveTrader(c *gin.Context) (uint, string, bool) {
	address, err := hyperliquid.NormalizeAddress(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return 0, "", false
	}
	trader, err := h.traders.GetByAddress(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return 0, "", false
	}
	if trader == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "trader not tracked"})
		return 0, "", false
	}
	return trader.ID, address, true
}

func parseRange(c *gin.Context) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.Add(-defaultHistoryWindow)
	to := now

	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t.UTC()
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t.UTC()
	}
	return from, to, nil
}

// GetPnLHistory returns a trader's snapshot history over a time window.
//
// @Summary Get PnL snapshot history
// @Description Returns a trader's recorded PnL snapshots between from and to (RFC3339, default trailing 7 days)
// @Tags PnL
// @Produce json
// @Param address path string true "trader address"
// @Param from query string false "RFC3339 start"
// @Param to query string false "RFC3339 end"
// @Success 200 {array} models.PnLSnapshot
// @Router /api/v1/traders/{address}/pnl [get]
func (h *Handlers) GetPnLHistory(c *gin.Context) {
	traderID, _, ok := h.resolveTrader(c)
	if !ok {
		return
	}
	from, to, err := parseRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from/to"})
		return
	}

	snapshots, err := h.snapshots.ListInRange(c.Request.Context(), traderID, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load snapshots"})
		return
	}
	c.JSON(http.StatusOK, snapshots)
}

// GetStats returns the latest snapshot plus drawdown/peak/trough computed
// over the requested window.
//
// @Summary Get PnL summary statistics
// @Description Returns peak/trough/max-drawdown over a window plus the latest snapshot
// @Tags PnL
// @Produce json
// @Param address path string true "trader address"
// @Param from query string false "RFC3339 start"
// @Param to query string false "RFC3339 end"
// @Success 200 {object} statsResponse
// @Router /api/v1/traders/{address}/stats [get]
func (h *Handlers) GetStats(c *gin.Context) {
	traderID, _, ok := h.resolveTrader(c)
	if !ok {
		return
	}
	from, to, err := parseRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from/to"})
		return
	}

	snapshots, err := h.snapshots.ListInRange(c.Request.Context(), traderID, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load snapshots"})
		return
	}

	history := make([]decimal.Decimal, len(snapshots))
	for i, s := range snapshots {
		history[i] = s.TotalPnL
	}
	stats := pnl.CalculateSummaryStats(history)

	latest, err := h.snapshots.LatestForTrader(c.Request.Context(), traderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load latest snapshot"})
		return
	}

	c.JSON(http.StatusOK, statsResponse{
		PeakPnl:     stats.PeakPnl,
		TroughPnl:   stats.TroughPnl,
		MaxDrawdown: stats.MaxDrawdown,
		SampleCount: len(snapshots),
		Latest:      latest,
	})
}

type statsResponse struct {
	PeakPnl     decimal.Decimal `json:"peak_pnl"`
	TroughPnl   decimal.Decimal `json:"trough_pnl"`
	MaxDrawdown decimal.Decimal `json:"max_drawdown"`
	SampleCount int             `json:"sample_count"`
	Latest      interface{}     `json:"latest_snapshot,omitempty"`
}

// GetTrades returns a trader's most recent fills, newest first.
//
// @Summary Get recent trades
// @Tags Trades
// @Produce json
// @Param address path string true "trader address"
// @Param limit query int false "max rows, default 100"
// @Success 200 {array} models.Trade
// @Router /api/v1/traders/{address}/trades [get]
func (h *Handlers) GetTrades(c *gin.Context) {
	traderID, _, ok := h.resolveTrader(c)
	if !ok {
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}

	trades, err := h.trades.ListByTrader(c.Request.Context(), traderID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
		return
	}
	c.JSON(http.StatusOK, trades)
}

// GetFunding returns a trader's most recent funding payments, newest first.
//
// @Summary Get recent funding payments
// @Tags Trades
// @Produce json
// @Param address path string true "trader address"
// @Param limit query int false "max rows, default 100"
// @Success 200 {array} models.FundingPayment
// @Router /api/v1/traders/{address}/funding [get]
func (h *Handlers) GetFunding(c *gin.Context) {
	traderID, _, ok := h.resolveTrader(c)
	if !ok {
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}

	payments, err := h.funding.ListByTrader(c.Request.Context(), traderID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load funding payments"})
		return
	}
	c.JSON(http.StatusOK, payments)
}

// GetPositions returns the open positions carried on a trader's latest
// snapshot, decoded from the snapshot's jsonb OpenPositions column.
//
// @Summary Get open positions
// @Tags PnL
// @Produce json
// @Param address path string true "trader address"
// @Success 200 {object} map[string]state.Position
// @Router /api/v1/traders/{address}/positions [get]
func (h *Handlers) GetPositions(c *gin.Context) {
	traderID, _, ok := h.resolveTrader(c)
	if !ok {
		return
	}

	latest, err := h.snapshots.LatestForTrader(c.Request.Context(), traderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load snapshot"})
		return
	}
	if latest == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}

	var positions json.RawMessage = []byte(latest.OpenPositions)
	if len(positions) == 0 {
		positions = json.RawMessage("{}")
	}
	c.Data(http.StatusOK, "application/json", positions)
}

// GetDataStatus reports snapshot coverage and open gaps over a window.
//
// @Summary Get data coverage status
// @Tags Ops
// @Produce json
// @Param address path string true "trader address"
// @Param from query string false "RFC3339 start"
// @Param to query string false "RFC3339 end"
// @Success 200 {object} persistence.DataStatus
// @Router /api/v1/traders/{address}/data-status [get]
func (h *Handlers) GetDataStatus(c *gin.Context) {
	_, address, ok := h.resolveTrader(c)
	if !ok {
		return
	}
	from, to, err := parseRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from/to"})
		return
	}

	status, err := h.reporter.Status(c.Request.Context(), address, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute data status"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetBackfillStatus reports every backfill job for a trader that has not
// completed (waiting, active or failed).
//
// @Summary Get backfill job status
// @Tags Ops
// @Produce json
// @Param address path string true "trader address"
// @Success 200 {array} models.BackfillJob
// @Router /api/v1/traders/{address}/backfill [get]
func (h *Handlers) GetBackfillStatus(c *gin.Context) {
	_, address, ok := h.resolveTrader(c)
	if !ok {
		return
	}
	jobs, err := h.scheduler.Status(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load backfill status"})
		return
	}
	c.JSON(http.StatusOK, jobs)
}

// GetLeaderboard ranks active traders by latest total_pnl, descending.
//
// @Summary Get PnL leaderboard
// @Tags PnL
// @Produce json
// @Param limit query int false "max rows, default 50"
// @Success 200 {array} repositories.LeaderboardEntry
// @Router /api/v1/leaderboard [get]
func (h *Handlers) GetLeaderboard(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}

	ctx := c.Request.Context()
	if limit == 50 {
		if cached, ok, err := h.cache.Get(ctx, leaderboardCacheKey); err == nil && ok {
			c.Data(http.StatusOK, "application/json", []byte(cached))
			return
		}
	}

	entries, err := h.snapshots.Leaderboard(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load leaderboard"})
		return
	}

	if limit == 50 {
		if encoded, err := json.Marshal(entries); err == nil {
			_ = h.cache.Set(ctx, leaderboardCacheKey, string(encoded), leaderboardCacheTTL)
		}
	}
	c.JSON(http.StatusOK, entries)
}

type triggerBackfillRequest struct {
	Address string `json:"address" binding:"required"`
	Days    int    `json:"days"`
}

// TriggerBackfill schedules a manual backfill job for an address, admin-only.
//
// @Summary Trigger a manual backfill
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body triggerBackfillRequest true "address and optional day window"
// @Success 202 {object} map[string]string
// @Router /api/v1/admin/backfill [post]
func (h *Handlers) TriggerBackfill(c *gin.Context) {
	var req triggerBackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}
	address, err := hyperliquid.NormalizeAddress(req.Address)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	days := req.Days
	if days <= 0 {
		days = 7
	}

	trader, _, err := h.traders.GetOrCreate(c.Request.Context(), address, "manual")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve trader"})
		return
	}
	if err := h.scheduler.Schedule(c.Request.Context(), trader.ID, address, days); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule backfill"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "scheduled", "address": address})
}
