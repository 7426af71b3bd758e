package adminhttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stratexec/internal/engine"
	"stratexec/internal/events"
	"stratexec/internal/logger"
	"stratexec/internal/market"
	"stratexec/internal/scheduler"
	"stratexec/internal/store/history"
	"stratexec/internal/store/journal"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// EventSource reads the event journal.
type EventSource interface {
	List(ctx context.Context, q journal.Query) ([]journal.Record, error)
}

// HistorySource reads stored portfolio valuations.
type HistorySource interface {
	List(ctx context.Context, engineID string, since time.Time, limit int) ([]history.Point, error)
}

// Router serves /api.
type Router struct {
	registry     *engine.Registry
	prices       *market.PriceBook
	journal      EventSource
	history      HistorySource
	schemas      schemas
	initialValue decimal.Decimal
	initialCash  decimal.Decimal
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/engines", r.handleListEngines)
	group.POST("/engines", r.handleCreateEngine)

	eng := group.Group("/engines/:id")
	eng.GET("", r.handleSnapshot)
	eng.DELETE("", r.handleDeleteEngine)
	eng.POST("/start", r.handleStart)
	eng.POST("/stop", r.handleStop)
	eng.POST("/strategies/:sid/execute", r.handleExecute)
	eng.GET("/orders", r.handleListOrders)
	eng.POST("/orders", r.handleSubmitOrder)
	eng.GET("/orders/:oid", r.handleGetOrder)
	eng.POST("/orders/:oid/cancel", r.handleCancelOrder)
	eng.POST("/orders/:oid/fills", r.handleFills)
	eng.POST("/fills", r.handleFills)
	eng.GET("/positions", r.handleListPositions)
	eng.POST("/positions/close", r.handleClosePosition)
	eng.GET("/portfolio", r.handlePortfolio)
	eng.GET("/statistics", r.handleStatistics)
	eng.GET("/health", r.handleHealth)
	eng.GET("/events", r.handleEvents)
	eng.GET("/history", r.handleHistory)

	group.GET("/prices", r.handleListPrices)
	group.PUT("/prices", r.handleUpdatePrices)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrEngineNotRunning), errors.Is(err, engine.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("[api] %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": engine.KindOf(err)})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": engine.KindValidation})
}

func (r *Router) engine(c *gin.Context) (*engine.Engine, bool) {
	eng, err := r.registry.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return eng, true
}

type engineSummary struct {
	ID             string           `json:"id"`
	State          engine.State     `json:"state"`
	PortfolioValue decimal.Decimal  `json:"portfolio_value"`
	RiskLevel      engine.RiskLevel `json:"risk_level"`
	QueueDepth     int              `json:"queue_depth"`
}

func (r *Router) handleListEngines(c *gin.Context) {
	list := r.registry.List()
	out := make([]engineSummary, 0, len(list))
	for _, eng := range list {
		snap := eng.Snapshot()
		out = append(out, engineSummary{
			ID:             snap.EngineID,
			State:          snap.State,
			PortfolioValue: snap.Portfolio.PortfolioValue,
			RiskLevel:      eng.RiskLevel(),
			QueueDepth:     snap.QueueDepth,
		})
	}
	c.JSON(http.StatusOK, gin.H{"engines": out})
}

type createEngineRequest struct {
	ID            string           `json:"id"`
	QueueCapacity int              `json:"queue_capacity"`
	FillInbox     int              `json:"fill_inbox"`
	Start         bool             `json:"start"`
	InitialValue  *decimal.Decimal `json:"initial_value"`
	InitialCash   *decimal.Decimal `json:"initial_cash"`
}

func (r *Router) handleCreateEngine(c *gin.Context) {
	var req createEngineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	eng, err := r.registry.Create(req.ID, func(o *engine.Options) {
		if req.QueueCapacity > 0 {
			o.QueueCapacity = req.QueueCapacity
		}
		if req.FillInbox > 0 {
			o.FillInbox = req.FillInbox
		}
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if req.Start {
		value, cash := r.seed(req.InitialValue, req.InitialCash)
		if err := eng.Start(value, cash); err != nil {
			_ = r.registry.Delete(eng.ID())
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusCreated, eng.Snapshot())
}

func (r *Router) seed(value, cash *decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	v := r.initialValue
	if value != nil {
		v = *value
	}
	switch {
	case cash != nil:
		return v, *cash
	case value != nil:
		return v, v
	default:
		return v, r.initialCash
	}
}

func (r *Router) handleSnapshot(c *gin.Context) {
	eng, ok := r.engine(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, eng.Snapshot())
}

func (r *Router) handleDeleteEngine(c *gin.Context) {
	if err := r.registry.Delete(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type startRequest struct {
	InitialValue *decimal.Decimal `json:"initial_value"`
	InitialCash  *decimal.Decimal `json:"initial_cash"`
}

func (r *Router) handleStart(c *gin.Context) {
	eng, ok := r.engine(c)
	if !ok {
		return
	}
	var req startRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	value, cash := r.seed(req.InitialValue, req.InitialCash)
	if err := eng.Start(value, cash); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, eng.Snapshot())
}

func (r *Router) handleStop(c *gin.Context) {
	eng, ok := r.engine(c)
	if !ok {
		return
	}
	if err := eng.Stop(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, eng.Snapshot())
}

type executeRequest struct {
	Signals  []engine.Signal `json:"signals"`
	Metadata engine.Metadata `json:"metadata"`
}

func (r *Router) handleExecute(c *gin.Context) {
	eng, ok := r.engine(c)
	if !ok {
		return
	}
	raw, err := c.GetRawData()
	if err != nil {
		badRequest(c, err)
		return
	}
	var req executeRequest
	if err := decodeValidated(r.schemas.signals, raw, &req); err != nil {
		badRequest(c, err)
		return
	}
	results, err := eng.ExecuteStrategy(c.Param("sid"), req.Signals, req.Metadata)
	if err != nil {
		writeError(c, err)
		return
	}
	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"strategy_id": strings.TrimSpace(c.Param("sid")),
		"results":     results,
		"succeeded":   succeeded,
		"failed":      len(results) - succeeded,
	})
}

func (r *Router) handleListOrders(c *gin.Context) {
	eng, ok := r.engine(c)
	if !ok {
		return
	}
	orders := eng.ListOrders(engine.OrderFilter{
		StrategyID: c.Query("strategy_id"),
		Symbol:     c.Query("symbol"),
		Status:     engine.OrderStatus(strings.ToLower(c.Query("status"))),
	})
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (r *Router) handleSubmitOrder(c *gin.Context) {
	eng, ok := r.engine(c)
	if !ok {
		return
	}
	raw, err := c.GetRawData()
	if err != nil {
		badRequest(c, err)
		return
	}
	var req engine.OrderRequest
	if err := decodeValidated(r.schemas.order, raw, &req); err != nil {
		badRequest(c, err)
		return
	}
	o, err := eng.SubmitOrder(req)
	if err != nil {
		if o.ID != "" {
			c.JSON(statusFor(err), gin.H{"error": err.Error(), "kind": engine.KindOf(err), "order": o})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (r *Router) handleGetOrder(c *gin.Context) {
	eng, ok := r.engine(c)
	if !ok {
		return
	}
	o, err := eng.Order(c.Param("oid"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (r *Router) handleCancelOrder(c *gin.Context) {
	eng, ok := r.engine(c)
	if !ok {
		return
	}
	res, err := eng.CancelOrder(c.Param("oid"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// handleFills applies fills synchronously, or hands them to the engine's
// inbox when async=true.
func (r *Router) handleFills(c *gin.Context) {
	eng, ok := r.engine(c)
	if !ok {
		return
	}
	raw, err := c.GetRawData()
	if err != nil {
		badRequest(c, err)
		return
	}
	fills, err := parseFills(raw, c.Param("oid"))
	if err != nil {
		badRequest(c, err)
		return
	}
	if async, _ := strconv.ParseBool(c.DefaultQuery("async", "false")); async {
		for i, f := range fills {
			if err := eng.SubmitFill(f); err != nil {
				c.JSON(statusFor(err), gin.H{"error": err.Error(), "kind": engine.KindOf(err), "accepted": i})
				return
			}
		}
		c.JSON(http.StatusAccepted, gin.H{"accepted": len(fills)})
		return
	}
	orders := make([]engine.Order, 0, len(fills))
	for _, f := range fills {
		o, err := eng.ResolveFill(f.OrderID, f.Price, f.Quantity)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error(), "kind": engine.KindOf(err), "orders": orders})
			return
		}
		orders = append(orders, o)
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (r *Router) handleListPositions(c *gin.Context) {
	eng, ok := r.engine(c)
	if !ok {
		return
	}
	includeZero, _ := strconv.ParseBool(c.DefaultQuery("include_zero", "false"))
	positions := eng.ListPositions(engine.PositionFilter{
		StrategyID:  c.Query("strategy_id"),
		Symbol:      c.Query("symbol"),
		IncludeZero: includeZero,
	})
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

type closeRequest struct {
	StrategyID string           `json:"strategy_id" binding:"required"`
	Symbol     string           `json:"symbol" binding:"required"`
	Percentage *decimal.Decimal `json:"percentage"`
}

func (r *Router) handleClosePosition(c *gin.Context) {
	eng, ok := r.engine(c)
	if !ok {
		return
	}
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pct := decimal.NewFromInt(100)
	if req.Percentage != nil {
		pct = *req.Percentage
	}
	o, err := eng.ClosePosition(req.StrategyID, req.Symbol, pct)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (r *Router) handlePortfolio(c *gin.Context) {
	eng, ok := r.engine(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"portfolio":  eng.PortfolioSnapshot(),
		"risk_level": eng.RiskLevel(),
	})
}

func (r *Router) handleStatistics(c *gin.Context) {
	eng, ok := r.engine(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, eng.Statistics())
}

func (r *Router) handleHealth(c *gin.Context) {
	eng, ok := r.engine(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, eng.Health())
}

func queryLimit(c *gin.Context, def, max int) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}

func (r *Router) handleEvents(c *gin.Context) {
	if r.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event journal disabled"})
		return
	}
	eng, ok := r.engine(c)
	if !ok {
		return
	}
	q := journal.Query{EngineID: eng.ID(), Limit: queryLimit(c, 100, 1000)}
	for _, t := range c.QueryArray("type") {
		if t = strings.TrimSpace(t); t != "" {
			q.Types = append(q.Types, events.Type(t))
		}
	}
	if v := c.Query("after_seq"); v != "" {
		seq, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			badRequest(c, errors.New("after_seq must be an unsigned integer"))
			return
		}
		q.AfterSeq = seq
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	recs, err := r.journal.List(ctx, q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": recs, "count": len(recs)})
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "valuation history disabled"})
		return
	}
	eng, ok := r.engine(c)
	if !ok {
		return
	}
	var since time.Time
	if w := c.Query("window"); w != "" {
		d, ok := scheduler.ParseInterval(w)
		if !ok {
			badRequest(c, errors.New("window must look like 30s, 15m, 4h, 1d or 1w"))
			return
		}
		since = time.Now().Add(-d)
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	points, err := r.history.List(ctx, eng.ID(), since, queryLimit(c, 500, 5000))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": points, "count": len(points)})
}

func (r *Router) handleListPrices(c *gin.Context) {
	if r.prices == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "price book disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"quotes": r.prices.Snapshot()})
}

type pricesRequest struct {
	Prices map[string]decimal.Decimal `json:"prices"`
	Source string                     `json:"source"`
}

func (r *Router) handleUpdatePrices(c *gin.Context) {
	if r.prices == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "price book disabled"})
		return
	}
	var req pricesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if len(req.Prices) == 0 {
		badRequest(c, errors.New("prices is required"))
		return
	}
	for sym, px := range req.Prices {
		if strings.TrimSpace(sym) == "" || !px.IsPositive() {
			badRequest(c, fmt.Errorf("%w: %q price must be > 0", market.ErrInvalidQuote, sym))
			return
		}
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "api"
	}
	updated := 0
	for sym, px := range req.Prices {
		ok, err := r.prices.Update(market.Quote{Symbol: sym, Price: px, Source: source})
		if err != nil {
			badRequest(c, err)
			return
		}
		if ok {
			updated++
		}
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}
