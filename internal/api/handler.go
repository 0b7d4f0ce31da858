package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"grocery-pricing/internal/models"
	"grocery-pricing/internal/service"
	"grocery-pricing/internal/store"
	"grocery-pricing/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RefreshPublisher queues refresh requests for the refresh worker
type RefreshPublisher interface {
	PublishRefreshRequested(ctx context.Context, event *models.PriceRefreshRequestedEvent) error
}

// Handler contains HTTP handlers
type Handler struct {
	priceService *service.PriceService
	store        store.PriceStore
	publisher    RefreshPublisher
	refresher    service.Refresher
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler. publisher and refresher may be nil;
// refresh requests are queued when a publisher is set and run inline otherwise.
func NewHandler(
	priceService *service.PriceService,
	priceStore store.PriceStore,
	publisher RefreshPublisher,
	refresher service.Refresher,
) *Handler {
	return &Handler{
		priceService: priceService,
		store:        priceStore,
		publisher:    publisher,
		refresher:    refresher,
		logger:       util.ComponentLogger("api"),
	}
}

// CompareRequest represents a price comparison request
type CompareRequest struct {
	ProductNames []string `json:"product_names" binding:"required,min=1"`
	Stores       []string `json:"stores,omitempty"`
	ForceRefresh bool     `json:"force_refresh,omitempty"`
}

// DealsRequest represents a best deals request
type DealsRequest struct {
	ProductNames []string `json:"product_names" binding:"required,min=1"`
	MinSavings   *float64 `json:"min_savings,omitempty"`
}

// OptimizeRequest represents a shopping list optimization request
type OptimizeRequest struct {
	ShoppingList []models.ShoppingListItem `json:"shopping_list"`
}

// ObservationsRequest carries externally produced price observations
type ObservationsRequest struct {
	Observations []models.PriceObservation `json:"observations" binding:"required,min=1"`
}

// RefreshRequest asks for fresh prices of products
type RefreshRequest struct {
	ProductNames []string `json:"product_names" binding:"required,min=1"`
	Stores       []string `json:"stores,omitempty"`
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/prices/compare", h.comparePrices)
		v1.POST("/prices/deals", h.findDeals)
		v1.GET("/prices/trends", h.priceTrends)
		v1.GET("/prices/substitutes", h.substitutes)
		v1.POST("/prices/observations", h.ingestObservations)
		v1.POST("/prices/refresh", h.requestRefresh)
		v1.POST("/shopping-lists/optimize", h.optimizeShoppingList)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once the price store answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// comparePrices handles cross-store comparisons
func (h *Handler) comparePrices(c *gin.Context) {
	var req CompareRequest
	if !bindJSON(c, &req) {
		return
	}

	comparisons, err := h.priceService.Compare(c.Request.Context(), req.ProductNames, req.Stores, req.ForceRefresh)
	if err != nil {
		h.writeError(c, err, "Failed to compare prices")
		return
	}

	missing := make([]string, 0)
	seen := make(map[string]struct{})
	for _, name := range req.ProductNames {
		name = strings.TrimSpace(name)
		if _, ok := comparisons[name]; ok {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		missing = append(missing, name)
	}

	resp := gin.H{
		"comparisons": comparisons,
		"missing":     missing,
	}
	if len(comparisons) == 0 {
		resp["message"] = "No price data found for the requested products"
		resp["suggestions"] = []string{
			"Check the product names for typos",
			"Broaden the store list or retry with force_refresh",
		}
	}
	c.JSON(http.StatusOK, resp)
}

// findDeals handles best deal lookups
func (h *Handler) findDeals(c *gin.Context) {
	var req DealsRequest
	if !bindJSON(c, &req) {
		return
	}

	minSavings := h.priceService.Config().DefaultMinSavings
	if req.MinSavings != nil {
		minSavings = *req.MinSavings
	}

	deals, err := h.priceService.FindBestDeals(c.Request.Context(), req.ProductNames, minSavings)
	if err != nil {
		h.writeError(c, err, "Failed to find deals")
		return
	}

	resp := gin.H{
		"deals":       deals,
		"min_savings": minSavings,
	}
	if len(deals) == 0 {
		resp["message"] = "No deals found"
		resp["suggestions"] = []string{
			"Lower min_savings to see smaller price differences",
			"Add more products or stores to compare",
		}
	}
	c.JSON(http.StatusOK, resp)
}

// optimizeShoppingList handles shopping list optimization
func (h *Handler) optimizeShoppingList(c *gin.Context) {
	var req OptimizeRequest
	if !bindJSON(c, &req) {
		return
	}

	opt, err := h.priceService.OptimizeShoppingList(c.Request.Context(), req.ShoppingList)
	if err != nil {
		h.writeError(c, err, "Failed to optimize shopping list")
		return
	}

	c.JSON(http.StatusOK, opt)
}

// priceTrends handles price history analysis
func (h *Handler) priceTrends(c *gin.Context) {
	days := 0
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid days",
				"details": err.Error(),
			})
			return
		}
		days = n
	}

	report, err := h.priceService.TrackPriceTrends(c.Request.Context(), c.Query("product"), days)
	if err != nil {
		h.writeError(c, err, "Failed to track price trends")
		return
	}

	c.JSON(http.StatusOK, report)
}

// substitutes handles cheaper alternative lookups
func (h *Handler) substitutes(c *gin.Context) {
	maxDiff := 1.0
	if raw := c.Query("max_price_diff"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid max_price_diff",
				"details": err.Error(),
			})
			return
		}
		maxDiff = f
	}

	product := c.Query("product")
	subs, err := h.priceService.FindSubstitutes(c.Request.Context(), product, maxDiff)
	if err != nil {
		h.writeError(c, err, "Failed to find substitutes")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product":     product,
		"substitutes": subs,
	})
}

// ingestObservations stores externally produced prices
func (h *Handler) ingestObservations(c *gin.Context) {
	var req ObservationsRequest
	if !bindJSON(c, &req) {
		return
	}

	affected, err := h.priceService.IngestObservations(c.Request.Context(), req.Observations)
	if err != nil {
		h.writeError(c, err, "Failed to store observations")
		return
	}

	c.JSON(http.StatusOK, gin.H{"affected": affected})
}

// requestRefresh queues a refresh, or runs it inline without an event stream
func (h *Handler) requestRefresh(c *gin.Context) {
	var req RefreshRequest
	if !bindJSON(c, &req) {
		return
	}

	if h.publisher != nil {
		event := &models.PriceRefreshRequestedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePriceRefreshRequested,
				Timestamp: time.Now(),
			},
			Products: req.ProductNames,
			Stores:   req.Stores,
		}
		if err := h.publisher.PublishRefreshRequested(c.Request.Context(), event); err != nil {
			h.writeError(c, err, "Failed to queue refresh")
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"status":   "queued",
			"event_id": event.EventID,
		})
		return
	}

	if h.refresher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Price refresh is not available"})
		return
	}

	stores := req.Stores
	if len(stores) == 0 {
		stores = h.priceService.Config().DefaultStores
	}
	result, err := h.refresher.Acquire(c.Request.Context(), req.ProductNames, stores)
	if err != nil {
		h.writeError(c, err, "Price refresh interrupted")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "completed",
		"requested":  result.Requested,
		"dispatched": result.Dispatched,
		"fetched":    len(result.Observations),
		"failed":     len(result.Failures),
		"persisted":  result.Persisted,
		"skipped":    result.Skipped,
	})
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

// writeError maps service errors to HTTP responses
func (h *Handler) writeError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   msg,
			"details": err.Error(),
		})
	case errors.Is(err, service.ErrNoData):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   msg,
			"details": err.Error(),
			"suggestions": []string{
				"Check the product name",
				"Request a refresh and try again later",
			},
		})
	default:
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   msg,
			"details": err.Error(),
		})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
