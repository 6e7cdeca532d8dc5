package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/celebrum-gem-go/internal/cache"
	"github.com/irfndi/celebrum-gem-go/internal/middleware"
	"github.com/irfndi/celebrum-gem-go/internal/models"
	"github.com/irfndi/celebrum-gem-go/internal/pricing"
	"github.com/irfndi/celebrum-gem-go/internal/utils"
	"github.com/irfndi/celebrum-gem-go/pkg/marketdata"
)

// QuoteService is the part of the pricing service the HTTP layer uses.
type QuoteService interface {
	Quote(ctx context.Context, req models.QuoteRequest) (*models.PriceQuote, error)
	MarketIndex(ctx context.Context) (*cache.Entry[*marketdata.MarketIndex], error)
}

// PricingHandler serves price quotes and the market index.
type PricingHandler struct {
	service QuoteService
}

// NewPricingHandler creates a new pricing handler
func NewPricingHandler(service QuoteService) *PricingHandler {
	return &PricingHandler{service: service}
}

// PostQuote prices a stone described by a JSON body.
// @Summary Get a price quote
// @Tags pricing
// @Accept json
// @Produce json
// @Param request body models.QuoteRequest true "Stone attributes"
// @Success 200 {object} models.PriceQuote
// @Router /api/v1/pricing/quote [post]
func (h *PricingHandler) PostQuote(c *gin.Context) {
	var req models.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}
	h.quote(c, req)
}

// GetQuote prices a stone described by query parameters.
// @Summary Get a price quote
// @Tags pricing
// @Produce json
// @Param carat query number true "Carat weight"
// @Param color query string true "Color grade"
// @Param shape query string false "Shape"
// @Param clarity query string false "Clarity grade"
// @Success 200 {object} models.PriceQuote
// @Router /api/v1/pricing/quote [get]
func (h *PricingHandler) GetQuote(c *gin.Context) {
	var req models.QuoteRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}
	h.quote(c, req)
}

func (h *PricingHandler) quote(c *gin.Context, req models.QuoteRequest) {
	quote, err := h.service.Quote(c.Request.Context(), req)
	if err != nil {
		status := quoteErrorStatus(err)
		middleware.RecordError(c, err, "price quote failed")
		c.JSON(status, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    quote,
	})
}

// quoteErrorStatus maps pricing failures onto HTTP status codes.
func quoteErrorStatus(err error) int {
	switch {
	case utils.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, marketdata.ErrGradeNotInGrid), errors.Is(err, pricing.ErrNoCaratBands):
		return http.StatusUnprocessableEntity
	case errors.Is(err, cache.ErrNoDataAvailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetMarketIndex returns the composite market index.
// @Summary Get the market index
// @Tags pricing
// @Produce json
// @Success 200 {object} marketdata.MarketIndex
// @Router /api/v1/pricing/market/index [get]
func (h *PricingHandler) GetMarketIndex(c *gin.Context) {
	entry, err := h.service.MarketIndex(c.Request.Context())
	if err != nil {
		c.JSON(quoteErrorStatus(err), gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      entry.Data,
		"cached_at": entry.CachedAt,
	})
}
