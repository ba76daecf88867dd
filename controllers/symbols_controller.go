package controllers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tickerdeck/services/candlecache"
	"tickerdeck/services/levels"
	"tickerdeck/services/marketdata"
)

// SymbolController handles market-data requests
type SymbolController struct {
	market *marketdata.Service
	levels *levels.Service
	cache  *candlecache.Store
}

// NewSymbolController creates a new symbol controller. cache may be nil.
func NewSymbolController(market *marketdata.Service, lvl *levels.Service, cache *candlecache.Store) *SymbolController {
	return &SymbolController{market: market, levels: lvl, cache: cache}
}

// providerStatus maps a provider error to an HTTP status. Provider 404s
// pass through so unknown symbols read as not found.
func providerStatus(err error) int {
	if errors.Is(err, marketdata.ErrNoProviderKey) {
		return http.StatusServiceUnavailable
	}
	var apiErr *marketdata.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

// SearchSymbols searches for symbols by ticker or company name
// GET /api/v1/symbols/search
func (sc *SymbolController) SearchSymbols(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Search query required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	matches, err := sc.market.SearchSymbols(c.Request.Context(), query, limit)
	if err != nil {
		// Serve the local symbol directory when the provider is down.
		if sc.cache != nil {
			cached, cacheErr := sc.cache.SearchSymbols(query, limit)
			if cacheErr == nil && len(cached) > 0 {
				c.JSON(http.StatusOK, gin.H{"data": cached, "source": "cache"})
				return
			}
		}
		c.JSON(providerStatus(err), gin.H{"error": "Symbol search failed"})
		return
	}

	if sc.cache != nil {
		if err := sc.cache.UpsertSymbols(matches); err != nil {
			log.Printf("Warning: failed to cache symbol matches: %v", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": matches})
}

// GetCandles returns OHLCV bars for a symbol
// GET /api/v1/symbols/:symbol/candles
func (sc *SymbolController) GetCandles(c *gin.Context) {
	symbol := c.Param("symbol")

	timespanStr := c.DefaultQuery("timespan", "day")
	window := c.DefaultQuery("window", "3m")

	timespan, err := marketdata.ParseTimespan(timespanStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := marketdata.ValidateWindow(window); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	candles, err := sc.market.FetchCandles(c.Request.Context(), symbol, timespan, window)
	if err != nil {
		c.JSON(providerStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":     candles,
		"symbol":   strings.ToUpper(symbol),
		"timespan": timespanStr,
		"window":   window,
		"count":    len(candles),
	})
}

// GetQuote returns the latest quote for a symbol
// GET /api/v1/symbols/:symbol/quote
func (sc *SymbolController) GetQuote(c *gin.Context) {
	symbol := c.Param("symbol")

	quote, err := sc.market.FetchQuote(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(providerStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quote})
}

// GetLevels returns key price levels for a symbol
// GET /api/v1/symbols/:symbol/levels
func (sc *SymbolController) GetLevels(c *gin.Context) {
	symbol := c.Param("symbol")

	set, err := sc.levels.LevelsFor(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(providerStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": set})
}

// GetOptions returns the options chain for an underlying symbol
// GET /api/v1/symbols/:symbol/options
func (sc *SymbolController) GetOptions(c *gin.Context) {
	underlying := c.Param("symbol")

	filter := marketdata.OptionsFilter{
		Expiration:   c.Query("expiration"),
		ContractType: c.Query("type"),
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		filter.Limit, _ = strconv.Atoi(limitStr)
	}

	contracts, err := sc.market.FetchOptionsChain(c.Request.Context(), underlying, filter)
	if err != nil {
		if errors.Is(err, marketdata.ErrNoProviderKey) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Options data requires a configured Polygon API key"})
			return
		}
		c.JSON(providerStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": contracts, "count": len(contracts)})
}

// GetOptionExpirations returns available expiration dates for an underlying
// GET /api/v1/symbols/:symbol/options/expirations
func (sc *SymbolController) GetOptionExpirations(c *gin.Context) {
	underlying := c.Param("symbol")

	dates, err := sc.market.ListOptionExpirations(c.Request.Context(), underlying)
	if err != nil {
		if errors.Is(err, marketdata.ErrNoProviderKey) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Options data requires a configured Polygon API key"})
			return
		}
		c.JSON(providerStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": dates})
}

// GetSessions returns trading session windows for a date
// GET /api/v1/sessions
func (sc *SymbolController) GetSessions(c *gin.Context) {
	dateStr := c.DefaultQuery("date", time.Now().In(levels.ExchangeTZ).Format("2006-01-02"))

	day, err := time.ParseInLocation("2006-01-02", dateStr, levels.ExchangeTZ)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date format, use YYYY-MM-DD"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"date":           dateStr,
			"sessions":       levels.SessionWindows(day),
			"is_market_open": levels.IsMarketOpen(time.Now()),
		},
	})
}
