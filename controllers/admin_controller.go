package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"tickerdeck/models"
	"tickerdeck/services/archive"
	"tickerdeck/services/barsync"
	"tickerdeck/services/candlecache"
	"tickerdeck/services/marketdata"
	"tickerdeck/services/realtime"
)

// AdminController handles administrative requests
type AdminController struct {
	db      *gorm.DB
	syncer  *barsync.Syncer
	hub     *realtime.Hub
	archive *archive.Client
	cache   *candlecache.Store
}

// NewAdminController creates a new admin controller. hub, archive and
// cache may be nil.
func NewAdminController(db *gorm.DB, syncer *barsync.Syncer, hub *realtime.Hub, archiveClient *archive.Client, cache *candlecache.Store) *AdminController {
	return &AdminController{db: db, syncer: syncer, hub: hub, archive: archiveClient, cache: cache}
}

// SyncCandles runs a daily-bar sync and returns the result
// POST /api/v1/admin/sync-candles
func (adc *AdminController) SyncCandles(c *gin.Context) {
	var request struct {
		Symbols []string `json:"symbols"`
		Window  string   `json:"window"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}
	if request.Window != "" {
		if _, err := marketdata.ParseWindow(request.Window); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	result, err := adc.syncer.Sync(c.Request.Context(), request.Symbols, request.Window)
	if err != nil {
		switch {
		case errors.Is(err, barsync.ErrSyncInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, barsync.ErrNoSymbols):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Sync failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// ListUsers returns registered users with pagination
// GET /api/v1/admin/users
func (adc *AdminController) ListUsers(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := (page - 1) * limit

	var total int64
	adc.db.Model(&models.User{}).Count(&total)

	var users []models.User
	if err := adc.db.Order("id ASC").Limit(limit).Offset(offset).Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch users"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": users,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetStatus reports service health for operators
// GET /api/v1/admin/status
func (adc *AdminController) GetStatus(c *gin.Context) {
	status := gin.H{
		"bar_sync_running": adc.syncer != nil && adc.syncer.IsSyncing(),
	}

	if adc.hub != nil {
		status["realtime"] = adc.hub.Status()
	}
	if adc.archive != nil {
		status["archive"] = adc.archive.Status()
	}
	if adc.cache != nil {
		cacheStatus := gin.H{}
		if count, err := adc.cache.BarCount(); err == nil {
			cacheStatus["bar_count"] = count
		}
		if symbols, err := adc.cache.TrackedSymbols(); err == nil {
			cacheStatus["symbol_count"] = len(symbols)
		}
		if last, err := adc.cache.LastSyncTime("daily_bars"); err == nil && last != nil {
			cacheStatus["last_sync"] = last
		}
		status["cache"] = cacheStatus
	}

	c.JSON(http.StatusOK, gin.H{"data": status})
}

// GetArchivedBars returns the archived daily bars for a symbol
// GET /api/v1/admin/archive/bars/:symbol
func (adc *AdminController) GetArchivedBars(c *gin.Context) {
	if adc.archive == nil || !adc.archive.IsConfigured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Archive storage is not configured"})
		return
	}

	symbol := c.Param("symbol")
	bars, err := adc.archive.LoadDailyBars(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": bars, "count": len(bars)})
}
