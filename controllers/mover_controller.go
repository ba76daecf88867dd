package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tickerdeck/models"
	"tickerdeck/services/archive"
	"tickerdeck/services/marketdata"
	"tickerdeck/services/movers"
)

// MoverController handles big-mover scan requests
type MoverController struct {
	scanner *movers.Scanner
	archive *archive.Client
}

// NewMoverController creates a new mover controller. archive may be nil.
func NewMoverController(scanner *movers.Scanner, archiveClient *archive.Client) *MoverController {
	return &MoverController{scanner: scanner, archive: archiveClient}
}

// GetLatest returns the most recent scan with its results
// GET /api/v1/movers
func (mc *MoverController) GetLatest(c *gin.Context) {
	scan, err := mc.scanner.LatestScan()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch latest scan"})
		return
	}
	if scan == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No mover scans recorded yet"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": scan, "is_scanning": mc.scanner.IsScanning()})
}

// TriggerScan starts a scan with optional overrides
// POST /api/v1/movers/scan
func (mc *MoverController) TriggerScan(c *gin.Context) {
	var config movers.ScanConfig
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&config); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}
	if config.Window != "" {
		if _, err := marketdata.ParseWindow(config.Window); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	config.Trigger = models.ScanTriggerManual

	scan, err := mc.scanner.Scan(c.Request.Context(), config)
	if err != nil {
		switch {
		case errors.Is(err, movers.ErrScanInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, movers.ErrNoSymbols):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Scan failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": scan})
}

// GetHistory returns recent scans, newest first. source=archive reads
// from the Mongo archive instead of the local database.
// GET /api/v1/movers/history
func (mc *MoverController) GetHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	if c.Query("source") == "archive" {
		if mc.archive == nil || !mc.archive.IsConfigured() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Archive storage is not configured"})
			return
		}
		scans, err := mc.archive.RecentMoverScans(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch archived scans"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": scans, "source": "archive"})
		return
	}

	scans, err := mc.scanner.History(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch scan history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": scans})
}
