package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"tickerdeck/middleware"
	"tickerdeck/models"
)

// AlertController handles price-alert requests
type AlertController struct {
	db *gorm.DB
}

// NewAlertController creates a new alert controller
func NewAlertController(db *gorm.DB) *AlertController {
	return &AlertController{db: db}
}

// ListAlerts returns the user's alerts, optionally filtered by status
// GET /api/v1/alerts
func (ac *AlertController) ListAlerts(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	query := ac.db.Where("user_id = ?", userID)
	switch c.Query("status") {
	case "":
	case "active":
		query = query.Where("is_active = ? AND is_triggered = ?", true, false)
	case "triggered":
		query = query.Where("is_triggered = ?", true)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status filter, use active or triggered"})
		return
	}

	var alerts []models.Alert
	if err := query.Order("created_at DESC").Find(&alerts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch alerts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": alerts, "count": len(alerts)})
}

// CreateAlert creates a new alert
// POST /api/v1/alerts
func (ac *AlertController) CreateAlert(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var request struct {
		Symbol    string          `json:"symbol"`
		Kind      string          `json:"kind"`
		Threshold decimal.Decimal `json:"threshold"`
		Level     string          `json:"level"`
		Direction string          `json:"direction"`
		Note      string          `json:"note"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(request.Symbol))
	if !models.IsValidSymbol(symbol) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid symbol"})
		return
	}

	alert := models.Alert{
		UserID:    userID,
		Symbol:    symbol,
		Kind:      request.Kind,
		Threshold: request.Threshold,
		Level:     request.Level,
		Direction: request.Direction,
		Note:      request.Note,
		IsActive:  true,
	}
	if err := alert.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := ac.db.Create(&alert).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create alert"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": alert})
}

// UpdateAlert updates an alert. Setting rearm resets the triggered state
// so the alert can fire again.
// PUT /api/v1/alerts/:id
func (ac *AlertController) UpdateAlert(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid alert ID"})
		return
	}

	var alert models.Alert
	if err := ac.db.Where("id = ? AND user_id = ?", id, userID).First(&alert).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch alert"})
		return
	}

	var request struct {
		Threshold *decimal.Decimal `json:"threshold"`
		Level     *string          `json:"level"`
		Direction *string          `json:"direction"`
		Note      *string          `json:"note"`
		IsActive  *bool            `json:"is_active"`
		Rearm     bool             `json:"rearm"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if request.Threshold != nil {
		alert.Threshold = *request.Threshold
	}
	if request.Level != nil {
		alert.Level = *request.Level
	}
	if request.Direction != nil {
		alert.Direction = *request.Direction
	}
	if request.Note != nil {
		alert.Note = *request.Note
	}
	if request.IsActive != nil {
		alert.IsActive = *request.IsActive
	}
	if request.Rearm {
		alert.IsTriggered = false
		alert.TriggeredAt = nil
		alert.LastPrice = decimal.Zero
	}

	if err := alert.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := ac.db.Save(&alert).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update alert"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": alert})
}

// DeleteAlert deletes an alert
// DELETE /api/v1/alerts/:id
func (ac *AlertController) DeleteAlert(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid alert ID"})
		return
	}

	result := ac.db.Where("id = ? AND user_id = ?", id, userID).Delete(&models.Alert{})
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete alert"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Alert deleted"})
}
