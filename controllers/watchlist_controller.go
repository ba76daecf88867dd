package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"tickerdeck/middleware"
	"tickerdeck/models"
	"tickerdeck/services/githubreader"
)

// WatchlistController handles watch-list requests
type WatchlistController struct {
	db     *gorm.DB
	reader *githubreader.Reader
}

// NewWatchlistController creates a new watchlist controller
func NewWatchlistController(db *gorm.DB) *WatchlistController {
	return &WatchlistController{
		db:     db,
		reader: githubreader.NewReader(),
	}
}

// loadList resolves the :id route param to one of the user's lists.
// The literal id "default" resolves to the user's default list, creating
// it on first use.
func (wc *WatchlistController) loadList(c *gin.Context, userID uint) (*models.WatchList, bool) {
	idParam := c.Param("id")

	if idParam == "default" {
		var list models.WatchList
		err := wc.db.Where("user_id = ? AND is_default = ?", userID, true).First(&list).Error
		if err == gorm.ErrRecordNotFound {
			list = models.WatchList{UserID: userID, Name: models.DefaultWatchListName, IsDefault: true}
			if err := wc.db.Create(&list).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create default watch list"})
				return nil, false
			}
			return &list, true
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch watch list"})
			return nil, false
		}
		return &list, true
	}

	id, err := strconv.Atoi(idParam)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid watch list ID"})
		return nil, false
	}

	var list models.WatchList
	if err := wc.db.Where("id = ? AND user_id = ?", id, userID).First(&list).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Watch list not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch watch list"})
		return nil, false
	}
	return &list, true
}

// GetWatchLists returns all of the user's watch lists with items
// GET /api/v1/watchlists
func (wc *WatchlistController) GetWatchLists(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var lists []models.WatchList
	err = wc.db.Where("user_id = ?", userID).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, symbol ASC")
		}).
		Order("is_default DESC, name ASC").
		Find(&lists).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch watch lists"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": lists})
}

// CreateWatchList creates a new named watch list
// POST /api/v1/watchlists
func (wc *WatchlistController) CreateWatchList(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var request struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	name := strings.TrimSpace(request.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Watch list name is required"})
		return
	}

	var count int64
	wc.db.Model(&models.WatchList{}).Where("user_id = ? AND name = ?", userID, name).Count(&count)
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "A watch list with this name already exists"})
		return
	}

	list := models.WatchList{UserID: userID, Name: name}
	if err := wc.db.Create(&list).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create watch list"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": list})
}

// RenameWatchList renames a watch list
// PUT /api/v1/watchlists/:id
func (wc *WatchlistController) RenameWatchList(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	list, ok := wc.loadList(c, userID)
	if !ok {
		return
	}

	var request struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	name := strings.TrimSpace(request.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Watch list name is required"})
		return
	}

	var count int64
	wc.db.Model(&models.WatchList{}).
		Where("user_id = ? AND name = ? AND id <> ?", userID, name, list.ID).
		Count(&count)
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "A watch list with this name already exists"})
		return
	}

	if err := wc.db.Model(list).Update("name", name).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to rename watch list"})
		return
	}
	list.Name = name

	c.JSON(http.StatusOK, gin.H{"data": list})
}

// DeleteWatchList deletes a watch list and its items
// DELETE /api/v1/watchlists/:id
func (wc *WatchlistController) DeleteWatchList(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	list, ok := wc.loadList(c, userID)
	if !ok {
		return
	}

	err = wc.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("watch_list_id = ?", list.ID).Delete(&models.WatchItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(list).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete watch list"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Watch list deleted"})
}

// AddItem adds a symbol to a watch list
// POST /api/v1/watchlists/:id/items
func (wc *WatchlistController) AddItem(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	list, ok := wc.loadList(c, userID)
	if !ok {
		return
	}

	var request struct {
		Symbol string `json:"symbol"`
		Notes  string `json:"notes"`
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

	var count int64
	wc.db.Model(&models.WatchItem{}).Where("watch_list_id = ? AND symbol = ?", list.ID, symbol).Count(&count)
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Symbol is already in this watch list"})
		return
	}

	var position int64
	wc.db.Model(&models.WatchItem{}).Where("watch_list_id = ?", list.ID).Count(&position)

	item := models.WatchItem{
		WatchListID: list.ID,
		Symbol:      symbol,
		Notes:       strings.TrimSpace(request.Notes),
		Position:    int(position),
	}
	if err := wc.db.Create(&item).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add symbol"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

// RemoveItem removes a symbol from a watch list
// DELETE /api/v1/watchlists/:id/items/:symbol
func (wc *WatchlistController) RemoveItem(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	list, ok := wc.loadList(c, userID)
	if !ok {
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	result := wc.db.Where("watch_list_id = ? AND symbol = ?", list.ID, symbol).Delete(&models.WatchItem{})
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove symbol"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Symbol not found in watch list"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Symbol removed"})
}

// ImportFromGitHub imports symbols into a watch list from a GitHub file.
// Lines are one symbol each, optionally "SYMBOL,notes". Blank lines and
// lines starting with # are skipped.
// POST /api/v1/watchlists/:id/import
func (wc *WatchlistController) ImportFromGitHub(c *gin.Context) {
	userID, err := middleware.GetUserIDFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	list, ok := wc.loadList(c, userID)
	if !ok {
		return
	}

	var request struct {
		URL   string `json:"url"`
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	result, err := wc.reader.ReadFile(c.Request.Context(), request.URL, request.Token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existing := make(map[string]bool)
	var items []models.WatchItem
	if err := wc.db.Where("watch_list_id = ?", list.ID).Find(&items).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch watch list items"})
		return
	}
	for _, item := range items {
		existing[item.Symbol] = true
	}
	position := len(items)

	added, skipped := 0, 0
	for _, line := range strings.Split(result.Content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		symbol := line
		notes := ""
		if idx := strings.Index(line, ","); idx >= 0 {
			symbol = line[:idx]
			notes = strings.TrimSpace(line[idx+1:])
		}
		symbol = strings.ToUpper(strings.TrimSpace(symbol))

		if !models.IsValidSymbol(symbol) || existing[symbol] {
			skipped++
			continue
		}

		item := models.WatchItem{
			WatchListID: list.ID,
			Symbol:      symbol,
			Notes:       notes,
			Position:    position,
		}
		if err := wc.db.Create(&item).Error; err != nil {
			skipped++
			continue
		}
		existing[symbol] = true
		position++
		added++
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"added":   added,
			"skipped": skipped,
			"file":    result.FileName,
			"list_id": list.ID,
		},
	})
}
