package models

import (
	"time"

	"gorm.io/gorm"
)

// WatchList represents a named group of symbols a user tracks
type WatchList struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	UserID    uint        `gorm:"index:idx_watchlist_user_name,unique" json:"user_id"`
	User      User        `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Name      string      `gorm:"index:idx_watchlist_user_name,unique;not null" json:"name"`
	IsDefault bool        `gorm:"default:false" json:"is_default"`
	Items     []WatchItem `gorm:"foreignKey:WatchListID;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// WatchItem represents one symbol inside a watch list
type WatchItem struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	WatchListID uint      `gorm:"index:idx_watchitem_list_symbol,unique" json:"watch_list_id"`
	Symbol      string    `gorm:"index:idx_watchitem_list_symbol,unique;not null" json:"symbol"`
	Notes       string    `json:"notes"`
	Position    int       `gorm:"default:0" json:"position"`
	CreatedAt   time.Time `json:"created_at"`
}

// DefaultWatchListName is used when items are added before any list exists
const DefaultWatchListName = "Default"

// IsValidSymbol checks a normalized ticker: 1-10 characters drawn from
// uppercase letters, digits, dot and hyphen.
func IsValidSymbol(symbol string) bool {
	if len(symbol) == 0 || len(symbol) > 10 {
		return false
	}
	for _, r := range symbol {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-':
		default:
			return false
		}
	}
	return true
}

// MigrateWatchlistModels runs database migrations for watch-list models
func MigrateWatchlistModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&WatchList{},
		&WatchItem{},
	)
}
