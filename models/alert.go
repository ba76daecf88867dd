package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Alert represents a price alert for a user
type Alert struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	UserID      uint            `gorm:"index" json:"user_id"`
	User        User            `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Symbol      string          `gorm:"index;not null" json:"symbol"`
	Kind        string          `gorm:"not null" json:"kind"`                 // price_above, price_below, pct_change, level_cross
	Threshold   decimal.Decimal `gorm:"type:decimal(15,4)" json:"threshold"`  // price for price_*, percent for pct_change
	Level       string          `json:"level,omitempty"`                      // lml, lmh, ppml, ppmh (level_cross only)
	Direction   string          `json:"direction,omitempty"`                  // above, below (level_cross only)
	Note        string          `json:"note"`
	IsActive    bool            `gorm:"default:true" json:"is_active"`
	IsTriggered bool            `gorm:"default:false" json:"is_triggered"`
	TriggeredAt *time.Time      `json:"triggered_at"`
	LastPrice   decimal.Decimal `gorm:"type:decimal(15,4)" json:"last_price"` // most recent evaluated price
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Alert kind constants
const (
	AlertKindPriceAbove = "price_above"
	AlertKindPriceBelow = "price_below"
	AlertKindPctChange  = "pct_change"
	AlertKindLevelCross = "level_cross"
)

// Level name constants for level_cross alerts
const (
	LevelLastMonthLow  = "lml"
	LevelLastMonthHigh = "lmh"
	LevelPrevMonthLow  = "ppml"
	LevelPrevMonthHigh = "ppmh"
)

// Cross direction constants for level_cross alerts
const (
	CrossAbove = "above"
	CrossBelow = "below"
)

// ValidAlertKinds returns the accepted alert kinds
func ValidAlertKinds() []string {
	return []string{
		AlertKindPriceAbove,
		AlertKindPriceBelow,
		AlertKindPctChange,
		AlertKindLevelCross,
	}
}

// IsValidAlertKind checks if the alert kind is valid
func IsValidAlertKind(kind string) bool {
	for _, valid := range ValidAlertKinds() {
		if kind == valid {
			return true
		}
	}
	return false
}

// IsValidLevelName checks if the level name is valid
func IsValidLevelName(level string) bool {
	switch level {
	case LevelLastMonthLow, LevelLastMonthHigh, LevelPrevMonthLow, LevelPrevMonthHigh:
		return true
	}
	return false
}

// IsValidCrossDirection checks if the cross direction is valid
func IsValidCrossDirection(direction string) bool {
	return direction == CrossAbove || direction == CrossBelow
}

// Validate checks alert fields before create/update
func (a *Alert) Validate() error {
	if a.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !IsValidAlertKind(a.Kind) {
		return fmt.Errorf("invalid alert kind: %s", a.Kind)
	}
	if a.Kind == AlertKindLevelCross {
		if !IsValidLevelName(a.Level) {
			return fmt.Errorf("invalid level name: %s", a.Level)
		}
		if !IsValidCrossDirection(a.Direction) {
			return fmt.Errorf("invalid cross direction: %s", a.Direction)
		}
	} else {
		if a.Threshold.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("threshold must be positive")
		}
	}
	return nil
}

// MigrateAlertModels runs database migrations for alert models
func MigrateAlertModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Alert{},
	)
}
