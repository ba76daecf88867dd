package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MoverScan represents one completed big-mover scan
type MoverScan struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Window       string          `gorm:"not null" json:"window"`
	ThresholdPct decimal.Decimal `gorm:"type:decimal(10,4)" json:"threshold_pct"`
	SymbolCount  int             `json:"symbol_count"`
	MoverCount   int             `json:"mover_count"`
	FailedCount  int             `json:"failed_count"`
	Trigger      string          `gorm:"default:'scheduled'" json:"trigger"` // scheduled, manual
	StartedAt    time.Time       `json:"started_at"`
	DurationMs   int64           `json:"duration_ms"`
	Results      []MoverResult   `gorm:"foreignKey:ScanID;constraint:OnDelete:CASCADE" json:"results"`
	CreatedAt    time.Time       `json:"created_at"`
}

// MoverResult represents one symbol that exceeded the scan threshold
type MoverResult struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	ScanID    uint            `gorm:"index" json:"scan_id"`
	Symbol    string          `gorm:"index;not null" json:"symbol"`
	ChangePct decimal.Decimal `gorm:"type:decimal(10,4)" json:"change_pct"`
	Direction string          `json:"direction"` // up, down
	FirstT    int64           `json:"first_t"`   // epoch ms of first bar in window
	LastT     int64           `json:"last_t"`    // epoch ms of last bar in window
	FirstOpen decimal.Decimal `gorm:"type:decimal(15,4)" json:"first_open"`
	LastClose decimal.Decimal `gorm:"type:decimal(15,4)" json:"last_close"`
	CreatedAt time.Time       `json:"created_at"`
}

// Scan trigger constants
const (
	ScanTriggerScheduled = "scheduled"
	ScanTriggerManual    = "manual"
)

// Mover direction constants
const (
	MoverDirectionUp   = "up"
	MoverDirectionDown = "down"
)

// MigrateMoverModels runs database migrations for mover-scan models
func MigrateMoverModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&MoverScan{},
		&MoverResult{},
	)
}
