package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a registered user of the charting app
type User struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Email        string     `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Name         string     `json:"name"`
	Role         string     `gorm:"default:'user'" json:"role"` // user, admin
	IsActive     bool       `gorm:"default:true" json:"is_active"`
	Preferences  string     `gorm:"type:jsonb" json:"preferences"` // JSON for chart layout/settings
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Role constants
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// MigrateUserModels runs database migrations for user-related models
func MigrateUserModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
	)
}
