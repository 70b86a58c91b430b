package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ArtworkStatusPending   = "pending"
	ArtworkStatusCompleted = "completed"
	ArtworkStatusFailed    = "failed"
)

// Artwork is a single AI generation result. The remote generation call is
// opaque; we only keep the prompt, the provider URL and an optional mirror
// in our own object storage.
type Artwork struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	UUID        string         `gorm:"type:char(36);not null;uniqueIndex" json:"uuid"`
	UserID      uint           `gorm:"not null;index" json:"user_id"`
	Prompt      string         `gorm:"type:text;not null" json:"prompt"`
	Size        string         `gorm:"type:varchar(16);not null;default:'1024x1024'" json:"size"`
	Status      string         `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ProviderURL string         `gorm:"type:text" json:"provider_url"`
	StorageKey  string         `gorm:"type:varchar(255);default:''" json:"storage_key"`
	ViewCount   uint64         `gorm:"default:0" json:"view_count"`
	ErrorText   string         `gorm:"type:text" json:"-"`
	CreatedAt   time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}
