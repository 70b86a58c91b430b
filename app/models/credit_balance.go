package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreditBalance tracks generation credits per user. One row per user,
// created once via insert-if-absent; grants and consumption mutate the
// counters in place.
type CreditBalance struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex" json:"user_id"`
	Total     int64     `gorm:"not null;default:0" json:"total"`
	Used      int64     `gorm:"not null;default:0" json:"used"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Remaining returns the credits still available for generation.
func (cb *CreditBalance) Remaining() int64 {
	if cb.Used > cb.Total {
		return 0
	}
	return cb.Total - cb.Used
}

// GetOrCreateCreditBalance returns existing balance or initializes one with
// the given starting credits. Initialization is conflict-safe so concurrent
// first requests for the same user end up with a single row.
func GetOrCreateCreditBalance(db *gorm.DB, userID uint, initial int64) (*CreditBalance, error) {
	cb := &CreditBalance{UserID: userID, Total: initial}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(cb).Error; err != nil {
		return nil, err
	}

	var stored CreditBalance
	if err := db.Where("user_id = ?", userID).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}
