package models

import "time"

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusCanceled  = "canceled"
)

const (
	PaymentTypeSubscription = "subscription"
	PaymentTypeOneTime      = "one_time"
)

// Payment records a provider payment keyed by the provider-assigned payment
// ID. Amount is in minor currency units. Re-delivered payment events upsert
// the same row instead of double-counting.
type Payment struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	Provider       string    `gorm:"type:varchar(20);not null;index:ux_payments_provider_payid,unique,priority:1" json:"provider"`
	PaymentID      string    `gorm:"type:varchar(191);not null;index:ux_payments_provider_payid,unique,priority:2" json:"payment_id"`
	CustomerID     string    `gorm:"type:varchar(191);not null;index" json:"customer_id"`
	SubscriptionID *string   `gorm:"type:varchar(191);default:null;index" json:"subscription_id,omitempty"`
	ProductID      string    `gorm:"type:varchar(191);not null" json:"product_id"`
	Amount         int64     `gorm:"not null;default:0" json:"amount"`
	Currency       string    `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	Status         string    `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	PaymentType    string    `gorm:"type:varchar(32);not null;default:'one_time'" json:"payment_type"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
