package models

import "time"

// Billing provider constants used across billing-related models.
const (
	BillingProviderStripe = "stripe"
)

// ProcessedWebhookEvent is the idempotency ledger: one row per unique
// (provider, event_id) delivery. Concurrent duplicate deliveries race on the
// unique index insert and exactly one wins.
// Rows are append-only; normal operation never updates or deletes them.
type ProcessedWebhookEvent struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Provider    string     `gorm:"type:varchar(20);not null;index:ux_processed_webhook_events_provider_event,unique,priority:1" json:"provider"`
	EventID     string     `gorm:"type:varchar(191);not null;index:ux_processed_webhook_events_provider_event,unique,priority:2" json:"event_id"`
	EventType   string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON string     `gorm:"type:longtext;not null" json:"payload_json"`
	Processed   bool       `gorm:"default:true" json:"processed"`
	ProcessedAt *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}
