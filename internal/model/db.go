package model

import "time"

// SubscriptionRecord is the synchronized processor state for one account.
// UpdatedAt is the processor event timestamp of the last applied write, not wall-clock time.
type SubscriptionRecord struct {
	AccountID              string             `gorm:"primaryKey;size:128;not null"`
	Status                 SubscriptionStatus `gorm:"size:32;index;not null"`
	Tier                   Tier               `gorm:"size:16;not null;default:'free'"`
	ExternalCustomerID     string             `gorm:"size:128;index"`
	ExternalSubscriptionID string             `gorm:"size:128;index"`
	ExternalPriceID        string             `gorm:"size:128"`
	StartDate              *time.Time
	CurrentPeriodEnd       *time.Time
	CancelAtPeriodEnd      bool      `gorm:"not null;default:false"`
	LastEventID            string    `gorm:"size:128"`
	UpdatedAt              time.Time `gorm:"column:updated_at;autoUpdateTime:false;not null"`
	CreatedAt              time.Time
}

func (SubscriptionRecord) TableName() string { return "subscriptions" }

// Account is shared with the profile subsystems; billing only writes the
// access and donation columns.
type Account struct {
	ID          string `gorm:"primaryKey;size:128;not null"`
	DisplayName string `gorm:"size:128"`
	Email       string `gorm:"size:255;index"`

	HasActiveAccess    bool               `gorm:"not null;default:false"`
	SubscriptionStatus SubscriptionStatus `gorm:"size:32"`
	SubscriptionTier   Tier               `gorm:"size:16;not null;default:'free'"`
	AccessUpdatedAt    *time.Time

	HasDonated         bool `gorm:"not null;default:false"`
	LastDonationAt     *time.Time
	LastDonationAmount int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Account) TableName() string { return "accounts" }

type WebhookEventStatus string

const (
	WebhookEventPending   WebhookEventStatus = "pending"
	WebhookEventProcessed WebhookEventStatus = "processed"
	WebhookEventFailed    WebhookEventStatus = "failed"
	WebhookEventDropped   WebhookEventStatus = "dropped"
)

// WebhookEvent is the dedup / redelivery inbox row for one processor event.
type WebhookEvent struct {
	EventID        string             `gorm:"primaryKey;size:128;not null"`
	EventType      string             `gorm:"size:64;index"`
	Payload        string             `gorm:"type:text;not null"`
	EventCreatedAt time.Time          `gorm:"not null"`
	Status         WebhookEventStatus `gorm:"size:16;index;not null"`
	Attempts       int                `gorm:"not null;default:0"`
	LastError      string             `gorm:"type:text"`
	NextAttemptAt  *time.Time         `gorm:"index"`
	ProcessedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Done reports whether redelivery of this event can be acknowledged without work.
func (e *WebhookEvent) Done() bool {
	return e.Status == WebhookEventProcessed || e.Status == WebhookEventDropped
}
