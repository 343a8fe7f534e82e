package model

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Scan implements sql.Scanner interface
func (s *SubscriptionStatus) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*s = SubscriptionStatus(v)
	case []byte:
		*s = SubscriptionStatus(v)
	default:
		*s = SubscriptionStatusExpired
	}
	return nil
}

// Value implements driver.Valuer interface
func (s SubscriptionStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// DunningStage tracks where a subscription sits in the failed-renewal
// escalation ladder: none -> retry_1 -> retry_2 -> grace -> final.
type DunningStage string

const (
	DunningStageNone   DunningStage = "none"
	DunningStageRetry1 DunningStage = "retry_1"
	DunningStageRetry2 DunningStage = "retry_2"
	DunningStageGrace  DunningStage = "grace"
	DunningStageFinal  DunningStage = "final"
)

// Subscription is the single mutable aggregate; current_period_end and
// status are authoritative for entitlement checks done elsewhere.
type Subscription struct {
	ID                  int64              `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID              uuid.UUID          `gorm:"type:uuid;not null;index" json:"user_id"`
	PlanID              int64              `gorm:"not null;index" json:"plan_id"`
	PlanSnapshot        JSONB              `gorm:"type:jsonb" json:"plan_snapshot"`
	Status              SubscriptionStatus `gorm:"size:20;not null;default:'active';index" json:"status"`
	CurrentPeriodStart  time.Time          `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd    time.Time          `gorm:"not null;index" json:"current_period_end"`
	// GatewayToken is the stored payment token used for merchant-initiated
	// renewal charges; nil means renewals cannot be charged automatically.
	GatewayToken        *string            `gorm:"size:100" json:"-"`
	RenewalAttemptCount int                `gorm:"not null;default:0" json:"renewal_attempt_count"`
	NextRenewAttemptAt  *time.Time         `gorm:"index" json:"next_renew_attempt_at,omitempty"`
	DunningStage        DunningStage       `gorm:"size:20;not null;default:'none'" json:"dunning_stage"`
	LastRenewalError    *string            `gorm:"size:255" json:"last_renewal_error,omitempty"`
	CreatedAt           time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time          `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Plan *Plan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
}

// TableName specifies the table name for GORM
func (Subscription) TableName() string {
	return "subscriptions"
}
