package model

import (
	"time"
)

// EffectiveAction classifies what a ledger entry does to the subscription.
type EffectiveAction string

const (
	ActionUpgrade    EffectiveAction = "upgrade"
	ActionDowngrade  EffectiveAction = "downgrade"
	ActionRenew      EffectiveAction = "renew"
	ActionInvoice    EffectiveAction = "invoice"
	ActionAdjustment EffectiveAction = "adjustment"
)

// TransactionStatus represents the status of a ledger entry.
type TransactionStatus string

const (
	TransactionStatusDraft     TransactionStatus = "draft"
	TransactionStatusOpen      TransactionStatus = "open"
	TransactionStatusSucceeded TransactionStatus = "succeeded"
	TransactionStatusVoid      TransactionStatus = "void"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction is an append-mostly ledger entry for one billing event,
// distinct from the mutable Payment record of the gateway interaction.
// At most one non-void renew entry may exist per (subscription_id,
// period_end); the partial unique index lives in the migration.
type Transaction struct {
	ID               int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionID   int64             `gorm:"not null;index" json:"subscription_id"`
	PaymentID        *int64            `gorm:"index" json:"payment_id,omitempty"`
	PlanSnapshot     JSONB             `gorm:"type:jsonb" json:"plan_snapshot"`
	AmountSubtotal   int64             `gorm:"not null" json:"amount_subtotal"`
	AmountTotal      int64             `gorm:"not null" json:"amount_total"`
	Currency         string            `gorm:"size:3;default:'VND'" json:"currency"`
	PeriodStart      time.Time         `gorm:"not null" json:"period_start"`
	PeriodEnd        time.Time         `gorm:"not null" json:"period_end"`
	EffectiveAction  EffectiveAction   `gorm:"size:20;not null" json:"effective_action"`
	Status           TransactionStatus `gorm:"size:20;not null;default:'draft'" json:"status"`
	ProrationApplied bool              `gorm:"default:false" json:"proration_applied"`
	ProrationCharge  int64             `gorm:"default:0" json:"proration_charge"`
	ProrationCredit  int64             `gorm:"default:0" json:"proration_credit"`
	CreatedAt        time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Payment *Payment `gorm:"foreignKey:PaymentID" json:"payment,omitempty"`
}

// TableName specifies the table name for GORM
func (Transaction) TableName() string {
	return "transactions"
}
