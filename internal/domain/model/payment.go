package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus represents the status of a payment. Statuses only advance
// forward; paid is terminal for the success path.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

// Scan implements sql.Scanner interface
func (s *PaymentStatus) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*s = PaymentStatus(v)
	case []byte:
		*s = PaymentStatus(v)
	default:
		*s = PaymentStatusPending
	}
	return nil
}

// Value implements driver.Valuer interface
func (s PaymentStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Payment represents a single gateway payment attempt.
type Payment struct {
	ID             int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         uuid.UUID     `gorm:"type:uuid;not null;index" json:"user_id"`
	AmountMinor    int64         `gorm:"not null" json:"amount_minor"`
	Currency       string        `gorm:"size:3;default:'VND'" json:"currency"`
	Status         PaymentStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`
	GatewayRef     string        `gorm:"column:gateway_ref;unique;not null;size:64" json:"gateway_ref"`
	GatewayTxnNo   *string       `gorm:"column:gateway_txn_no;size:64" json:"gateway_txn_no,omitempty"`
	IdempotencyKey *string       `gorm:"unique;size:100" json:"idempotency_key,omitempty"`
	PlanCode       string        `gorm:"size:50;not null" json:"plan_code"`
	OrderInfo      string        `gorm:"size:255" json:"order_info"`
	ResponseCode   *string       `gorm:"size:10" json:"response_code,omitempty"`
	FailureMessage *string       `json:"failure_message,omitempty"`
	ClientIP       string        `gorm:"size:45" json:"client_ip"`
	PaidAt         *time.Time    `json:"paid_at,omitempty"`
	CreatedAt      time.Time     `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Payment) TableName() string {
	return "payments"
}

// JSONB represents a JSONB database type
type JSONB map[string]interface{}

// Value implements driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner interface
func (j *JSONB) Scan(src interface{}) error {
	if src == nil {
		*j = nil
		return nil
	}

	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		*j = make(JSONB)
		return nil
	}
}
