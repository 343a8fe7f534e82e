package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog represents an audit log entry. The webhook path writes one when
// post-success processing fails after the money has already moved.
type AuditLog struct {
	ID        int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    *uuid.UUID   `gorm:"type:uuid;index" json:"user_id,omitempty"`
	Action    string       `gorm:"not null;size:100" json:"action"`
	Table     string       `gorm:"column:table_name;not null;size:100;index:idx_audit_log_table_action" json:"table_name"`
	RecordID  *int64       `json:"record_id,omitempty"`
	Detail    JSONB        `gorm:"type:jsonb;default:'{}'" json:"detail"`
	IPAddress string       `gorm:"size:45" json:"ip_address,omitempty"`
	CreatedAt time.Time    `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName specifies the table name for GORM
func (AuditLog) TableName() string {
	return "audit_log"
}
