package model

import (
	"time"
)

// Billing period constants
const (
	BillingPeriodMonthly = "monthly"
	BillingPeriodYearly  = "yearly"
)

// Plan represents a subscription plan. Plans are managed outside this
// service and read-only here; charges always snapshot the plan first.
type Plan struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Code          string    `gorm:"unique;not null;size:50" json:"code"`
	DisplayName   string    `gorm:"not null;size:200" json:"display_name"`
	PriceMinor    int64     `gorm:"not null" json:"price_minor"`
	Currency      string    `gorm:"size:3;default:'VND'" json:"currency"`
	BillingPeriod string    `gorm:"not null;size:20;default:'monthly'" json:"billing_period"`
	PeriodDays    int       `gorm:"not null;default:30" json:"period_days"`
	GraceDays     int       `gorm:"not null;default:7" json:"grace_days"`
	IsPostpaid    bool      `gorm:"default:false" json:"is_postpaid"`
	IsBase        bool      `gorm:"default:false" json:"is_base"`
	SortOrder     int       `gorm:"default:0" json:"sort_order"`
	IsActive      bool      `gorm:"default:true" json:"is_active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PeriodLength returns the length of one billing period.
func (p *Plan) PeriodLength() time.Duration {
	return time.Duration(p.PeriodDays) * 24 * time.Hour
}

// Snapshot captures the plan fields that must survive later price changes.
func (p *Plan) Snapshot() JSONB {
	return JSONB{
		"plan_id":        p.ID,
		"code":           p.Code,
		"display_name":   p.DisplayName,
		"price_minor":    p.PriceMinor,
		"currency":       p.Currency,
		"billing_period": p.BillingPeriod,
		"period_days":    p.PeriodDays,
		"is_postpaid":    p.IsPostpaid,
	}
}

// TableName specifies the table name for GORM
func (Plan) TableName() string {
	return "plans"
}
