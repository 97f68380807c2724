package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntitlementPayment is one append-only ledger entry. (user_id, source_id) is
// unique, so a source invoice or session can be applied at most once per user.
type EntitlementPayment struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	UserID         string          `gorm:"column:user_id;not null;uniqueIndex:ux_entitlement_payments_user_source,priority:1"`
	SourceID       string          `gorm:"column:source_id;not null;uniqueIndex:ux_entitlement_payments_user_source,priority:2"`
	CreditsApplied int64           `gorm:"column:credits_applied;not null"`
	Unlimited      bool            `gorm:"column:unlimited;not null;default:false"`
	Amount         decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency       string          `gorm:"column:currency;not null;default:''"`
	EventID        string          `gorm:"column:event_id;not null"`
	EventType      string          `gorm:"column:event_type;not null"`
	AppliedAt      time.Time       `gorm:"column:applied_at;not null"`
}

func (EntitlementPayment) TableName() string { return "entitlement_payments" }
