package models

import (
	"time"

	"github.com/angelmondragon/creditsync/pkg/enums"
)

// UserEntitlement is the durable per-user entitlement record.
type UserEntitlement struct {
	UserID            string              `gorm:"column:user_id;primaryKey"`
	Credits           int64               `gorm:"column:credits;not null;default:0"`
	IsUnlimited       bool                `gorm:"column:is_unlimited;not null;default:false"`
	Plan              string              `gorm:"column:plan;not null;default:''"`
	LastPaymentStatus enums.PaymentStatus `gorm:"column:last_payment_status;not null"`
	SubscriptionID    *string             `gorm:"column:subscription_id"`
	StripeCustomerID  *string             `gorm:"column:stripe_customer_id"`
	CreatedAt         time.Time           `gorm:"column:created_at"`
	UpdatedAt         time.Time           `gorm:"column:updated_at"`

	Payments []EntitlementPayment `gorm:"foreignKey:UserID;references:UserID"`
}

func (UserEntitlement) TableName() string { return "user_entitlements" }
