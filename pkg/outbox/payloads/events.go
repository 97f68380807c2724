package payloads

import (
	"time"

	"github.com/angelmondragon/creditsync/pkg/enums"
)

// EntitlementCreditedEvent is emitted when a ledger entry is applied.
type EntitlementCreditedEvent struct {
	UserID         string              `json:"user_id"`
	SourceID       string              `json:"source_id"`
	CreditsApplied int64               `json:"credits_applied"`
	Credits        int64               `json:"credits"`
	IsUnlimited    bool                `json:"is_unlimited"`
	Plan           string              `json:"plan"`
	Status         enums.PaymentStatus `json:"status"`
	SubscriptionID *string             `json:"subscription_id,omitempty"`
	Amount         string              `json:"amount,omitempty"`
	Currency       string              `json:"currency,omitempty"`
	AppliedAt      time.Time           `json:"applied_at"`
}

// EntitlementCanceledEvent is emitted when a subscription ends and the
// entitlement is reset.
type EntitlementCanceledEvent struct {
	UserID         string    `json:"user_id"`
	SubscriptionID *string   `json:"subscription_id,omitempty"`
	CanceledAt     time.Time `json:"canceled_at"`
}

// EntitlementPaymentFailedEvent is emitted when a renewal payment fails.
type EntitlementPaymentFailedEvent struct {
	UserID         string    `json:"user_id"`
	SubscriptionID *string   `json:"subscription_id,omitempty"`
	InvoiceID      string    `json:"invoice_id,omitempty"`
	FailedAt       time.Time `json:"failed_at"`
}
