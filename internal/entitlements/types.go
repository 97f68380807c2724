package entitlements

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/creditsync/pkg/db/models"
	"github.com/angelmondragon/creditsync/pkg/enums"
)

// UnlimitedCredits is the stored balance of an unlimited entitlement.
const UnlimitedCredits int64 = 999999

// PlanExpired is the plan name written when a subscription ends.
const PlanExpired = "expired"

// Outcome describes what a reconciliation did to the record.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
)

// Delta is a credit grant derived from one paid invoice or checkout session.
// SourceID is the dedup key: a given (UserID, SourceID) pair is applied once.
type Delta struct {
	UserID         string          `json:"userId" validate:"required,max=128"`
	SourceID       string          `json:"sourceId" validate:"required,max=255"`
	CreditsToAdd   int64           `json:"creditsToAdd" validate:"min=0"`
	IsUnlimited    bool            `json:"isUnlimited"`
	PlanName       string          `json:"planName" validate:"max=255"`
	OccurredAt     time.Time       `json:"occurredAt"`
	EventID        string          `json:"eventId"`
	EventType      string          `json:"eventType"`
	SubscriptionID string          `json:"subscriptionId"`
	CustomerID     string          `json:"customerId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
}

// CancelDelta resets a user's entitlement after their subscription ended.
type CancelDelta struct {
	UserID         string    `json:"userId" validate:"required,max=128"`
	SubscriptionID string    `json:"subscriptionId"`
	CustomerID     string    `json:"customerId"`
	EventID        string    `json:"eventId"`
	EventType      string    `json:"eventType"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// StatusDelta records a payment status without touching credits.
type StatusDelta struct {
	UserID         string              `json:"userId" validate:"required,max=128"`
	Status         enums.PaymentStatus `json:"status" validate:"required"`
	SubscriptionID string              `json:"subscriptionId"`
	CustomerID     string              `json:"customerId"`
	InvoiceID      string              `json:"invoiceId"`
	EventID        string              `json:"eventId"`
	EventType      string              `json:"eventType"`
	OccurredAt     time.Time           `json:"occurredAt"`
}

// ApplyResult reports the outcome of Service.Apply.
type ApplyResult struct {
	Outcome        Outcome
	CreditsApplied int64
	Record         *models.UserEntitlement
}

// CreditEntry carries everything the repository needs for one atomic credit.
type CreditEntry struct {
	Payment        models.EntitlementPayment
	Plan           string
	SubscriptionID *string
	CustomerID     *string
}

// StateUpdate carries the fields written by cancellation and status upserts.
type StateUpdate struct {
	UserID         string
	Status         enums.PaymentStatus
	SubscriptionID *string
	CustomerID     *string
	At             time.Time
}

// Entitlement is the read model returned to operators.
type Entitlement struct {
	UserID            string              `json:"userId"`
	Credits           int64               `json:"credits"`
	IsUnlimited       bool                `json:"isUnlimited"`
	Plan              string              `json:"plan"`
	LastPaymentStatus enums.PaymentStatus `json:"lastPaymentStatus"`
	SubscriptionID    *string             `json:"subscriptionId,omitempty"`
	StripeCustomerID  *string             `json:"stripeCustomerId,omitempty"`
	UpdatedAt         time.Time           `json:"updatedAt"`
	Payments          []Payment           `json:"payments"`
}

// Payment is one ledger entry in the read model.
type Payment struct {
	SourceID       string          `json:"sourceId"`
	CreditsApplied int64           `json:"creditsApplied"`
	Unlimited      bool            `json:"unlimited"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency,omitempty"`
	EventType      string          `json:"eventType"`
	AppliedAt      time.Time       `json:"appliedAt"`
}

func toEntitlement(rec *models.UserEntitlement, payments []models.EntitlementPayment) *Entitlement {
	out := &Entitlement{
		UserID:            rec.UserID,
		Credits:           rec.Credits,
		IsUnlimited:       rec.IsUnlimited,
		Plan:              rec.Plan,
		LastPaymentStatus: rec.LastPaymentStatus,
		SubscriptionID:    rec.SubscriptionID,
		StripeCustomerID:  rec.StripeCustomerID,
		UpdatedAt:         rec.UpdatedAt,
		Payments:          make([]Payment, 0, len(payments)),
	}
	for _, p := range payments {
		out.Payments = append(out.Payments, Payment{
			SourceID:       p.SourceID,
			CreditsApplied: p.CreditsApplied,
			Unlimited:      p.Unlimited,
			Amount:         p.Amount,
			Currency:       p.Currency,
			EventType:      p.EventType,
			AppliedAt:      p.AppliedAt,
		})
	}
	return out
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
