package entitlements

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditsync/pkg/db/models"
	"github.com/angelmondragon/creditsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditsync/pkg/errors"
	"github.com/angelmondragon/creditsync/pkg/logger"
	"github.com/angelmondragon/creditsync/pkg/outbox"
	"github.com/angelmondragon/creditsync/pkg/outbox/payloads"
)

const providerStripe = "stripe"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams wires the reconciler's collaborators.
type ServiceParams struct {
	Repo   Repository
	DB     txRunner
	Outbox outboxEmitter
	Logger *logger.Logger
	Clock  func() time.Time
}

// Service applies entitlement deltas exactly once per (user, source) pair.
type Service struct {
	repo     Repository
	db       txRunner
	outbox   outboxEmitter
	logg     *logger.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("entitlement repository required")
	}
	if params.DB == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox emitter required")
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:     params.Repo,
		db:       params.DB,
		outbox:   params.Outbox,
		logg:     params.Logger,
		validate: validator.New(),
		now:      clock,
	}, nil
}

// Apply credits delta to the user's record. Redeliveries of the same source
// id, sequential or concurrent, come back as OutcomeDuplicate with no write.
func (s *Service) Apply(ctx context.Context, delta Delta) (ApplyResult, error) {
	if err := s.validate.Struct(delta); err != nil {
		return ApplyResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid entitlement delta")
	}

	exists, err := s.repo.HasPayment(ctx, delta.UserID, delta.SourceID)
	if err != nil {
		return ApplyResult{}, storeError(err, "check ledger")
	}
	if exists {
		return ApplyResult{Outcome: OutcomeDuplicate}, nil
	}

	credits := delta.CreditsToAdd
	if delta.IsUnlimited {
		credits = 0
	}
	appliedAt := s.now()
	entry := CreditEntry{
		Payment: models.EntitlementPayment{
			ID:             uuid.New(),
			UserID:         delta.UserID,
			SourceID:       delta.SourceID,
			CreditsApplied: credits,
			Unlimited:      delta.IsUnlimited,
			Amount:         delta.Amount.Round(2),
			Currency:       delta.Currency,
			EventID:        delta.EventID,
			EventType:      delta.EventType,
			AppliedAt:      appliedAt,
		},
		Plan:           delta.PlanName,
		SubscriptionID: optional(delta.SubscriptionID),
		CustomerID:     optional(delta.CustomerID),
	}

	result := ApplyResult{Outcome: OutcomeDuplicate}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		applied, rec, err := s.repo.WithTx(tx).ApplyCredit(ctx, entry)
		if err != nil || !applied {
			return err
		}
		result = ApplyResult{Outcome: OutcomeApplied, CreditsApplied: credits, Record: rec}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEntitlementCredited,
			AggregateType: enums.AggregateUserEntitlement,
			AggregateID:   delta.UserID,
			Source:        sourceRef(delta.EventID, delta.EventType),
			OccurredAt:    appliedAt,
			Data: payloads.EntitlementCreditedEvent{
				UserID:         rec.UserID,
				SourceID:       delta.SourceID,
				CreditsApplied: credits,
				Credits:        rec.Credits,
				IsUnlimited:    rec.IsUnlimited,
				Plan:           rec.Plan,
				Status:         rec.LastPaymentStatus,
				SubscriptionID: rec.SubscriptionID,
				Amount:         entry.Payment.Amount.StringFixed(2),
				Currency:       delta.Currency,
				AppliedAt:      appliedAt,
			},
		})
	})
	if err != nil {
		return ApplyResult{}, storeError(err, "apply entitlement delta")
	}
	return result, nil
}

// Cancel resets the user's entitlement. It never consults the ledger, so
// repeated cancellations converge on the same terminal state.
func (s *Service) Cancel(ctx context.Context, delta CancelDelta) (*models.UserEntitlement, error) {
	if err := s.validate.Struct(delta); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cancellation")
	}
	at := s.now()
	var rec *models.UserEntitlement
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		rec, err = s.repo.WithTx(tx).ApplyCancellation(ctx, StateUpdate{
			UserID:         delta.UserID,
			Status:         enums.PaymentStatusCanceled,
			SubscriptionID: optional(delta.SubscriptionID),
			CustomerID:     optional(delta.CustomerID),
			At:             at,
		})
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEntitlementCanceled,
			AggregateType: enums.AggregateUserEntitlement,
			AggregateID:   delta.UserID,
			Source:        sourceRef(delta.EventID, delta.EventType),
			OccurredAt:    at,
			Data: payloads.EntitlementCanceledEvent{
				UserID:         delta.UserID,
				SubscriptionID: rec.SubscriptionID,
				CanceledAt:     at,
			},
		})
	})
	if err != nil {
		return nil, storeError(err, "apply cancellation")
	}
	return rec, nil
}

// RecordPaymentStatus stores the latest payment status without touching credits.
func (s *Service) RecordPaymentStatus(ctx context.Context, delta StatusDelta) (*models.UserEntitlement, error) {
	if err := s.validate.Struct(delta); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status update")
	}
	if !delta.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment status")
	}
	at := s.now()
	var rec *models.UserEntitlement
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		rec, err = s.repo.WithTx(tx).RecordPaymentStatus(ctx, StateUpdate{
			UserID:         delta.UserID,
			Status:         delta.Status,
			SubscriptionID: optional(delta.SubscriptionID),
			CustomerID:     optional(delta.CustomerID),
			At:             at,
		})
		if err != nil || delta.Status != enums.PaymentStatusFailed {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEntitlementPaymentFailed,
			AggregateType: enums.AggregateUserEntitlement,
			AggregateID:   delta.UserID,
			Source:        sourceRef(delta.EventID, delta.EventType),
			OccurredAt:    at,
			Data: payloads.EntitlementPaymentFailedEvent{
				UserID:         delta.UserID,
				SubscriptionID: rec.SubscriptionID,
				InvoiceID:      delta.InvoiceID,
				FailedAt:       at,
			},
		})
	})
	if err != nil {
		return nil, storeError(err, "record payment status")
	}
	return rec, nil
}

// Get returns the user's entitlement and ledger.
func (s *Service) Get(ctx context.Context, userID string) (*Entitlement, error) {
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	rec, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "entitlement not found")
		}
		return nil, storeError(err, "load entitlement")
	}
	payments, err := s.repo.ListPayments(ctx, userID)
	if err != nil {
		return nil, storeError(err, "load ledger")
	}
	return toEntitlement(rec, payments), nil
}

func sourceRef(eventID, eventType string) *outbox.SourceRef {
	if eventID == "" && eventType == "" {
		return nil
	}
	return &outbox.SourceRef{Provider: providerStripe, EventID: eventID, EventType: eventType}
}

// storeError keeps typed errors intact and marks everything else retryable.
func storeError(err error, action string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}
