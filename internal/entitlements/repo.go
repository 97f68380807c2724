package entitlements

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/creditsync/pkg/db/models"
	"github.com/angelmondragon/creditsync/pkg/enums"
)

// Repository persists entitlement records and their payment ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByUserID(ctx context.Context, userID string) (*models.UserEntitlement, error)
	ListPayments(ctx context.Context, userID string) ([]models.EntitlementPayment, error)
	HasPayment(ctx context.Context, userID, sourceID string) (bool, error)
	ApplyCredit(ctx context.Context, entry CreditEntry) (bool, *models.UserEntitlement, error)
	ApplyCancellation(ctx context.Context, update StateUpdate) (*models.UserEntitlement, error)
	RecordPaymentStatus(ctx context.Context, update StateUpdate) (*models.UserEntitlement, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an entitlement repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindByUserID returns gorm.ErrRecordNotFound when the user has no record yet.
func (r *repository) FindByUserID(ctx context.Context, userID string) (*models.UserEntitlement, error) {
	var rec models.UserEntitlement
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *repository) ListPayments(ctx context.Context, userID string) ([]models.EntitlementPayment, error) {
	var rows []models.EntitlementPayment
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("applied_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) HasPayment(ctx context.Context, userID, sourceID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.EntitlementPayment{}).
		Where("user_id = ? AND source_id = ?", userID, sourceID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ApplyCredit appends the ledger entry and folds it into the balance. It must
// run inside a transaction. A false return means another delivery already
// owns the (user_id, source_id) pair and nothing was written.
func (r *repository) ApplyCredit(ctx context.Context, entry CreditEntry) (bool, *models.UserEntitlement, error) {
	db := r.db.WithContext(ctx)
	payment := entry.Payment
	now := payment.AppliedAt
	if now.IsZero() {
		now = time.Now().UTC()
		payment.AppliedAt = now
	}
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}

	if err := r.ensureRecord(db, payment.UserID, enums.PaymentStatusActive, now); err != nil {
		return false, nil, err
	}

	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "source_id"}},
		DoNothing: true,
	}).Create(&payment)
	if res.Error != nil {
		return false, nil, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil, nil
	}

	updates := map[string]any{
		"credits": gorm.Expr(
			"CASE WHEN is_unlimited OR ? THEN ? ELSE credits + ? END",
			payment.Unlimited, UnlimitedCredits, payment.CreditsApplied,
		),
		"is_unlimited":        gorm.Expr("is_unlimited OR ?", payment.Unlimited),
		"last_payment_status": enums.PaymentStatusActive,
		"updated_at":          now,
	}
	if entry.Plan != "" {
		updates["plan"] = entry.Plan
	}
	if entry.SubscriptionID != nil {
		updates["subscription_id"] = *entry.SubscriptionID
	}
	if entry.CustomerID != nil {
		updates["stripe_customer_id"] = *entry.CustomerID
	}

	if err := db.Model(&models.UserEntitlement{}).
		Where("user_id = ?", payment.UserID).
		Updates(updates).Error; err != nil {
		return false, nil, err
	}

	rec, err := r.FindByUserID(ctx, payment.UserID)
	if err != nil {
		return false, nil, err
	}
	return true, rec, nil
}

// ApplyCancellation overwrites the record with the terminal canceled state.
func (r *repository) ApplyCancellation(ctx context.Context, update StateUpdate) (*models.UserEntitlement, error) {
	assignments := map[string]any{
		"credits":             0,
		"is_unlimited":        false,
		"plan":                PlanExpired,
		"last_payment_status": enums.PaymentStatusCanceled,
		"updated_at":          update.At,
	}
	rec := models.UserEntitlement{
		UserID:            update.UserID,
		Credits:           0,
		IsUnlimited:       false,
		Plan:              PlanExpired,
		LastPaymentStatus: enums.PaymentStatusCanceled,
		SubscriptionID:    update.SubscriptionID,
		StripeCustomerID:  update.CustomerID,
		CreatedAt:         update.At,
		UpdatedAt:         update.At,
	}
	return r.upsertState(ctx, rec, assignments, update)
}

// RecordPaymentStatus upserts only the payment status and provider references.
func (r *repository) RecordPaymentStatus(ctx context.Context, update StateUpdate) (*models.UserEntitlement, error) {
	assignments := map[string]any{
		"last_payment_status": update.Status,
		"updated_at":          update.At,
	}
	rec := models.UserEntitlement{
		UserID:            update.UserID,
		LastPaymentStatus: update.Status,
		SubscriptionID:    update.SubscriptionID,
		StripeCustomerID:  update.CustomerID,
		CreatedAt:         update.At,
		UpdatedAt:         update.At,
	}
	return r.upsertState(ctx, rec, assignments, update)
}

func (r *repository) upsertState(ctx context.Context, rec models.UserEntitlement, assignments map[string]any, update StateUpdate) (*models.UserEntitlement, error) {
	if update.UserID == "" {
		return nil, errors.New("user id is required")
	}
	if update.SubscriptionID != nil {
		assignments["subscription_id"] = *update.SubscriptionID
	}
	if update.CustomerID != nil {
		assignments["stripe_customer_id"] = *update.CustomerID
	}
	db := r.db.WithContext(ctx)
	if err := db.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&rec).Error; err != nil {
		return nil, err
	}
	return r.FindByUserID(ctx, update.UserID)
}

func (r *repository) ensureRecord(db *gorm.DB, userID string, status enums.PaymentStatus, at time.Time) error {
	rec := models.UserEntitlement{
		UserID:            userID,
		LastPaymentStatus: status,
		CreatedAt:         at,
		UpdatedAt:         at,
	}
	return db.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&rec).Error
}
