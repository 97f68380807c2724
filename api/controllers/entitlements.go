package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/creditsync/api/middleware"
	"github.com/angelmondragon/creditsync/api/responses"
	"github.com/angelmondragon/creditsync/api/validators"
	"github.com/angelmondragon/creditsync/internal/entitlements"
	pkgerrors "github.com/angelmondragon/creditsync/pkg/errors"
	"github.com/angelmondragon/creditsync/pkg/logger"
)

var paymentsRange = validators.IntRange{Default: 50, Min: 0, Max: 500}

type entitlementReader interface {
	Get(ctx context.Context, userID string) (*entitlements.Entitlement, error)
}

// AdminEntitlementGet returns a user's entitlement with its most recent ledger entries.
func AdminEntitlementGet(svc entitlementReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "entitlement service unavailable"))
			return
		}

		userID := strings.TrimSpace(chi.URLParam(r, "userId"))
		if userID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "userId is required"))
			return
		}
		limit, err := validators.QueryInt(r, "payments", paymentsRange)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		ent, err := svc.Get(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if len(ent.Payments) > limit {
			ent.Payments = ent.Payments[len(ent.Payments)-limit:]
		}
		if logg != nil {
			fields := map[string]any{"user_id": userID}
			if op, ok := middleware.OperatorFromContext(ctx); ok {
				fields["operator_id"] = op.ID
			}
			logg.Info(logg.WithFields(ctx, fields), "entitlement.read")
		}
		responses.WriteSuccess(w, ent)
	}
}
