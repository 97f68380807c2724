package stripewebhook

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/angelmondragon/creditsync/internal/entitlements"
	"github.com/angelmondragon/creditsync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/creditsync/pkg/errors"
	"github.com/angelmondragon/creditsync/pkg/logger"
	"github.com/angelmondragon/creditsync/pkg/metrics"
)

// Outcome is the terminal state of one delivery, reported in logs and metrics.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeStatusRecorded Outcome = "status_recorded"
	OutcomeCanceled       Outcome = "canceled"
	OutcomeUnresolvable   Outcome = "unresolvable"
	OutcomeRejected       Outcome = "rejected"
	OutcomeRetry          Outcome = "retry"
)

// Result tells the transport what to answer the provider.
type Result struct {
	Accepted  bool
	Status    int
	Outcome   Outcome
	EventID   string
	EventType string
	Err       error
}

// Reconciler is the write side of the entitlement store.
type Reconciler interface {
	Apply(ctx context.Context, delta entitlements.Delta) (entitlements.ApplyResult, error)
	Cancel(ctx context.Context, delta entitlements.CancelDelta) (*models.UserEntitlement, error)
	RecordPaymentStatus(ctx context.Context, delta entitlements.StatusDelta) (*models.UserEntitlement, error)
}

// EngineParams wires the webhook pipeline.
type EngineParams struct {
	Authenticator *Authenticator
	Resolver      *Resolver
	Reconciler    Reconciler
	Marker        *EventMarker
	Metrics       *metrics.WebhookMetrics
	Logger        *logger.Logger
	Clock         func() time.Time
}

// Engine authenticates, routes, resolves and reconciles one delivery at a time.
// It is safe for concurrent use.
type Engine struct {
	auth       *Authenticator
	resolver   *Resolver
	reconciler Reconciler
	marker     *EventMarker
	metrics    *metrics.WebhookMetrics
	logg       *logger.Logger
	now        func() time.Time
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Authenticator == nil {
		return nil, errors.New("authenticator required")
	}
	if params.Resolver == nil {
		return nil, errors.New("resolver required")
	}
	if params.Reconciler == nil {
		return nil, errors.New("reconciler required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		auth:       params.Authenticator,
		resolver:   params.Resolver,
		reconciler: params.Reconciler,
		marker:     params.Marker,
		metrics:    params.Metrics,
		logg:       params.Logger,
		now:        clock,
	}, nil
}

// Process handles one raw delivery. Nothing is read or written before the
// signature verifies, and the event marker is set only after the store
// committed.
func (e *Engine) Process(ctx context.Context, payload []byte, sigHeader string) Result {
	start := e.now()

	event, err := e.auth.Authenticate(payload, sigHeader)
	if err != nil {
		e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "rejected stripe webhook")
		res := Result{Status: http.StatusBadRequest, Outcome: OutcomeRejected, Err: err}
		e.observe(res, start)
		return res
	}

	ctx = e.logg.WithEvent(ctx, event.ID, string(event.Type))
	res := Result{Accepted: true, Status: http.StatusOK, EventID: event.ID, EventType: string(event.Type)}

	kind := Classify(event.Type)
	if kind == KindIgnored {
		e.logg.Debug(ctx, "ignoring unhandled stripe event type")
		res.Outcome = OutcomeIgnored
		e.observe(res, start)
		return res
	}

	seen, err := e.marker.Seen(ctx, event.ID)
	if err != nil {
		e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "event marker unavailable; relying on ledger")
	}
	if seen {
		e.logg.Info(ctx, "stripe event already processed")
		res.Outcome = OutcomeDuplicate
		e.observe(res, start)
		return res
	}

	outcome, err := e.dispatch(ctx, kind, event)
	switch {
	case errors.Is(err, errSkip):
		e.logg.Info(ctx, "stripe event carries nothing to reconcile")
		res.Outcome = OutcomeIgnored
	case err != nil:
		return e.fail(ctx, res, err, start)
	default:
		res.Outcome = outcome
	}

	if err := e.marker.Mark(ctx, event.ID); err != nil {
		e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "failed to mark stripe event processed")
	}
	e.observe(res, start)
	return res
}

func (e *Engine) dispatch(ctx context.Context, kind EventKind, event stripe.Event) (Outcome, error) {
	switch kind {
	case KindPurchaseCompleted:
		delta, err := e.resolver.ResolvePurchase(ctx, event)
		if err != nil {
			return "", err
		}
		return e.apply(ctx, delta)
	case KindInvoicePaid:
		delta, err := e.resolver.ResolveInvoicePaid(ctx, event)
		if err != nil {
			return "", err
		}
		return e.apply(ctx, delta)
	case KindInvoicePaymentFailed:
		delta, err := e.resolver.ResolvePaymentFailed(ctx, event)
		if err != nil {
			return "", err
		}
		if _, err := e.reconciler.RecordPaymentStatus(ctx, delta); err != nil {
			return "", err
		}
		e.logg.Info(e.logg.WithUserID(ctx, delta.UserID), "recorded failed payment")
		return OutcomeStatusRecorded, nil
	case KindSubscriptionCanceled:
		delta, err := e.resolver.ResolveCancellation(ctx, event)
		if err != nil {
			return "", err
		}
		if _, err := e.reconciler.Cancel(ctx, delta); err != nil {
			return "", err
		}
		e.logg.Info(e.logg.WithUserID(ctx, delta.UserID), "entitlement canceled")
		return OutcomeCanceled, nil
	default:
		return "", errSkip
	}
}

func (e *Engine) apply(ctx context.Context, delta entitlements.Delta) (Outcome, error) {
	result, err := e.reconciler.Apply(ctx, delta)
	if err != nil {
		return "", err
	}
	ctx = e.logg.WithFields(e.logg.WithUserID(ctx, delta.UserID), map[string]any{
		"source_id":       delta.SourceID,
		"credits_applied": result.CreditsApplied,
		"unlimited":       delta.IsUnlimited,
	})
	if result.Outcome == entitlements.OutcomeDuplicate {
		e.logg.Info(ctx, "payment already reconciled")
		return OutcomeDuplicate, nil
	}
	e.metrics.AddCredits(result.CreditsApplied)
	e.logg.Info(ctx, "entitlement credited")
	return OutcomeApplied, nil
}

// fail maps a processing error onto the provider's retry contract: retryable
// failures get a non-2xx so the delivery comes back, everything else is
// acknowledged and logged for an operator.
func (e *Engine) fail(ctx context.Context, res Result, err error, start time.Time) Result {
	res.Err = err
	if pkgerrors.IsRetryable(err) {
		res.Accepted = false
		res.Status = pkgerrors.MetadataFor(pkgerrors.CodeOf(err)).HTTPStatus
		res.Outcome = OutcomeRetry
		e.logg.Error(ctx, "stripe event failed; awaiting redelivery", err)
	} else {
		res.Status = http.StatusOK
		res.Outcome = OutcomeUnresolvable
		e.logg.Error(ctx, "stripe event unresolvable; acknowledged without changes", err)
	}
	e.observe(res, start)
	return res
}

func (e *Engine) observe(res Result, start time.Time) {
	e.metrics.ObserveEvent(res.EventType, string(res.Outcome), e.now().Sub(start))
}
