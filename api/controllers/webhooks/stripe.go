package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/creditsync/api/responses"
	stripewebhook "github.com/angelmondragon/creditsync/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/creditsync/pkg/errors"
	"github.com/angelmondragon/creditsync/pkg/logger"
)

const (
	signatureHeader     = "Stripe-Signature"
	defaultMaxBodyBytes = 1 << 20
)

type webhookProcessor interface {
	Process(ctx context.Context, payload []byte, sigHeader string) stripewebhook.Result
}

type ackBody struct {
	Received bool   `json:"received"`
	EventID  string `json:"eventId,omitempty"`
	Outcome  string `json:"outcome"`
}

// StripeWebhook relays the raw request bytes to the engine and answers with
// the status it decided on. The body is never decoded before verification.
func StripeWebhook(engine webhookProcessor, maxBodyBytes int64, logg *logger.Logger) http.HandlerFunc {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if engine == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook engine unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				// Stripe redelivers this until the limit is raised.
				if logg != nil {
					logg.Error(logg.WithField(ctx, "limit_bytes", tooLarge.Limit), "webhook payload exceeds body limit", err)
				}
				responses.WriteError(ctx, nil, w, pkgerrors.Wrap(pkgerrors.CodeTooLarge, err, "payload too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		res := engine.Process(ctx, payload, r.Header.Get(signatureHeader))
		if !res.Accepted {
			err := res.Err
			if err == nil {
				err = pkgerrors.New(pkgerrors.CodeInternal, "webhook not accepted")
			}
			// The engine already logged the failure.
			responses.WriteError(ctx, nil, w, err)
			return
		}

		responses.WriteSuccessStatus(w, res.Status, ackBody{
			Received: true,
			EventID:  res.EventID,
			Outcome:  string(res.Outcome),
		})
	}
}
