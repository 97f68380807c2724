package stripewebhook

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	pkgerrors "github.com/angelmondragon/creditsync/pkg/errors"
)

// DefaultTolerance is the accepted age of a signed timestamp.
const DefaultTolerance = 300 * time.Second

// ErrAuthentication marks deliveries whose signature could not be verified.
var ErrAuthentication = errors.New("stripe event authentication failed")

// Authenticator verifies the Stripe-Signature header over the exact request
// bytes and decodes the event. It has no side effects.
type Authenticator struct {
	secret    string
	tolerance time.Duration
}

func NewAuthenticator(secret string, tolerance time.Duration) (*Authenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("webhook signing secret is required")
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Authenticator{secret: secret, tolerance: tolerance}, nil
}

// Authenticate fails closed: any header, timestamp or signature problem is a rejection.
func (a *Authenticator) Authenticate(payload []byte, sigHeader string) (stripe.Event, error) {
	if a == nil || a.secret == "" {
		return stripe.Event{}, reject(errors.New("signing secret not configured"))
	}
	if strings.TrimSpace(sigHeader) == "" {
		return stripe.Event{}, reject(errors.New("missing signature header"))
	}
	if len(payload) == 0 {
		return stripe.Event{}, reject(errors.New("empty payload"))
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, a.secret, webhook.ConstructEventOptions{
		Tolerance:                a.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, reject(err)
	}
	if event.ID == "" || event.Type == "" {
		return stripe.Event{}, reject(errors.New("event id or type missing"))
	}
	return event, nil
}

func reject(cause error) error {
	return pkgerrors.Wrap(pkgerrors.CodeSignature, fmt.Errorf("%w: %v", ErrAuthentication, cause), "invalid stripe signature")
}
