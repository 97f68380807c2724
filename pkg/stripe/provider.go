package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/product"
	"github.com/stripe/stripe-go/v82/subscription"

	pkgerrors "github.com/angelmondragon/creditsync/pkg/errors"
)

// GetCheckoutSession fetches a checkout session with its line items expanded.
func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	if err := requireID("checkout session", id); err != nil {
		return nil, err
	}
	ctx, cancel := c.lookupContext(ctx)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items")

	sessions := checkoutsession.Client{B: c.backend, Key: c.apiKey}
	sess, err := sessions.Get(id, params)
	if err != nil {
		return nil, classifyError(err, "checkout session", id)
	}
	return sess, nil
}

// ListCheckoutLineItems pages through every line item of a checkout session.
// The expanded line_items on the session only carry the first page.
func (c *Client) ListCheckoutLineItems(ctx context.Context, sessionID string) ([]*stripe.LineItem, error) {
	if err := requireID("checkout session", sessionID); err != nil {
		return nil, err
	}
	ctx, cancel := c.lookupContext(ctx)
	defer cancel()

	params := &stripe.CheckoutSessionListLineItemsParams{Session: stripe.String(sessionID)}
	params.Context = ctx
	params.Limit = stripe.Int64(100)

	sessions := checkoutsession.Client{B: c.backend, Key: c.apiKey}
	it := sessions.ListLineItems(params)
	var items []*stripe.LineItem
	for it.Next() {
		items = append(items, it.LineItem())
	}
	if err := it.Err(); err != nil {
		return nil, classifyError(err, "checkout line items", sessionID)
	}
	return items, nil
}

// GetSubscription fetches a subscription; item prices come embedded.
func (c *Client) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	if err := requireID("subscription", id); err != nil {
		return nil, err
	}
	ctx, cancel := c.lookupContext(ctx)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	subs := subscription.Client{B: c.backend, Key: c.apiKey}
	sub, err := subs.Get(id, params)
	if err != nil {
		return nil, classifyError(err, "subscription", id)
	}
	return sub, nil
}

// GetPrice fetches a price by id.
func (c *Client) GetPrice(ctx context.Context, id string) (*stripe.Price, error) {
	if err := requireID("price", id); err != nil {
		return nil, err
	}
	ctx, cancel := c.lookupContext(ctx)
	defer cancel()

	params := &stripe.PriceParams{}
	params.Context = ctx

	prices := price.Client{B: c.backend, Key: c.apiKey}
	p, err := prices.Get(id, params)
	if err != nil {
		return nil, classifyError(err, "price", id)
	}
	return p, nil
}

// GetProduct fetches a product by id.
func (c *Client) GetProduct(ctx context.Context, id string) (*stripe.Product, error) {
	if err := requireID("product", id); err != nil {
		return nil, err
	}
	ctx, cancel := c.lookupContext(ctx)
	defer cancel()

	params := &stripe.ProductParams{}
	params.Context = ctx

	products := product.Client{B: c.backend, Key: c.apiKey}
	p, err := products.Get(id, params)
	if err != nil {
		return nil, classifyError(err, "product", id)
	}
	return p, nil
}

func (c *Client) lookupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, c.lookupTimeout)
}

func requireID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return pkgerrors.New(pkgerrors.CodeUnresolvable, fmt.Sprintf("%s id is required", kind))
	}
	return nil
}

// classifyError separates permanent request errors from retryable ones.
// Only a malformed request or a missing object is permanent. Auth failures,
// conflicts, rate limits, 5xx and transport failures may succeed on
// redelivery once the operator or Stripe recovers.
func classifyError(err error, kind, id string) error {
	msg := fmt.Sprintf("stripe %s lookup failed (%s)", kind, id)

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
	}
	details := map[string]any{"status": stripeErr.HTTPStatusCode, "stripe_code": string(stripeErr.Code)}
	switch {
	case stripeErr.HTTPStatusCode == http.StatusBadRequest,
		stripeErr.HTTPStatusCode == http.StatusNotFound,
		stripeErr.Code == stripe.ErrorCodeResourceMissing:
		return pkgerrors.Wrap(pkgerrors.CodeUnresolvable, err, msg).WithDetails(details)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg).WithDetails(details)
	}
}
