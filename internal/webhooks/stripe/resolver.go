package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/creditsync/internal/entitlements"
	"github.com/angelmondragon/creditsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/creditsync/pkg/errors"
	"github.com/angelmondragon/creditsync/pkg/logger"
)

// Metadata keys operators set on products and prices.
const (
	MetadataCredits     = "credits"
	MetadataIsUnlimited = "isUnlimited"
	MetadataPlanName    = "planName"

	// MetadataUserID is read from subscription metadata only.
	MetadataUserID = "userId"
)

// lineItemLookups caps concurrent product lookups per checkout session.
const lineItemLookups = 4

// maxGrantCredits is the largest credits value one price/product pair may
// carry. It stays below the unlimited sentinel so a grant can never be
// mistaken for it.
const maxGrantCredits = entitlements.UnlimitedCredits - 1

var (
	// ErrUnresolvableIdentity means the event carries no user id in its canonical location.
	ErrUnresolvableIdentity = errors.New("user identity not resolvable")
	// ErrTransientLookup wraps provider lookups that may succeed on redelivery.
	ErrTransientLookup = errors.New("transient provider lookup failure")
)

// Provider is the read-only slice of the Stripe API the resolver needs.
type Provider interface {
	GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
	ListCheckoutLineItems(ctx context.Context, sessionID string) ([]*stripe.LineItem, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	GetPrice(ctx context.Context, id string) (*stripe.Price, error)
	GetProduct(ctx context.Context, id string) (*stripe.Product, error)
}

// Grant is what the catalog metadata of one price/product pair is worth.
type Grant struct {
	Credits     int64
	IsUnlimited bool
	PlanName    string
}

// Resolver turns classified events into entitlement deltas.
type Resolver struct {
	provider Provider
	logg     *logger.Logger
}

func NewResolver(provider Provider, logg *logger.Logger) (*Resolver, error) {
	if provider == nil {
		return nil, errors.New("stripe provider is required")
	}
	return &Resolver{provider: provider, logg: logg}, nil
}

// errSkip marks events that are valid but carry nothing to reconcile.
var errSkip = errors.New("nothing to reconcile")

// ResolvePurchase derives a credit delta from a completed checkout session.
// The user id comes from client_reference_id and nowhere else.
func (r *Resolver) ResolvePurchase(ctx context.Context, event stripe.Event) (entitlements.Delta, error) {
	var payload stripe.CheckoutSession
	if err := decodeObject(event, &payload); err != nil {
		return entitlements.Delta{}, err
	}
	userID := strings.TrimSpace(payload.ClientReferenceID)
	if userID == "" {
		return entitlements.Delta{}, unresolvable("checkout session %s has no client_reference_id", payload.ID)
	}
	if payload.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		// Async payment methods complete later via checkout.session.async_payment_succeeded.
		return entitlements.Delta{}, errSkip
	}

	sess, err := r.provider.GetCheckoutSession(ctx, payload.ID)
	if err != nil {
		return entitlements.Delta{}, lookupError(err, "checkout session")
	}
	items, err := r.lineItems(ctx, sess)
	if err != nil {
		return entitlements.Delta{}, err
	}
	if len(items) == 0 {
		r.warn(ctx, "checkout session has no line items", map[string]any{"session_id": sess.ID})
		return entitlements.Delta{}, errSkip
	}

	total, err := r.grantForLineItems(ctx, items)
	if err != nil {
		return entitlements.Delta{}, err
	}

	sourceID := sess.ID
	var subscriptionID string
	if sess.Mode == stripe.CheckoutSessionModeSubscription {
		if sess.Subscription != nil {
			subscriptionID = sess.Subscription.ID
		}
		sourceID, err = r.firstInvoiceID(ctx, sess, subscriptionID)
		if err != nil {
			return entitlements.Delta{}, err
		}
	}

	return entitlements.Delta{
		UserID:         userID,
		SourceID:       sourceID,
		CreditsToAdd:   total.Credits,
		IsUnlimited:    total.IsUnlimited,
		PlanName:       total.PlanName,
		OccurredAt:     eventTime(event),
		EventID:        event.ID,
		EventType:      string(event.Type),
		SubscriptionID: subscriptionID,
		CustomerID:     customerID(sess.Customer),
		Amount:         minorUnits(sess.AmountTotal),
		Currency:       string(sess.Currency),
	}, nil
}

// lineItems returns every line item of the session. The expanded list only
// holds the first page, so the rest is fetched when Stripe says there is more.
func (r *Resolver) lineItems(ctx context.Context, sess *stripe.CheckoutSession) ([]*stripe.LineItem, error) {
	if sess.LineItems == nil {
		return nil, nil
	}
	if !sess.LineItems.HasMore {
		return sess.LineItems.Data, nil
	}
	items, err := r.provider.ListCheckoutLineItems(ctx, sess.ID)
	if err != nil {
		return nil, lookupError(err, "checkout line items")
	}
	return items, nil
}

// firstInvoiceID returns the invoice that paid the first cycle so the checkout
// and the matching invoice.paid delivery share one dedup key.
func (r *Resolver) firstInvoiceID(ctx context.Context, sess *stripe.CheckoutSession, subscriptionID string) (string, error) {
	if sess.Invoice != nil && sess.Invoice.ID != "" {
		return sess.Invoice.ID, nil
	}
	if subscriptionID != "" {
		sub, err := r.provider.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return "", lookupError(err, "subscription")
		}
		if sub.LatestInvoice != nil && sub.LatestInvoice.ID != "" {
			return sub.LatestInvoice.ID, nil
		}
	}
	r.warn(ctx, "subscription checkout without invoice; falling back to session id", map[string]any{
		"session_id":      sess.ID,
		"subscription_id": subscriptionID,
	})
	return sess.ID, nil
}

// ResolveInvoicePaid derives a credit delta from a paid subscription invoice.
// The user id comes from the subscription's metadata and nowhere else.
func (r *Resolver) ResolveInvoicePaid(ctx context.Context, event stripe.Event) (entitlements.Delta, error) {
	var invoice stripe.Invoice
	if err := decodeObject(event, &invoice); err != nil {
		return entitlements.Delta{}, err
	}
	subscriptionID := invoiceSubscriptionID(&invoice)
	if subscriptionID == "" {
		return entitlements.Delta{}, errSkip
	}

	sub, err := r.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return entitlements.Delta{}, lookupError(err, "subscription")
	}
	userID := strings.TrimSpace(sub.Metadata[MetadataUserID])
	if userID == "" {
		return entitlements.Delta{}, unresolvable("subscription %s has no %s metadata", sub.ID, MetadataUserID)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return entitlements.Delta{}, unresolvable("subscription %s has no priced items", sub.ID)
	}
	item := sub.Items.Data[0]

	price, err := r.provider.GetPrice(ctx, item.Price.ID)
	if err != nil {
		return entitlements.Delta{}, lookupError(err, "price")
	}
	grant, err := r.grantForPrice(ctx, price)
	if err != nil {
		return entitlements.Delta{}, err
	}
	credits, ok := mulCredits(grant.Credits, quantity(item.Quantity))
	if !ok {
		return entitlements.Delta{}, pkgerrors.New(pkgerrors.CodeUnresolvable,
			fmt.Sprintf("invoice %s credits overflow (%d x %d)", invoice.ID, grant.Credits, item.Quantity))
	}

	return entitlements.Delta{
		UserID:         userID,
		SourceID:       invoice.ID,
		CreditsToAdd:   credits,
		IsUnlimited:    grant.IsUnlimited,
		PlanName:       grant.PlanName,
		OccurredAt:     eventTime(event),
		EventID:        event.ID,
		EventType:      string(event.Type),
		SubscriptionID: sub.ID,
		CustomerID:     firstNonEmpty(customerID(invoice.Customer), customerID(sub.Customer)),
		Amount:         minorUnits(invoice.AmountPaid),
		Currency:       string(invoice.Currency),
	}, nil
}

// ResolvePaymentFailed derives a status-only update from a failed invoice.
func (r *Resolver) ResolvePaymentFailed(ctx context.Context, event stripe.Event) (entitlements.StatusDelta, error) {
	var invoice stripe.Invoice
	if err := decodeObject(event, &invoice); err != nil {
		return entitlements.StatusDelta{}, err
	}
	subscriptionID := invoiceSubscriptionID(&invoice)
	if subscriptionID == "" {
		return entitlements.StatusDelta{}, errSkip
	}
	sub, err := r.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return entitlements.StatusDelta{}, lookupError(err, "subscription")
	}
	userID := strings.TrimSpace(sub.Metadata[MetadataUserID])
	if userID == "" {
		return entitlements.StatusDelta{}, unresolvable("subscription %s has no %s metadata", sub.ID, MetadataUserID)
	}
	return entitlements.StatusDelta{
		UserID:         userID,
		Status:         enums.PaymentStatusFailed,
		SubscriptionID: sub.ID,
		CustomerID:     firstNonEmpty(customerID(invoice.Customer), customerID(sub.Customer)),
		InvoiceID:      invoice.ID,
		EventID:        event.ID,
		EventType:      string(event.Type),
		OccurredAt:     eventTime(event),
	}, nil
}

// ResolveCancellation reads the deleted subscription from the payload; no
// lookup is needed.
func (r *Resolver) ResolveCancellation(_ context.Context, event stripe.Event) (entitlements.CancelDelta, error) {
	var sub stripe.Subscription
	if err := decodeObject(event, &sub); err != nil {
		return entitlements.CancelDelta{}, err
	}
	userID := strings.TrimSpace(sub.Metadata[MetadataUserID])
	if userID == "" {
		return entitlements.CancelDelta{}, unresolvable("subscription %s has no %s metadata", sub.ID, MetadataUserID)
	}
	return entitlements.CancelDelta{
		UserID:         userID,
		SubscriptionID: sub.ID,
		CustomerID:     customerID(sub.Customer),
		EventID:        event.ID,
		EventType:      string(event.Type),
		OccurredAt:     eventTime(event),
	}, nil
}

// grantForLineItems resolves every line item's product concurrently and sums
// the grants. The plan name comes from the first priced item.
func (r *Resolver) grantForLineItems(ctx context.Context, items []*stripe.LineItem) (Grant, error) {
	grants := make([]*Grant, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lineItemLookups)
	for i, item := range items {
		if item == nil || item.Price == nil {
			continue
		}
		g.Go(func() error {
			grant, err := r.grantForPrice(gctx, item.Price)
			if err != nil {
				return err
			}
			credits, ok := mulCredits(grant.Credits, quantity(item.Quantity))
			if !ok {
				return pkgerrors.New(pkgerrors.CodeUnresolvable,
					fmt.Sprintf("line item %s credits overflow (%d x %d)", item.ID, grant.Credits, item.Quantity))
			}
			grant.Credits = credits
			grants[i] = &grant
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Grant{}, err
	}

	var total Grant
	named := false
	for _, grant := range grants {
		if grant == nil {
			continue
		}
		sum, ok := addCredits(total.Credits, grant.Credits)
		if !ok {
			return Grant{}, pkgerrors.New(pkgerrors.CodeUnresolvable, "line item credits overflow")
		}
		total.Credits = sum
		total.IsUnlimited = total.IsUnlimited || grant.IsUnlimited
		if !named {
			total.PlanName = grant.PlanName
			named = true
		}
	}
	return total, nil
}

// grantForPrice loads the price's product and merges their metadata.
func (r *Resolver) grantForPrice(ctx context.Context, price *stripe.Price) (Grant, error) {
	if price.Product == nil || price.Product.ID == "" {
		return Grant{}, unresolvable("price %s has no product", price.ID)
	}
	product, err := r.provider.GetProduct(ctx, price.Product.ID)
	if err != nil {
		return Grant{}, lookupError(err, "product")
	}
	grant, defects := ParseGrant(product.Metadata, price.Metadata, product.Name)
	for _, defect := range defects {
		r.warn(ctx, "entitlement metadata defect", map[string]any{
			"product_id": product.ID,
			"price_id":   price.ID,
			"defect":     defect,
		})
	}
	return grant, nil
}

// ParseGrant merges product metadata with price metadata, price winning per
// key, and parses the entitlement fields. Malformed values fall back to
// defaults and are reported as defects instead of failing the event.
func ParseGrant(productMeta, priceMeta map[string]string, productName string) (Grant, []string) {
	merged := make(map[string]string, len(productMeta)+len(priceMeta))
	for k, v := range productMeta {
		merged[k] = v
	}
	for k, v := range priceMeta {
		merged[k] = v
	}

	var defects []string
	grant := Grant{PlanName: productName}

	if raw, ok := merged[MetadataCredits]; ok {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		switch {
		case err != nil:
			defects = append(defects, fmt.Sprintf("credits %q is not an integer", raw))
		case n < 0:
			defects = append(defects, fmt.Sprintf("credits %q is negative", raw))
		case n > maxGrantCredits:
			defects = append(defects, fmt.Sprintf("credits %q exceeds %d", raw, maxGrantCredits))
		default:
			grant.Credits = n
		}
	}
	grant.IsUnlimited = strings.TrimSpace(merged[MetadataIsUnlimited]) == "true"
	if name := strings.TrimSpace(merged[MetadataPlanName]); name != "" {
		grant.PlanName = name
	}
	return grant, defects
}

func (r *Resolver) warn(ctx context.Context, msg string, fields map[string]any) {
	if r.logg == nil {
		return
	}
	r.logg.Warn(r.logg.WithFields(ctx, fields), msg)
}

func decodeObject(event stripe.Event, dest any) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return pkgerrors.New(pkgerrors.CodeUnresolvable, "event payload is empty")
	}
	if err := json.Unmarshal(event.Data.Raw, dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUnresolvable, err, "decode event payload")
	}
	return nil
}

func unresolvable(format string, args ...any) error {
	return pkgerrors.Wrap(pkgerrors.CodeUnresolvable, ErrUnresolvableIdentity, fmt.Sprintf(format, args...))
}

// lookupError tags retryable provider failures with ErrTransientLookup and
// passes permanent ones through unchanged.
func lookupError(err error, kind string) error {
	if !pkgerrors.IsRetryable(err) {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, errors.Join(ErrTransientLookup, err), "lookup "+kind)
}

func invoiceSubscriptionID(inv *stripe.Invoice) string {
	if inv.Parent == nil || inv.Parent.SubscriptionDetails == nil || inv.Parent.SubscriptionDetails.Subscription == nil {
		return ""
	}
	return inv.Parent.SubscriptionDetails.Subscription.ID
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

// mulCredits and addCredits report false instead of wrapping. Both operands
// are non-negative.
func mulCredits(credits, qty int64) (int64, bool) {
	if credits != 0 && qty > math.MaxInt64/credits {
		return 0, false
	}
	return credits * qty, true
}

func addCredits(a, b int64) (int64, bool) {
	if a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

func quantity(q int64) int64 {
	if q <= 0 {
		return 1
	}
	return q
}

func minorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

func eventTime(event stripe.Event) time.Time {
	if event.Created == 0 {
		return time.Now().UTC()
	}
	return time.Unix(event.Created, 0).UTC()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
