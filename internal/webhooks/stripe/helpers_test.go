package stripewebhook

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/angelmondragon/creditsync/internal/entitlements"
	"github.com/angelmondragon/creditsync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/creditsync/pkg/errors"
	"github.com/angelmondragon/creditsync/pkg/logger"
)

const testSecret = "whsec_test_secret"

func newTestLogger() (*logger.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return logger.New(logger.Options{ServiceName: "test", Output: buf}), buf
}

// eventJSON renders a provider event envelope around object.
func eventJSON(id string, eventType stripe.EventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":1767225600,"api_version":"2025-06-30.basil","livemode":false,"data":{"object":%s}}`,
		id, eventType, object))
}

func sign(t *testing.T, payload []byte, secret string, at time.Time) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	})
	return signed.Header
}

type fakeProvider struct {
	mu            sync.Mutex
	sessions      map[string]*stripe.CheckoutSession
	subscriptions map[string]*stripe.Subscription
	prices        map[string]*stripe.Price
	products      map[string]*stripe.Product
	lineItems     map[string][]*stripe.LineItem
	err           error
	calls         int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		sessions:      map[string]*stripe.CheckoutSession{},
		subscriptions: map[string]*stripe.Subscription{},
		prices:        map[string]*stripe.Price{},
		products:      map[string]*stripe.Product{},
		lineItems:     map[string][]*stripe.LineItem{},
	}
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) lookup(id string, found bool) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	if !found {
		return pkgerrors.New(pkgerrors.CodeUnresolvable, "stripe object not found: "+id)
	}
	return nil
}

func (f *fakeProvider) GetCheckoutSession(_ context.Context, id string) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if err := f.lookup(id, ok); err != nil {
		return nil, err
	}
	return s, nil
}

func (f *fakeProvider) ListCheckoutLineItems(_ context.Context, sessionID string) ([]*stripe.LineItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, ok := f.lineItems[sessionID]
	if err := f.lookup(sessionID, ok); err != nil {
		return nil, err
	}
	return items, nil
}

func (f *fakeProvider) GetSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subscriptions[id]
	if err := f.lookup(id, ok); err != nil {
		return nil, err
	}
	return s, nil
}

func (f *fakeProvider) GetPrice(_ context.Context, id string) (*stripe.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[id]
	if err := f.lookup(id, ok); err != nil {
		return nil, err
	}
	return p, nil
}

func (f *fakeProvider) GetProduct(_ context.Context, id string) (*stripe.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if err := f.lookup(id, ok); err != nil {
		return nil, err
	}
	return p, nil
}

// addCatalog registers a price/product pair with the given metadata.
func (f *fakeProvider) addCatalog(priceID, productID, productName string, productMeta, priceMeta map[string]string) *stripe.Price {
	price := &stripe.Price{ID: priceID, Product: &stripe.Product{ID: productID}, Metadata: priceMeta}
	f.prices[priceID] = price
	f.products[productID] = &stripe.Product{ID: productID, Name: productName, Metadata: productMeta}
	return price
}

func (f *fakeProvider) addSubscription(id, userID, latestInvoice string, price *stripe.Price, quantity int64) {
	meta := map[string]string{}
	if userID != "" {
		meta[MetadataUserID] = userID
	}
	sub := &stripe.Subscription{
		ID:       id,
		Metadata: meta,
		Customer: &stripe.Customer{ID: "cus_1"},
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{
			{ID: "si_" + id, Price: &stripe.Price{ID: price.ID}, Quantity: quantity},
		}},
	}
	if latestInvoice != "" {
		sub.LatestInvoice = &stripe.Invoice{ID: latestInvoice}
	}
	f.subscriptions[id] = sub
}

type fakeReconciler struct {
	mu       sync.Mutex
	applied  []entitlements.Delta
	canceled []entitlements.CancelDelta
	statuses []entitlements.StatusDelta
	seen     map[string]bool
	err      error
}

func newFakeReconciler() *fakeReconciler {
	return &fakeReconciler{seen: map[string]bool{}}
}

func (f *fakeReconciler) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied) + len(f.canceled) + len(f.statuses)
}

func (f *fakeReconciler) Apply(_ context.Context, delta entitlements.Delta) (entitlements.ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return entitlements.ApplyResult{}, f.err
	}
	f.applied = append(f.applied, delta)
	key := delta.UserID + "/" + delta.SourceID
	if f.seen[key] {
		return entitlements.ApplyResult{Outcome: entitlements.OutcomeDuplicate}, nil
	}
	f.seen[key] = true
	return entitlements.ApplyResult{Outcome: entitlements.OutcomeApplied, CreditsApplied: delta.CreditsToAdd}, nil
}

func (f *fakeReconciler) Cancel(_ context.Context, delta entitlements.CancelDelta) (*models.UserEntitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.canceled = append(f.canceled, delta)
	return &models.UserEntitlement{UserID: delta.UserID}, nil
}

func (f *fakeReconciler) RecordPaymentStatus(_ context.Context, delta entitlements.StatusDelta) (*models.UserEntitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.statuses = append(f.statuses, delta)
	return &models.UserEntitlement{UserID: delta.UserID, LastPaymentStatus: delta.Status}, nil
}
