package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/angelmondragon/creditsync/pkg/config"
	pkgerrors "github.com/angelmondragon/creditsync/pkg/errors"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	client, err := NewClient(context.Background(), config.StripeConfig{
		APIKey:        "sk_test_provider",
		Secret:        "whsec_test",
		LookupTimeout: 2 * time.Second,
	}, nil, WithBackend(backend))
	require.NoError(t, err)
	return client
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestProviderLookups(t *testing.T) {
	var expandSeen bool
	client := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/checkout/sessions/cs_1"):
			expandSeen = strings.Contains(r.URL.RawQuery, "line_items")
			writeJSON(w, http.StatusOK, `{"id":"cs_1","object":"checkout.session","client_reference_id":"user-1","mode":"payment",
				"line_items":{"object":"list","data":[{"id":"li_1","quantity":2,"price":{"id":"price_1","product":"prod_1"}}]}}`)
		case r.URL.Path == "/v1/subscriptions/sub_1":
			writeJSON(w, http.StatusOK, `{"id":"sub_1","object":"subscription","metadata":{"userId":"user-1"},
				"items":{"object":"list","data":[{"id":"si_1","price":{"id":"price_1","product":"prod_1"}}]}}`)
		case r.URL.Path == "/v1/prices/price_1":
			writeJSON(w, http.StatusOK, `{"id":"price_1","object":"price","metadata":{"credits":"50"},"product":"prod_1"}`)
		case r.URL.Path == "/v1/products/prod_1":
			writeJSON(w, http.StatusOK, `{"id":"prod_1","object":"product","name":"Pro","metadata":{"planName":"Pro"}}`)
		default:
			writeJSON(w, http.StatusNotFound, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"missing"}}`)
		}
	})
	ctx := context.Background()

	sess, err := client.GetCheckoutSession(ctx, "cs_1")
	require.NoError(t, err)
	require.True(t, expandSeen, "line_items should be expanded")
	require.Equal(t, "user-1", sess.ClientReferenceID)
	require.Len(t, sess.LineItems.Data, 1)
	require.EqualValues(t, 2, sess.LineItems.Data[0].Quantity)

	sub, err := client.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	require.Equal(t, "user-1", sub.Metadata["userId"])

	p, err := client.GetPrice(ctx, "price_1")
	require.NoError(t, err)
	require.Equal(t, "50", p.Metadata["credits"])

	prod, err := client.GetProduct(ctx, "prod_1")
	require.NoError(t, err)
	require.Equal(t, "Pro", prod.Name)
}

func TestProviderListsEveryLineItemPage(t *testing.T) {
	var pages []string
	client := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions/cs_big/line_items" {
			writeJSON(w, http.StatusNotFound, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"missing"}}`)
			return
		}
		after := r.URL.Query().Get("starting_after")
		pages = append(pages, after)
		if after == "" {
			writeJSON(w, http.StatusOK, `{"object":"list","has_more":true,"url":"/v1/checkout/sessions/cs_big/line_items",
				"data":[{"id":"li_1","quantity":1,"price":{"id":"price_1","product":"prod_1"}},
				        {"id":"li_2","quantity":1,"price":{"id":"price_1","product":"prod_1"}}]}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"object":"list","has_more":false,"url":"/v1/checkout/sessions/cs_big/line_items",
			"data":[{"id":"li_3","quantity":4,"price":{"id":"price_2","product":"prod_2"}}]}`)
	})

	items, err := client.ListCheckoutLineItems(context.Background(), "cs_big")
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, []string{"", "li_2"}, pages)
	require.Equal(t, "li_3", items[2].ID)
	require.EqualValues(t, 4, items[2].Quantity)

	_, err = client.ListCheckoutLineItems(context.Background(), "cs_gone")
	require.Equal(t, pkgerrors.CodeUnresolvable, pkgerrors.CodeOf(err))
}

func TestProviderErrorClassification(t *testing.T) {
	client := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/prices/price_gone":
			writeJSON(w, http.StatusNotFound, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such price"}}`)
		case "/v1/prices/price_busy":
			writeJSON(w, http.StatusTooManyRequests, `{"error":{"type":"invalid_request_error","code":"rate_limit","message":"slow down"}}`)
		case "/v1/prices/price_bad":
			writeJSON(w, http.StatusBadRequest, `{"error":{"type":"invalid_request_error","code":"parameter_invalid_empty","message":"bad request"}}`)
		case "/v1/subscriptions/sub_revoked":
			writeJSON(w, http.StatusUnauthorized, `{"error":{"type":"invalid_request_error","message":"Invalid API Key provided"}}`)
		case "/v1/subscriptions/sub_forbidden":
			writeJSON(w, http.StatusForbidden, `{"error":{"type":"invalid_request_error","message":"restricted key lacks permission"}}`)
		case "/v1/subscriptions/sub_locked":
			writeJSON(w, http.StatusConflict, `{"error":{"type":"invalid_request_error","code":"lock_timeout","message":"object locked"}}`)
		default:
			writeJSON(w, http.StatusInternalServerError, `{"error":{"type":"api_error","message":"boom"}}`)
		}
	})
	ctx := context.Background()

	_, err := client.GetPrice(ctx, "price_gone")
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeUnresolvable, pkgerrors.CodeOf(err))
	require.False(t, pkgerrors.IsRetryable(err))

	_, err = client.GetPrice(ctx, "price_busy")
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
	require.True(t, pkgerrors.IsRetryable(err))

	_, err = client.GetProduct(ctx, "prod_x")
	require.Error(t, err)
	require.True(t, pkgerrors.IsRetryable(err))

	_, err = client.GetPrice(ctx, "price_bad")
	require.Equal(t, pkgerrors.CodeUnresolvable, pkgerrors.CodeOf(err))

	// Credential and lock failures must leave the event in Stripe's retry queue.
	for _, id := range []string{"sub_revoked", "sub_forbidden", "sub_locked"} {
		_, err = client.GetSubscription(ctx, id)
		if pkgerrors.CodeOf(err) != pkgerrors.CodeDependency || !pkgerrors.IsRetryable(err) {
			t.Fatalf("%s: expected retryable dependency error, got %v", id, err)
		}
		if got := pkgerrors.MetadataFor(pkgerrors.CodeOf(err)).HTTPStatus; got != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", id, got)
		}
	}

	_, err = client.GetSubscription(ctx, " ")
	require.Equal(t, pkgerrors.CodeUnresolvable, pkgerrors.CodeOf(err))
}

func TestProviderLookupTimeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		writeJSON(w, http.StatusOK, `{"id":"prod_slow","object":"product"}`)
	})
	defer close(release)
	client.lookupTimeout = 50 * time.Millisecond

	_, err := client.GetProduct(context.Background(), "prod_slow")
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
}
