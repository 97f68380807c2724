package stripewebhook

import (
	"testing"

	"github.com/stripe/stripe-go/v82"
)

func TestClassify(t *testing.T) {
	cases := map[stripe.EventType]EventKind{
		stripe.EventTypeCheckoutSessionCompleted:             KindPurchaseCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded: KindPurchaseCompleted,
		stripe.EventTypeInvoicePaid:                          KindInvoicePaid,
		stripe.EventTypeInvoicePaymentSucceeded:              KindInvoicePaid,
		stripe.EventTypeInvoicePaymentFailed:                 KindInvoicePaymentFailed,
		stripe.EventTypeCustomerSubscriptionDeleted:          KindSubscriptionCanceled,
		stripe.EventTypeCustomerSubscriptionUpdated:          KindIgnored,
		stripe.EventTypeChargeRefunded:                       KindIgnored,
		"":                                                   KindIgnored,
	}
	for eventType, want := range cases {
		if got := Classify(eventType); got != want {
			t.Errorf("Classify(%q) = %s, want %s", eventType, got, want)
		}
	}
}
