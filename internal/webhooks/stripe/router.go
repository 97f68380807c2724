package stripewebhook

import "github.com/stripe/stripe-go/v82"

// EventKind groups provider event types by the handling path they take.
type EventKind string

const (
	KindPurchaseCompleted    EventKind = "purchase-completed"
	KindInvoicePaid          EventKind = "invoice-paid"
	KindInvoicePaymentFailed EventKind = "invoice-payment-failed"
	KindSubscriptionCanceled EventKind = "subscription-canceled"
	KindIgnored              EventKind = "ignored"
)

var dispatchTable = map[stripe.EventType]EventKind{
	stripe.EventTypeCheckoutSessionCompleted:             KindPurchaseCompleted,
	stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded: KindPurchaseCompleted,
	stripe.EventTypeInvoicePaid:                          KindInvoicePaid,
	stripe.EventTypeInvoicePaymentSucceeded:              KindInvoicePaid,
	stripe.EventTypeInvoicePaymentFailed:                 KindInvoicePaymentFailed,
	stripe.EventTypeCustomerSubscriptionDeleted:          KindSubscriptionCanceled,
}

// Classify maps a provider event type onto its handling path. Unknown types
// are KindIgnored and must still be acknowledged.
func Classify(eventType stripe.EventType) EventKind {
	if kind, ok := dispatchTable[eventType]; ok {
		return kind
	}
	return KindIgnored
}
