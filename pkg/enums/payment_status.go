package enums

import "slices"

// PaymentStatus is the last known billing state recorded on an entitlement.
type PaymentStatus string

const (
	PaymentStatusActive   PaymentStatus = "active"
	PaymentStatusCanceled PaymentStatus = "canceled"
	PaymentStatusFailed   PaymentStatus = "payment-failed"
)

var paymentStatuses = []PaymentStatus{PaymentStatusActive, PaymentStatusCanceled, PaymentStatusFailed}

func (p PaymentStatus) String() string { return string(p) }

func (p PaymentStatus) IsValid() bool { return slices.Contains(paymentStatuses, p) }

func ParsePaymentStatus(value string) (PaymentStatus, error) {
	return parseEnum("payment status", value, paymentStatuses)
}
