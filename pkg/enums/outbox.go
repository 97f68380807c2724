package enums

import "slices"

// OutboxAggregateType identifies the entity an outbox row describes.
type OutboxAggregateType string

const AggregateUserEntitlement OutboxAggregateType = "user_entitlement"

func (a OutboxAggregateType) IsValid() bool { return a == AggregateUserEntitlement }

// OutboxEventType names the change carried by an outbox row.
type OutboxEventType string

const (
	EventEntitlementCredited      OutboxEventType = "entitlement_credited"
	EventEntitlementCanceled      OutboxEventType = "entitlement_canceled"
	EventEntitlementPaymentFailed OutboxEventType = "entitlement_payment_failed"
)

var outboxEventTypes = []OutboxEventType{
	EventEntitlementCredited,
	EventEntitlementCanceled,
	EventEntitlementPaymentFailed,
}

func (e OutboxEventType) IsValid() bool { return slices.Contains(outboxEventTypes, e) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parseEnum("event type", value, outboxEventTypes)
}
