package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/creditsync/pkg/config"
	"github.com/angelmondragon/creditsync/pkg/db/models"
	"github.com/angelmondragon/creditsync/pkg/enums"
	"github.com/angelmondragon/creditsync/pkg/outbox"
	"github.com/angelmondragon/creditsync/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	payloadBytes := mustMarshal(t, payloads.EntitlementCreditedEvent{
		UserID:         "user-1",
		SourceID:       "in_1",
		CreditsApplied: 50,
		Credits:        60,
	})

	event := models.OutboxEvent{
		EventType:     enums.EventEntitlementCredited,
		AggregateType: enums.AggregateUserEntitlement,
		AggregateID:   "user-1",
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "entitlements-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.EntitlementCreditedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.Credits != 60 || payload.SourceID != "in_1" {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" || resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope missing metadata: %+v", resolved.Envelope)
	}
}

func TestEventRegistryResolveFailuresAreNonRetryable(t *testing.T) {
	reg := newTestEventRegistry(t)
	valid := mustEnvelope(t, []byte(`{"user_id":"user-1"}`))

	cases := map[string]models.OutboxEvent{
		"unknown type": {
			EventType:     enums.OutboxEventType("order_created"),
			AggregateType: enums.AggregateUserEntitlement,
			AggregateID:   "user-1",
			Payload:       valid,
		},
		"aggregate mismatch": {
			EventType:     enums.EventEntitlementCanceled,
			AggregateType: enums.OutboxAggregateType("store"),
			AggregateID:   "user-1",
			Payload:       valid,
		},
		"missing aggregate id": {
			EventType:     enums.EventEntitlementCanceled,
			AggregateType: enums.AggregateUserEntitlement,
			Payload:       valid,
		},
		"bad envelope": {
			EventType:     enums.EventEntitlementCanceled,
			AggregateType: enums.AggregateUserEntitlement,
			AggregateID:   "user-1",
			Payload:       json.RawMessage(`not-json`),
		},
		"null data": {
			EventType:     enums.EventEntitlementPaymentFailed,
			AggregateType: enums.AggregateUserEntitlement,
			AggregateID:   "user-1",
			Payload:       mustEnvelope(t, []byte(`null`)),
		},
	}

	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			if err == nil {
				t.Fatalf("expected error")
			}
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("expected non-retryable error, got %T", err)
			}
		})
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{}); err == nil {
		t.Fatalf("expected missing topic error")
	}
	reg := newTestEventRegistry(t)
	if topics := reg.Topics(); len(topics) != 1 || topics[0] != "entitlements-topic" {
		t.Fatalf("unexpected topics %v", topics)
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{EntitlementsTopic: "entitlements-topic"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func mustEnvelope(t *testing.T, data []byte) json.RawMessage {
	t.Helper()
	return mustMarshal(t, outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
}
