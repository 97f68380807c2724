package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/creditsync/pkg/redis"
)

// EventMarker remembers provider event ids that finished processing. It is
// only a fast path: the ledger constraint is what guarantees exactly-once
// crediting, so a missing or failed marker costs a store round trip and
// nothing else. A nil *EventMarker is valid and never reports a hit.
type EventMarker struct {
	store redis.KeyStore
	ttl   time.Duration
	scope string
}

func NewEventMarker(store redis.KeyStore, ttl time.Duration, scope string) (*EventMarker, error) {
	if store == nil {
		return nil, errors.New("key store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &EventMarker{
		store: store,
		ttl:   ttl,
		scope: scope,
	}, nil
}

// Seen reports whether eventID was already processed to completion.
func (m *EventMarker) Seen(ctx context.Context, eventID string) (bool, error) {
	if m == nil {
		return false, nil
	}
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	_, err := m.store.Get(ctx, m.key(eventID))
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read idempotency key: %w", err)
	}
	return true, nil
}

// Mark records eventID as done. It must only be called after the durable
// write committed.
func (m *EventMarker) Mark(ctx context.Context, eventID string) error {
	if m == nil {
		return nil
	}
	if eventID == "" {
		return errors.New("event id is required")
	}
	if _, err := m.store.SetNX(ctx, m.key(eventID), "1", m.ttl); err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}

func (m *EventMarker) key(eventID string) string {
	return m.store.Key("idempotency", m.scope, eventID)
}
