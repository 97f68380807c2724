package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/creditsync/pkg/db/models"
	"github.com/angelmondragon/creditsync/pkg/outbox"
	"github.com/angelmondragon/creditsync/pkg/outbox/registry"
)

// delivery tracks one outbox row between handing it to Pub/Sub and
// recording the outcome on the row.
type delivery struct {
	event    models.OutboxEvent
	fields   map[string]any
	result   publishResult
	stageErr error
	sentAt   time.Time
}

// processBatch locks a batch of rows, hands every row to its publisher
// before waiting on any result, then settles each row inside the same
// transaction. It reports whether any row was fetched.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		processed = true

		publishCtx, cancel := context.WithTimeout(ctx, batchPublishTimeout)
		defer cancel()

		pending := make([]delivery, 0, len(events))
		for _, event := range events {
			pending = append(pending, s.stage(publishCtx, event))
		}
		for i := range pending {
			if err := s.settle(publishCtx, tx, &pending[i]); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

func (s *Service) stage(ctx context.Context, event models.OutboxEvent) delivery {
	d := delivery{event: event}

	resolved, err := s.registry.Resolve(event)
	if err != nil {
		d.fields = s.eventFields(event, outbox.PayloadEnvelope{}, "")
		d.stageErr = err
		return d
	}

	topic := resolved.Descriptor.Topic
	d.fields = s.eventFields(event, resolved.Envelope, topic)

	pub := s.publisherFactory(topic)
	if pub == nil {
		d.stageErr = fmt.Errorf("publisher not configured for topic %s", topic)
		return d
	}

	d.sentAt = time.Now()
	d.result = pub.Publish(ctx, newMessage(event, resolved))
	if d.result == nil {
		d.stageErr = fmt.Errorf("publisher returned nil for topic %s", topic)
	}
	return d
}

// settle waits for the publish result and moves the row to published,
// failed (retry later) or parked.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, d *delivery) error {
	if d.stageErr != nil {
		return s.park(ctx, tx, d, d.stageErr)
	}

	_, err := d.result.Get(ctx)
	eventType := string(d.event.EventType)
	s.metrics.ObserveDuration(eventType, time.Since(d.sentAt))

	if err == nil {
		if markErr := s.repo.MarkPublishedTx(tx, d.event.ID); markErr != nil {
			return fmt.Errorf("mark published %s: %w", d.event.ID, markErr)
		}
		s.metrics.IncPublished(eventType)
		s.logg.Info(s.logg.WithFields(ctx, d.fields), "outbox event published")
		return nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		return s.park(ctx, tx, d, err)
	}

	attempt := d.event.AttemptCount + 1
	d.fields["attempt_count"] = attempt
	if attempt >= s.maxAttempts {
		d.fields["terminal_reason"] = "max_attempts"
		return s.park(ctx, tx, d, fmt.Errorf("max publish attempts reached: %w", err))
	}

	logCtx := s.logg.WithField(s.logg.WithFields(ctx, d.fields), "error", err.Error())
	s.logg.Warn(logCtx, "outbox publish failed")
	s.metrics.IncFailed(eventType)
	if markErr := s.repo.MarkFailedTx(tx, d.event.ID, err); markErr != nil {
		return fmt.Errorf("mark failure %s: %w", d.event.ID, markErr)
	}
	return nil
}

// park stops retrying a row. Payload and last_error stay on the row so an
// operator can inspect or requeue it.
func (s *Service) park(ctx context.Context, tx *gorm.DB, d *delivery, cause error) error {
	logCtx := s.logg.WithField(s.logg.WithFields(ctx, d.fields), "error", cause.Error())
	s.logg.Warn(logCtx, "outbox event will not be retried")
	s.metrics.IncFailed(string(d.event.EventType))

	if err := s.repo.MarkTerminalTx(tx, d.event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", d.event.ID, err)
	}
	return nil
}

func newMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID,
		"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
	}
	if src := resolved.Envelope.Source; src != nil {
		attrs["source_provider"] = src.Provider
		attrs["source_event_id"] = src.EventID
	}
	return &gcppubsub.Message{Data: event.Payload, Attributes: attrs}
}

func (s *Service) eventFields(event models.OutboxEvent, envelope outbox.PayloadEnvelope, topic string) map[string]any {
	fields := map[string]any{
		"outbox_id":     event.ID.String(),
		"event_type":    event.EventType,
		"aggregate_id":  event.AggregateID,
		"attempt_count": event.AttemptCount,
		"batch_size":    s.batchSize,
	}
	if envelope.EventID != "" {
		fields["event_id"] = envelope.EventID
		fields["occurred_at"] = envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}
