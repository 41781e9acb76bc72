// Package registry maps outbox event types to the aggregate they belong to
// and the payload struct consumers decode.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	"github.com/angelmondragon/evtrade-backend/pkg/outbox"
	"github.com/angelmondragon/evtrade-backend/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is a validated outbox row with its payload decoded.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks rows that can never publish as stored; the
// publisher dead-letters them on first sight.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func rejectf(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

func describe[T any](event enums.OutboxEventType, aggregate enums.OutboxAggregateType) EventDescriptor {
	return EventDescriptor{
		EventType:      event,
		AggregateType:  aggregate,
		PayloadFactory: func() any { return new(T) },
	}
}

var domainEvents = []EventDescriptor{
	describe[payloads.OrderCreatedEvent](enums.EventOrderCreated, enums.AggregateOrder),
	describe[payloads.OrderStatusChangedEvent](enums.EventOrderStatusChanged, enums.AggregateOrder),
	describe[payloads.PaymentEvent](enums.EventPaymentInitiated, enums.AggregateTransaction),
	describe[payloads.PaymentEvent](enums.EventPaymentSucceeded, enums.AggregateTransaction),
	describe[payloads.PaymentEvent](enums.EventPaymentFailed, enums.AggregateTransaction),
	describe[payloads.PaymentEvent](enums.EventPaymentUnmatched, enums.AggregateTransaction),
	describe[payloads.TransactionExpiredEvent](enums.EventTransactionExpired, enums.AggregateTransaction),
	describe[payloads.EscrowReleasedEvent](enums.EventEscrowReleased, enums.AggregateTransaction),
	describe[payloads.DisputeEvent](enums.EventDisputeOpened, enums.AggregateDispute),
	describe[payloads.DisputeEvent](enums.EventDisputeResolved, enums.AggregateDispute),
	describe[payloads.RefundEvent](enums.EventRefundCreated, enums.AggregateRefund),
	describe[payloads.RefundEvent](enums.EventRefundCompleted, enums.AggregateRefund),
	describe[payloads.RefundEvent](enums.EventRefundRejected, enums.AggregateRefund),
	describe[payloads.NotificationCreatedEvent](enums.EventNotificationCreated, enums.AggregateNotification),
}

// NewEventRegistry routes every domain event to topic. Pub/Sub and Kafka
// both carry a single stream; consumers filter on the event_type attribute.
func NewEventRegistry(topic string) (*EventRegistry, error) {
	if topic == "" {
		return nil, errors.New("domain topic is required")
	}
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(domainEvents))}
	for _, desc := range domainEvents {
		desc.Topic = topic
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

// Resolve checks the row against its descriptor and envelope, then decodes
// the payload. Every failure is non-retryable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, rejectf("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, rejectf("aggregate mismatch: %s belongs to %s, row says %s", event.EventType, desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, rejectf("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, rejectf("decode envelope: %w", err)
	}
	if event.ID != uuid.Nil && envelope.EventID != event.ID.String() {
		return nil, rejectf("envelope event id %q does not match row %s", envelope.EventID, event.ID)
	}
	if envelope.EventType != "" && envelope.EventType != string(event.EventType) {
		return nil, rejectf("envelope event type %q does not match row %s", envelope.EventType, event.EventType)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, rejectf("payload missing for %s", event.EventType)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, rejectf("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
