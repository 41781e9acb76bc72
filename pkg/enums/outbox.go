package enums

import "slices"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder        OutboxAggregateType = "order"
	AggregateTransaction  OutboxAggregateType = "transaction"
	AggregateDispute      OutboxAggregateType = "dispute"
	AggregateRefund       OutboxAggregateType = "refund"
	AggregateNotification OutboxAggregateType = "notification"
	AggregateLedgerEvent  OutboxAggregateType = "ledger_event"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateTransaction,
	AggregateDispute,
	AggregateRefund,
	AggregateNotification,
	AggregateLedgerEvent,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains(validAggregateTypes, a)
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse(validAggregateTypes, value, "aggregate type")
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderCreated        OutboxEventType = "order_created"
	EventOrderStatusChanged  OutboxEventType = "order_status_changed"
	EventPaymentInitiated    OutboxEventType = "payment_initiated"
	EventPaymentSucceeded    OutboxEventType = "payment_succeeded"
	EventPaymentFailed       OutboxEventType = "payment_failed"
	EventPaymentUnmatched    OutboxEventType = "payment_unmatched"
	EventTransactionExpired  OutboxEventType = "transaction_expired"
	EventEscrowReleased      OutboxEventType = "escrow_released"
	EventDisputeOpened       OutboxEventType = "dispute_opened"
	EventDisputeResolved     OutboxEventType = "dispute_resolved"
	EventRefundCreated       OutboxEventType = "refund_created"
	EventRefundCompleted     OutboxEventType = "refund_completed"
	EventRefundRejected      OutboxEventType = "refund_rejected"
	EventNotificationCreated OutboxEventType = "notification_created"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderStatusChanged,
	EventPaymentInitiated,
	EventPaymentSucceeded,
	EventPaymentFailed,
	EventPaymentUnmatched,
	EventTransactionExpired,
	EventEscrowReleased,
	EventDisputeOpened,
	EventDisputeResolved,
	EventRefundCreated,
	EventRefundCompleted,
	EventRefundRejected,
	EventNotificationCreated,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	return slices.Contains(validOutboxEventTypes, e)
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse(validOutboxEventTypes, value, "event type")
}

// DeadLetterReason maps to outbox_dlq_error_reason_enum.
type DeadLetterReason string

const (
	// DeadLetterMaxAttempts: the sink kept failing until the attempt budget ran out.
	DeadLetterMaxAttempts DeadLetterReason = "max_attempts"
	// DeadLetterNonRetryable: the row cannot be published as stored (unknown
	// event type, payload that fails to decode, sink rejected the message).
	DeadLetterNonRetryable DeadLetterReason = "non_retryable"
)

func (r DeadLetterReason) IsValid() bool {
	return r == DeadLetterMaxAttempts || r == DeadLetterNonRetryable
}
