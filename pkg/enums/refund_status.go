package enums

import "slices"

// RefundStatus maps to the refund_status enum in Postgres.
type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "PENDING"
	RefundStatusProcessing RefundStatus = "PROCESSING"
	RefundStatusCompleted  RefundStatus = "COMPLETED"
	RefundStatusRejected   RefundStatus = "REJECTED"
	RefundStatusFailed     RefundStatus = "FAILED"
)

var validRefundStatuses = []RefundStatus{
	RefundStatusPending,
	RefundStatusProcessing,
	RefundStatusCompleted,
	RefundStatusRejected,
	RefundStatusFailed,
}

// String implements fmt.Stringer.
func (r RefundStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundStatus.
func (r RefundStatus) IsValid() bool {
	return slices.Contains(validRefundStatuses, r)
}

// ParseRefundStatus converts raw input into a RefundStatus.
func ParseRefundStatus(value string) (RefundStatus, error) {
	return parse(validRefundStatuses, value, "refund status")
}

// RefundMethod describes how the payout reaches the buyer.
type RefundMethod string

const (
	RefundMethodGateway      RefundMethod = "GATEWAY"
	RefundMethodBankTransfer RefundMethod = "BANK_TRANSFER"
)

var validRefundMethods = []RefundMethod{
	RefundMethodGateway,
	RefundMethodBankTransfer,
}

// IsValid reports whether the value is a known RefundMethod.
func (m RefundMethod) IsValid() bool {
	return slices.Contains(validRefundMethods, m)
}

// ParseRefundMethod converts raw input into a RefundMethod.
func ParseRefundMethod(value string) (RefundMethod, error) {
	return parse(validRefundMethods, value, "refund method")
}
