package enums

import "slices"

// TransactionType maps to the transaction_type enum in Postgres.
type TransactionType string

const (
	TransactionTypeDeposit         TransactionType = "DEPOSIT"
	TransactionTypeFinalPayment    TransactionType = "FINAL_PAYMENT"
	TransactionTypeBatteryPayment  TransactionType = "BATTERY_PAYMENT"
	TransactionTypePackagePurchase TransactionType = "PACKAGE_PURCHASE"
	TransactionTypeRefund          TransactionType = "REFUND"
)

var validTransactionTypes = []TransactionType{
	TransactionTypeDeposit,
	TransactionTypeFinalPayment,
	TransactionTypeBatteryPayment,
	TransactionTypePackagePurchase,
	TransactionTypeRefund,
}

// String implements fmt.Stringer.
func (t TransactionType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TransactionType.
func (t TransactionType) IsValid() bool {
	return slices.Contains(validTransactionTypes, t)
}

// IsPayment reports whether money flows from the buyer to the platform.
func (t TransactionType) IsPayment() bool {
	return t.IsValid() && t != TransactionTypeRefund
}

// IsEscrowed reports whether a settled transaction of this type is held for
// the seller. Package purchases pay the platform directly.
func (t TransactionType) IsEscrowed() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeFinalPayment, TransactionTypeBatteryPayment:
		return true
	default:
		return false
	}
}

// ParseTransactionType converts raw input into a TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	return parse(validTransactionTypes, value, "transaction type")
}

// TransactionStatus maps to the transaction_status enum in Postgres.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusSuccess   TransactionStatus = "SUCCESS"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusPending,
	TransactionStatusSuccess,
	TransactionStatusFailed,
	TransactionStatusCancelled,
}

// String implements fmt.Stringer.
func (s TransactionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known TransactionStatus.
func (s TransactionStatus) IsValid() bool {
	return slices.Contains(validTransactionStatuses, s)
}

// IsTerminal reports whether a callback may no longer change the status.
func (s TransactionStatus) IsTerminal() bool {
	return s != TransactionStatusPending
}

// ParseTransactionStatus converts raw input into a TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	return parse(validTransactionStatuses, value, "transaction status")
}
