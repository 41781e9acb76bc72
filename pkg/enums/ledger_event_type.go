package enums

import "slices"

// LedgerEventType maps to the ledger_event_type_enum enum in Postgres.
type LedgerEventType string

const (
	LedgerEventTypeSellerCredit LedgerEventType = "seller_credit"
	LedgerEventTypeCommission   LedgerEventType = "commission"
	LedgerEventTypeRefund       LedgerEventType = "refund"
)

var validLedgerEventTypes = []LedgerEventType{
	LedgerEventTypeSellerCredit,
	LedgerEventTypeCommission,
	LedgerEventTypeRefund,
}

// IsValid reports whether the value matches the canonical ledger event enum.
func (t LedgerEventType) IsValid() bool {
	return slices.Contains(validLedgerEventTypes, t)
}

// ParseLedgerEventType converts raw input into LedgerEventType.
func ParseLedgerEventType(value string) (LedgerEventType, error) {
	return parse(validLedgerEventTypes, value, "ledger event type")
}
