package enums

import "slices"

// OrderStatus maps to the order_status enum in Postgres.
type OrderStatus string

const (
	OrderStatusAwaitingPayment       OrderStatus = "AWAITING_PAYMENT"
	OrderStatusAwaitingDeposit       OrderStatus = "AWAITING_DEPOSIT"
	OrderStatusDepositPaid           OrderStatus = "DEPOSIT_PAID"
	OrderStatusPendingStaffApproval  OrderStatus = "PENDING_STAFF_APPROVAL"
	OrderStatusApprovedAwaitingFinal OrderStatus = "APPROVED_AWAITING_FINAL_PAYMENT"
	OrderStatusFullyPaid             OrderStatus = "FULLY_PAID"
	OrderStatusShipping              OrderStatus = "SHIPPING"
	OrderStatusDeliveredAwaitConfirm OrderStatus = "DELIVERED_AWAITING_CONFIRM"
	OrderStatusCompleted             OrderStatus = "COMPLETED"
	OrderStatusRejected              OrderStatus = "REJECTED"
	OrderStatusDisputed              OrderStatus = "DISPUTED"
	OrderStatusDisputeResolved       OrderStatus = "DISPUTE_RESOLVED"
	OrderStatusResolvedWithRefund    OrderStatus = "RESOLVED_WITH_REFUND"
	OrderStatusCancelled             OrderStatus = "CANCELLED"
	OrderStatusPaymentFailed         OrderStatus = "PAYMENT_FAILED"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusAwaitingPayment,
	OrderStatusAwaitingDeposit,
	OrderStatusDepositPaid,
	OrderStatusPendingStaffApproval,
	OrderStatusApprovedAwaitingFinal,
	OrderStatusFullyPaid,
	OrderStatusShipping,
	OrderStatusDeliveredAwaitConfirm,
	OrderStatusCompleted,
	OrderStatusRejected,
	OrderStatusDisputed,
	OrderStatusDisputeResolved,
	OrderStatusResolvedWithRefund,
	OrderStatusCancelled,
	OrderStatusPaymentFailed,
}

var orderStatusDescriptions = map[OrderStatus]string{
	OrderStatusAwaitingPayment:       "Waiting for the buyer to pay",
	OrderStatusAwaitingDeposit:       "Waiting for the buyer to pay the 10% deposit",
	OrderStatusDepositPaid:           "Deposit received",
	OrderStatusPendingStaffApproval:  "Deposit received, waiting for staff review",
	OrderStatusApprovedAwaitingFinal: "Approved, waiting for the remaining 90% payment",
	OrderStatusFullyPaid:             "Fully paid",
	OrderStatusShipping:              "Paid, seller is dispatching the item",
	OrderStatusDeliveredAwaitConfirm: "Delivered, waiting for the buyer to confirm receipt",
	OrderStatusCompleted:             "Completed",
	OrderStatusRejected:              "Rejected by staff, deposit refunded",
	OrderStatusDisputed:              "Under dispute",
	OrderStatusDisputeResolved:       "Dispute resolved without refund",
	OrderStatusResolvedWithRefund:    "Resolved with a refund to the buyer",
	OrderStatusCancelled:             "Cancelled",
	OrderStatusPaymentFailed:         "Payment failed, the buyer may retry",
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	return slices.Contains(validOrderStatuses, s)
}

// IsTerminal reports whether the purchase lifecycle has ended. A COMPLETED
// order can still be disputed while its funds sit in escrow.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted,
		OrderStatusRejected,
		OrderStatusDisputeResolved,
		OrderStatusResolvedWithRefund,
		OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Description returns the human-readable label shown to buyers and staff.
func (s OrderStatus) Description() string {
	if desc, ok := orderStatusDescriptions[s]; ok {
		return desc
	}
	return string(s)
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	return parse(validOrderStatuses, value, "order status")
}
