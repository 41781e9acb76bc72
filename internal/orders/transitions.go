package orders

import (
	"fmt"

	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evtrade-backend/pkg/errors"
	"github.com/angelmondragon/evtrade-backend/pkg/types"
	"github.com/google/uuid"
)

// transitions lists every edge the engine may commit. DISPUTED is handled in
// CanTransition because a rejected dispute returns to whichever state opened it.
var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusAwaitingPayment: {
		enums.OrderStatusShipping,
		enums.OrderStatusCompleted,
		enums.OrderStatusPaymentFailed,
		enums.OrderStatusCancelled,
		enums.OrderStatusDisputed,
	},
	enums.OrderStatusAwaitingDeposit: {
		enums.OrderStatusPendingStaffApproval,
		enums.OrderStatusPaymentFailed,
		enums.OrderStatusCancelled,
		enums.OrderStatusDisputed,
	},
	enums.OrderStatusDepositPaid: {
		enums.OrderStatusPendingStaffApproval,
		enums.OrderStatusDisputed,
	},
	enums.OrderStatusPendingStaffApproval: {
		enums.OrderStatusApprovedAwaitingFinal,
		enums.OrderStatusRejected,
		enums.OrderStatusDisputed,
	},
	enums.OrderStatusApprovedAwaitingFinal: {
		enums.OrderStatusCompleted,
		enums.OrderStatusPaymentFailed,
		enums.OrderStatusDisputed,
	},
	enums.OrderStatusFullyPaid: {
		enums.OrderStatusShipping,
		enums.OrderStatusCompleted,
		enums.OrderStatusDisputed,
	},
	enums.OrderStatusShipping: {
		enums.OrderStatusDeliveredAwaitConfirm,
		enums.OrderStatusDisputed,
	},
	enums.OrderStatusDeliveredAwaitConfirm: {
		enums.OrderStatusCompleted,
		enums.OrderStatusDisputed,
	},
	enums.OrderStatusPaymentFailed: {
		enums.OrderStatusAwaitingPayment,
		enums.OrderStatusAwaitingDeposit,
		enums.OrderStatusApprovedAwaitingFinal,
		enums.OrderStatusCancelled,
		enums.OrderStatusDisputed,
	},
	enums.OrderStatusCompleted: {
		enums.OrderStatusDisputed,
		enums.OrderStatusResolvedWithRefund,
	},
}

var disputeOutcomes = []enums.OrderStatus{
	enums.OrderStatusResolvedWithRefund,
	enums.OrderStatusDisputeResolved,
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to enums.OrderStatus) bool {
	if from == to {
		return false
	}
	if from == enums.OrderStatusDisputed {
		for _, outcome := range disputeOutcomes {
			if outcome == to {
				return true
			}
		}
		// reverting a rejected dispute
		return CanTransition(to, enums.OrderStatusDisputed)
	}
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// TransitionRequest is one compare-and-swap on an order's status. Updates may
// carry columns that change together with the status.
type TransitionRequest struct {
	OrderID uuid.UUID
	From    enums.OrderStatus
	To      enums.OrderStatus
	Actor   types.Actor
	Reason  string
	Updates map[string]any
}

var allowedTransitionColumns = map[string]struct{}{
	"previous_status":      {},
	"appointment_date":     {},
	"transaction_location": {},
}

func (r TransitionRequest) validate() error {
	if r.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !r.From.IsValid() || !r.To.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}
	for column := range r.Updates {
		if _, ok := allowedTransitionColumns[column]; !ok {
			return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("column %q cannot change with a transition", column))
		}
	}
	if !CanTransition(r.From, r.To) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order cannot move from %s to %s", r.From, r.To)).
			WithDetails(map[string]any{
				"order_id": r.OrderID,
				"from":     r.From,
				"to":       r.To,
			})
	}
	return nil
}

// StateConflict builds the rejection returned when an order is not where the
// caller expected it.
func StateConflict(orderID uuid.UUID, expected, actual enums.OrderStatus) error {
	return pkgerrors.StateConflict("order", orderID, expected, actual)
}

// AwaitingStatusFor returns the state an order must hold for a payment of
// txnType to settle it.
func AwaitingStatusFor(txnType enums.TransactionType) (enums.OrderStatus, bool) {
	switch txnType {
	case enums.TransactionTypeDeposit:
		return enums.OrderStatusAwaitingDeposit, true
	case enums.TransactionTypeFinalPayment:
		return enums.OrderStatusApprovedAwaitingFinal, true
	case enums.TransactionTypeBatteryPayment, enums.TransactionTypePackagePurchase:
		return enums.OrderStatusAwaitingPayment, true
	default:
		return "", false
	}
}
