package orders

import (
	"fmt"

	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evtrade-backend/pkg/errors"
	"github.com/angelmondragon/evtrade-backend/pkg/money"
)

// PaymentTypeFor picks the transaction type that settles the order's current
// awaiting state. PAYMENT_FAILED orders resolve through previous_status.
func PaymentTypeFor(order *models.Order) (enums.TransactionType, error) {
	status := order.Status
	if status == enums.OrderStatusPaymentFailed {
		if order.PreviousStatus == nil {
			return "", pkgerrors.New(pkgerrors.CodeStateConflict, "failed order has no state to retry")
		}
		status = *order.PreviousStatus
	}
	switch status {
	case enums.OrderStatusAwaitingDeposit:
		return enums.TransactionTypeDeposit, nil
	case enums.OrderStatusApprovedAwaitingFinal:
		return enums.TransactionTypeFinalPayment, nil
	case enums.OrderStatusAwaitingPayment:
		if order.PackageID != nil {
			return enums.TransactionTypePackagePurchase, nil
		}
		return enums.TransactionTypeBatteryPayment, nil
	default:
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order in %s is not awaiting a payment", order.Status)).
			WithDetails(map[string]any{"order_id": order.ID, "actual": order.Status})
	}
}

// PaymentAmount returns what a transaction of txnType must charge: 10% of the
// total for the deposit, the remainder for the final payment, everything
// otherwise.
func PaymentAmount(order *models.Order, txnType enums.TransactionType) (int64, error) {
	switch txnType {
	case enums.TransactionTypeDeposit:
		return money.Deposit(order.TotalAmount), nil
	case enums.TransactionTypeFinalPayment:
		return order.FinalTotal - money.Deposit(order.TotalAmount), nil
	case enums.TransactionTypeBatteryPayment, enums.TransactionTypePackagePurchase:
		return order.FinalTotal, nil
	default:
		return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("transaction type %s is not a payment", txnType))
	}
}

// SellerCredit is what escrow release will credit the seller for the order
// when nothing is refunded. Each payment is settled on its own and shipping
// is part of the settled amount.
func SellerCredit(order *models.Order) int64 {
	if !requiresDeposit(order) {
		return money.SellerCredit(order.FinalTotal)
	}
	var credit int64
	for _, txnType := range []enums.TransactionType{enums.TransactionTypeDeposit, enums.TransactionTypeFinalPayment} {
		amount, _ := PaymentAmount(order, txnType)
		credit += money.Settle(amount).SellerReceives
	}
	return credit
}

func requiresDeposit(order *models.Order) bool {
	for _, item := range order.Items {
		if item.Category.RequiresDeposit() {
			return true
		}
	}
	return false
}
