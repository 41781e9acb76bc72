// Package money holds the fixed marketplace ratios and the arithmetic that
// splits an order total into deposit/final payments and a settled amount
// into commission and seller credit. Amounts are whole VND.
package money

import (
	"time"

	"github.com/shopspring/decimal"
)

const EscrowHoldPeriod = 7 * 24 * time.Hour

var (
	DepositRate    = decimal.RequireFromString("0.10")
	CommissionRate = decimal.RequireFromString("0.05")
)

// Deposit returns the 10% deposit due on a vehicle order.
func Deposit(total int64) int64 {
	return roundHalfUp(decimal.NewFromInt(total).Mul(DepositRate))
}

// FinalPayment returns what remains after the deposit, so the two always sum
// to total even when the deposit rounds.
func FinalPayment(total int64) int64 {
	return total - Deposit(total)
}

// Settlement is the escrow release breakdown for one settled amount.
type Settlement struct {
	Amount         int64 `json:"amount"`
	Commission     int64 `json:"commission"`
	SellerReceives int64 `json:"seller_receives"`
}

// Settle computes commission = round(amount * 5%) and the seller remainder.
func Settle(amount int64) Settlement {
	commission := roundHalfUp(decimal.NewFromInt(amount).Mul(CommissionRate))
	return Settlement{
		Amount:         amount,
		Commission:     commission,
		SellerReceives: amount - commission,
	}
}

// SellerCredit returns total * (1 - commission rate).
func SellerCredit(total int64) int64 {
	return Settle(total).SellerReceives
}

// EscrowReleaseAt returns when funds paid at paidAt become releasable.
func EscrowReleaseAt(paidAt time.Time) time.Time {
	return paidAt.Add(EscrowHoldPeriod)
}

// ToGatewayAmount converts to the gateway's x100 minor-unit convention.
func ToGatewayAmount(amount int64) int64 {
	return amount * 100
}

// FromGatewayAmount reverses ToGatewayAmount. ok is false when the value
// carries a fractional minor unit.
func FromGatewayAmount(minor int64) (int64, bool) {
	if minor%100 != 0 {
		return 0, false
	}
	return minor / 100, true
}

func roundHalfUp(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
