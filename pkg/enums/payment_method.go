package enums

import "slices"

// PaymentMethod records how the buyer intends to pay an order.
type PaymentMethod string

const (
	PaymentMethodVNPay PaymentMethod = "VNPAY"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodVNPay,
}

// IsValid reports whether the value is a known PaymentMethod.
func (m PaymentMethod) IsValid() bool {
	return slices.Contains(validPaymentMethods, m)
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	return parse(validPaymentMethods, value, "payment method")
}
