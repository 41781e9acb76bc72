package orders

import "time"

type checkoutItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=100"`
}

type checkoutRequest struct {
	Items             []checkoutItemRequest `json:"items" validate:"required,min=1,max=50,dive"`
	ShippingAddress   string                `json:"shipping_address" validate:"max=500"`
	ShippingFee       int64                 `json:"shipping_fee" validate:"min=0"`
	PaymentMethod     string                `json:"payment_method" validate:"omitempty,oneof=VNPAY"`
	TransferOwnership bool                  `json:"transfer_ownership"`
	ChangePlate       bool                  `json:"change_plate"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type approveRequest struct {
	AppointmentDate     time.Time `json:"appointment_date" validate:"required"`
	TransactionLocation string    `json:"transaction_location" validate:"required,notblank,max=500"`
	Note                string    `json:"note" validate:"max=1000"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,notblank,max=1000"`
}
