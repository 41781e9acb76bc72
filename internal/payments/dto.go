package payments

import (
	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	"github.com/angelmondragon/evtrade-backend/pkg/types"
	"github.com/google/uuid"
)

// AckCode is the acknowledgement returned to the gateway's notification call.
type AckCode string

const (
	AckSuccess          AckCode = "00"
	AckNotFound         AckCode = "01"
	AckAlreadyProcessed AckCode = "02"
	AckInvalidSignature AckCode = "97"
	AckUnknownError     AckCode = "99"
)

var ackMessages = map[AckCode]string{
	AckSuccess:          "Confirm Success",
	AckNotFound:         "Order not found",
	AckAlreadyProcessed: "Order already confirmed",
	AckInvalidSignature: "Invalid signature",
	AckUnknownError:     "Unknown error",
}

// Ack is the body the notification endpoint always returns with HTTP 200.
type Ack struct {
	RspCode AckCode `json:"RspCode"`
	Message string  `json:"Message"`
}

func ack(code AckCode) Ack {
	return Ack{RspCode: code, Message: ackMessages[code]}
}

// InitiateInput asks for a gateway payment on the order's next due amount.
type InitiateInput struct {
	OrderID  uuid.UUID
	Actor    types.Actor
	ClientIP string
	BankCode string
}

// InitiateResult carries the PENDING transaction and where to send the buyer.
type InitiateResult struct {
	Transaction *models.Transaction `json:"transaction"`
	PaymentURL  string              `json:"payment_url"`
}

// MockPayInput drives the local mock gateway. An empty ResponseCode settles
// the payment; anything else fails it.
type MockPayInput struct {
	TransactionCode string
	Actor           types.Actor
	ResponseCode    string
}

// CallbackResult describes where a callback left the transaction and order.
type CallbackResult struct {
	Ack               AckCode                 `json:"code"`
	Success           bool                    `json:"success"`
	TransactionCode   string                  `json:"transaction_code"`
	TransactionStatus enums.TransactionStatus `json:"transaction_status,omitempty"`
	OrderID           *uuid.UUID              `json:"order_id,omitempty"`
	OrderStatus       enums.OrderStatus       `json:"order_status,omitempty"`
	StatusDescription string                  `json:"status_description,omitempty"`
}
