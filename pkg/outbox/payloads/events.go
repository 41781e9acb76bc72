package payloads

import (
	"time"

	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	"github.com/google/uuid"
)

// OrderCreatedEvent signals a checkout produced a new order.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	BuyerID     uuid.UUID         `json:"buyer_id"`
	SellerID    *uuid.UUID        `json:"seller_id,omitempty"`
	PackageID   *uuid.UUID        `json:"package_id,omitempty"`
	Status      enums.OrderStatus `json:"status"`
	TotalAmount int64             `json:"total_amount"`
	FinalTotal  int64             `json:"final_total"`
}

// OrderStatusChangedEvent is emitted for every committed order transition.
type OrderStatusChangedEvent struct {
	OrderID uuid.UUID         `json:"order_id"`
	From    enums.OrderStatus `json:"from"`
	To      enums.OrderStatus `json:"to"`
	Reason  string            `json:"reason,omitempty"`
}

// PaymentEvent covers initiation, settlement and failure of a transaction.
type PaymentEvent struct {
	TransactionID   uuid.UUID               `json:"transaction_id"`
	TransactionCode string                  `json:"transaction_code"`
	OrderID         uuid.UUID               `json:"order_id"`
	Type            enums.TransactionType   `json:"type"`
	Status          enums.TransactionStatus `json:"status"`
	Amount          int64                   `json:"amount"`
	ResponseCode    string                  `json:"response_code,omitempty"`
	Detail          string                  `json:"detail,omitempty"`
}

// EscrowReleasedEvent reports the settlement of one escrowed transaction.
type EscrowReleasedEvent struct {
	TransactionID  uuid.UUID  `json:"transaction_id"`
	OrderID        uuid.UUID  `json:"order_id"`
	SellerID       *uuid.UUID `json:"seller_id,omitempty"`
	Amount         int64      `json:"amount"`
	Refunded       int64      `json:"refunded,omitempty"`
	Commission     int64      `json:"commission"`
	SellerReceives int64      `json:"seller_receives"`
	ReleasedAt     time.Time  `json:"released_at"`
}

// TransactionExpiredEvent reports a PENDING transaction swept to CANCELLED.
type TransactionExpiredEvent struct {
	TransactionID   uuid.UUID `json:"transaction_id"`
	TransactionCode string    `json:"transaction_code"`
	OrderID         uuid.UUID `json:"order_id"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiredAt       time.Time `json:"expired_at"`
}

// DisputeEvent covers dispute opening and resolution.
type DisputeEvent struct {
	DisputeID  uuid.UUID                `json:"dispute_id"`
	OrderID    uuid.UUID                `json:"order_id"`
	Status     enums.DisputeStatus      `json:"status"`
	Resolution *enums.DisputeResolution `json:"resolution,omitempty"`
	OrderState enums.OrderStatus        `json:"order_status"`
}

// RefundEvent covers refund creation, completion and rejection.
type RefundEvent struct {
	RefundID     uuid.UUID          `json:"refund_id"`
	OrderID      uuid.UUID          `json:"order_id"`
	DisputeID    *uuid.UUID         `json:"dispute_id,omitempty"`
	Amount       int64              `json:"amount"`
	Status       enums.RefundStatus `json:"status"`
	Transactions []uuid.UUID        `json:"refund_transaction_ids,omitempty"`
}

// NotificationCreatedEvent fans an in-app notification out to push/email.
type NotificationCreatedEvent struct {
	NotificationID uuid.UUID              `json:"notification_id"`
	UserID         uuid.UUID              `json:"user_id"`
	OrderID        *uuid.UUID             `json:"order_id,omitempty"`
	Type           enums.NotificationType `json:"type"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
}
