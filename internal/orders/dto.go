package orders

import (
	"time"

	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	"github.com/angelmondragon/evtrade-backend/pkg/pagination"
	"github.com/angelmondragon/evtrade-backend/pkg/types"
	"github.com/google/uuid"
)

// CheckoutItem is one product line requested at checkout.
type CheckoutItem struct {
	ProductID uuid.UUID
	Quantity  int
}

// CheckoutInput covers both buy-now (one item) and cart checkout.
type CheckoutInput struct {
	BuyerID           uuid.UUID
	Items             []CheckoutItem
	ShippingAddress   string
	ShippingFee       int64
	PaymentMethod     enums.PaymentMethod
	TransferOwnership bool
	ChangePlate       bool
}

// PackagePurchaseInput buys a listing package from the platform.
type PackagePurchaseInput struct {
	BuyerID   uuid.UUID
	PackageID uuid.UUID
}

// ActionInput is a plain actor-driven transition on one order.
type ActionInput struct {
	OrderID uuid.UUID
	Actor   types.Actor
	Reason  string
}

// ApproveInput schedules the vehicle hand-over when staff approve an order.
type ApproveInput struct {
	OrderID             uuid.UUID
	Actor               types.Actor
	AppointmentDate     time.Time
	TransactionLocation string
	Note                string
}

// RejectInput rejects a deposit-paid order; the deposit is refunded.
type RejectInput struct {
	OrderID uuid.UUID
	Actor   types.Actor
	Reason  string
}

// ListFilters narrows order listings. Nil fields are not applied.
type ListFilters struct {
	BuyerID  *uuid.UUID
	SellerID *uuid.UUID
	Status   *enums.OrderStatus
}

// ListParams is the service-level listing request.
type ListParams struct {
	Actor  types.Actor
	Scope  ListScope
	Status *enums.OrderStatus
	pagination.Params
}

// ListScope picks whose orders a listing returns.
type ListScope string

const (
	ListScopeBuyer  ListScope = "buyer"
	ListScopeSeller ListScope = "seller"
	ListScopeAll    ListScope = "all"
)

// OrderSummary is the list projection of an order.
type OrderSummary struct {
	ID                uuid.UUID         `json:"id"`
	BuyerID           uuid.UUID         `json:"buyer_id"`
	SellerID          *uuid.UUID        `json:"seller_id,omitempty"`
	PackageID         *uuid.UUID        `json:"package_id,omitempty"`
	TotalAmount       int64             `json:"total_amount"`
	ShippingFee       int64             `json:"shipping_fee"`
	FinalTotal        int64             `json:"final_total"`
	Status            enums.OrderStatus `json:"status"`
	StatusDescription string            `json:"status_description"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// OrderList is a page of order summaries.
type OrderList struct {
	Orders     []OrderSummary `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// OrderDetail aggregates everything staff and buyers see on one order.
type OrderDetail struct {
	Order             *models.Order               `json:"order"`
	StatusDescription string                      `json:"status_description"`
	Transactions      []models.Transaction        `json:"transactions"`
	Disputes          []models.Dispute            `json:"disputes"`
	Refunds           []models.Refund             `json:"refunds"`
	History           []models.OrderStatusHistory `json:"history"`
}

func summarize(order models.Order) OrderSummary {
	return OrderSummary{
		ID:                order.ID,
		BuyerID:           order.BuyerID,
		SellerID:          order.SellerID,
		PackageID:         order.PackageID,
		TotalAmount:       order.TotalAmount,
		ShippingFee:       order.ShippingFee,
		FinalTotal:        order.FinalTotal,
		Status:            order.Status,
		StatusDescription: order.Status.Description(),
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
}
