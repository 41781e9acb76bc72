package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/evtrade-backend/pkg/enums"
)

// Order is one purchase (buy-now, cart split or service package).
// Status is only written through the order engine's compare-and-swap.
type Order struct {
	ID                  uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerID             uuid.UUID           `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID            *uuid.UUID          `gorm:"column:seller_id;type:uuid"`
	TotalAmount         int64               `gorm:"column:total_amount;not null"`
	ShippingFee         int64               `gorm:"column:shipping_fee;not null;default:0"`
	FinalTotal          int64               `gorm:"column:final_total;not null"`
	ShippingAddress     *string             `gorm:"column:shipping_address"`
	PaymentMethod       enums.PaymentMethod `gorm:"column:payment_method;not null"`
	Status              enums.OrderStatus   `gorm:"column:status;type:order_status;not null"`
	PreviousStatus      *enums.OrderStatus  `gorm:"column:previous_status;type:order_status"`
	PackageID           *uuid.UUID          `gorm:"column:package_id;type:uuid"`
	TransactionLocation *string             `gorm:"column:transaction_location"`
	AppointmentDate     *time.Time          `gorm:"column:appointment_date"`
	TransferOwnership   bool                `gorm:"column:transfer_ownership;not null;default:false"`
	ChangePlate         bool                `gorm:"column:change_plate;not null;default:false"`
	Items               []OrderItem         `gorm:"foreignKey:OrderID"`
	CreatedAt           time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderItem is a catalog snapshot captured at checkout.
type OrderItem struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	ProductID   uuid.UUID             `gorm:"column:product_id;type:uuid;not null"`
	ProductName string                `gorm:"column:product_name;not null"`
	Category    enums.ProductCategory `gorm:"column:category;not null"`
	Quantity    int                   `gorm:"column:quantity;not null"`
	UnitPrice   int64                 `gorm:"column:unit_price;not null"`
	LineTotal   int64                 `gorm:"column:line_total;not null"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
}

// OrderStatusHistory is the append-only audit trail of committed transitions.
type OrderStatusHistory struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID    uuid.UUID         `gorm:"column:order_id;type:uuid;not null"`
	FromStatus enums.OrderStatus `gorm:"column:from_status;type:order_status;not null"`
	ToStatus   enums.OrderStatus `gorm:"column:to_status;type:order_status;not null"`
	ActorID    *uuid.UUID        `gorm:"column:actor_id;type:uuid"`
	Reason     string            `gorm:"column:reason;not null;default:''"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (OrderStatusHistory) TableName() string {
	return "order_status_history"
}
