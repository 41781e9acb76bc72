package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/evtrade-backend/pkg/enums"
)

// Dispute is a buyer claim against an order. PreviousOrderStatus is the state
// the order held when the dispute was opened.
type Dispute struct {
	ID                  uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID             uuid.UUID                `gorm:"column:order_id;type:uuid;not null"`
	RaisedBy            uuid.UUID                `gorm:"column:raised_by;type:uuid;not null"`
	Description         string                   `gorm:"column:description;not null"`
	Status              enums.DisputeStatus      `gorm:"column:status;type:dispute_status;not null"`
	PreviousOrderStatus enums.OrderStatus        `gorm:"column:previous_order_status;type:order_status;not null"`
	ResolutionType      *enums.DisputeResolution `gorm:"column:resolution_type"`
	Resolution          *string                  `gorm:"column:resolution"`
	HandledBy           *uuid.UUID               `gorm:"column:handled_by;type:uuid"`
	ResolvedBy          *uuid.UUID               `gorm:"column:resolved_by;type:uuid"`
	ResolvedAt          *time.Time               `gorm:"column:resolved_at"`
	CreatedAt           time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
