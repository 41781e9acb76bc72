package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/evtrade-backend/pkg/enums"
)

// Refund is a compensating payout to the buyer.
type Refund struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID          `gorm:"column:order_id;type:uuid;not null"`
	DisputeID   *uuid.UUID         `gorm:"column:dispute_id;type:uuid"`
	Amount      int64              `gorm:"column:amount;not null"`
	Reason      string             `gorm:"column:reason;not null"`
	Status      enums.RefundStatus `gorm:"column:status;type:refund_status;not null"`
	Method      enums.RefundMethod `gorm:"column:method;not null"`
	Note        *string            `gorm:"column:note"`
	CreatedBy   uuid.UUID          `gorm:"column:created_by;type:uuid;not null"`
	ProcessedBy *uuid.UUID         `gorm:"column:processed_by;type:uuid"`
	ProcessedAt *time.Time         `gorm:"column:processed_at"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
