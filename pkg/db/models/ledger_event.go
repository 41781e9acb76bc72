package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/evtrade-backend/pkg/enums"
)

// LedgerEvent records an immutable money movement tied to an order.
type LedgerEvent struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID       uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	TransactionID *uuid.UUID            `gorm:"column:transaction_id;type:uuid"`
	PartyID       *uuid.UUID            `gorm:"column:party_id;type:uuid"`
	ActorUserID   *uuid.UUID            `gorm:"column:actor_user_id;type:uuid"`
	Type          enums.LedgerEventType `gorm:"column:type;type:ledger_event_type_enum;not null"`
	Amount        int64                 `gorm:"column:amount;not null"`
	Metadata      json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
}
