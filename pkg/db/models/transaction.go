package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/evtrade-backend/pkg/enums"
)

// Transaction is one monetary movement against an order.
type Transaction struct {
	ID                  uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID             uuid.UUID               `gorm:"column:order_id;type:uuid;not null"`
	Amount              int64                   `gorm:"column:amount;not null"`
	Type                enums.TransactionType   `gorm:"column:type;type:transaction_type;not null"`
	Status              enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null"`
	TransactionCode     string                  `gorm:"column:transaction_code;not null;uniqueIndex"`
	GatewayTxnNo        *string                 `gorm:"column:gateway_txn_no"`
	BankCode            *string                 `gorm:"column:bank_code"`
	CardType            *string                 `gorm:"column:card_type"`
	ResponseCode        *string                 `gorm:"column:response_code"`
	PaymentDate         *time.Time              `gorm:"column:payment_date"`
	EscrowReleaseDate   *time.Time              `gorm:"column:escrow_release_date"`
	IsEscrowed          bool                    `gorm:"column:is_escrowed;not null;default:false"`
	Description         string                  `gorm:"column:description;not null;default:''"`
	CreatedBy           uuid.UUID               `gorm:"column:created_by;type:uuid;not null"`
	RefundID            *uuid.UUID              `gorm:"column:refund_id;type:uuid"`
	SourceTransactionID *uuid.UUID              `gorm:"column:source_transaction_id;type:uuid"`
	CreatedAt           time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
