// Package ledger is the append-only record of money leaving escrow: seller
// credits and platform commission on release, and refunds back to buyers.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
)

type Service interface {
	RecordEvent(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error)
	HasEvent(ctx context.Context, orderID uuid.UUID, eventType enums.LedgerEventType) (bool, error)
	Balance(ctx context.Context, orderID uuid.UUID) (*OrderBalance, error)
}

// RecordLedgerEventInput is one movement. ActorUserID is nil when the
// escrow release cron moves the money.
type RecordLedgerEventInput struct {
	OrderID       uuid.UUID
	TransactionID *uuid.UUID
	PartyID       *uuid.UUID
	ActorUserID   *uuid.UUID
	Type          enums.LedgerEventType
	Amount        int64
	Metadata      json.RawMessage
}

func (in RecordLedgerEventInput) validate() error {
	switch {
	case in.OrderID == uuid.Nil:
		return errors.New("order id is required")
	case !in.Type.IsValid():
		return fmt.Errorf("invalid ledger event type %q", in.Type)
	case in.Amount < 0:
		return errors.New("ledger amount must not be negative")
	case in.Type == enums.LedgerEventTypeSellerCredit && in.PartyID == nil:
		return errors.New("seller credit requires a party")
	}
	return nil
}

// OrderBalance totals an order's movements in VND.
type OrderBalance struct {
	SellerCredit int64 `json:"seller_credit"`
	Commission   int64 `json:"commission"`
	Refunded     int64 `json:"refunded"`
}

// Disbursed is everything that has left escrow for the order.
func (b OrderBalance) Disbursed() int64 {
	return b.SellerCredit + b.Commission + b.Refunded
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, errors.New("ledger repository required")
	}
	return &service{repo: repo}, nil
}

// RecordEvent appends inside tx. The (transaction_id, type) unique index
// rejects a second seller credit or commission for the same payment.
func (s *service) RecordEvent(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	event := &models.LedgerEvent{
		ID:            uuid.New(),
		OrderID:       input.OrderID,
		TransactionID: input.TransactionID,
		PartyID:       input.PartyID,
		ActorUserID:   input.ActorUserID,
		Type:          input.Type,
		Amount:        input.Amount,
		Metadata:      input.Metadata,
	}
	if err := s.repo.WithTx(tx).Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) HasEvent(ctx context.Context, orderID uuid.UUID, eventType enums.LedgerEventType) (bool, error) {
	if orderID == uuid.Nil {
		return false, errors.New("order id is required")
	}
	if !eventType.IsValid() {
		return false, fmt.Errorf("invalid ledger event type %q", eventType)
	}
	return s.repo.Exists(ctx, orderID, eventType)
}

func (s *service) Balance(ctx context.Context, orderID uuid.UUID) (*OrderBalance, error) {
	if orderID == uuid.Nil {
		return nil, errors.New("order id is required")
	}
	totals, err := s.repo.Totals(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderBalance{
		SellerCredit: totals[enums.LedgerEventTypeSellerCredit],
		Commission:   totals[enums.LedgerEventTypeCommission],
		Refunded:     totals[enums.LedgerEventTypeRefund],
	}, nil
}
