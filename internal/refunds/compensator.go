package refunds

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/evtrade-backend/internal/ledger"
	"github.com/angelmondragon/evtrade-backend/internal/payments"
	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evtrade-backend/pkg/errors"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
	"github.com/angelmondragon/evtrade-backend/pkg/outbox"
	"github.com/angelmondragon/evtrade-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/evtrade-backend/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Compensator pays held money back to the buyer. It runs inside the caller's
// transaction so the refund commits with the order transition that needs it.
type Compensator struct {
	refunds Repository
	txns    payments.Repository
	ledger  ledger.Service
	outbox  outboxPublisher
	logg    *logger.Logger
	now     func() time.Time
}

// CompensateInput identifies the order to refund and who decided it.
type CompensateInput struct {
	Order     *models.Order
	DisputeID *uuid.UUID
	Actor     types.Actor
	Reason    string
}

// Compensation is the completed refund and the REFUND transactions it wrote.
type Compensation struct {
	Refund       *models.Refund
	Transactions []models.Transaction
}

func NewCompensator(refunds Repository, txns payments.Repository, ledgerSvc ledger.Service, outbox outboxPublisher, logg *logger.Logger) (*Compensator, error) {
	if refunds == nil {
		return nil, fmt.Errorf("refunds repository required")
	}
	if txns == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Compensator{
		refunds: refunds,
		txns:    txns,
		ledger:  ledgerSvc,
		outbox:  outbox,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// RefundDeposit returns the held deposit of an order staff rejected.
func (c *Compensator) RefundDeposit(ctx context.Context, tx *gorm.DB, order *models.Order, actor types.Actor, reason string) (*models.Refund, error) {
	comp, err := c.Compensate(ctx, tx, CompensateInput{
		Order:  order,
		Actor:  actor,
		Reason: "order rejected: " + reason,
	})
	if err != nil {
		return nil, err
	}
	return comp.Refund, nil
}

// Compensate creates a refund for the order's held funds and completes it:
// each escrowed transaction gets a REFUND transaction for what earlier
// partial refunds left of it and loses its escrow flag. With nothing escrowed
// the outstanding settled amount is paid back as a single REFUND transaction.
// Manual refunds still waiting for review are rejected first, since this
// refund returns the money they were reserving.
func (c *Compensator) Compensate(ctx context.Context, tx *gorm.DB, input CompensateInput) (*Compensation, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if input.Order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	order := input.Order
	txns := c.txns.WithTx(tx)

	escrowed, err := txns.EscrowedForOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrowed transactions")
	}
	nets := make([]int64, len(escrowed))
	var amount int64
	for i, held := range escrowed {
		refunded, err := txns.RefundedAgainst(ctx, held.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum refunds against escrow")
		}
		nets[i] = held.Amount - refunded
		if nets[i] > 0 {
			amount += nets[i]
		}
	}
	if len(escrowed) == 0 {
		history, err := txns.ListByOrder(ctx, order.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transactions")
		}
		amount = Outstanding(history)
	}
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no settled funds to refund").
			WithDetails(map[string]any{"order_id": order.ID})
	}

	now := c.now()
	refund := &models.Refund{
		ID:        uuid.New(),
		OrderID:   order.ID,
		DisputeID: input.DisputeID,
		Amount:    amount,
		Reason:    input.Reason,
		Status:    enums.RefundStatusPending,
		Method:    enums.RefundMethodGateway,
		CreatedBy: input.Actor.UserID,
	}
	if err := c.supersedePending(ctx, tx, order.ID, refund.ID, input.Actor, now); err != nil {
		return nil, err
	}
	repo := c.refunds.WithTx(tx)
	if err := repo.Create(ctx, refund); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund")
	}

	var created []models.Transaction
	for i := range escrowed {
		held := escrowed[i]
		cleared, err := txns.ClearEscrow(ctx, held.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear escrow")
		}
		if !cleared {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "escrow was released while the refund was processed").
				WithDetails(map[string]any{"transaction_id": held.ID})
		}
		if nets[i] <= 0 {
			continue
		}
		payout, err := c.payout(ctx, tx, refund, order, &held, nets[i], input.Actor, now)
		if err != nil {
			return nil, err
		}
		created = append(created, *payout)
	}
	if len(escrowed) == 0 {
		payout, err := c.payout(ctx, tx, refund, order, nil, amount, input.Actor, now)
		if err != nil {
			return nil, err
		}
		created = append(created, *payout)
	}

	if err := c.complete(ctx, tx, refund, input.Actor, now, nil); err != nil {
		return nil, err
	}
	if err := c.emit(ctx, tx, enums.EventRefundCompleted, refund, input.Actor, created); err != nil {
		return nil, err
	}

	logCtx := c.logg.WithFields(ctx, map[string]any{
		"order_id":  order.ID.String(),
		"refund_id": refund.ID.String(),
		"amount":    refund.Amount,
	})
	c.logg.Info(logCtx, "refund compensated")
	return &Compensation{Refund: refund, Transactions: created}, nil
}

// supersedePending rejects the order's unprocessed refunds in favour of the
// refund being written.
func (c *Compensator) supersedePending(ctx context.Context, tx *gorm.DB, orderID, refundID uuid.UUID, actor types.Actor, now time.Time) error {
	repo := c.refunds.WithTx(tx)
	pending, err := repo.PendingForOrder(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending refunds")
	}
	note := "superseded by refund " + refundID.String()
	for i := range pending {
		stale := pending[i]
		swapped, err := repo.UpdateStatus(ctx, stale.ID, stale.Status, enums.RefundStatusRejected, map[string]any{
			"processed_by": actor.UserIDPtr(),
			"processed_at": now,
			"note":         note,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject superseded refund")
		}
		if !swapped {
			continue
		}
		stale.Status = enums.RefundStatusRejected
		stale.ProcessedBy = actor.UserIDPtr()
		stale.ProcessedAt = &now
		stale.Note = &note
		if err := c.emit(ctx, tx, enums.EventRefundRejected, &stale, actor, nil); err != nil {
			return err
		}
		logCtx := c.logg.WithFields(ctx, map[string]any{
			"refund_id":     stale.ID.String(),
			"superseded_by": refundID.String(),
		})
		c.logg.Info(logCtx, "pending refund superseded")
	}
	return nil
}

// payout writes one SUCCESS REFUND transaction and its ledger row. Codes are
// keyed by the new transaction, since one payment can be refunded in parts.
func (c *Compensator) payout(ctx context.Context, tx *gorm.DB, refund *models.Refund, order *models.Order, source *models.Transaction, amount int64, actor types.Actor, now time.Time) (*models.Transaction, error) {
	refundID := refund.ID
	id := uuid.New()
	description := fmt.Sprintf("refund %s for order %s", refund.ID, order.ID)
	var sourceID *uuid.UUID
	if source != nil {
		src := source.ID
		sourceID = &src
		description = fmt.Sprintf("refund of %s", source.TransactionCode)
	}
	paidAt := now
	txn := &models.Transaction{
		ID:                  id,
		OrderID:             order.ID,
		Amount:              amount,
		Type:                enums.TransactionTypeRefund,
		Status:              enums.TransactionStatusSuccess,
		TransactionCode:     "REFUND_" + id.String(),
		PaymentDate:         &paidAt,
		Description:         description,
		CreatedBy:           actor.UserID,
		RefundID:            &refundID,
		SourceTransactionID: sourceID,
	}
	if err := c.txns.WithTx(tx).Create(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund transaction")
	}

	metadata, err := json.Marshal(map[string]any{
		"refund_id":             refund.ID,
		"source_transaction_id": sourceID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode ledger metadata")
	}
	buyerID := order.BuyerID
	txnID := txn.ID
	if _, err := c.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
		OrderID:       order.ID,
		TransactionID: &txnID,
		PartyID:       &buyerID,
		ActorUserID:   actor.UserIDPtr(),
		Type:          enums.LedgerEventTypeRefund,
		Amount:        amount,
		Metadata:      metadata,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund ledger event")
	}
	return txn, nil
}

func (c *Compensator) complete(ctx context.Context, tx *gorm.DB, refund *models.Refund, actor types.Actor, now time.Time, note *string) error {
	updates := map[string]any{
		"processed_by": actor.UserIDPtr(),
		"processed_at": now,
	}
	if note != nil {
		updates["note"] = *note
	}
	swapped, err := c.refunds.WithTx(tx).UpdateStatus(ctx, refund.ID, enums.RefundStatusPending, enums.RefundStatusCompleted, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete refund")
	}
	if !swapped {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "refund is no longer pending").
			WithDetails(map[string]any{"refund_id": refund.ID})
	}
	processedAt := now
	refund.Status = enums.RefundStatusCompleted
	refund.ProcessedBy = actor.UserIDPtr()
	refund.ProcessedAt = &processedAt
	if note != nil {
		refund.Note = note
	}
	return nil
}

func (c *Compensator) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, refund *models.Refund, actor types.Actor, txns []models.Transaction) error {
	ids := make([]uuid.UUID, 0, len(txns))
	for _, txn := range txns {
		ids = append(ids, txn.ID)
	}
	return c.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateRefund,
		AggregateID:   refund.ID,
		Actor:         outbox.Actor(actor.UserID, actor.RoleString()),
		Data: payloads.RefundEvent{
			RefundID:     refund.ID,
			OrderID:      refund.OrderID,
			DisputeID:    refund.DisputeID,
			Amount:       refund.Amount,
			Status:       refund.Status,
			Transactions: ids,
		},
	})
}

// Outstanding is what the buyer paid and has not had back yet.
func Outstanding(txns []models.Transaction) int64 {
	var paid, refunded int64
	for _, txn := range txns {
		if txn.Status != enums.TransactionStatusSuccess {
			continue
		}
		if txn.Type == enums.TransactionTypeRefund {
			refunded += txn.Amount
			continue
		}
		paid += txn.Amount
	}
	return paid - refunded
}
