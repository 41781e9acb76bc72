package refunds

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/evtrade-backend/internal/notifications"
	"github.com/angelmondragon/evtrade-backend/internal/orders"
	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evtrade-backend/pkg/errors"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
	"github.com/angelmondragon/evtrade-backend/pkg/pagination"
	"github.com/angelmondragon/evtrade-backend/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, msg notifications.Message) error
}

// Service covers staff-driven refunds that are not tied to a dispute.
type Service interface {
	CreateManual(ctx context.Context, input ManualInput) (*models.Refund, error)
	Process(ctx context.Context, input ProcessInput) (*models.Refund, error)
	Get(ctx context.Context, actor types.Actor, refundID uuid.UUID) (*models.Refund, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
}

// ManualInput opens a PENDING refund against an order.
type ManualInput struct {
	OrderID uuid.UUID
	Actor   types.Actor
	Amount  int64
	Reason  string
	Method  enums.RefundMethod
}

// ProcessInput completes (Approve) or rejects a PENDING refund. Rejections
// need a note.
type ProcessInput struct {
	RefundID uuid.UUID
	Actor    types.Actor
	Approve  bool
	Note     string
}

// ListParams is the service-level listing request. Members only see refunds
// on their own orders.
type ListParams struct {
	Actor   types.Actor
	Status  *enums.RefundStatus
	OrderID *uuid.UUID
	pagination.Params
}

type ServiceParams struct {
	Repo        Repository
	Compensator *Compensator
	Orders      orders.Engine
	TxRunner    txRunner
	Notifier    notifier
	Logger      *logger.Logger
}

type service struct {
	repo     Repository
	comp     *Compensator
	orders   orders.Engine
	tx       txRunner
	notifier notifier
	logg     *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("refunds repository required")
	}
	if params.Compensator == nil {
		return nil, fmt.Errorf("compensator required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order engine required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     params.Repo,
		comp:     params.Compensator,
		orders:   params.Orders,
		tx:       params.TxRunner,
		notifier: params.Notifier,
		logg:     params.Logger,
	}, nil
}

func (s *service) CreateManual(ctx context.Context, input ManualInput) (*models.Refund, error) {
	if !input.Actor.IsStaff() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "staff role required")
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund reason required")
	}
	method := input.Method
	if method == "" {
		method = enums.RefundMethodBankTransfer
	}
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid refund method")
	}

	var created *models.Refund
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.LoadOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if err := s.ensureNoDispute(ctx, tx, order.ID); err != nil {
			return err
		}
		refundable, err := s.refundable(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if input.Amount > refundable {
			return pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds the refundable amount").
				WithDetails(map[string]any{"order_id": order.ID, "requested": input.Amount, "refundable": refundable})
		}

		refund := &models.Refund{
			ID:        uuid.New(),
			OrderID:   order.ID,
			Amount:    input.Amount,
			Reason:    reason,
			Status:    enums.RefundStatusPending,
			Method:    method,
			CreatedBy: input.Actor.UserID,
		}
		if err := s.repo.WithTx(tx).Create(ctx, refund); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund")
		}
		if err := s.comp.emit(ctx, tx, enums.EventRefundCreated, refund, input.Actor, nil); err != nil {
			return err
		}
		if err := s.notify(ctx, tx, order, "Refund requested",
			fmt.Sprintf("A refund of %d VND was opened for your order and is awaiting review.", refund.Amount)); err != nil {
			return err
		}
		created = refund
		return nil
	})
	return created, err
}

func (s *service) Process(ctx context.Context, input ProcessInput) (*models.Refund, error) {
	if !input.Actor.IsStaff() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "staff role required")
	}
	if input.RefundID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund id required")
	}
	note := strings.TrimSpace(input.Note)
	if !input.Approve && note == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection note required")
	}

	var result *models.Refund
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		refund, err := s.load(ctx, tx, input.RefundID)
		if err != nil {
			return err
		}
		if refund.Status != enums.RefundStatusPending {
			return pkgerrors.StateConflict("refund", refund.ID, enums.RefundStatusPending, refund.Status)
		}
		order, err := s.orders.LoadOrder(ctx, tx, refund.OrderID)
		if err != nil {
			return err
		}
		if input.Approve {
			result, err = s.approve(ctx, tx, refund, order, input.Actor, note)
		} else {
			result, err = s.reject(ctx, tx, refund, order, input.Actor, note)
		}
		return err
	})
	return result, err
}

// approve pays the refund out. The refundable amount is checked again since
// money may have gone back to the buyer after the refund was opened. Escrowed
// transactions are consumed oldest first: a row the refund covers whole
// leaves escrow, a row it covers in part stays escrowed and release later
// credits the seller only what is left of it. Anything beyond the escrowed
// funds is paid without a source transaction.
func (s *service) approve(ctx context.Context, tx *gorm.DB, refund *models.Refund, order *models.Order, actor types.Actor, note string) (*models.Refund, error) {
	if err := s.ensureNoDispute(ctx, tx, order.ID); err != nil {
		return nil, err
	}
	others, err := s.refundable(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	if available := others + refund.Amount; refund.Amount > available {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refund exceeds the refundable amount").
			WithDetails(map[string]any{"refund_id": refund.ID, "requested": refund.Amount, "refundable": available})
	}
	now := s.comp.now()
	var notePtr *string
	if note != "" {
		notePtr = &note
	}
	if err := s.comp.complete(ctx, tx, refund, actor, now, notePtr); err != nil {
		return nil, err
	}

	txns := s.comp.txns.WithTx(tx)
	escrowed, err := txns.EscrowedForOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrowed transactions")
	}
	remaining := refund.Amount
	var created []models.Transaction
	for i := range escrowed {
		if remaining == 0 {
			break
		}
		held := escrowed[i]
		taken, err := s.takeFromEscrow(ctx, tx, &held, remaining)
		if err != nil {
			return nil, err
		}
		if taken == 0 {
			continue
		}
		payout, err := s.comp.payout(ctx, tx, refund, order, &held, taken, actor, now)
		if err != nil {
			return nil, err
		}
		created = append(created, *payout)
		remaining -= taken
	}
	if remaining > 0 {
		payout, err := s.comp.payout(ctx, tx, refund, order, nil, remaining, actor, now)
		if err != nil {
			return nil, err
		}
		created = append(created, *payout)
	}

	if orders.CanTransition(order.Status, enums.OrderStatusResolvedWithRefund) {
		if _, err := s.orders.Transition(ctx, tx, orders.TransitionRequest{
			OrderID: order.ID,
			From:    order.Status,
			To:      enums.OrderStatusResolvedWithRefund,
			Actor:   actor,
			Reason:  "refund " + refund.ID.String() + " completed",
		}); err != nil {
			return nil, err
		}
	}
	if err := s.comp.emit(ctx, tx, enums.EventRefundCompleted, refund, actor, created); err != nil {
		return nil, err
	}
	if err := s.notify(ctx, tx, order, "Refund completed",
		fmt.Sprintf("Your refund of %d VND has been processed.", refund.Amount)); err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"refund_id": refund.ID.String(),
		"order_id":  order.ID.String(),
		"amount":    refund.Amount,
	})
	s.logg.Info(logCtx, "manual refund completed")
	return refund, nil
}

// takeFromEscrow reserves up to want from one escrowed payment and returns
// how much it took. The row leaves escrow only when nothing of it is left.
func (s *service) takeFromEscrow(ctx context.Context, tx *gorm.DB, held *models.Transaction, want int64) (int64, error) {
	txns := s.comp.txns.WithTx(tx)
	refunded, err := txns.RefundedAgainst(ctx, held.ID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum refunds against escrow")
	}
	net := held.Amount - refunded
	if net <= 0 {
		return 0, nil
	}
	if want < net {
		ok, err := txns.HoldEscrow(ctx, held.ID)
		if err != nil {
			return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "hold escrow")
		}
		if !ok {
			return 0, nil
		}
		return want, nil
	}
	cleared, err := txns.ClearEscrow(ctx, held.ID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear escrow")
	}
	if !cleared {
		return 0, nil
	}
	return net, nil
}

func (s *service) reject(ctx context.Context, tx *gorm.DB, refund *models.Refund, order *models.Order, actor types.Actor, note string) (*models.Refund, error) {
	now := s.comp.now()
	swapped, err := s.repo.WithTx(tx).UpdateStatus(ctx, refund.ID, enums.RefundStatusPending, enums.RefundStatusRejected, map[string]any{
		"processed_by": actor.UserIDPtr(),
		"processed_at": now,
		"note":         note,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject refund")
	}
	if !swapped {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refund is no longer pending").
			WithDetails(map[string]any{"refund_id": refund.ID})
	}
	refund.Status = enums.RefundStatusRejected
	refund.ProcessedBy = actor.UserIDPtr()
	refund.ProcessedAt = &now
	refund.Note = &note

	if err := s.comp.emit(ctx, tx, enums.EventRefundRejected, refund, actor, nil); err != nil {
		return nil, err
	}
	if err := s.notify(ctx, tx, order, "Refund declined", "Your refund request was declined: "+note); err != nil {
		return nil, err
	}
	return refund, nil
}

func (s *service) Get(ctx context.Context, actor types.Actor, refundID uuid.UUID) (*models.Refund, error) {
	if actor.IsSystem() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	refund, err := s.load(ctx, nil, refundID)
	if err != nil {
		return nil, err
	}
	if actor.IsStaff() {
		return refund, nil
	}
	order, err := s.orders.LoadOrder(ctx, nil, refund.OrderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund not found")
	}
	return refund, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.Actor.IsSystem() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid refund status")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	filters := ListFilters{Status: params.Status, OrderID: params.OrderID}
	if !params.Actor.IsStaff() {
		buyerID := params.Actor.UserID
		filters.BuyerID = &buyerID
	}
	result, err := s.repo.List(ctx, filters, params.Params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refunds")
	}
	return result, nil
}

func (s *service) load(ctx context.Context, tx *gorm.DB, refundID uuid.UUID) (*models.Refund, error) {
	refund, err := s.repo.WithTx(tx).FindByID(ctx, refundID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund")
	}
	return refund, nil
}

func (s *service) ensureNoDispute(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	active, err := s.repo.WithTx(tx).HasActiveDispute(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check disputes")
	}
	if active {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order has an open dispute; resolve the dispute instead").
			WithDetails(map[string]any{"order_id": orderID})
	}
	return nil
}

func (s *service) refundable(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error) {
	history, err := s.comp.txns.WithTx(tx).ListByOrder(ctx, orderID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transactions")
	}
	pending, err := s.repo.WithTx(tx).SumPending(ctx, orderID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum pending refunds")
	}
	return Outstanding(history) - pending, nil
}

func (s *service) notify(ctx context.Context, tx *gorm.DB, order *models.Order, title, body string) error {
	orderID := order.ID
	return s.notifier.Notify(ctx, tx, notifications.Message{
		UserID:  order.BuyerID,
		OrderID: &orderID,
		Type:    enums.NotificationTypeRefund,
		Title:   title,
		Body:    body,
	})
}
