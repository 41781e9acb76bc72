package disputes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/evtrade-backend/internal/notifications"
	"github.com/angelmondragon/evtrade-backend/internal/orders"
	"github.com/angelmondragon/evtrade-backend/internal/payments"
	"github.com/angelmondragon/evtrade-backend/internal/refunds"
	"github.com/angelmondragon/evtrade-backend/pkg/db"
	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evtrade-backend/pkg/errors"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
	"github.com/angelmondragon/evtrade-backend/pkg/outbox"
	"github.com/angelmondragon/evtrade-backend/pkg/outbox/payloads"
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

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type compensator interface {
	Compensate(ctx context.Context, tx *gorm.DB, input refunds.CompensateInput) (*refunds.Compensation, error)
}

// Service opens and resolves buyer disputes.
type Service interface {
	Open(ctx context.Context, input OpenInput) (*models.Dispute, error)
	MarkInProgress(ctx context.Context, input ActionInput) (*models.Dispute, error)
	Cancel(ctx context.Context, input ActionInput) (*models.Dispute, error)
	Resolve(ctx context.Context, input ResolveInput) (*Resolution, error)
	Get(ctx context.Context, actor types.Actor, disputeID uuid.UUID) (*models.Dispute, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
}

// OpenInput is a buyer claim against one of their orders.
type OpenInput struct {
	OrderID     uuid.UUID
	Actor       types.Actor
	Description string
}

type ActionInput struct {
	DisputeID uuid.UUID
	Actor     types.Actor
}

// ResolveInput is the staff decision on an active dispute.
type ResolveInput struct {
	DisputeID  uuid.UUID
	Actor      types.Actor
	Resolution enums.DisputeResolution
	Note       string
}

// Resolution is what a decision produced. Refund is set only for
// APPROVE_REFUND.
type Resolution struct {
	Dispute           *models.Dispute `json:"dispute"`
	Order             *models.Order   `json:"order"`
	Refund            *models.Refund  `json:"refund,omitempty"`
	StatusDescription string          `json:"status_description"`
}

type ListParams struct {
	Actor   types.Actor
	Status  *enums.DisputeStatus
	OrderID *uuid.UUID
	pagination.Params
}

type ServiceParams struct {
	Repo         Repository
	Orders       orders.Engine
	Transactions payments.Repository
	Compensator  compensator
	TxRunner     txRunner
	Notifier     notifier
	Outbox       outboxPublisher
	Logger       *logger.Logger
}

type service struct {
	repo     Repository
	orders   orders.Engine
	txns     payments.Repository
	comp     compensator
	tx       txRunner
	notifier notifier
	outbox   outboxPublisher
	logg     *logger.Logger
	now      func() time.Time
}

var activeStatuses = []enums.DisputeStatus{enums.DisputeStatusOpen, enums.DisputeStatusInProgress}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("disputes repository required")
	case params.Orders == nil:
		return nil, fmt.Errorf("order engine required")
	case params.Transactions == nil:
		return nil, fmt.Errorf("transactions repository required")
	case params.Compensator == nil:
		return nil, fmt.Errorf("compensator required")
	case params.TxRunner == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Notifier == nil:
		return nil, fmt.Errorf("notifier required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     params.Repo,
		orders:   params.Orders,
		txns:     params.Transactions,
		comp:     params.Compensator,
		tx:       params.TxRunner,
		notifier: params.Notifier,
		outbox:   params.Outbox,
		logg:     params.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Open records the claim and moves the order to DISPUTED. The state the order
// left is stored on the dispute so a rejection can put it back. A COMPLETED
// order can only be disputed while some of its money is still in escrow.
func (s *service) Open(ctx context.Context, input OpenInput) (*models.Dispute, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute description required")
	}

	var created *models.Dispute
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.LoadOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if order.BuyerID != input.Actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can dispute this order")
		}
		if err := s.ensureDisputable(ctx, tx, order); err != nil {
			return err
		}

		previous := order.Status
		dispute := &models.Dispute{
			ID:                  uuid.New(),
			OrderID:             order.ID,
			RaisedBy:            input.Actor.UserID,
			Description:         description,
			Status:              enums.DisputeStatusOpen,
			PreviousOrderStatus: previous,
		}
		if err := s.repo.WithTx(tx).Create(ctx, dispute); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "order already has an active dispute").
					WithDetails(map[string]any{"order_id": order.ID})
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create dispute")
		}

		// a late gateway callback must not move a disputed order
		if _, err := s.txns.WithTx(tx).CancelPendingForOrder(ctx, order.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel pending transactions")
		}

		updated, err := s.orders.Transition(ctx, tx, orders.TransitionRequest{
			OrderID: order.ID,
			From:    previous,
			To:      enums.OrderStatusDisputed,
			Actor:   input.Actor,
			Reason:  "dispute opened",
		})
		if err != nil {
			return err
		}

		if updated.SellerID != nil {
			if err := s.notify(ctx, tx, *updated.SellerID, updated, "Dispute opened",
				"The buyer opened a dispute on this order: "+description); err != nil {
				return err
			}
		}
		if err := s.emit(ctx, tx, enums.EventDisputeOpened, dispute, updated, input.Actor); err != nil {
			return err
		}
		created = dispute
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"dispute_id":     created.ID.String(),
		"order_id":       created.OrderID.String(),
		"previous_state": string(created.PreviousOrderStatus),
	})
	s.logg.Info(logCtx, "dispute opened")
	return created, nil
}

func (s *service) ensureDisputable(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if order.Status == enums.OrderStatusDisputed {
		return pkgerrors.New(pkgerrors.CodeConflict, "order already has an active dispute").
			WithDetails(map[string]any{"order_id": order.ID})
	}
	if !orders.CanTransition(order.Status, enums.OrderStatusDisputed) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("orders in %s cannot be disputed", order.Status)).
			WithDetails(map[string]any{"order_id": order.ID, "actual": order.Status})
	}
	if order.Status != enums.OrderStatusCompleted {
		return nil
	}
	held, err := s.txns.WithTx(tx).EscrowedForOrder(ctx, order.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrowed transactions")
	}
	if len(held) == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "escrow for this order has already been released").
			WithDetails(map[string]any{"order_id": order.ID})
	}
	return nil
}

func (s *service) MarkInProgress(ctx context.Context, input ActionInput) (*models.Dispute, error) {
	if !input.Actor.IsStaff() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "staff role required")
	}
	var result *models.Dispute
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		dispute, err := s.load(ctx, tx, input.DisputeID)
		if err != nil {
			return err
		}
		handler := input.Actor.UserID
		swapped, err := s.repo.WithTx(tx).UpdateStatus(ctx, dispute.ID,
			[]enums.DisputeStatus{enums.DisputeStatusOpen}, enums.DisputeStatusInProgress,
			map[string]any{"handled_by": handler})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update dispute")
		}
		if !swapped {
			return disputeConflict(dispute, enums.DisputeStatusOpen)
		}
		dispute.Status = enums.DisputeStatusInProgress
		dispute.HandledBy = &handler
		result = dispute
		return nil
	})
	return result, err
}

// Cancel withdraws the buyer's own dispute and restores the order.
func (s *service) Cancel(ctx context.Context, input ActionInput) (*models.Dispute, error) {
	var result *models.Dispute
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		dispute, err := s.load(ctx, tx, input.DisputeID)
		if err != nil {
			return err
		}
		if dispute.RaisedBy != input.Actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer who opened the dispute can withdraw it")
		}
		swapped, err := s.repo.WithTx(tx).UpdateStatus(ctx, dispute.ID, activeStatuses, enums.DisputeStatusCancelled, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update dispute")
		}
		if !swapped {
			return disputeConflict(dispute, enums.DisputeStatusOpen)
		}
		dispute.Status = enums.DisputeStatusCancelled

		order, err := s.revert(ctx, tx, dispute, input.Actor, "dispute withdrawn by buyer")
		if err != nil {
			return err
		}
		if order.SellerID != nil {
			if err := s.notify(ctx, tx, *order.SellerID, order, "Dispute withdrawn",
				"The buyer withdrew their dispute on this order."); err != nil {
				return err
			}
		}
		result = dispute
		return nil
	})
	return result, err
}

// Resolve closes an active dispute with the staff decision. Approving pays
// back every escrowed transaction, rejecting reverts the order to the state
// it held when the dispute was opened.
func (s *service) Resolve(ctx context.Context, input ResolveInput) (*Resolution, error) {
	if !input.Actor.IsStaff() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "staff role required")
	}
	if !input.Resolution.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid dispute resolution")
	}
	note := strings.TrimSpace(input.Note)
	if note == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resolution note required")
	}

	var result *Resolution
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		dispute, err := s.load(ctx, tx, input.DisputeID)
		if err != nil {
			return err
		}
		if !dispute.Status.IsActive() {
			return disputeConflict(dispute, enums.DisputeStatusOpen)
		}
		order, err := s.orders.LoadOrder(ctx, tx, dispute.OrderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusDisputed {
			return orders.StateConflict(order.ID, enums.OrderStatusDisputed, order.Status)
		}

		switch input.Resolution {
		case enums.DisputeResolutionApproveRefund:
			result, err = s.approve(ctx, tx, dispute, order, input.Actor, note)
		case enums.DisputeResolutionReject:
			result, err = s.reject(ctx, tx, dispute, input.Actor, note)
		default:
			result, err = s.dismiss(ctx, tx, dispute, order, input.Actor, note)
		}
		if err != nil {
			return err
		}
		result.StatusDescription = result.Order.Status.Description()
		return s.emit(ctx, tx, enums.EventDisputeResolved, result.Dispute, result.Order, input.Actor)
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"dispute_id":   result.Dispute.ID.String(),
		"order_id":     result.Order.ID.String(),
		"resolution":   string(input.Resolution),
		"order_status": string(result.Order.Status),
	})
	s.logg.Info(logCtx, "dispute resolved")
	return result, nil
}

func (s *service) approve(ctx context.Context, tx *gorm.DB, dispute *models.Dispute, order *models.Order, actor types.Actor, note string) (*Resolution, error) {
	disputeID := dispute.ID
	comp, err := s.comp.Compensate(ctx, tx, refunds.CompensateInput{
		Order:     order,
		DisputeID: &disputeID,
		Actor:     actor,
		Reason:    "dispute approved: " + note,
	})
	if err != nil {
		return nil, err
	}
	if err := s.close(ctx, tx, dispute, enums.DisputeStatusResolved, enums.DisputeResolutionApproveRefund, actor, note); err != nil {
		return nil, err
	}
	updated, err := s.orders.Transition(ctx, tx, orders.TransitionRequest{
		OrderID: order.ID,
		From:    enums.OrderStatusDisputed,
		To:      enums.OrderStatusResolvedWithRefund,
		Actor:   actor,
		Reason:  "dispute approved with refund",
		Updates: map[string]any{"previous_status": nil},
	})
	if err != nil {
		return nil, err
	}

	if err := s.notify(ctx, tx, updated.BuyerID, updated, "Dispute approved",
		fmt.Sprintf("Your dispute was approved. %d VND will be refunded to you.", comp.Refund.Amount)); err != nil {
		return nil, err
	}
	if updated.SellerID != nil {
		if err := s.notify(ctx, tx, *updated.SellerID, updated, "Dispute resolved",
			"The dispute on this order was resolved in the buyer's favor and the held payment was refunded."); err != nil {
			return nil, err
		}
	}
	return &Resolution{Dispute: dispute, Order: updated, Refund: comp.Refund}, nil
}

func (s *service) reject(ctx context.Context, tx *gorm.DB, dispute *models.Dispute, actor types.Actor, note string) (*Resolution, error) {
	if err := s.close(ctx, tx, dispute, enums.DisputeStatusClosed, enums.DisputeResolutionReject, actor, note); err != nil {
		return nil, err
	}
	updated, err := s.revert(ctx, tx, dispute, actor, "dispute rejected: "+note)
	if err != nil {
		return nil, err
	}
	if err := s.notify(ctx, tx, updated.BuyerID, updated, "Dispute rejected",
		"Your dispute was rejected: "+note); err != nil {
		return nil, err
	}
	return &Resolution{Dispute: dispute, Order: updated}, nil
}

// dismiss settles the dispute without moving money; escrow releases to the
// seller on its normal schedule.
func (s *service) dismiss(ctx context.Context, tx *gorm.DB, dispute *models.Dispute, order *models.Order, actor types.Actor, note string) (*Resolution, error) {
	if err := s.close(ctx, tx, dispute, enums.DisputeStatusResolved, enums.DisputeResolutionNoRefund, actor, note); err != nil {
		return nil, err
	}
	updated, err := s.orders.Transition(ctx, tx, orders.TransitionRequest{
		OrderID: order.ID,
		From:    enums.OrderStatusDisputed,
		To:      enums.OrderStatusDisputeResolved,
		Actor:   actor,
		Reason:  "dispute resolved without refund",
		Updates: map[string]any{"previous_status": nil},
	})
	if err != nil {
		return nil, err
	}
	if err := s.notify(ctx, tx, updated.BuyerID, updated, "Dispute resolved", "Your dispute was resolved: "+note); err != nil {
		return nil, err
	}
	if updated.SellerID != nil {
		if err := s.notify(ctx, tx, *updated.SellerID, updated, "Dispute resolved",
			"The dispute on this order was resolved without a refund."); err != nil {
			return nil, err
		}
	}
	return &Resolution{Dispute: dispute, Order: updated}, nil
}

func (s *service) close(ctx context.Context, tx *gorm.DB, dispute *models.Dispute, to enums.DisputeStatus, resolution enums.DisputeResolution, actor types.Actor, note string) error {
	now := s.now()
	resolver := actor.UserID
	swapped, err := s.repo.WithTx(tx).UpdateStatus(ctx, dispute.ID, activeStatuses, to, map[string]any{
		"resolution_type": resolution,
		"resolution":      note,
		"resolved_by":     resolver,
		"resolved_at":     now,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve dispute")
	}
	if !swapped {
		return disputeConflict(dispute, enums.DisputeStatusOpen)
	}
	dispute.Status = to
	dispute.ResolutionType = &resolution
	dispute.Resolution = &note
	dispute.ResolvedBy = &resolver
	dispute.ResolvedAt = &now
	return nil
}

func (s *service) revert(ctx context.Context, tx *gorm.DB, dispute *models.Dispute, actor types.Actor, reason string) (*models.Order, error) {
	return s.orders.Transition(ctx, tx, orders.TransitionRequest{
		OrderID: dispute.OrderID,
		From:    enums.OrderStatusDisputed,
		To:      dispute.PreviousOrderStatus,
		Actor:   actor,
		Reason:  reason,
	})
}

func (s *service) Get(ctx context.Context, actor types.Actor, disputeID uuid.UUID) (*models.Dispute, error) {
	if actor.IsSystem() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	dispute, err := s.load(ctx, nil, disputeID)
	if err != nil {
		return nil, err
	}
	if actor.IsStaff() || dispute.RaisedBy == actor.UserID {
		return dispute, nil
	}
	order, err := s.orders.LoadOrder(ctx, nil, dispute.OrderID)
	if err != nil {
		return nil, err
	}
	if order.SellerID != nil && *order.SellerID == actor.UserID {
		return dispute, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.Actor.IsSystem() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid dispute status")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	filters := ListFilters{Status: params.Status, OrderID: params.OrderID}
	if !params.Actor.IsStaff() {
		raisedBy := params.Actor.UserID
		filters.RaisedBy = &raisedBy
	}
	result, err := s.repo.List(ctx, filters, params.Params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list disputes")
	}
	return result, nil
}

func (s *service) load(ctx context.Context, tx *gorm.DB, disputeID uuid.UUID) (*models.Dispute, error) {
	if disputeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute id required")
	}
	dispute, err := s.repo.WithTx(tx).FindByID(ctx, disputeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispute")
	}
	return dispute, nil
}

func (s *service) notify(ctx context.Context, tx *gorm.DB, userID uuid.UUID, order *models.Order, title, body string) error {
	orderID := order.ID
	return s.notifier.Notify(ctx, tx, notifications.Message{
		UserID:  userID,
		OrderID: &orderID,
		Type:    enums.NotificationTypeDispute,
		Title:   title,
		Body:    body,
	})
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, dispute *models.Dispute, order *models.Order, actor types.Actor) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateDispute,
		AggregateID:   dispute.ID,
		Actor:         outbox.Actor(actor.UserID, actor.RoleString()),
		Data: payloads.DisputeEvent{
			DisputeID:  dispute.ID,
			OrderID:    dispute.OrderID,
			Status:     dispute.Status,
			Resolution: dispute.ResolutionType,
			OrderState: order.Status,
		},
	})
}

func disputeConflict(dispute *models.Dispute, expected enums.DisputeStatus) error {
	return pkgerrors.StateConflict("dispute", dispute.ID, expected, dispute.Status)
}
