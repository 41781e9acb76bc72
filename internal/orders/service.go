package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/evtrade-backend/internal/notifications"
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

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, msg notifications.Message) error
}

// DepositRefunder pays the deposit back when staff reject an order.
type DepositRefunder interface {
	RefundDeposit(ctx context.Context, tx *gorm.DB, order *models.Order, actor types.Actor, reason string) (*models.Refund, error)
}

// Engine exposes the status mutators other subsystems call inside their own
// transactions. Transition is the only code path that writes orders.status.
type Engine interface {
	Transition(ctx context.Context, tx *gorm.DB, req TransitionRequest) (*models.Order, error)
	CompletePayment(ctx context.Context, tx *gorm.DB, txn *models.Transaction) (*models.Order, error)
	FailPayment(ctx context.Context, tx *gorm.DB, txn *models.Transaction) (*models.Order, error)
	LoadOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
}

// Service defines buyer, seller and staff operations on orders.
type Service interface {
	Engine
	Checkout(ctx context.Context, input CheckoutInput) ([]models.Order, error)
	PurchasePackage(ctx context.Context, input PackagePurchaseInput) (*models.Order, error)
	Get(ctx context.Context, actor types.Actor, orderID uuid.UUID) (*OrderDetail, error)
	List(ctx context.Context, params ListParams) (*OrderList, error)
	Cancel(ctx context.Context, input ActionInput) (*models.Order, error)
	Approve(ctx context.Context, input ApproveInput) (*models.Order, error)
	Reject(ctx context.Context, input RejectInput) (*models.Order, error)
	MarkDelivered(ctx context.Context, input ActionInput) (*models.Order, error)
	ConfirmReceipt(ctx context.Context, input ActionInput) (*models.Order, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxPublisher
	notifier notifier
	refunder DepositRefunder
	logg     *logger.Logger
}

// NewService builds the order engine with the required dependencies.
func NewService(repo Repository, tx txRunner, outbox outboxPublisher, notifier notifier, refunder DepositRefunder, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if refunder == nil {
		return nil, fmt.Errorf("deposit refunder required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		outbox:   outbox,
		notifier: notifier,
		refunder: refunder,
		logg:     logg,
	}, nil
}

func (s *service) LoadOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.WithTx(tx).FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// Transition applies req inside tx: compare-and-swap on status, audit row and
// order_status_changed event. Any mismatch leaves the order untouched.
func (s *service) Transition(ctx context.Context, tx *gorm.DB, req TransitionRequest) (*models.Order, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	order, err := s.LoadOrder(ctx, tx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status != req.From {
		return nil, StateConflict(order.ID, req.From, order.Status)
	}

	swapped, err := repo.UpdateStatus(ctx, order.ID, req.From, req.To, req.Updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !swapped {
		current, loadErr := s.LoadOrder(ctx, tx, order.ID)
		if loadErr != nil {
			return nil, loadErr
		}
		return nil, StateConflict(order.ID, req.From, current.Status)
	}

	if err := repo.AppendHistory(ctx, &models.OrderStatusHistory{
		ID:         uuid.New(),
		OrderID:    order.ID,
		FromStatus: req.From,
		ToStatus:   req.To,
		ActorID:    req.Actor.UserIDPtr(),
		Reason:     strings.TrimSpace(req.Reason),
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append order history")
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         outbox.Actor(req.Actor.UserID, req.Actor.RoleString()),
		Data: payloads.OrderStatusChangedEvent{
			OrderID: order.ID,
			From:    req.From,
			To:      req.To,
			Reason:  strings.TrimSpace(req.Reason),
		},
	}); err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id": order.ID.String(),
		"from":     req.From,
		"to":       req.To,
	})
	s.logg.Info(logCtx, "order transitioned")

	return s.LoadOrder(ctx, tx, order.ID)
}

// CompletePayment routes a settled payment into the transition its type
// drives. The caller has already flipped txn to SUCCESS in tx.
func (s *service) CompletePayment(ctx context.Context, tx *gorm.DB, txn *models.Transaction) (*models.Order, error) {
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction required")
	}
	order, err := s.LoadOrder(ctx, tx, txn.OrderID)
	if err != nil {
		return nil, err
	}
	if txn.CreatedBy != order.BuyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payment was not initiated by the order buyer")
	}
	buyer := types.Actor{UserID: order.BuyerID, Role: enums.MemberRoleMember}

	switch txn.Type {
	case enums.TransactionTypeDeposit:
		updated, err := s.Transition(ctx, tx, TransitionRequest{
			OrderID: order.ID,
			From:    enums.OrderStatusAwaitingDeposit,
			To:      enums.OrderStatusPendingStaffApproval,
			Actor:   buyer,
			Reason:  "deposit " + txn.TransactionCode + " settled",
		})
		if err != nil {
			return nil, err
		}
		if err := s.notify(ctx, tx, updated.BuyerID, updated, enums.NotificationTypePayment,
			"Deposit received",
			fmt.Sprintf("Your deposit of %d VND was received. Staff will review the order shortly.", txn.Amount)); err != nil {
			return nil, err
		}
		if err := s.notifySeller(ctx, tx, updated, enums.NotificationTypeOrder,
			"Deposit paid",
			"The buyer paid the deposit. The order is waiting for staff approval."); err != nil {
			return nil, err
		}
		return updated, nil

	case enums.TransactionTypeFinalPayment:
		updated, err := s.Transition(ctx, tx, TransitionRequest{
			OrderID: order.ID,
			From:    enums.OrderStatusApprovedAwaitingFinal,
			To:      enums.OrderStatusCompleted,
			Actor:   buyer,
			Reason:  "final payment " + txn.TransactionCode + " settled",
		})
		if err != nil {
			return nil, err
		}
		if err := s.notify(ctx, tx, updated.BuyerID, updated, enums.NotificationTypePayment,
			"Payment completed",
			fmt.Sprintf("Your final payment of %d VND was received. The order is complete.", txn.Amount)); err != nil {
			return nil, err
		}
		if err := s.completeSale(ctx, tx, updated); err != nil {
			return nil, err
		}
		return updated, nil

	case enums.TransactionTypeBatteryPayment:
		if order.PackageID != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "package orders settle with PACKAGE_PURCHASE")
		}
		updated, err := s.Transition(ctx, tx, TransitionRequest{
			OrderID: order.ID,
			From:    enums.OrderStatusAwaitingPayment,
			To:      enums.OrderStatusShipping,
			Actor:   buyer,
			Reason:  "payment " + txn.TransactionCode + " settled",
		})
		if err != nil {
			return nil, err
		}
		if err := s.notify(ctx, tx, updated.BuyerID, updated, enums.NotificationTypePayment,
			"Payment completed",
			fmt.Sprintf("Your payment of %d VND was received. The seller is preparing your item.", txn.Amount)); err != nil {
			return nil, err
		}
		if err := s.notifySeller(ctx, tx, updated, enums.NotificationTypeOrder,
			"Order paid",
			"The buyer paid in full. Please dispatch the item."); err != nil {
			return nil, err
		}
		return updated, nil

	case enums.TransactionTypePackagePurchase:
		if order.PackageID == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "order is not a package purchase")
		}
		updated, err := s.Transition(ctx, tx, TransitionRequest{
			OrderID: order.ID,
			From:    enums.OrderStatusAwaitingPayment,
			To:      enums.OrderStatusCompleted,
			Actor:   buyer,
			Reason:  "package payment " + txn.TransactionCode + " settled",
		})
		if err != nil {
			return nil, err
		}
		if err := s.notify(ctx, tx, updated.BuyerID, updated, enums.NotificationTypePayment,
			"Package activated",
			"Your service package payment was received and the package is now active."); err != nil {
			return nil, err
		}
		return updated, nil

	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("transaction type %s does not settle an order", txn.Type))
	}
}

// FailPayment moves the order to PAYMENT_FAILED when the failed transaction
// was the one the order was waiting on. Orders that already moved on are left
// alone.
func (s *service) FailPayment(ctx context.Context, tx *gorm.DB, txn *models.Transaction) (*models.Order, error) {
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction required")
	}
	awaiting, ok := AwaitingStatusFor(txn.Type)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("transaction type %s does not settle an order", txn.Type))
	}
	order, err := s.LoadOrder(ctx, tx, txn.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status != awaiting {
		return order, nil
	}

	previous := awaiting
	updated, err := s.Transition(ctx, tx, TransitionRequest{
		OrderID: order.ID,
		From:    awaiting,
		To:      enums.OrderStatusPaymentFailed,
		Actor:   types.Actor{UserID: order.BuyerID, Role: enums.MemberRoleMember},
		Reason:  "payment " + txn.TransactionCode + " failed",
		Updates: map[string]any{"previous_status": previous},
	})
	if err != nil {
		return nil, err
	}
	if err := s.notify(ctx, tx, updated.BuyerID, updated, enums.NotificationTypePayment,
		"Payment failed",
		"Your payment did not go through. You can retry from the order page."); err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) Get(ctx context.Context, actor types.Actor, orderID uuid.UUID) (*OrderDetail, error) {
	if actor.IsSystem() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	order, err := s.LoadOrder(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() && order.BuyerID != actor.UserID && !isSeller(order, actor.UserID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}

	detail := &OrderDetail{
		Order:             order,
		StatusDescription: order.Status.Description(),
	}
	if detail.Transactions, err = s.repo.FindTransactions(ctx, order.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transactions")
	}
	if detail.Disputes, err = s.repo.FindDisputes(ctx, order.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load disputes")
	}
	if detail.Refunds, err = s.repo.FindRefunds(ctx, order.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refunds")
	}
	if detail.History, err = s.repo.ListHistory(ctx, order.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order history")
	}
	return detail, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*OrderList, error) {
	if params.Actor.IsSystem() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}

	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	filters := ListFilters{Status: params.Status}
	userID := params.Actor.UserID
	switch params.Scope {
	case "", ListScopeBuyer:
		filters.BuyerID = &userID
	case ListScopeSeller:
		filters.SellerID = &userID
	case ListScopeAll:
		if !params.Actor.IsStaff() {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "staff role required")
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid list scope")
	}

	list, err := s.repo.ListOrders(ctx, filters, params.Params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return list, nil
}

func (s *service) Cancel(ctx context.Context, input ActionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.LoadOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if order.BuyerID != input.Actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can cancel the order")
		}
		if !cancellable(order) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order in %s cannot be cancelled", order.Status)).
				WithDetails(map[string]any{"order_id": order.ID, "actual": order.Status})
		}

		updated, err := s.Transition(ctx, tx, TransitionRequest{
			OrderID: order.ID,
			From:    order.Status,
			To:      enums.OrderStatusCancelled,
			Actor:   input.Actor,
			Reason:  reasonOr(input.Reason, "cancelled by buyer"),
		})
		if err != nil {
			return err
		}
		if _, err := s.repo.WithTx(tx).CancelPendingTransactions(ctx, order.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel pending transactions")
		}
		if err := s.notifySeller(ctx, tx, updated, enums.NotificationTypeOrder,
			"Order cancelled", "The buyer cancelled the order before paying."); err != nil {
			return err
		}
		result = updated
		return nil
	})
	return result, err
}

func (s *service) Approve(ctx context.Context, input ApproveInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Actor.IsStaff() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "staff role required")
	}
	if input.AppointmentDate.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "appointment date required")
	}
	location := strings.TrimSpace(input.TransactionLocation)
	if location == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction location required")
	}

	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		updated, err := s.Transition(ctx, tx, TransitionRequest{
			OrderID: input.OrderID,
			From:    enums.OrderStatusPendingStaffApproval,
			To:      enums.OrderStatusApprovedAwaitingFinal,
			Actor:   input.Actor,
			Reason:  reasonOr(input.Note, "approved by staff"),
			Updates: map[string]any{
				"appointment_date":     input.AppointmentDate.UTC(),
				"transaction_location": location,
			},
		})
		if err != nil {
			return err
		}
		when := input.AppointmentDate.UTC().Format(time.RFC3339)
		if err := s.notify(ctx, tx, updated.BuyerID, updated, enums.NotificationTypeOrder,
			"Order approved",
			fmt.Sprintf("Your order was approved. Appointment at %s on %s. Please pay the remaining balance.", location, when)); err != nil {
			return err
		}
		if err := s.notifySeller(ctx, tx, updated, enums.NotificationTypeOrder,
			"Order approved",
			fmt.Sprintf("Staff approved the order. Appointment at %s on %s.", location, when)); err != nil {
			return err
		}
		result = updated
		return nil
	})
	return result, err
}

func (s *service) Reject(ctx context.Context, input RejectInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Actor.IsStaff() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "staff role required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rejection reason required")
	}

	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		updated, err := s.Transition(ctx, tx, TransitionRequest{
			OrderID: input.OrderID,
			From:    enums.OrderStatusPendingStaffApproval,
			To:      enums.OrderStatusRejected,
			Actor:   input.Actor,
			Reason:  reason,
		})
		if err != nil {
			return err
		}
		refund, err := s.refunder.RefundDeposit(ctx, tx, updated, input.Actor, reason)
		if err != nil {
			return err
		}
		if err := s.notify(ctx, tx, updated.BuyerID, updated, enums.NotificationTypeOrder,
			"Order rejected",
			fmt.Sprintf("Your order was rejected: %s. Your deposit of %d VND has been refunded.", reason, refund.Amount)); err != nil {
			return err
		}
		if err := s.notifySeller(ctx, tx, updated, enums.NotificationTypeOrder,
			"Order rejected", "Staff rejected the order: "+reason); err != nil {
			return err
		}
		result = updated
		return nil
	})
	return result, err
}

func (s *service) MarkDelivered(ctx context.Context, input ActionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.LoadOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if !isSeller(order, input.Actor.UserID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the seller can mark the order delivered")
		}
		updated, err := s.Transition(ctx, tx, TransitionRequest{
			OrderID: order.ID,
			From:    enums.OrderStatusShipping,
			To:      enums.OrderStatusDeliveredAwaitConfirm,
			Actor:   input.Actor,
			Reason:  reasonOr(input.Reason, "delivered by seller"),
		})
		if err != nil {
			return err
		}
		if err := s.notify(ctx, tx, updated.BuyerID, updated, enums.NotificationTypeOrder,
			"Order delivered", "The seller marked your order as delivered. Please confirm receipt."); err != nil {
			return err
		}
		result = updated
		return nil
	})
	return result, err
}

func (s *service) ConfirmReceipt(ctx context.Context, input ActionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.LoadOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if order.BuyerID != input.Actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can confirm receipt")
		}
		updated, err := s.Transition(ctx, tx, TransitionRequest{
			OrderID: order.ID,
			From:    enums.OrderStatusDeliveredAwaitConfirm,
			To:      enums.OrderStatusCompleted,
			Actor:   input.Actor,
			Reason:  reasonOr(input.Reason, "receipt confirmed by buyer"),
		})
		if err != nil {
			return err
		}
		if err := s.completeSale(ctx, tx, updated); err != nil {
			return err
		}
		result = updated
		return nil
	})
	return result, err
}

// completeSale decrements stock for every line and tells the seller what the
// sale will credit once escrow releases.
func (s *service) completeSale(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	repo := s.repo.WithTx(tx)
	for _, item := range order.Items {
		ok, err := repo.DecrementStock(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement stock")
		}
		if !ok {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"order_id":   order.ID.String(),
				"product_id": item.ProductID.String(),
				"quantity":   item.Quantity,
			})
			s.logg.Warn(logCtx, "stock already exhausted at completion")
		}
	}

	credit := SellerCredit(order)
	return s.notifySeller(ctx, tx, order, enums.NotificationTypeEscrow,
		"Sale completed",
		fmt.Sprintf("The order is complete. %d VND (after 5%% commission) will be credited when escrow releases.", credit))
}

func (s *service) notify(ctx context.Context, tx *gorm.DB, userID uuid.UUID, order *models.Order, kind enums.NotificationType, title, body string) error {
	orderID := order.ID
	return s.notifier.Notify(ctx, tx, notifications.Message{
		UserID:  userID,
		OrderID: &orderID,
		Type:    kind,
		Title:   title,
		Body:    body,
		Link:    "/orders/" + order.ID.String(),
	})
}

func (s *service) notifySeller(ctx context.Context, tx *gorm.DB, order *models.Order, kind enums.NotificationType, title, body string) error {
	if order.SellerID == nil {
		return nil
	}
	return s.notify(ctx, tx, *order.SellerID, order, kind, title, body)
}

func isSeller(order *models.Order, userID uuid.UUID) bool {
	return order.SellerID != nil && *order.SellerID == userID
}

func cancellable(order *models.Order) bool {
	switch order.Status {
	case enums.OrderStatusAwaitingDeposit, enums.OrderStatusAwaitingPayment:
		return true
	case enums.OrderStatusPaymentFailed:
		// only before any money was taken
		return order.PreviousStatus != nil &&
			(*order.PreviousStatus == enums.OrderStatusAwaitingDeposit || *order.PreviousStatus == enums.OrderStatusAwaitingPayment)
	default:
		return false
	}
}

func reasonOr(reason, fallback string) string {
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		return trimmed
	}
	return fallback
}
