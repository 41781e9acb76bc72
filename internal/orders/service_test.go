package orders

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evtrade-backend/pkg/errors"
	"github.com/angelmondragon/evtrade-backend/pkg/money"
	"github.com/angelmondragon/evtrade-backend/pkg/pagination"
	"github.com/angelmondragon/evtrade-backend/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := NewService(nil, nil, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestVehicleHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedVehicleOrder(t, enums.OrderStatusAwaitingDeposit, 500_000_000)

	deposit := f.payment(order, enums.TransactionTypeDeposit)
	require.Equal(t, int64(50_000_000), deposit.Amount)

	updated, err := f.complete(t, deposit)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPendingStaffApproval, updated.Status)

	appointment := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	updated, err = f.svc.Approve(ctx, ApproveInput{
		OrderID:             order.ID,
		Actor:               f.staff,
		AppointmentDate:     appointment,
		TransactionLocation: "District 1 showroom",
	})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusApprovedAwaitingFinal, updated.Status)
	require.NotNil(t, updated.TransactionLocation)
	assert.Equal(t, "District 1 showroom", *updated.TransactionLocation)
	require.NotNil(t, updated.AppointmentDate)
	assert.True(t, appointment.Equal(*updated.AppointmentDate))

	final := f.payment(updated, enums.TransactionTypeFinalPayment)
	require.Equal(t, int64(450_000_000), final.Amount)
	final.TransactionCode = "FINAL_PAYMENT_" + order.ID.String() + "_2"

	updated, err = f.complete(t, final)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCompleted, updated.Status)

	var product models.Product
	require.NoError(t, f.db.Where("id = ?", order.Items[0].ProductID).First(&product).Error)
	assert.Equal(t, 0, product.Stock)

	credited := false
	for _, note := range f.notificationsFor(t, f.seller.UserID) {
		if strings.Contains(note.Message, "475000000") {
			credited = true
		}
	}
	assert.True(t, credited, "seller should be told the post-commission credit")

	history, err := f.repo.ListHistory(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, enums.OrderStatusAwaitingDeposit, history[0].FromStatus)
	assert.Equal(t, enums.OrderStatusCompleted, history[2].ToStatus)
	assert.Equal(t, int64(3), f.countOutbox(t, enums.EventOrderStatusChanged))
}

func TestFinalPaymentRejectedWhileAwaitingDeposit(t *testing.T) {
	f := newFixture(t)
	order := f.seedVehicleOrder(t, enums.OrderStatusAwaitingDeposit, 500_000_000)

	_, err := f.complete(t, f.payment(order, enums.TransactionTypeFinalPayment))
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, enums.OrderStatusApprovedAwaitingFinal, details["expected"])
	assert.Equal(t, enums.OrderStatusAwaitingDeposit, details["actual"])

	assert.Equal(t, enums.OrderStatusAwaitingDeposit, f.reload(t, order.ID).Status)
	assert.Zero(t, f.countOutbox(t, enums.EventOrderStatusChanged))
}

func TestCompletePaymentRequiresBuyerInitiated(t *testing.T) {
	f := newFixture(t)
	order := f.seedVehicleOrder(t, enums.OrderStatusAwaitingDeposit, 100_000_000)
	txn := f.payment(order, enums.TransactionTypeDeposit)
	txn.CreatedBy = uuid.New()

	_, err := f.complete(t, txn)
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())
	assert.Equal(t, enums.OrderStatusAwaitingDeposit, f.reload(t, order.ID).Status)
}

func TestStaffRejectRefundsDeposit(t *testing.T) {
	f := newFixture(t)
	order := f.seedVehicleOrder(t, enums.OrderStatusPendingStaffApproval, 500_000_000)

	updated, err := f.svc.Reject(context.Background(), RejectInput{
		OrderID: order.ID,
		Actor:   f.staff,
		Reason:  "vehicle documents incomplete",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusRejected, updated.Status)
	assert.Equal(t, 1, f.refunder.calls)
	assert.Equal(t, []uuid.UUID{order.ID}, f.refunder.orders)

	buyerNotes := f.notificationsFor(t, f.buyer.UserID)
	require.Len(t, buyerNotes, 1)
	assert.Contains(t, buyerNotes[0].Message, "50000000")
}

func TestStaffOperationsRequireStaffRole(t *testing.T) {
	f := newFixture(t)
	order := f.seedVehicleOrder(t, enums.OrderStatusPendingStaffApproval, 500_000_000)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, ApproveInput{
		OrderID:             order.ID,
		Actor:               f.buyer,
		AppointmentDate:     time.Now().UTC(),
		TransactionLocation: "HQ",
	})
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())

	_, err = f.svc.Reject(ctx, RejectInput{OrderID: order.ID, Actor: f.seller, Reason: "no"})
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())
	assert.Zero(t, f.refunder.calls)
	assert.Equal(t, enums.OrderStatusPendingStaffApproval, f.reload(t, order.ID).Status)
}

func TestFailPaymentThenRetryAndCancel(t *testing.T) {
	f := newFixture(t)
	order := f.seedVehicleOrder(t, enums.OrderStatusAwaitingDeposit, 200_000_000)
	txn := f.payment(order, enums.TransactionTypeDeposit)
	txn.Status = enums.TransactionStatusFailed

	err := f.db.Transaction(func(tx *gorm.DB) error {
		updated, err := f.svc.FailPayment(context.Background(), tx, txn)
		if err != nil {
			return err
		}
		assert.Equal(t, enums.OrderStatusPaymentFailed, updated.Status)
		return nil
	})
	require.NoError(t, err)

	failed := f.reload(t, order.ID)
	require.NotNil(t, failed.PreviousStatus)
	assert.Equal(t, enums.OrderStatusAwaitingDeposit, *failed.PreviousStatus)

	retryType, err := PaymentTypeFor(failed)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionTypeDeposit, retryType)

	cancelled, err := f.svc.Cancel(context.Background(), ActionInput{OrderID: order.ID, Actor: f.buyer})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
}

func TestFailPaymentIgnoresOrdersThatMovedOn(t *testing.T) {
	f := newFixture(t)
	order := f.seedVehicleOrder(t, enums.OrderStatusPendingStaffApproval, 200_000_000)
	txn := f.payment(order, enums.TransactionTypeDeposit)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		updated, err := f.svc.FailPayment(context.Background(), tx, txn)
		if err != nil {
			return err
		}
		assert.Equal(t, enums.OrderStatusPendingStaffApproval, updated.Status)
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, f.countOutbox(t, enums.EventOrderStatusChanged))
}

func TestCancelGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	paid := f.seedVehicleOrder(t, enums.OrderStatusPendingStaffApproval, 100_000_000)

	_, err := f.svc.Cancel(ctx, ActionInput{OrderID: paid.ID, Actor: f.buyer})
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	open := f.seedVehicleOrder(t, enums.OrderStatusAwaitingDeposit, 100_000_000)
	_, err = f.svc.Cancel(ctx, ActionInput{OrderID: open.ID, Actor: f.seller})
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())

	pending := models.Transaction{
		ID:              uuid.New(),
		OrderID:         open.ID,
		Amount:          10_000_000,
		Type:            enums.TransactionTypeDeposit,
		Status:          enums.TransactionStatusPending,
		TransactionCode: "DEPOSIT_" + open.ID.String() + "_9",
		CreatedBy:       f.buyer.UserID,
	}
	require.NoError(t, f.db.Create(&pending).Error)

	_, err = f.svc.Cancel(ctx, ActionInput{OrderID: open.ID, Actor: f.buyer, Reason: "changed my mind"})
	require.NoError(t, err)

	var reloaded models.Transaction
	require.NoError(t, f.db.Where("id = ?", pending.ID).First(&reloaded).Error)
	assert.Equal(t, enums.TransactionStatusCancelled, reloaded.Status)
}

func TestBatteryFlowShipsAndCompletesOnReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	battery := f.seedProduct(t, enums.ProductCategoryBattery, 20_000_000, 5)

	created, err := f.svc.Checkout(ctx, CheckoutInput{
		BuyerID:         f.buyer.UserID,
		Items:           []CheckoutItem{{ProductID: battery.ID, Quantity: 2}},
		ShippingAddress: "12 Le Loi, HCMC",
		ShippingFee:     500_000,
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	order := created[0]
	assert.Equal(t, enums.OrderStatusAwaitingPayment, order.Status)
	assert.Equal(t, int64(40_000_000), order.TotalAmount)
	assert.Equal(t, int64(40_500_000), order.FinalTotal)

	loaded := f.reload(t, order.ID)
	txnType, err := PaymentTypeFor(loaded)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionTypeBatteryPayment, txnType)

	updated, err := f.complete(t, f.payment(loaded, txnType))
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusShipping, updated.Status)

	_, err = f.svc.MarkDelivered(ctx, ActionInput{OrderID: order.ID, Actor: f.buyer})
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())

	updated, err = f.svc.MarkDelivered(ctx, ActionInput{OrderID: order.ID, Actor: f.seller})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusDeliveredAwaitConfirm, updated.Status)

	updated, err = f.svc.ConfirmReceipt(ctx, ActionInput{OrderID: order.ID, Actor: f.buyer})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCompleted, updated.Status)

	var product models.Product
	require.NoError(t, f.db.Where("id = ?", battery.ID).First(&product).Error)
	assert.Equal(t, 3, product.Stock)

	// release settles the shipped total, so the announced credit includes shipping
	credited := false
	for _, note := range f.notificationsFor(t, f.seller.UserID) {
		if strings.Contains(note.Message, "38475000") {
			credited = true
		}
	}
	assert.True(t, credited, "seller should be told the credit escrow release will pay")
}

func TestCheckoutChargesShippingOncePerCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	battery := f.seedProduct(t, enums.ProductCategoryBattery, 10_000_000, 4)
	other := models.Product{
		ID:       uuid.New(),
		SellerID: uuid.New(),
		Name:     "wall charger",
		Category: enums.ProductCategoryAccessory,
		Price:    2_000_000,
		Stock:    3,
		IsActive: true,
	}
	require.NoError(t, f.db.Create(&other).Error)

	created, err := f.svc.Checkout(ctx, CheckoutInput{
		BuyerID: f.buyer.UserID,
		Items: []CheckoutItem{
			{ProductID: battery.ID, Quantity: 1},
			{ProductID: other.ID, Quantity: 1},
		},
		ShippingAddress: "12 Le Loi, HCMC",
		ShippingFee:     500_000,
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	var fees, totals, finals int64
	for _, order := range created {
		fees += order.ShippingFee
		totals += order.TotalAmount
		finals += order.FinalTotal
		assert.Equal(t, order.TotalAmount+order.ShippingFee, order.FinalTotal)
	}
	assert.Equal(t, int64(500_000), fees)
	assert.Equal(t, totals+500_000, finals)
}

func TestSellerCreditSettlesEachPayment(t *testing.T) {
	vehicle := &models.Order{
		TotalAmount: 333_333_333,
		FinalTotal:  333_333_333,
		Items:       []models.OrderItem{{Category: enums.ProductCategoryVehicle}},
	}
	deposit, err := PaymentAmount(vehicle, enums.TransactionTypeDeposit)
	require.NoError(t, err)
	final, err := PaymentAmount(vehicle, enums.TransactionTypeFinalPayment)
	require.NoError(t, err)
	assert.Equal(t, money.Settle(deposit).SellerReceives+money.Settle(final).SellerReceives, SellerCredit(vehicle))

	battery := &models.Order{
		TotalAmount: 40_000_000,
		ShippingFee: 500_000,
		FinalTotal:  40_500_000,
		Items:       []models.OrderItem{{Category: enums.ProductCategoryBattery}},
	}
	assert.Equal(t, int64(38_475_000), SellerCredit(battery))
}

func TestCheckoutSplitsVehiclesAndGroupsBySeller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	vehicle := f.seedProduct(t, enums.ProductCategoryVehicle, 300_000_000, 1)
	battery := f.seedProduct(t, enums.ProductCategoryBattery, 10_000_000, 4)
	charger := f.seedProduct(t, enums.ProductCategoryAccessory, 2_000_000, 4)

	created, err := f.svc.Checkout(ctx, CheckoutInput{
		BuyerID: f.buyer.UserID,
		Items: []CheckoutItem{
			{ProductID: vehicle.ID, Quantity: 1},
			{ProductID: battery.ID, Quantity: 1},
			{ProductID: charger.ID, Quantity: 2},
		},
		ShippingAddress:   "1 Nguyen Hue",
		TransferOwnership: true,
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	var vehicleOrder, shippedOrder models.Order
	for _, order := range created {
		if order.Status == enums.OrderStatusAwaitingDeposit {
			vehicleOrder = order
		} else {
			shippedOrder = order
		}
	}
	assert.Equal(t, int64(300_000_000), vehicleOrder.TotalAmount)
	assert.True(t, vehicleOrder.TransferOwnership)
	assert.Len(t, shippedOrder.Items, 2)
	assert.Equal(t, int64(14_000_000), shippedOrder.TotalAmount)
	assert.Equal(t, int64(2), f.countOutbox(t, enums.EventOrderCreated))
}

func TestCheckoutRejectsInsufficientStock(t *testing.T) {
	f := newFixture(t)
	battery := f.seedProduct(t, enums.ProductCategoryBattery, 10_000_000, 1)

	_, err := f.svc.Checkout(context.Background(), CheckoutInput{
		BuyerID:         f.buyer.UserID,
		Items:           []CheckoutItem{{ProductID: battery.ID, Quantity: 2}},
		ShippingAddress: "somewhere",
	})
	require.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())

	var count int64
	require.NoError(t, f.db.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCheckoutRejectsOwnListing(t *testing.T) {
	f := newFixture(t)
	battery := f.seedProduct(t, enums.ProductCategoryBattery, 10_000_000, 1)

	_, err := f.svc.Checkout(context.Background(), CheckoutInput{
		BuyerID:         f.seller.UserID,
		Items:           []CheckoutItem{{ProductID: battery.ID, Quantity: 1}},
		ShippingAddress: "somewhere",
	})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestPackagePurchaseCompletesOnPayment(t *testing.T) {
	f := newFixture(t)
	pkg := models.ServicePackage{ID: uuid.New(), Name: "Featured 30d", Price: 300_000, DurationDays: 30, IsActive: true}
	require.NoError(t, f.db.Create(&pkg).Error)

	order, err := f.svc.PurchasePackage(context.Background(), PackagePurchaseInput{BuyerID: f.buyer.UserID, PackageID: pkg.ID})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusAwaitingPayment, order.Status)

	txnType, err := PaymentTypeFor(order)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionTypePackagePurchase, txnType)

	updated, err := f.complete(t, f.payment(order, txnType))
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, updated.Status)
}

func TestUpdateStatusIsCompareAndSwap(t *testing.T) {
	f := newFixture(t)
	order := f.seedVehicleOrder(t, enums.OrderStatusPendingStaffApproval, 100_000_000)
	ctx := context.Background()

	first, err := f.repo.UpdateStatus(ctx, order.ID, enums.OrderStatusPendingStaffApproval, enums.OrderStatusApprovedAwaitingFinal, nil)
	require.NoError(t, err)
	second, err := f.repo.UpdateStatus(ctx, order.ID, enums.OrderStatusPendingStaffApproval, enums.OrderStatusRejected, nil)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, enums.OrderStatusApprovedAwaitingFinal, f.reload(t, order.ID).Status)
}

func TestTransitionRejectsIllegalEdgeAndForeignColumns(t *testing.T) {
	f := newFixture(t)
	order := f.seedVehicleOrder(t, enums.OrderStatusAwaitingDeposit, 100_000_000)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.Transition(context.Background(), tx, TransitionRequest{
			OrderID: order.ID,
			From:    enums.OrderStatusAwaitingDeposit,
			To:      enums.OrderStatusCompleted,
			Actor:   f.staff,
		})
		return err
	})
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.Transition(context.Background(), tx, TransitionRequest{
			OrderID: order.ID,
			From:    enums.OrderStatusAwaitingDeposit,
			To:      enums.OrderStatusCancelled,
			Actor:   f.buyer,
			Updates: map[string]any{"final_total": 1},
		})
		return err
	})
	require.Equal(t, pkgerrors.CodeInternal, pkgerrors.As(err).Code())
	assert.Equal(t, enums.OrderStatusAwaitingDeposit, f.reload(t, order.ID).Status)
}

func TestGetAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.seedVehicleOrder(t, enums.OrderStatusAwaitingDeposit, 100_000_000)
	f.seedVehicleOrder(t, enums.OrderStatusAwaitingDeposit, 120_000_000)

	detail, err := f.svc.Get(ctx, f.buyer, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, detail.Order.ID)
	assert.True(t, strings.Contains(detail.StatusDescription, "deposit"))

	stranger := types.Actor{UserID: uuid.New(), Role: enums.MemberRoleMember}
	_, err = f.svc.Get(ctx, stranger, first.ID)
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	page, err := f.svc.List(ctx, ListParams{Actor: f.buyer, Params: pagination.Params{Limit: 1}})
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	require.NotEmpty(t, page.NextCursor)

	rest, err := f.svc.List(ctx, ListParams{Actor: f.buyer, Params: pagination.Params{Limit: 1, Cursor: page.NextCursor}})
	require.NoError(t, err)
	require.Len(t, rest.Orders, 1)
	assert.NotEqual(t, page.Orders[0].ID, rest.Orders[0].ID)

	_, err = f.svc.List(ctx, ListParams{Actor: f.buyer, Scope: ListScopeAll})
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())

	status := enums.OrderStatusAwaitingDeposit
	all, err := f.svc.List(ctx, ListParams{Actor: f.staff, Scope: ListScopeAll, Status: &status})
	require.NoError(t, err)
	assert.Len(t, all.Orders, 2)
}
