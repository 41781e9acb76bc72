package refunds

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/evtrade-backend/internal/orders"
	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evtrade-backend/pkg/errors"
	"github.com/angelmondragon/evtrade-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
	_, err = NewCompensator(nil, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestCompensateRefundsEachEscrowedTransaction(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.OrderStatusDisputed, 500_000_000)
	deposit := f.seedPaid(t, order, enums.TransactionTypeDeposit, 50_000_000, true, 48*time.Hour)
	final := f.seedPaid(t, order, enums.TransactionTypeFinalPayment, 450_000_000, true, 24*time.Hour)
	disputeID := uuid.New()

	var comp *Compensation
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		comp, err = f.comp.Compensate(context.Background(), tx, CompensateInput{
			Order:     order,
			DisputeID: &disputeID,
			Actor:     f.staff,
			Reason:    "dispute approved",
		})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, enums.RefundStatusCompleted, comp.Refund.Status)
	assert.Equal(t, int64(500_000_000), comp.Refund.Amount)
	assert.Equal(t, enums.RefundMethodGateway, comp.Refund.Method)
	require.Len(t, comp.Transactions, 2)

	refunds := f.refundTxns(t, order.ID)
	require.Len(t, refunds, 2)
	sources := map[uuid.UUID]int64{}
	for _, txn := range refunds {
		assert.Equal(t, enums.TransactionStatusSuccess, txn.Status)
		require.NotNil(t, txn.SourceTransactionID)
		require.NotNil(t, txn.RefundID)
		assert.Equal(t, comp.Refund.ID, *txn.RefundID)
		sources[*txn.SourceTransactionID] = txn.Amount
	}
	assert.Equal(t, int64(50_000_000), sources[deposit.ID])
	assert.Equal(t, int64(450_000_000), sources[final.ID])

	assert.False(t, f.reloadTxn(t, deposit.ID).IsEscrowed)
	assert.False(t, f.reloadTxn(t, final.ID).IsEscrowed)

	stored, err := f.repo.FindByID(context.Background(), comp.Refund.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.DisputeID)
	assert.Equal(t, disputeID, *stored.DisputeID)
	require.NotNil(t, stored.ProcessedBy)
	assert.Equal(t, f.staff.UserID, *stored.ProcessedBy)

	assert.Equal(t, int64(2), f.count(t, &models.LedgerEvent{}, "order_id = ? AND type = ?", order.ID, enums.LedgerEventTypeRefund))
	assert.Equal(t, int64(1), f.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventRefundCompleted))
}

func TestCompensateFallsBackToOutstandingBalance(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.OrderStatusDisputed, 2_000_000)
	f.seedPaid(t, order, enums.TransactionTypeBatteryPayment, 2_000_000, false, 10*24*time.Hour)
	f.seedPaid(t, order, enums.TransactionTypeRefund, 500_000, false, 24*time.Hour)

	var comp *Compensation
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		comp, err = f.comp.Compensate(context.Background(), tx, CompensateInput{Order: order, Actor: f.staff, Reason: "late claim"})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000), comp.Refund.Amount)
	require.Len(t, comp.Transactions, 1)
	assert.Nil(t, comp.Transactions[0].SourceTransactionID)
	assert.Equal(t, "REFUND_"+comp.Transactions[0].ID.String(), comp.Transactions[0].TransactionCode)
}

func TestCompensateWithoutFundsIsConflict(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.OrderStatusDisputed, 2_000_000)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.comp.Compensate(context.Background(), tx, CompensateInput{Order: order, Actor: f.staff, Reason: "nothing paid"})
		return err
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, int64(0), f.count(t, &models.Refund{}, "order_id = ?", order.ID))
}

func TestStaffRejectRefundsEscrowedDeposit(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.OrderStatusPendingStaffApproval, 500_000_000)
	deposit := f.seedPaid(t, order, enums.TransactionTypeDeposit, 50_000_000, true, 2*time.Hour)

	updated, err := f.orders.Reject(context.Background(), orders.RejectInput{
		OrderID: order.ID,
		Actor:   f.staff,
		Reason:  "registration papers missing",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusRejected, updated.Status)

	refunds := f.refundTxns(t, order.ID)
	require.Len(t, refunds, 1)
	assert.Equal(t, int64(50_000_000), refunds[0].Amount)
	require.NotNil(t, refunds[0].SourceTransactionID)
	assert.Equal(t, deposit.ID, *refunds[0].SourceTransactionID)
	assert.False(t, f.reloadTxn(t, deposit.ID).IsEscrowed)
	assert.Equal(t, int64(1), f.count(t, &models.Refund{}, "order_id = ? AND status = ?", order.ID, enums.RefundStatusCompleted))
}

func TestManualRefundApproveConsumesEscrowAndResolvesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusCompleted, 500_000_000)
	f.seedPaid(t, order, enums.TransactionTypeDeposit, 50_000_000, false, 10*24*time.Hour)
	final := f.seedPaid(t, order, enums.TransactionTypeFinalPayment, 450_000_000, true, 24*time.Hour)

	refund, err := f.svc.CreateManual(ctx, ManualInput{
		OrderID: order.ID,
		Actor:   f.staff,
		Amount:  450_000_000,
		Reason:  "vehicle returned",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusPending, refund.Status)
	assert.Equal(t, enums.RefundMethodBankTransfer, refund.Method)

	processed, err := f.svc.Process(ctx, ProcessInput{RefundID: refund.ID, Actor: f.staff, Approve: true})
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusCompleted, processed.Status)

	refunds := f.refundTxns(t, order.ID)
	require.Len(t, refunds, 1)
	require.NotNil(t, refunds[0].SourceTransactionID)
	assert.Equal(t, final.ID, *refunds[0].SourceTransactionID)
	assert.False(t, f.reloadTxn(t, final.ID).IsEscrowed)
	assert.Equal(t, enums.OrderStatusResolvedWithRefund, f.reloadOrder(t, order.ID).Status)
	assert.Equal(t, int64(2), f.count(t, &models.Notification{}, "user_id = ? AND type = ?", f.buyer.UserID, enums.NotificationTypeRefund))

	_, err = f.svc.Process(ctx, ProcessInput{RefundID: refund.ID, Actor: f.staff, Approve: true})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestManualRefundPartialAmountKeepsRemainderEscrowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusCompleted, 500_000_000)
	final := f.seedPaid(t, order, enums.TransactionTypeFinalPayment, 450_000_000, true, 24*time.Hour)

	refund, err := f.svc.CreateManual(ctx, ManualInput{OrderID: order.ID, Actor: f.staff, Amount: 10_000_000, Reason: "scratched bumper"})
	require.NoError(t, err)
	_, err = f.svc.Process(ctx, ProcessInput{RefundID: refund.ID, Actor: f.staff, Approve: true, Note: "goodwill"})
	require.NoError(t, err)

	refunds := f.refundTxns(t, order.ID)
	require.Len(t, refunds, 1)
	require.NotNil(t, refunds[0].SourceTransactionID)
	assert.Equal(t, final.ID, *refunds[0].SourceTransactionID)
	assert.Equal(t, int64(10_000_000), refunds[0].Amount)
	assert.True(t, f.reloadTxn(t, final.ID).IsEscrowed)

	taken, err := f.txns.RefundedAgainst(ctx, final.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), taken)

	// a second refund for the rest empties the row and takes it out of escrow
	rest, err := f.svc.CreateManual(ctx, ManualInput{OrderID: order.ID, Actor: f.staff, Amount: 440_000_000, Reason: "vehicle returned"})
	require.NoError(t, err)
	_, err = f.svc.Process(ctx, ProcessInput{RefundID: rest.ID, Actor: f.staff, Approve: true})
	require.NoError(t, err)

	refunds = f.refundTxns(t, order.ID)
	require.Len(t, refunds, 2)
	assert.NotEqual(t, refunds[0].TransactionCode, refunds[1].TransactionCode)
	require.NotNil(t, refunds[1].SourceTransactionID)
	assert.Equal(t, final.ID, *refunds[1].SourceTransactionID)
	assert.Equal(t, int64(440_000_000), refunds[1].Amount)
	assert.False(t, f.reloadTxn(t, final.ID).IsEscrowed)
}

func TestCompensateSupersedesPendingManualRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusCompleted, 1_000_000)
	f.seedPaid(t, order, enums.TransactionTypeBatteryPayment, 1_000_000, true, 24*time.Hour)

	manual, err := f.svc.CreateManual(ctx, ManualInput{OrderID: order.ID, Actor: f.staff, Amount: 1_000_000, Reason: "battery swelling"})
	require.NoError(t, err)

	var comp *Compensation
	err = f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		comp, err = f.comp.Compensate(ctx, tx, CompensateInput{Order: order, Actor: f.staff, Reason: "dispute approved"})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), comp.Refund.Amount)

	stored, err := f.repo.FindByID(ctx, manual.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusRejected, stored.Status)
	require.NotNil(t, stored.Note)
	assert.Contains(t, *stored.Note, comp.Refund.ID.String())

	_, err = f.svc.Process(ctx, ProcessInput{RefundID: manual.ID, Actor: f.staff, Approve: true})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	var paid int64
	for _, txn := range f.refundTxns(t, order.ID) {
		paid += txn.Amount
	}
	assert.Equal(t, int64(1_000_000), paid)
	assert.Equal(t, int64(1), f.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventRefundRejected))
}

func TestManualRefundApproveRechecksRefundableAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusCompleted, 3_000_000)
	f.seedPaid(t, order, enums.TransactionTypeBatteryPayment, 3_000_000, false, 10*24*time.Hour)

	refund, err := f.svc.CreateManual(ctx, ManualInput{OrderID: order.ID, Actor: f.staff, Amount: 2_000_000, Reason: "missing charger"})
	require.NoError(t, err)

	// money went back to the buyer after the refund was opened
	f.seedPaid(t, order, enums.TransactionTypeRefund, 1_500_000, false, time.Hour)

	_, err = f.svc.Process(ctx, ProcessInput{RefundID: refund.ID, Actor: f.staff, Approve: true})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	stored, err := f.repo.FindByID(ctx, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusPending, stored.Status)
	assert.Len(t, f.refundTxns(t, order.ID), 1)
}

func TestManualRefundBoundedByRefundableAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusCompleted, 3_000_000)
	f.seedPaid(t, order, enums.TransactionTypeBatteryPayment, 3_000_000, true, 24*time.Hour)

	_, err := f.svc.CreateManual(ctx, ManualInput{OrderID: order.ID, Actor: f.staff, Amount: 3_000_001, Reason: "too much"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.CreateManual(ctx, ManualInput{OrderID: order.ID, Actor: f.staff, Amount: 2_000_000, Reason: "first"})
	require.NoError(t, err)

	// the pending refund reserves its amount
	_, err = f.svc.CreateManual(ctx, ManualInput{OrderID: order.ID, Actor: f.staff, Amount: 1_500_000, Reason: "second"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestManualRefundGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusCompleted, 3_000_000)
	f.seedPaid(t, order, enums.TransactionTypeBatteryPayment, 3_000_000, true, 24*time.Hour)

	_, err := f.svc.CreateManual(ctx, ManualInput{OrderID: order.ID, Actor: f.buyer, Amount: 1_000, Reason: "please"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = f.svc.CreateManual(ctx, ManualInput{OrderID: order.ID, Actor: f.staff, Amount: 0, Reason: "zero"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.CreateManual(ctx, ManualInput{OrderID: order.ID, Actor: f.staff, Amount: 1_000, Reason: "  "})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.CreateManual(ctx, ManualInput{OrderID: uuid.New(), Actor: f.staff, Amount: 1_000, Reason: "ghost"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	f.seedDispute(t, order, enums.DisputeStatusOpen)
	_, err = f.svc.CreateManual(ctx, ManualInput{OrderID: order.ID, Actor: f.staff, Amount: 1_000, Reason: "during dispute"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestManualRefundRejectLeavesOrderUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusCompleted, 3_000_000)
	battery := f.seedPaid(t, order, enums.TransactionTypeBatteryPayment, 3_000_000, true, 24*time.Hour)

	refund, err := f.svc.CreateManual(ctx, ManualInput{OrderID: order.ID, Actor: f.staff, Amount: 3_000_000, Reason: "buyer changed mind"})
	require.NoError(t, err)

	_, err = f.svc.Process(ctx, ProcessInput{RefundID: refund.ID, Actor: f.staff})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	rejected, err := f.svc.Process(ctx, ProcessInput{RefundID: refund.ID, Actor: f.staff, Note: "outside return window"})
	require.NoError(t, err)
	assert.Equal(t, enums.RefundStatusRejected, rejected.Status)
	require.NotNil(t, rejected.Note)
	assert.Equal(t, "outside return window", *rejected.Note)

	assert.Equal(t, enums.OrderStatusCompleted, f.reloadOrder(t, order.ID).Status)
	assert.True(t, f.reloadTxn(t, battery.ID).IsEscrowed)
	assert.Empty(t, f.refundTxns(t, order.ID))
	assert.Equal(t, int64(1), f.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventRefundRejected))
}

func TestGetAndListScopeMembersToTheirOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusCompleted, 3_000_000)
	f.seedPaid(t, order, enums.TransactionTypeBatteryPayment, 3_000_000, true, 24*time.Hour)

	refund, err := f.svc.CreateManual(ctx, ManualInput{OrderID: order.ID, Actor: f.staff, Amount: 1_000_000, Reason: "partial"})
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, f.buyer, refund.ID)
	require.NoError(t, err)
	assert.Equal(t, refund.ID, got.ID)

	_, err = f.svc.Get(ctx, f.seller, refund.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	list, err := f.svc.List(ctx, ListParams{Actor: f.buyer, Params: pagination.Params{Limit: 10}})
	require.NoError(t, err)
	require.Len(t, list.Refunds, 1)

	list, err = f.svc.List(ctx, ListParams{Actor: f.seller, Params: pagination.Params{Limit: 10}})
	require.NoError(t, err)
	assert.Empty(t, list.Refunds)

	pending := enums.RefundStatusPending
	list, err = f.svc.List(ctx, ListParams{Actor: f.staff, Status: &pending, Params: pagination.Params{Limit: 10}})
	require.NoError(t, err)
	require.Len(t, list.Refunds, 1)
}
