package payments

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/evtrade-backend/internal/orders"
	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evtrade-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestTransactionCodeFormat(t *testing.T) {
	orderID := uuid.MustParse("5f0c2a7e-6c1b-4d0e-9a77-0e6a2f1c9b10")
	at := time.UnixMilli(1772334000000).UTC()
	assert.Equal(t, "DEPOSIT_5f0c2a7e-6c1b-4d0e-9a77-0e6a2f1c9b10_1772334000000",
		TransactionCode(enums.TransactionTypeDeposit, orderID, at))
}

func TestInitiateCreatesPendingDepositWithSignedURL(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.OrderStatusAwaitingDeposit, 500_000_000)

	result, err := f.svc.Initiate(context.Background(), InitiateInput{OrderID: order.ID, Actor: f.buyer, ClientIP: "10.0.0.1"})
	require.NoError(t, err)

	txn := result.Transaction
	assert.Equal(t, enums.TransactionStatusPending, txn.Status)
	assert.Equal(t, enums.TransactionTypeDeposit, txn.Type)
	assert.Equal(t, int64(50_000_000), txn.Amount)
	assert.Equal(t, f.buyer.UserID, txn.CreatedBy)
	assert.True(t, strings.HasPrefix(txn.TransactionCode, "DEPOSIT_"+order.ID.String()+"_"))

	parsed, err := url.Parse(result.PaymentURL)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "5000000000", q.Get("vnp_Amount"))
	assert.Equal(t, txn.TransactionCode, q.Get("vnp_TxnRef"))
	assert.True(t, f.gateway.Verify(q))

	stored := f.reloadTxn(t, txn.ID)
	assert.Equal(t, enums.TransactionStatusPending, stored.Status)
	assert.Equal(t, int64(1), f.countOutbox(t, enums.EventPaymentInitiated))
}

func TestInitiateGuards(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.OrderStatusAwaitingDeposit, 500_000_000)

	_, err := f.svc.Initiate(context.Background(), InitiateInput{OrderID: order.ID, Actor: f.seller})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())

	waiting := f.seedOrder(t, enums.OrderStatusPendingStaffApproval, 500_000_000)
	_, err = f.svc.Initiate(context.Background(), InitiateInput{OrderID: waiting.ID, Actor: f.buyer})
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	_, err = f.svc.Initiate(context.Background(), InitiateInput{OrderID: uuid.New(), Actor: f.buyer})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	var count int64
	require.NoError(t, f.db.Model(&models.Transaction{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestInitiateCancelsEarlierPendingAttempt(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.OrderStatusAwaitingDeposit, 500_000_000)

	first := f.initiate(t, order.ID)
	f.advance(time.Minute)
	second := f.initiate(t, order.ID)

	assert.NotEqual(t, first.TransactionCode, second.TransactionCode)
	assert.Equal(t, enums.TransactionStatusCancelled, f.reloadTxn(t, first.ID).Status)
	assert.Equal(t, enums.TransactionStatusPending, f.reloadTxn(t, second.ID).Status)
}

func TestLateCaptureOfSupersededAttemptSettles(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.OrderStatusAwaitingDeposit, 500_000_000)
	first := f.initiate(t, order.ID)
	f.advance(time.Minute)
	second := f.initiate(t, order.ID)

	result := f.svc.HandleIPN(context.Background(), f.callback(first, "00"))
	assert.Equal(t, AckSuccess, result.RspCode)

	stored := f.reloadTxn(t, first.ID)
	assert.Equal(t, enums.TransactionStatusSuccess, stored.Status)
	assert.True(t, stored.IsEscrowed)
	assert.Equal(t, enums.OrderStatusPendingStaffApproval, f.reloadOrder(t, order.ID).Status)

	// the buyer also completes the newer session: captured but held for staff
	again := f.svc.HandleIPN(context.Background(), f.callback(second, "00"))
	assert.Equal(t, AckSuccess, again.RspCode)
	held := f.reloadTxn(t, second.ID)
	assert.Equal(t, enums.TransactionStatusSuccess, held.Status)
	assert.False(t, held.IsEscrowed)
	assert.Equal(t, int64(1), f.countOutbox(t, enums.EventPaymentUnmatched))
}

func TestFailureForCancelledAttemptIsAlreadyProcessed(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.OrderStatusAwaitingDeposit, 500_000_000)
	first := f.initiate(t, order.ID)
	f.advance(time.Minute)
	f.initiate(t, order.ID)

	result := f.svc.HandleIPN(context.Background(), f.callback(first, "24"))
	assert.Equal(t, AckAlreadyProcessed, result.RspCode)
	assert.Equal(t, enums.TransactionStatusCancelled, f.reloadTxn(t, first.ID).Status)
	assert.Equal(t, enums.OrderStatusAwaitingDeposit, f.reloadOrder(t, order.ID).Status)
}

func TestIPNSettlesDepositExactlyOnce(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.OrderStatusAwaitingDeposit, 500_000_000)
	txn := f.initiate(t, order.ID)
	params := f.callback(txn, "00")

	first := f.svc.HandleIPN(context.Background(), params)
	assert.Equal(t, AckSuccess, first.RspCode)

	stored := f.reloadTxn(t, txn.ID)
	assert.Equal(t, enums.TransactionStatusSuccess, stored.Status)
	assert.True(t, stored.IsEscrowed)
	require.NotNil(t, stored.PaymentDate)
	require.NotNil(t, stored.EscrowReleaseDate)
	assert.True(t, stored.PaymentDate.Equal(time.Date(2026, 3, 1, 3, 5, 0, 0, time.UTC)))
	assert.True(t, stored.EscrowReleaseDate.Equal(time.Date(2026, 3, 8, 3, 5, 0, 0, time.UTC)))
	require.NotNil(t, stored.BankCode)
	assert.Equal(t, "NCB", *stored.BankCode)
	assert.Equal(t, enums.OrderStatusPendingStaffApproval, f.reloadOrder(t, order.ID).Status)

	second := f.svc.HandleIPN(context.Background(), params)
	assert.Equal(t, AckAlreadyProcessed, second.RspCode)

	// the guard is gone once it expires; the status check still holds
	f.store.keys = map[string]bool{}
	third := f.svc.HandleIPN(context.Background(), params)
	assert.Equal(t, AckAlreadyProcessed, third.RspCode)

	assert.Equal(t, int64(1), f.countOutbox(t, enums.EventPaymentSucceeded))
	assert.Equal(t, int64(1), f.countOutbox(t, enums.EventOrderStatusChanged))
}

func TestIPNRejectsTamperedSignature(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.OrderStatusAwaitingDeposit, 500_000_000)
	txn := f.initiate(t, order.ID)

	params := f.callback(txn, "00")
	params.Set("vnp_BankCode", "EVIL")

	result := f.svc.HandleIPN(context.Background(), params)
	assert.Equal(t, AckInvalidSignature, result.RspCode)
	assert.Equal(t, enums.TransactionStatusPending, f.reloadTxn(t, txn.ID).Status)
	assert.Equal(t, enums.OrderStatusAwaitingDeposit, f.reloadOrder(t, order.ID).Status)

	unsigned := f.callback(txn, "00")
	unsigned.Del("vnp_SecureHash")
	assert.Equal(t, AckInvalidSignature, f.svc.HandleIPN(context.Background(), unsigned).RspCode)
}

func TestIPNRejectsAmountMismatch(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.OrderStatusAwaitingDeposit, 500_000_000)
	txn := f.initiate(t, order.ID)

	forged := *txn
	forged.Amount = 1_000
	result := f.svc.HandleIPN(context.Background(), f.callback(&forged, "00"))

	assert.Equal(t, AckInvalidSignature, result.RspCode)
	assert.Equal(t, enums.TransactionStatusPending, f.reloadTxn(t, txn.ID).Status)
	assert.Empty(t, f.store.keys, "guard released after a rejected callback")
}

func TestIPNUnknownTransaction(t *testing.T) {
	f := newFixture(t)
	ghost := &models.Transaction{TransactionCode: "DEPOSIT_" + uuid.NewString() + "_1", Amount: 10_000}

	result := f.svc.HandleIPN(context.Background(), f.callback(ghost, "00"))
	assert.Equal(t, AckNotFound, result.RspCode)
	assert.Equal(t, "Order not found", result.Message)
	assert.Empty(t, f.store.keys)
}

func TestIPNMalformedPayloadIsUnknownError(t *testing.T) {
	f := newFixture(t)
	params := f.gateway.SignCallback(url.Values{"vnp_TxnRef": {"DEPOSIT_x_1"}, "vnp_Amount": {"abc"}})

	result := f.svc.HandleIPN(context.Background(), params)
	assert.Equal(t, AckUnknownError, result.RspCode)
}

func TestIPNSkipsDeliveryAlreadyInFlight(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.OrderStatusAwaitingDeposit, 500_000_000)
	txn := f.initiate(t, order.ID)
	f.store.keys[f.store.CallbackKey(txn.TransactionCode)] = true

	result := f.svc.HandleIPN(context.Background(), f.callback(txn, "00"))
	assert.Equal(t, AckAlreadyProcessed, result.RspCode)
	assert.Equal(t, enums.TransactionStatusPending, f.reloadTxn(t, txn.ID).Status)
}

func TestFailedPaymentThenRetry(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.OrderStatusAwaitingDeposit, 500_000_000)
	txn := f.initiate(t, order.ID)

	result := f.svc.HandleIPN(context.Background(), f.callback(txn, "24"))
	assert.Equal(t, AckSuccess, result.RspCode)

	stored := f.reloadTxn(t, txn.ID)
	assert.Equal(t, enums.TransactionStatusFailed, stored.Status)
	assert.False(t, stored.IsEscrowed)
	assert.Nil(t, stored.EscrowReleaseDate)

	failed := f.reloadOrder(t, order.ID)
	assert.Equal(t, enums.OrderStatusPaymentFailed, failed.Status)
	require.NotNil(t, failed.PreviousStatus)
	assert.Equal(t, enums.OrderStatusAwaitingDeposit, *failed.PreviousStatus)
	assert.Equal(t, int64(1), f.countOutbox(t, enums.EventPaymentFailed))

	f.advance(time.Minute)
	retry := f.initiate(t, order.ID)
	assert.NotEqual(t, txn.TransactionCode, retry.TransactionCode)
	assert.Equal(t, int64(50_000_000), retry.Amount)

	restored := f.reloadOrder(t, order.ID)
	assert.Equal(t, enums.OrderStatusAwaitingDeposit, restored.Status)
	assert.Nil(t, restored.PreviousStatus)

	assert.Equal(t, AckSuccess, f.svc.HandleIPN(context.Background(), f.callback(retry, "00")).RspCode)
	assert.Equal(t, enums.OrderStatusPendingStaffApproval, f.reloadOrder(t, order.ID).Status)
}

func TestVehicleFlowThroughMockGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.seedOrder(t, enums.OrderStatusAwaitingDeposit, 500_000_000)

	deposit := f.initiate(t, order.ID)
	paid, err := f.svc.MockPay(ctx, MockPayInput{TransactionCode: deposit.TransactionCode, Actor: f.buyer})
	require.NoError(t, err)
	assert.True(t, paid.Success)
	assert.Equal(t, enums.OrderStatusPendingStaffApproval, paid.OrderStatus)

	_, err = f.orders.Approve(ctx, orders.ApproveInput{
		OrderID:             order.ID,
		Actor:               f.staff,
		AppointmentDate:     f.clock.Add(72 * time.Hour),
		TransactionLocation: "Hanoi showroom",
	})
	require.NoError(t, err)

	f.advance(time.Hour)
	final := f.initiate(t, order.ID)
	assert.Equal(t, enums.TransactionTypeFinalPayment, final.Type)
	assert.Equal(t, int64(450_000_000), final.Amount)
	assert.Equal(t, order.TotalAmount, deposit.Amount+final.Amount)

	done, err := f.svc.MockPay(ctx, MockPayInput{TransactionCode: final.TransactionCode, Actor: f.buyer})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCompleted, done.OrderStatus)
	assert.Equal(t, AckSuccess, done.Ack)

	stored := f.reloadTxn(t, final.ID)
	assert.True(t, stored.IsEscrowed)
	require.NotNil(t, stored.GatewayTxnNo)
	assert.True(t, strings.HasPrefix(*stored.GatewayTxnNo, "MOCK"))
}

func TestMockPayGuards(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.OrderStatusAwaitingDeposit, 500_000_000)
	txn := f.initiate(t, order.ID)

	_, err := f.svc.MockPay(context.Background(), MockPayInput{TransactionCode: txn.TransactionCode, Actor: f.seller})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())

	_, err = f.svc.MockPay(context.Background(), MockPayInput{TransactionCode: "missing", Actor: f.buyer})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	disabled := newFixture(t, withoutMock())
	_, err = disabled.svc.MockPay(context.Background(), MockPayInput{TransactionCode: txn.TransactionCode, Actor: f.buyer})
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())
}

func TestReturnReportsOutcomeIdempotently(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.OrderStatusAwaitingDeposit, 500_000_000)
	txn := f.initiate(t, order.ID)
	params := f.callback(txn, "00")

	first, err := f.svc.HandleReturn(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, AckSuccess, first.Ack)
	require.NotNil(t, first.OrderID)
	assert.Equal(t, order.ID, *first.OrderID)
	assert.NotEmpty(t, first.StatusDescription)

	f.store.keys = map[string]bool{}
	again, err := f.svc.HandleReturn(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, AckAlreadyProcessed, again.Ack)
	assert.True(t, again.Success)
	assert.Equal(t, enums.OrderStatusPendingStaffApproval, again.OrderStatus)

	params.Set("vnp_Amount", "1")
	_, err = f.svc.HandleReturn(context.Background(), params)
	assert.Equal(t, pkgerrors.CodeSignature, pkgerrors.As(err).Code())
}

func TestPaymentForOrderThatMovedOnIsHeld(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t, enums.OrderStatusAwaitingDeposit, 500_000_000)
	txn := f.initiate(t, order.ID)
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("status", enums.OrderStatusCancelled).Error)

	result := f.svc.HandleIPN(context.Background(), f.callback(txn, "00"))
	assert.Equal(t, AckSuccess, result.RspCode)

	stored := f.reloadTxn(t, txn.ID)
	assert.Equal(t, enums.TransactionStatusSuccess, stored.Status)
	assert.False(t, stored.IsEscrowed, "unmatched money is never auto-released")
	assert.Equal(t, enums.OrderStatusCancelled, f.reloadOrder(t, order.ID).Status)
	assert.Equal(t, int64(1), f.countOutbox(t, enums.EventPaymentUnmatched))
}
