package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/evtrade-backend/internal/orders"
	"github.com/angelmondragon/evtrade-backend/pkg/db"
	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/evtrade-backend/pkg/errors"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
	"github.com/angelmondragon/evtrade-backend/pkg/metrics"
	"github.com/angelmondragon/evtrade-backend/pkg/money"
	"github.com/angelmondragon/evtrade-backend/pkg/outbox"
	"github.com/angelmondragon/evtrade-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/evtrade-backend/pkg/vnpay"
	"github.com/google/uuid"
	nanoid "github.com/jaevor/go-nanoid"
	"gorm.io/gorm"
)

const (
	sourceIPN    = "ipn"
	sourceReturn = "return"
	sourceMock   = "mock"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type gateway interface {
	PaymentURL(req vnpay.PaymentRequest) (string, error)
	Verify(params url.Values) bool
	SignCallback(params url.Values) url.Values
	MerchantCode() string
}

// Service is the payment gateway adapter: it opens PENDING transactions and
// applies verified gateway callbacks exactly once.
type Service interface {
	Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error)
	HandleIPN(ctx context.Context, params url.Values) Ack
	HandleReturn(ctx context.Context, params url.Values) (*CallbackResult, error)
	MockPay(ctx context.Context, input MockPayInput) (*CallbackResult, error)
}

type ServiceParams struct {
	Repo           Repository
	Orders         orders.Engine
	TxRunner       txRunner
	Outbox         outboxPublisher
	Gateway        gateway
	Guard          *CallbackGuard
	Metrics        *metrics.PaymentMetrics
	Logger         *logger.Logger
	SessionTimeout time.Duration
	MockEnabled    bool
	Now            func() time.Time
}

type service struct {
	repo           Repository
	orders         orders.Engine
	tx             txRunner
	outbox         outboxPublisher
	gateway        gateway
	guard          *CallbackGuard
	metrics        *metrics.PaymentMetrics
	logg           *logger.Logger
	sessionTimeout time.Duration
	mockEnabled    bool
	now            func() time.Time
	mockRef        func() string
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order engine required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.SessionTimeout <= 0 {
		return nil, fmt.Errorf("gateway session timeout must be positive")
	}
	mockRef, err := nanoid.Standard(12)
	if err != nil {
		return nil, fmt.Errorf("mock reference generator: %w", err)
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:           params.Repo,
		orders:         params.Orders,
		tx:             params.TxRunner,
		outbox:         params.Outbox,
		gateway:        params.Gateway,
		guard:          params.Guard,
		metrics:        params.Metrics,
		logg:           params.Logger,
		sessionTimeout: params.SessionTimeout,
		mockEnabled:    params.MockEnabled,
		now:            now,
		mockRef:        mockRef,
	}, nil
}

// TransactionCode builds the gateway reference type_orderId_timestamp.
func TransactionCode(txnType enums.TransactionType, orderID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d", txnType, orderID, at.UnixMilli())
}

// Initiate persists a PENDING transaction for the order's next due payment
// and returns the signed gateway URL. A failed order is restored to the state
// it was waiting in; older PENDING attempts are cancelled.
func (s *service) Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Actor.IsSystem() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	var result *InitiateResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := s.orders.LoadOrder(ctx, tx, input.OrderID)
		if err != nil {
			return err
		}
		if order.BuyerID != input.Actor.UserID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can pay for the order")
		}
		txnType, err := orders.PaymentTypeFor(order)
		if err != nil {
			return err
		}
		amount, err := orders.PaymentAmount(order, txnType)
		if err != nil {
			return err
		}
		if amount <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "nothing is due on this order")
		}

		if order.Status == enums.OrderStatusPaymentFailed {
			order, err = s.orders.Transition(ctx, tx, orders.TransitionRequest{
				OrderID: order.ID,
				From:    enums.OrderStatusPaymentFailed,
				To:      *order.PreviousStatus,
				Actor:   input.Actor,
				Reason:  "payment retry",
				Updates: map[string]any{"previous_status": nil},
			})
			if err != nil {
				return err
			}
		}

		repo := s.repo.WithTx(tx)
		if _, err := repo.CancelPendingForOrder(ctx, order.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel earlier attempts")
		}

		now := s.now()
		txn := &models.Transaction{
			ID:              uuid.New(),
			OrderID:         order.ID,
			Amount:          amount,
			Type:            txnType,
			Status:          enums.TransactionStatusPending,
			TransactionCode: TransactionCode(txnType, order.ID, now),
			Description:     fmt.Sprintf("%s for order %s", strings.ToLower(strings.ReplaceAll(string(txnType), "_", " ")), order.ID),
			CreatedBy:       input.Actor.UserID,
		}
		if err := repo.Create(ctx, txn); err != nil {
			if db.IsUniqueViolation(err, "transaction_code") {
				return pkgerrors.New(pkgerrors.CodeConflict, "a payment for this order was just initiated")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create transaction")
		}

		payURL, err := s.gateway.PaymentURL(vnpay.PaymentRequest{
			TxnRef:    txn.TransactionCode,
			Amount:    txn.Amount,
			OrderInfo: txn.Description,
			ClientIP:  input.ClientIP,
			CreatedAt: now,
			ExpireAt:  now.Add(s.sessionTimeout),
			BankCode:  input.BankCode,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build gateway payment url")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentInitiated,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         outbox.Actor(input.Actor.UserID, input.Actor.RoleString()),
			Data:          paymentEvent(txn, ""),
		}); err != nil {
			return err
		}

		result = &InitiateResult{Transaction: txn, PaymentURL: payURL}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncInitiated(string(result.Transaction.Type))
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":         input.OrderID.String(),
		"transaction_code": result.Transaction.TransactionCode,
		"amount":           result.Transaction.Amount,
	})
	s.logg.Info(logCtx, "payment initiated")
	return result, nil
}

// HandleIPN answers the gateway's server-to-server notification. It never
// fails: every outcome maps onto an acknowledgement code.
func (s *service) HandleIPN(ctx context.Context, params url.Values) Ack {
	result, err := s.process(ctx, sourceIPN, params)
	code := ackFor(result, err)
	s.metrics.IncCallback(sourceIPN, string(code))
	if err != nil {
		s.logCallbackError(ctx, sourceIPN, params.Get("vnp_TxnRef"), code, err)
	}
	return ack(code)
}

// HandleReturn serves the buyer's browser redirect. It applies the callback
// too, so setups without a reachable IPN URL still settle.
func (s *service) HandleReturn(ctx context.Context, params url.Values) (*CallbackResult, error) {
	result, err := s.process(ctx, sourceReturn, params)
	code := ackFor(result, err)
	s.metrics.IncCallback(sourceReturn, string(code))
	if err != nil {
		s.logCallbackError(ctx, sourceReturn, params.Get("vnp_TxnRef"), code, err)
		return nil, err
	}
	return result, nil
}

// MockPay synthesizes a signed gateway callback for a PENDING transaction and
// feeds it through the same verify and apply path.
func (s *service) MockPay(ctx context.Context, input MockPayInput) (*CallbackResult, error) {
	if !s.mockEnabled {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "mock payments are disabled")
	}
	code := strings.TrimSpace(input.TransactionCode)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction code required")
	}
	txn, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	if txn.CreatedBy != input.Actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "transaction belongs to another user")
	}

	responseCode := strings.TrimSpace(input.ResponseCode)
	if responseCode == "" {
		responseCode = vnpay.ResponseCodeSuccess
	}
	params := url.Values{}
	params.Set("vnp_TmnCode", s.gateway.MerchantCode())
	params.Set("vnp_TxnRef", txn.TransactionCode)
	params.Set("vnp_Amount", strconv.FormatInt(money.ToGatewayAmount(txn.Amount), 10))
	params.Set("vnp_ResponseCode", responseCode)
	params.Set("vnp_TransactionStatus", responseCode)
	params.Set("vnp_TransactionNo", "MOCK"+s.mockRef())
	params.Set("vnp_BankCode", "NCB")
	params.Set("vnp_CardType", "ATM")
	params.Set("vnp_OrderInfo", txn.Description)
	params.Set("vnp_PayDate", vnpay.FormatTime(s.now()))

	result, err := s.process(ctx, sourceMock, s.gateway.SignCallback(params))
	s.metrics.IncCallback(sourceMock, string(ackFor(result, err)))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) process(ctx context.Context, source string, params url.Values) (*CallbackResult, error) {
	if !s.gateway.Verify(params) {
		s.metrics.IncInvalidSignature(source)
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event":            "security.signature_invalid",
			"source":           source,
			"transaction_code": params.Get("vnp_TxnRef"),
		})
		s.logg.Warn(logCtx, "gateway callback rejected")
		return nil, pkgerrors.New(pkgerrors.CodeSignature, "invalid gateway signature")
	}
	cb, err := vnpay.ParseCallback(params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed gateway callback")
	}

	held := false
	if s.guard != nil {
		acquired, err := s.guard.Acquire(ctx, cb.TxnRef)
		switch {
		case err != nil:
			s.logg.Warn(s.logg.WithField(ctx, "transaction_code", cb.TxnRef), "callback guard unavailable, relying on status guard")
		case !acquired:
			return s.current(ctx, cb.TxnRef)
		default:
			held = true
		}
	}

	result, err := s.apply(ctx, source, cb)
	if held && (err != nil || result.Ack != AckSuccess) {
		if releaseErr := s.guard.Release(ctx, cb.TxnRef); releaseErr != nil {
			s.logg.Error(s.logg.WithField(ctx, "transaction_code", cb.TxnRef), "release callback guard", releaseErr)
		}
	}
	return result, err
}

// apply settles the transaction and drives the order in one database
// transaction. SUCCESS and FAILED rows are acknowledged as already processed
// and nothing is written.
func (s *service) apply(ctx context.Context, source string, cb vnpay.Callback) (*CallbackResult, error) {
	var result *CallbackResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		txn, err := repo.FindByCode(ctx, cb.TxnRef)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
		}
		if !txn.Type.IsPayment() {
			return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		if !settleable(txn.Status, cb.Succeeded()) {
			result = s.describe(ctx, tx, txn, AckAlreadyProcessed)
			return nil
		}
		if txn.Status == enums.TransactionStatusCancelled {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"source":           source,
				"transaction_code": txn.TransactionCode,
				"order_id":         txn.OrderID.String(),
			})
			s.logg.Warn(logCtx, "gateway captured a cancelled payment session, settling it")
		}
		if cb.Amount != txn.Amount {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"event":            "security.amount_mismatch",
				"source":           source,
				"transaction_code": txn.TransactionCode,
				"expected":         txn.Amount,
				"received":         cb.Amount,
			})
			s.logg.Warn(logCtx, "gateway callback amount mismatch")
			return pkgerrors.New(pkgerrors.CodeSignature, "callback amount does not match transaction")
		}

		paidAt := s.now()
		if cb.PayDate != nil {
			paidAt = cb.PayDate.UTC()
		}
		success := cb.Succeeded()
		update := SettleUpdate{
			Status:       enums.TransactionStatusFailed,
			ResponseCode: cb.ResponseCode,
			GatewayTxnNo: cb.GatewayTxnNo,
			BankCode:     cb.BankCode,
			CardType:     cb.CardType,
			PaymentDate:  paidAt,
		}
		if success {
			update.Status = enums.TransactionStatusSuccess
			if txn.Type.IsEscrowed() {
				release := money.EscrowReleaseAt(paidAt)
				update.IsEscrowed = true
				update.EscrowReleaseDate = &release
			}
		}

		swapped, err := repo.Settle(ctx, txn.ID, update)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle transaction")
		}
		if !swapped {
			current, err := repo.FindByID(ctx, txn.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload transaction")
			}
			result = s.describe(ctx, tx, current, AckAlreadyProcessed)
			return nil
		}
		txn = applySettle(txn, update)

		var order *models.Order
		eventType := enums.EventPaymentFailed
		if success {
			eventType = enums.EventPaymentSucceeded
			order, err = s.orders.CompletePayment(ctx, tx, txn)
			if err != nil {
				if !unmatched(err) {
					return err
				}
				order, err = s.holdUnmatched(ctx, tx, txn, err)
				if err != nil {
					return err
				}
			}
		} else {
			order, err = s.orders.FailPayment(ctx, tx, txn)
			if err != nil {
				return err
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         outbox.Actor(txn.CreatedBy, string(enums.MemberRoleMember)),
			Data:          paymentEvent(txn, ""),
		}); err != nil {
			return err
		}

		result = buildResult(txn, order, AckSuccess)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"source":           source,
		"transaction_code": cb.TxnRef,
		"code":             string(result.Ack),
		"status":           string(result.TransactionStatus),
	})
	s.logg.Info(logCtx, "gateway callback handled")
	return result, nil
}

// holdUnmatched keeps a captured payment whose order can no longer accept it
// out of escrow release and flags it for staff.
func (s *service) holdUnmatched(ctx context.Context, tx *gorm.DB, txn *models.Transaction, cause error) (*models.Order, error) {
	if _, err := s.repo.WithTx(tx).ClearEscrow(ctx, txn.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "hold unmatched payment")
	}
	txn.IsEscrowed = false
	txn.EscrowReleaseDate = nil

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentUnmatched,
		AggregateType: enums.AggregateTransaction,
		AggregateID:   txn.ID,
		Data:          paymentEvent(txn, cause.Error()),
	}); err != nil {
		return nil, err
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"transaction_code": txn.TransactionCode,
		"order_id":         txn.OrderID.String(),
	})
	s.logg.Error(logCtx, "settled payment does not match order state", cause)
	return s.orders.LoadOrder(ctx, tx, txn.OrderID)
}

func (s *service) current(ctx context.Context, code string) (*CallbackResult, error) {
	txn, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return s.describe(ctx, nil, txn, AckAlreadyProcessed), nil
}

func (s *service) describe(ctx context.Context, tx *gorm.DB, txn *models.Transaction, code AckCode) *CallbackResult {
	order, err := s.orders.LoadOrder(ctx, tx, txn.OrderID)
	if err != nil {
		return buildResult(txn, nil, code)
	}
	return buildResult(txn, order, code)
}

func (s *service) logCallbackError(ctx context.Context, source, code string, ackCode AckCode, err error) {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"source":           source,
		"transaction_code": code,
		"code":             string(ackCode),
	})
	switch ackCode {
	case AckInvalidSignature, AckNotFound:
		s.logg.Warn(logCtx, err.Error())
	default:
		s.logg.Error(logCtx, "gateway callback failed", err)
	}
}

func ackFor(result *CallbackResult, err error) AckCode {
	if err == nil {
		if result == nil {
			return AckUnknownError
		}
		return result.Ack
	}
	switch pkgerrors.As(err).Code() {
	case pkgerrors.CodeSignature:
		return AckInvalidSignature
	case pkgerrors.CodeNotFound:
		return AckNotFound
	default:
		return AckUnknownError
	}
}

// unmatched reports engine rejections that mean the order moved on while the
// buyer was paying.
// settleable reports whether a callback may still write its outcome. A
// CANCELLED attempt (superseded by a retry, a dispute or the expiry sweep) only
// accepts a success: the gateway captured the money after we gave up on it.
func settleable(status enums.TransactionStatus, success bool) bool {
	switch status {
	case enums.TransactionStatusPending:
		return true
	case enums.TransactionStatusCancelled:
		return success
	default:
		return false
	}
}

func unmatched(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) ||
		pkgerrors.IsCode(err, pkgerrors.CodeForbidden) ||
		pkgerrors.IsCode(err, pkgerrors.CodeValidation)
}

func applySettle(txn *models.Transaction, update SettleUpdate) *models.Transaction {
	paidAt := update.PaymentDate
	txn.Status = update.Status
	txn.ResponseCode = nullable(update.ResponseCode)
	txn.GatewayTxnNo = nullable(update.GatewayTxnNo)
	txn.BankCode = nullable(update.BankCode)
	txn.CardType = nullable(update.CardType)
	txn.PaymentDate = &paidAt
	txn.IsEscrowed = update.IsEscrowed
	txn.EscrowReleaseDate = update.EscrowReleaseDate
	return txn
}

func buildResult(txn *models.Transaction, order *models.Order, code AckCode) *CallbackResult {
	result := &CallbackResult{
		Ack:               code,
		Success:           txn.Status == enums.TransactionStatusSuccess,
		TransactionCode:   txn.TransactionCode,
		TransactionStatus: txn.Status,
	}
	if order != nil {
		orderID := order.ID
		result.OrderID = &orderID
		result.OrderStatus = order.Status
		result.StatusDescription = order.Status.Description()
	}
	return result
}

func paymentEvent(txn *models.Transaction, detail string) payloads.PaymentEvent {
	event := payloads.PaymentEvent{
		TransactionID:   txn.ID,
		TransactionCode: txn.TransactionCode,
		OrderID:         txn.OrderID,
		Type:            txn.Type,
		Status:          txn.Status,
		Amount:          txn.Amount,
		Detail:          detail,
	}
	if txn.ResponseCode != nil {
		event.ResponseCode = *txn.ResponseCode
	}
	return event
}
