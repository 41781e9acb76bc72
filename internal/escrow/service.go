// Package escrow holds the settlement primitives the scheduler drives: the
// release of escrowed payments to sellers and the expiry of abandoned
// gateway sessions. Every row is settled in its own transaction behind a
// conditional update, so overlapping runs never apply a row twice and one
// bad row never blocks the rest of the batch.
package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/evtrade-backend/internal/ledger"
	"github.com/angelmondragon/evtrade-backend/internal/notifications"
	"github.com/angelmondragon/evtrade-backend/internal/payments"
	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
	"github.com/angelmondragon/evtrade-backend/pkg/money"
	"github.com/angelmondragon/evtrade-backend/pkg/outbox"
	"github.com/angelmondragon/evtrade-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const (
	defaultBatchSize     = 200
	defaultPendingWindow = 2 * time.Hour
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type orderLoader interface {
	LoadOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, error)
}

type notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, msg notifications.Message) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams configure the settlement service. BatchSize and
// PendingWindow fall back to 200 rows and two hours.
type ServiceParams struct {
	Transactions  payments.Repository
	Orders        orderLoader
	Ledger        ledger.Service
	Notifier      notifier
	Outbox        outboxPublisher
	TxRunner      txRunner
	Logger        *logger.Logger
	BatchSize     int
	PendingWindow time.Duration
	Now           func() time.Time
}

// Service releases due escrow and expires stale pending transactions.
type Service struct {
	txns          payments.Repository
	orders        orderLoader
	ledger        ledger.Service
	notifier      notifier
	outbox        outboxPublisher
	tx            txRunner
	logg          *logger.Logger
	batchSize     int
	pendingWindow time.Duration
	now           func() time.Time
}

// Report summarizes one sweep. Skipped rows lost their conditional update to
// a concurrent writer.
type Report struct {
	Scanned int
	Applied int
	Skipped int
	Failed  int
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Transactions == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order loader required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	window := params.PendingWindow
	if window <= 0 {
		window = defaultPendingWindow
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		txns:          params.Transactions,
		orders:        params.Orders,
		ledger:        params.Ledger,
		notifier:      params.Notifier,
		outbox:        params.Outbox,
		tx:            params.TxRunner,
		logg:          params.Logger,
		batchSize:     batch,
		pendingWindow: window,
		now:           now,
	}, nil
}

// ReleaseDue pays out every escrowed SUCCESS transaction whose release date
// has passed: the seller is credited amount minus commission. Due rows are
// read a page at a time and the cursor moves past failed rows, so a row that
// keeps failing never hides the rows behind it.
func (s *Service) ReleaseDue(ctx context.Context) (Report, error) {
	now := s.now().UTC()
	report := Report{}
	var errs error
	var after *payments.SweepCursor
	for {
		if err := ctx.Err(); err != nil {
			return report, multierr.Append(errs, err)
		}
		due, err := s.txns.DueForRelease(ctx, now, after, s.batchSize)
		if err != nil {
			return report, multierr.Append(errs, fmt.Errorf("query due escrow: %w", err))
		}
		report.Scanned += len(due)
		for _, txn := range due {
			released, err := s.release(ctx, txn, now)
			switch {
			case err != nil:
				report.Failed++
				errs = multierr.Append(errs, fmt.Errorf("release %s: %w", txn.TransactionCode, err))
				logCtx := s.logg.WithFields(ctx, map[string]any{
					"transaction_id": txn.ID.String(),
					"order_id":       txn.OrderID.String(),
				})
				s.logg.Error(logCtx, "escrow release failed", err)
			case released:
				report.Applied++
			default:
				report.Skipped++
			}
		}
		if len(due) < s.batchSize {
			break
		}
		last := due[len(due)-1]
		after = &payments.SweepCursor{At: *last.EscrowReleaseDate, ID: last.ID}
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"scanned":  report.Scanned,
		"released": report.Applied,
		"skipped":  report.Skipped,
		"failed":   report.Failed,
	})
	s.logg.Info(logCtx, "escrow release sweep complete")
	return report, errs
}

// releaseBreakdown is the ledger metadata of one release. Gross is the
// escrowed payment and Refunded what partial refunds already took out of it.
type releaseBreakdown struct {
	money.Settlement
	Gross    int64 `json:"gross"`
	Refunded int64 `json:"refunded"`
}

func (s *Service) release(ctx context.Context, txn models.Transaction, now time.Time) (bool, error) {
	released := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txns := s.txns.WithTx(tx)
		swapped, err := txns.ReleaseEscrow(ctx, txn.ID, now)
		if err != nil {
			return err
		}
		if !swapped {
			return nil
		}
		order, err := s.orders.LoadOrder(ctx, tx, txn.OrderID)
		if err != nil {
			return err
		}
		if order.SellerID == nil {
			return fmt.Errorf("order %s has no seller to credit", order.ID)
		}
		refunded, err := txns.RefundedAgainst(ctx, txn.ID)
		if err != nil {
			return fmt.Errorf("sum refunds against %s: %w", txn.TransactionCode, err)
		}
		net := txn.Amount - refunded
		if net <= 0 {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"transaction_id": txn.ID.String(),
				"refunded":       refunded,
			})
			s.logg.Warn(logCtx, "escrowed payment was refunded in full, nothing to credit")
			released = true
			return nil
		}
		breakdown := releaseBreakdown{Settlement: money.Settle(net), Gross: txn.Amount, Refunded: refunded}
		if err := s.recordSettlement(ctx, tx, txn, order, breakdown); err != nil {
			return err
		}
		settlement := breakdown.Settlement

		orderID := order.ID
		if err := s.notifier.Notify(ctx, tx, notifications.Message{
			UserID:  *order.SellerID,
			OrderID: &orderID,
			Type:    enums.NotificationTypeEscrow,
			Title:   "Payment released",
			Body: fmt.Sprintf("%d VND from %s was released to you (commission %d VND).",
				settlement.SellerReceives, txn.TransactionCode, settlement.Commission),
		}); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEscrowReleased,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			OccurredAt:    now,
			Data: payloads.EscrowReleasedEvent{
				TransactionID:  txn.ID,
				OrderID:        order.ID,
				SellerID:       order.SellerID,
				Amount:         settlement.Amount,
				Refunded:       refunded,
				Commission:     settlement.Commission,
				SellerReceives: settlement.SellerReceives,
				ReleasedAt:     now,
			},
		}); err != nil {
			return err
		}
		released = true
		return nil
	})
	return released, err
}

func (s *Service) recordSettlement(ctx context.Context, tx *gorm.DB, txn models.Transaction, order *models.Order, breakdown releaseBreakdown) error {
	metadata, err := json.Marshal(breakdown)
	if err != nil {
		return fmt.Errorf("encode settlement: %w", err)
	}
	settlement := breakdown.Settlement
	txnID := txn.ID
	if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
		OrderID:       order.ID,
		TransactionID: &txnID,
		PartyID:       order.SellerID,
		Type:          enums.LedgerEventTypeSellerCredit,
		Amount:        settlement.SellerReceives,
		Metadata:      metadata,
	}); err != nil {
		return fmt.Errorf("record seller credit: %w", err)
	}
	if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
		OrderID:       order.ID,
		TransactionID: &txnID,
		Type:          enums.LedgerEventTypeCommission,
		Amount:        settlement.Commission,
		Metadata:      metadata,
	}); err != nil {
		return fmt.Errorf("record commission: %w", err)
	}
	return nil
}

// ExpireStale cancels PENDING transactions older than the pending window and
// tells their creator the payment session lapsed. It pages through the stale
// rows the same way ReleaseDue does.
func (s *Service) ExpireStale(ctx context.Context) (Report, error) {
	now := s.now().UTC()
	cutoff := now.Add(-s.pendingWindow)
	report := Report{}
	var errs error
	var after *payments.SweepCursor
	for {
		if err := ctx.Err(); err != nil {
			return report, multierr.Append(errs, err)
		}
		stale, err := s.txns.StalePending(ctx, cutoff, after, s.batchSize)
		if err != nil {
			return report, multierr.Append(errs, fmt.Errorf("query stale pending transactions: %w", err))
		}
		report.Scanned += len(stale)
		for _, txn := range stale {
			expired, err := s.expire(ctx, txn, now)
			switch {
			case err != nil:
				report.Failed++
				errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", txn.TransactionCode, err))
				logCtx := s.logg.WithField(ctx, "transaction_id", txn.ID.String())
				s.logg.Error(logCtx, "pending expiry failed", err)
			case expired:
				report.Applied++
			default:
				report.Skipped++
			}
		}
		if len(stale) < s.batchSize {
			break
		}
		last := stale[len(stale)-1]
		after = &payments.SweepCursor{At: last.CreatedAt, ID: last.ID}
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff.Format(time.RFC3339),
		"scanned": report.Scanned,
		"expired": report.Applied,
		"skipped": report.Skipped,
		"failed":  report.Failed,
	})
	s.logg.Info(logCtx, "pending expiry sweep complete")
	return report, errs
}

func (s *Service) expire(ctx context.Context, txn models.Transaction, now time.Time) (bool, error) {
	expired := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		swapped, err := s.txns.WithTx(tx).Expire(ctx, txn.ID)
		if err != nil {
			return err
		}
		if !swapped {
			return nil
		}
		orderID := txn.OrderID
		if err := s.notifier.Notify(ctx, tx, notifications.Message{
			UserID:  txn.CreatedBy,
			OrderID: &orderID,
			Type:    enums.NotificationTypePayment,
			Title:   "Payment session expired",
			Body:    fmt.Sprintf("Payment %s was not completed in time and has been cancelled. You can start a new payment from your order.", txn.TransactionCode),
		}); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTransactionExpired,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			OccurredAt:    now,
			Data: payloads.TransactionExpiredEvent{
				TransactionID:   txn.ID,
				TransactionCode: txn.TransactionCode,
				OrderID:         txn.OrderID,
				CreatedAt:       txn.CreatedAt,
				ExpiredAt:       now,
			},
		}); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}
