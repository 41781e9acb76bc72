package payments

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository owns the transactions table. Every status or escrow write is a
// conditional update that reports whether this caller won the row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByCode(ctx context.Context, code string) (*models.Transaction, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error)
	Settle(ctx context.Context, id uuid.UUID, update SettleUpdate) (bool, error)
	CancelPendingForOrder(ctx context.Context, orderID uuid.UUID) (int64, error)
	EscrowedForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error)
	ClearEscrow(ctx context.Context, id uuid.UUID) (bool, error)
	HoldEscrow(ctx context.Context, id uuid.UUID) (bool, error)
	RefundedAgainst(ctx context.Context, sourceID uuid.UUID) (int64, error)
	SumSettled(ctx context.Context, orderID uuid.UUID) (int64, error)
	DueForRelease(ctx context.Context, now time.Time, after *SweepCursor, limit int) ([]models.Transaction, error)
	ReleaseEscrow(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	StalePending(ctx context.Context, cutoff time.Time, after *SweepCursor, limit int) ([]models.Transaction, error)
	Expire(ctx context.Context, id uuid.UUID) (bool, error)
}

// SettleUpdate is the gateway outcome written onto a PENDING transaction.
type SettleUpdate struct {
	Status            enums.TransactionStatus
	ResponseCode      string
	GatewayTxnNo      string
	BankCode          string
	CardType          string
	PaymentDate       time.Time
	IsEscrowed        bool
	EscrowReleaseDate *time.Time
}

// SweepCursor is the sort key of the last row a sweep page returned. The next
// page starts strictly after it, so rows that keep failing are not read again
// in the same run.
type SweepCursor struct {
	At time.Time
	ID uuid.UUID
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a transactions repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindByCode(ctx context.Context, code string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("transaction_code = ?", code).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// Settle moves a PENDING row to its gateway outcome. A SUCCESS may also land
// on a CANCELLED row. Any other row is not touched and false is returned.
func (r *repository) Settle(ctx context.Context, id uuid.UUID, update SettleUpdate) (bool, error) {
	from := []enums.TransactionStatus{enums.TransactionStatusPending}
	switch update.Status {
	case enums.TransactionStatusSuccess:
		from = append(from, enums.TransactionStatusCancelled)
	case enums.TransactionStatusFailed:
	default:
		return false, errors.New("settle status must be SUCCESS or FAILED")
	}
	values := map[string]any{
		"status":              update.Status,
		"response_code":       nullable(update.ResponseCode),
		"gateway_txn_no":      nullable(update.GatewayTxnNo),
		"bank_code":           nullable(update.BankCode),
		"card_type":           nullable(update.CardType),
		"payment_date":        update.PaymentDate.UTC(),
		"is_escrowed":         update.IsEscrowed,
		"escrow_release_date": update.EscrowReleaseDate,
		"updated_at":          time.Now().UTC(),
	}
	result := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) CancelPendingForOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("order_id = ? AND status = ?", orderID, enums.TransactionStatusPending).
		Updates(map[string]any{
			"status":     enums.TransactionStatusCancelled,
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

func (r *repository) EscrowedForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ? AND is_escrowed = ?", orderID, enums.TransactionStatusSuccess, true).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

// ClearEscrow drops the escrow flag if it is still set.
func (r *repository) ClearEscrow(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND is_escrowed = ?", id, true).
		Updates(map[string]any{
			"is_escrowed": false,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// HoldEscrow touches a row that is still escrowed so a concurrent release
// waits for the caller's transaction. It reports false once the row has left
// escrow.
func (r *repository) HoldEscrow(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ? AND is_escrowed = ?", id, enums.TransactionStatusSuccess, true).
		Update("updated_at", time.Now().UTC())
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RefundedAgainst totals the SUCCESS refunds already paid out of one payment.
func (r *repository) RefundedAgainst(ctx context.Context, sourceID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("source_transaction_id = ? AND type = ? AND status = ?", sourceID, enums.TransactionTypeRefund, enums.TransactionStatusSuccess).
		Scan(&total).Error
	return total, err
}

// SumSettled totals the successful buyer payments on an order.
func (r *repository) SumSettled(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("order_id = ? AND status = ? AND type <> ?", orderID, enums.TransactionStatusSuccess, enums.TransactionTypeRefund).
		Scan(&total).Error
	return total, err
}

// activeDisputeHold keeps escrow on orders a buyer is disputing.
const activeDisputeHold = "NOT EXISTS (SELECT 1 FROM disputes d WHERE d.order_id = transactions.order_id AND d.status IN ?)"

var activeDisputeStatuses = []enums.DisputeStatus{enums.DisputeStatusOpen, enums.DisputeStatusInProgress}

// DueForRelease reads the (status, is_escrowed, escrow_release_date) index.
// Rows on orders with an active dispute are held back.
func (r *repository) DueForRelease(ctx context.Context, now time.Time, after *SweepCursor, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	query := r.db.WithContext(ctx).
		Where("status = ? AND is_escrowed = ? AND escrow_release_date <= ?", enums.TransactionStatusSuccess, true, now.UTC()).
		Where(activeDisputeHold, activeDisputeStatuses)
	if after != nil {
		query = query.Where("(escrow_release_date > ? OR (escrow_release_date = ? AND id > ?))", after.At, after.At, after.ID)
	}
	err := query.
		Order("escrow_release_date ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ReleaseEscrow clears the flag only while the row is still releasable, so
// two runners racing on one row release it once.
func (r *repository) ReleaseEscrow(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ? AND is_escrowed = ? AND escrow_release_date <= ?", id, enums.TransactionStatusSuccess, true, now.UTC()).
		Where(activeDisputeHold, activeDisputeStatuses).
		Updates(map[string]any{
			"is_escrowed": false,
			"updated_at":  now.UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// StalePending reads the (status, created_at) index.
func (r *repository) StalePending(ctx context.Context, cutoff time.Time, after *SweepCursor, limit int) ([]models.Transaction, error) {
	var rows []models.Transaction
	query := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.TransactionStatusPending, cutoff.UTC())
	if after != nil {
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", after.At, after.At, after.ID)
	}
	err := query.
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) Expire(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, enums.TransactionStatusPending).
		Updates(map[string]any{
			"status":     enums.TransactionStatusCancelled,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
