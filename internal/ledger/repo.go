package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
)

// Repository reads and appends ledger rows. There is no update or delete:
// a correction is a new row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.LedgerEvent) error
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error)
	Totals(ctx context.Context, orderID uuid.UUID) (map[enums.LedgerEventType]int64, error)
	Exists(ctx context.Context, orderID uuid.UUID, eventType enums.LedgerEventType) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, event *models.LedgerEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// ListByOrderID returns the order's movements oldest first.
func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.LedgerEvent, error) {
	var events []models.LedgerEvent
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at, id").
		Find(&events).Error
	return events, err
}

func (r *repository) Totals(ctx context.Context, orderID uuid.UUID) (map[enums.LedgerEventType]int64, error) {
	var rows []struct {
		Type  enums.LedgerEventType
		Total int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEvent{}).
		Select("type, COALESCE(SUM(amount), 0) AS total").
		Where("order_id = ?", orderID).
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	totals := make(map[enums.LedgerEventType]int64, len(rows))
	for _, row := range rows {
		totals[row.Type] = row.Total
	}
	return totals, nil
}

func (r *repository) Exists(ctx context.Context, orderID uuid.UUID, eventType enums.LedgerEventType) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEvent{}).
		Where("order_id = ? AND type = ?", orderID, eventType).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}
