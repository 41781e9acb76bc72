package refunds

import (
	"context"
	"time"

	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	"github.com/angelmondragon/evtrade-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists refunds. Status writes are conditional on the current
// status.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, refund *models.Refund) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.RefundStatus, updates map[string]any) (bool, error)
	SumPending(ctx context.Context, orderID uuid.UUID) (int64, error)
	PendingForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error)
	HasActiveDispute(ctx context.Context, orderID uuid.UUID) (bool, error)
	List(ctx context.Context, filters ListFilters, params pagination.Params) (*ListResult, error)
}

// ListFilters narrows refund listings. Nil fields are not applied.
type ListFilters struct {
	Status  *enums.RefundStatus
	OrderID *uuid.UUID
	BuyerID *uuid.UUID
}

// ListResult is a page of refunds.
type ListResult struct {
	Refunds    []models.Refund `json:"refunds"`
	NextCursor string          `json:"next_cursor,omitempty"`
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

func (r *repository) Create(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	var refund models.Refund
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&refund).Error; err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.RefundStatus, updates map[string]any) (bool, error) {
	values := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for column, value := range updates {
		values[column] = value
	}
	result := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) SumPending(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("order_id = ? AND status IN ?", orderID, []enums.RefundStatus{enums.RefundStatusPending, enums.RefundStatusProcessing}).
		Scan(&total).Error
	return total, err
}

func (r *repository) PendingForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error) {
	var rows []models.Refund
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status IN ?", orderID, []enums.RefundStatus{enums.RefundStatusPending, enums.RefundStatusProcessing}).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) HasActiveDispute(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("order_id = ? AND status IN ?", orderID, []enums.DisputeStatus{enums.DisputeStatusOpen, enums.DisputeStatusInProgress}).
		Count(&count).Error
	return count > 0, err
}

func (r *repository) List(ctx context.Context, filters ListFilters, params pagination.Params) (*ListResult, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).Model(&models.Refund{}).Select("refunds.*")
	if filters.BuyerID != nil {
		query = query.Joins("JOIN orders ON orders.id = refunds.order_id").
			Where("orders.buyer_id = ?", *filters.BuyerID)
	}
	if filters.OrderID != nil {
		query = query.Where("refunds.order_id = ?", *filters.OrderID)
	}
	if filters.Status != nil {
		query = query.Where("refunds.status = ?", *filters.Status)
	}

	var rows []models.Refund
	if err := query.Scopes(pagination.Keyset("refunds", cursor, limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	rows, next := pagination.Trim(rows, limit, func(rf models.Refund) pagination.Cursor {
		return pagination.Cursor{CreatedAt: rf.CreatedAt, ID: rf.ID}
	})
	return &ListResult{Refunds: rows, NextCursor: pagination.Token(next)}, nil
}
