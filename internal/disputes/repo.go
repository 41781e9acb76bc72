package disputes

import (
	"context"
	"time"

	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	"github.com/angelmondragon/evtrade-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists disputes. A partial unique index allows one active
// dispute per order.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, dispute *models.Dispute) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from []enums.DisputeStatus, to enums.DisputeStatus, updates map[string]any) (bool, error)
	List(ctx context.Context, filters ListFilters, params pagination.Params) (*ListResult, error)
}

// ListFilters narrows dispute listings. Nil fields are not applied.
type ListFilters struct {
	Status   *enums.DisputeStatus
	OrderID  *uuid.UUID
	RaisedBy *uuid.UUID
}

// ListResult is a page of disputes.
type ListResult struct {
	Disputes   []models.Dispute `json:"disputes"`
	NextCursor string           `json:"next_cursor,omitempty"`
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

func (r *repository) Create(ctx context.Context, dispute *models.Dispute) error {
	return r.db.WithContext(ctx).Create(dispute).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var dispute models.Dispute
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&dispute).Error; err != nil {
		return nil, err
	}
	return &dispute, nil
}

// UpdateStatus moves the dispute to `to` only while it is still in one of
// `from`.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from []enums.DisputeStatus, to enums.DisputeStatus, updates map[string]any) (bool, error) {
	values := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for column, value := range updates {
		values[column] = value
	}
	result := r.db.WithContext(ctx).
		Model(&models.Dispute{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) List(ctx context.Context, filters ListFilters, params pagination.Params) (*ListResult, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).Model(&models.Dispute{})
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.OrderID != nil {
		query = query.Where("order_id = ?", *filters.OrderID)
	}
	if filters.RaisedBy != nil {
		query = query.Where("raised_by = ?", *filters.RaisedBy)
	}

	var rows []models.Dispute
	if err := query.Scopes(pagination.Keyset("", cursor, limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	rows, next := pagination.Trim(rows, limit, func(d models.Dispute) pagination.Cursor {
		return pagination.Cursor{CreatedAt: d.CreatedAt, ID: d.ID}
	})
	return &ListResult{Disputes: rows, NextCursor: pagination.Token(next)}, nil
}
