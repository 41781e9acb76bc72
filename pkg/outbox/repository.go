package outbox

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
)

var errNoTx = errors.New("outbox: transaction required")

// Repository reads and writes outbox_events. Every method runs on the
// caller's transaction: inserts commit with the domain change, and the
// publisher holds its row locks until the batch is settled.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errNoTx
	}
	return tx.Create(&event).Error
}

// ClaimPending locks up to limit unpublished rows, oldest first, skipping
// rows another publisher replica already holds. Rows that used up
// maxAttempts are left for the dead-letter table.
func (r *Repository) ClaimPending(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errNoTx
	}
	query := tx.Where("published_at IS NULL")
	if maxAttempts > 0 {
		query = query.Where("attempt_count < ?", maxAttempts)
	}
	var rows []models.OutboxEvent
	err := query.
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublished(tx *gorm.DB, id uuid.UUID) error {
	return updateRow(tx, id, map[string]any{"published_at": time.Now().UTC()})
}

// RecordFailure bumps attempt_count and keeps the broker error for operators.
func (r *Repository) RecordFailure(tx *gorm.DB, id uuid.UUID, cause error) error {
	return updateRow(tx, id, map[string]any{
		"last_error":    clip(cause.Error(), maxDeadLetterError),
		"attempt_count": gorm.Expr("attempt_count + 1"),
	})
}

// Park pins attempt_count at ceiling so ClaimPending never returns the row
// again. published_at stays NULL; the dead letter is the record of it.
func (r *Repository) Park(tx *gorm.DB, id uuid.UUID, cause error, ceiling int) error {
	return updateRow(tx, id, map[string]any{
		"last_error":    clip(cause.Error(), maxDeadLetterError),
		"attempt_count": ceiling,
	})
}

func updateRow(tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	if tx == nil {
		return errNoTx
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(fields).Error
}
