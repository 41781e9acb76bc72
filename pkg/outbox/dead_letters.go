package outbox

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
)

// maxDeadLetterError bounds error_message; sink errors can embed whole
// response bodies.
const maxDeadLetterError = 1024

// DeadLetters stores events the publisher stopped retrying.
type DeadLetters struct {
	db *gorm.DB
}

func NewDeadLetters(db *gorm.DB) *DeadLetters {
	return &DeadLetters{db: db}
}

// InsertTx writes entry inside the publisher's batch transaction, so the
// dead letter and the terminal mark on the source row commit together.
func (d *DeadLetters) InsertTx(tx *gorm.DB, entry models.OutboxDeadLetter) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		msg := clip(*entry.ErrorMessage, maxDeadLetterError)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// ForEvent returns the dead letter recorded for eventID, or nil.
func (d *DeadLetters) ForEvent(ctx context.Context, eventID uuid.UUID) (*models.OutboxDeadLetter, error) {
	var entry models.OutboxDeadLetter
	err := d.db.WithContext(ctx).Where("event_id = ?", eventID).Order("created_at DESC").Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// clip cuts s to at most n bytes without splitting a UTF-8 sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
