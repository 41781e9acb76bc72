package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActorRef is who caused the event; cron-driven events have none.
type ActorRef struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role,omitempty"`
}

// PayloadEnvelope is the JSON stored in outbox_events.payload and delivered
// to the sink unchanged. EventID equals the outbox row id, so consumers can
// dedupe on it across re-deliveries.
type PayloadEnvelope struct {
	Version     int             `json:"version"`
	EventID     string          `json:"eventId"`
	EventType   string          `json:"eventType,omitempty"`
	AggregateID string          `json:"aggregateId,omitempty"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Actor       *ActorRef       `json:"actor,omitempty"`
	Data        json.RawMessage `json:"data"`
}

func Actor(userID uuid.UUID, role string) *ActorRef {
	if userID == uuid.Nil {
		return nil
	}
	return &ActorRef{UserID: userID, Role: role}
}
