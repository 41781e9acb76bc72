package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/evtrade-backend/pkg/config"
	"github.com/angelmondragon/evtrade-backend/pkg/db/models"
	"github.com/angelmondragon/evtrade-backend/pkg/enums"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
	"github.com/angelmondragon/evtrade-backend/pkg/metrics"
	"github.com/angelmondragon/evtrade-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize   = 50
	defaultPoll        = 500 * time.Millisecond
	defaultMaxAttempts = 10
	publishTimeout     = 15 * time.Second
	maxBackoff         = 10 * time.Second
	jitterWindow       = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

// eventSink is implemented by pkg/pubsub.Client and pkg/kafka.Publisher.
type eventSink interface {
	Ping(context.Context) error
	Publish(ctx context.Context, topic, key string, data []byte, attributes map[string]string) error
}

type outboxRepository interface {
	ClaimPending(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(tx *gorm.DB, id uuid.UUID) error
	RecordFailure(tx *gorm.DB, id uuid.UUID, cause error) error
	Park(tx *gorm.DB, id uuid.UUID, cause error, ceiling int) error
}

type deadLetterWriter interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDeadLetter) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publishGuard interface {
	AlreadyPublished(ctx context.Context, sink string, eventID uuid.UUID) (bool, error)
	MarkPublished(ctx context.Context, sink string, eventID uuid.UUID) (bool, error)
}

type ServiceParams struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          dbClient
	Sink        eventSink
	SinkName    string
	Repository  outboxRepository
	Registry    registryResolver
	DeadLetters deadLetterWriter
	// Guard is optional; without it a crash between publish and commit
	// re-delivers the row.
	Guard   publishGuard
	Metrics *metrics.OutboxMetrics
}

// Service drains outbox_events into the configured sink. Each batch runs in
// one transaction so the claimed rows stay locked until they are settled.
type Service struct {
	logg        *logger.Logger
	db          dbClient
	repo        outboxRepository
	sink        eventSink
	sinkName    string
	registry    registryResolver
	deadLetters deadLetterWriter
	guard       publishGuard
	metrics     *metrics.OutboxMetrics
	batchSize   int
	maxAttempts int
	poll        time.Duration
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.Config == nil:
		return nil, errors.New("config is required")
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.Sink == nil:
		return nil, errors.New("event sink is required")
	case p.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	case p.DeadLetters == nil:
		return nil, errors.New("dead letter store is required")
	}
	sinkName := p.SinkName
	if sinkName == "" {
		sinkName = p.Config.Eventing.Sink
	}
	outboxCfg := p.Config.Outbox
	return &Service{
		logg:        p.Logger,
		db:          p.DB,
		repo:        p.Repository,
		sink:        p.Sink,
		sinkName:    sinkName,
		registry:    p.Registry,
		deadLetters: p.DeadLetters,
		guard:       p.Guard,
		metrics:     p.Metrics,
		batchSize:   positiveOr(outboxCfg.BatchSize, defaultBatchSize),
		maxAttempts: positiveOr(outboxCfg.MaxAttempts, defaultMaxAttempts),
		poll:        time.Duration(positiveOr(outboxCfg.PollIntervalMS, int(defaultPoll/time.Millisecond))) * time.Millisecond,
	}, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Run polls until ctx ends. An empty batch waits one poll interval; a failed
// batch backs off exponentially up to maxBackoff.
func (s *Service) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{"database": s.db.Ping, s.sinkName: s.sink.Ping} {
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	backoff := s.poll
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}
		processed, err := s.processBatch(ctx)
		wait := s.poll
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			backoff = nextBackoff(backoff, s.poll, maxBackoff)
			wait = backoff
		case processed:
			backoff = s.poll
			continue
		default:
			backoff = s.poll
		}
		if err := sleep(ctx, withJitter(wait)); err != nil {
			return err
		}
	}
}

// processBatch claims one batch and settles every row in it. A settle error
// means the outbox tables themselves failed, so the whole batch rolls back.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.ClaimPending(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		processed = len(events) > 0
		for _, event := range events {
			if err := s.settle(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

func (s *Service) settle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return s.deadLetter(ctx, tx, event, "", enums.DeadLetterNonRetryable, err)
	}
	topic := resolved.Descriptor.Topic

	err = s.publish(ctx, event, resolved)
	var nonRetry registry.NonRetryableError
	switch {
	case err == nil:
		if markErr := s.repo.MarkPublished(tx, event.ID); markErr != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, markErr)
		}
		s.metrics.Inc(s.sinkName, string(event.EventType), metrics.OutboxPublished)
		s.logg.Info(s.eventCtx(ctx, event, topic), "outbox event published")
		return nil
	case errors.As(err, &nonRetry):
		return s.deadLetter(ctx, tx, event, topic, enums.DeadLetterNonRetryable, err)
	case event.AttemptCount+1 >= s.maxAttempts:
		return s.deadLetter(ctx, tx, event, topic, enums.DeadLetterMaxAttempts, fmt.Errorf("max publish attempts reached: %w", err))
	}

	s.logg.Warn(s.logg.WithFields(s.eventCtx(ctx, event, topic), map[string]any{
		"error":        err.Error(),
		"next_attempt": event.AttemptCount + 1,
	}), "outbox publish failed")
	if markErr := s.repo.RecordFailure(tx, event.ID, err); markErr != nil {
		return fmt.Errorf("record failure %s: %w", event.ID, markErr)
	}
	s.metrics.Inc(s.sinkName, string(event.EventType), metrics.OutboxRetried)
	return nil
}

// deadLetter copies the row to outbox_dlq and parks it at maxAttempts.
func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, topic string, reason enums.DeadLetterReason, cause error) error {
	s.logg.Warn(s.logg.WithFields(s.eventCtx(ctx, event, topic), map[string]any{
		"error":        cause.Error(),
		"error_reason": reason,
	}), "outbox event will not be retried")

	if err := s.deadLetters.InsertTx(tx, event.DeadLetter(reason, cause, time.Now().UTC())); err != nil {
		return fmt.Errorf("insert dead letter %s: %w", event.ID, err)
	}
	if err := s.repo.Park(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("park %s: %w", event.ID, err)
	}
	s.metrics.Inc(s.sinkName, string(event.EventType), metrics.OutboxDeadLettered)
	return nil
}

// publish sends the stored payload unchanged, keyed by aggregate id so one
// order's events stay ordered on a partitioned sink. Guard failures only
// cost a possible duplicate, so they are logged and ignored.
func (s *Service) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	eventID, parseErr := uuid.Parse(resolved.Envelope.EventID)
	guarded := s.guard != nil && parseErr == nil

	if guarded {
		done, err := s.guard.AlreadyPublished(ctx, s.sinkName, eventID)
		switch {
		case err != nil:
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "publish guard lookup failed")
		case done:
			s.metrics.Inc(s.sinkName, string(event.EventType), metrics.OutboxDuplicate)
			s.logg.Info(s.logg.WithField(ctx, "event_id", eventID.String()), "outbox event already delivered")
			return nil
		}
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	attributes := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
	}
	if err := s.sink.Publish(publishCtx, resolved.Descriptor.Topic, event.AggregateID.String(), event.Payload, attributes); err != nil {
		return err
	}

	if guarded {
		if _, err := s.guard.MarkPublished(ctx, s.sinkName, eventID); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "publish guard mark failed")
		}
	}
	return nil
}

func (s *Service) eventCtx(ctx context.Context, event models.OutboxEvent, topic string) context.Context {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
		"sink":           s.sinkName,
	}
	if topic != "" {
		fields["topic"] = topic
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return s.logg.WithFields(ctx, fields)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, limit time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	return min(current*2, limit)
}

func withJitter(d time.Duration) time.Duration {
	return d + rand.N(jitterWindow)
}
