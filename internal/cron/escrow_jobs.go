package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/evtrade-backend/internal/escrow"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
)

const (
	EscrowReleaseJobName = "escrow-release"
	PendingExpiryJobName = "pending-expiry"
)

type escrowReleaser interface {
	ReleaseDue(ctx context.Context) (escrow.Report, error)
}

type pendingExpirer interface {
	ExpireStale(ctx context.Context) (escrow.Report, error)
}

// EscrowReleaseJobParams configure the daily escrow release.
type EscrowReleaseJobParams struct {
	Logger   *logger.Logger
	Releaser escrowReleaser
}

// NewEscrowReleaseJob builds the job that pays due escrow out to sellers.
func NewEscrowReleaseJob(params EscrowReleaseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Releaser == nil {
		return nil, fmt.Errorf("escrow releaser required")
	}
	return &escrowReleaseJob{logg: params.Logger, releaser: params.Releaser}, nil
}

type escrowReleaseJob struct {
	logg     *logger.Logger
	releaser escrowReleaser
}

func (j *escrowReleaseJob) Name() string { return EscrowReleaseJobName }

func (j *escrowReleaseJob) Run(ctx context.Context) error {
	report, err := j.releaser.ReleaseDue(ctx)
	logReport(ctx, j.logg, report)
	if err != nil {
		return fmt.Errorf("escrow release: %w", err)
	}
	return nil
}

// PendingExpiryJobParams configure the hourly pending transaction sweep.
type PendingExpiryJobParams struct {
	Logger  *logger.Logger
	Expirer pendingExpirer
}

// NewPendingExpiryJob builds the job that cancels abandoned gateway sessions.
func NewPendingExpiryJob(params PendingExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Expirer == nil {
		return nil, fmt.Errorf("pending expirer required")
	}
	return &pendingExpiryJob{logg: params.Logger, expirer: params.Expirer}, nil
}

type pendingExpiryJob struct {
	logg    *logger.Logger
	expirer pendingExpirer
}

func (j *pendingExpiryJob) Name() string { return PendingExpiryJobName }

func (j *pendingExpiryJob) Run(ctx context.Context) error {
	report, err := j.expirer.ExpireStale(ctx)
	logReport(ctx, j.logg, report)
	if err != nil {
		return fmt.Errorf("pending expiry: %w", err)
	}
	return nil
}

func logReport(ctx context.Context, logg *logger.Logger, report escrow.Report) {
	logCtx := logg.WithFields(ctx, map[string]any{
		"rows_scanned": report.Scanned,
		"rows_applied": report.Applied,
		"rows_skipped": report.Skipped,
		"rows_failed":  report.Failed,
	})
	logg.Info(logCtx, "sweep report")
}
