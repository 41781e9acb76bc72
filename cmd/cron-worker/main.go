package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/evtrade-backend/internal/cron"
	"github.com/angelmondragon/evtrade-backend/internal/escrow"
	"github.com/angelmondragon/evtrade-backend/internal/ledger"
	"github.com/angelmondragon/evtrade-backend/internal/notifications"
	"github.com/angelmondragon/evtrade-backend/internal/orders"
	"github.com/angelmondragon/evtrade-backend/internal/payments"
	"github.com/angelmondragon/evtrade-backend/internal/refunds"
	"github.com/angelmondragon/evtrade-backend/pkg/config"
	"github.com/angelmondragon/evtrade-backend/pkg/db"
	"github.com/angelmondragon/evtrade-backend/pkg/instance"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
	"github.com/angelmondragon/evtrade-backend/pkg/metrics"
	"github.com/angelmondragon/evtrade-backend/pkg/migrate"
	"github.com/angelmondragon/evtrade-backend/pkg/outbox"
	"github.com/angelmondragon/evtrade-backend/pkg/redis"
)

const lockNameFormat = "cron-worker:%s:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	settlement, err := buildSettlement(cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create escrow service", err)
		os.Exit(1)
	}

	releaseJob, err := cron.NewEscrowReleaseJob(cron.EscrowReleaseJobParams{Logger: logg, Releaser: settlement})
	if err != nil {
		logg.Error(context.Background(), "failed to create escrow release job", err)
		os.Exit(1)
	}
	expiryJob, err := cron.NewPendingExpiryJob(cron.PendingExpiryJobParams{Logger: logg, Expirer: settlement})
	if err != nil {
		logg.Error(context.Background(), "failed to create pending expiry job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	schedules := []struct {
		name string
		cfg  cron.ServiceParams
		job  cron.Job
	}{
		{name: "escrow-release", job: releaseJob, cfg: cron.ServiceParams{Interval: cfg.Escrow.ReleaseInterval}},
		{name: "pending-expiry", job: expiryJob, cfg: cron.ServiceParams{Interval: cfg.Escrow.ExpiryInterval}},
	}

	services := make([]*cron.Service, 0, len(schedules))
	for _, schedule := range schedules {
		lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env, schedule.name)), schedule.cfg.Interval)
		if err != nil {
			logg.Error(context.Background(), "failed to create cron lock", err)
			os.Exit(1)
		}
		params := schedule.cfg
		params.Name = schedule.name
		params.Logger = logg
		params.Jobs = []cron.Job{schedule.job}
		params.Lock = lock
		params.Metrics = metricsCollector
		service, err := cron.NewService(params)
		if err != nil {
			logg.Error(context.Background(), "failed to create cron service", err)
			os.Exit(1)
		}
		services = append(services, service)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting cron worker")

	group, groupCtx := errgroup.WithContext(ctx)
	for _, service := range services {
		group.Go(func() error {
			return service.Run(groupCtx)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildSettlement(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (*escrow.Service, error) {
	gdb := dbClient.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(gdb), logg)
	txnsRepo := payments.NewRepository(gdb)

	notificationCenter, err := notifications.NewService(notifications.NewRepository(gdb), outboxSvc)
	if err != nil {
		return nil, err
	}
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(gdb))
	if err != nil {
		return nil, err
	}
	compensator, err := refunds.NewCompensator(refunds.NewRepository(gdb), txnsRepo, ledgerSvc, outboxSvc, logg)
	if err != nil {
		return nil, err
	}
	ordersSvc, err := orders.NewService(orders.NewRepository(gdb), dbClient, outboxSvc, notificationCenter, compensator, logg)
	if err != nil {
		return nil, err
	}
	return escrow.NewService(escrow.ServiceParams{
		Transactions:  txnsRepo,
		Orders:        ordersSvc,
		Ledger:        ledgerSvc,
		Notifier:      notificationCenter,
		Outbox:        outboxSvc,
		TxRunner:      dbClient,
		Logger:        logg,
		BatchSize:     cfg.Escrow.BatchSize,
		PendingWindow: cfg.Escrow.PendingExpiryWindow,
	})
}

func lockName(env, schedule string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockNameFormat, env, schedule)
}
