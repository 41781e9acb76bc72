package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/evtrade-backend/api/routes"
	"github.com/angelmondragon/evtrade-backend/internal/disputes"
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
	"github.com/angelmondragon/evtrade-backend/pkg/vnpay"
)

const (
	callbackGuardTTL = time.Minute
	shutdownTimeout  = 15 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gatewayClient, err := vnpay.NewClient(cfg.Gateway)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway client", err)
		os.Exit(1)
	}
	callbackGuard, err := payments.NewCallbackGuard(redisClient, callbackGuardTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create callback guard", err)
		os.Exit(1)
	}

	gdb := dbClient.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(gdb), logg)
	txnsRepo := payments.NewRepository(gdb)
	refundsRepo := refunds.NewRepository(gdb)

	notificationCenter, err := notifications.NewService(notifications.NewRepository(gdb), outboxSvc)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(gdb))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}
	compensator, err := refunds.NewCompensator(refundsRepo, txnsRepo, ledgerSvc, outboxSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create refund compensator", err)
		os.Exit(1)
	}
	ordersSvc, err := orders.NewService(orders.NewRepository(gdb), dbClient, outboxSvc, notificationCenter, compensator, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}
	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		Repo:           txnsRepo,
		Orders:         ordersSvc,
		TxRunner:       dbClient,
		Outbox:         outboxSvc,
		Gateway:        gatewayClient,
		Guard:          callbackGuard,
		Metrics:        metrics.NewPaymentMetrics(registry),
		Logger:         logg,
		SessionTimeout: cfg.Gateway.SessionTimeout,
		MockEnabled:    !cfg.App.IsProd() || cfg.FeatureFlags.MockPayment,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}
	refundsSvc, err := refunds.NewService(refunds.ServiceParams{
		Repo:        refundsRepo,
		Compensator: compensator,
		Orders:      ordersSvc,
		TxRunner:    dbClient,
		Notifier:    notificationCenter,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refunds service", err)
		os.Exit(1)
	}
	disputesSvc, err := disputes.NewService(disputes.ServiceParams{
		Repo:         disputes.NewRepository(gdb),
		Orders:       ordersSvc,
		Transactions: txnsRepo,
		Compensator:  compensator,
		TxRunner:     dbClient,
		Notifier:     notificationCenter,
		Outbox:       outboxSvc,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create disputes service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			DB:            dbClient,
			Redis:         redisClient,
			Metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			Orders:        ordersSvc,
			Payments:      paymentsSvc,
			Disputes:      disputesSvc,
			Refunds:       refundsSvc,
			Notifications: notificationCenter,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}
}
