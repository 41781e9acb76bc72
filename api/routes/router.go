package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/evtrade-backend/api/controllers"
	disputecontrollers "github.com/angelmondragon/evtrade-backend/api/controllers/disputes"
	ordercontrollers "github.com/angelmondragon/evtrade-backend/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/evtrade-backend/api/controllers/payments"
	refundcontrollers "github.com/angelmondragon/evtrade-backend/api/controllers/refunds"
	"github.com/angelmondragon/evtrade-backend/api/middleware"
	"github.com/angelmondragon/evtrade-backend/internal/disputes"
	"github.com/angelmondragon/evtrade-backend/internal/notifications"
	"github.com/angelmondragon/evtrade-backend/internal/orders"
	"github.com/angelmondragon/evtrade-backend/internal/payments"
	"github.com/angelmondragon/evtrade-backend/internal/refunds"
	"github.com/angelmondragon/evtrade-backend/pkg/config"
	"github.com/angelmondragon/evtrade-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/evtrade-backend/pkg/redis"
)

type rateStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Dependencies are the services mounted by the API router. A nil Redis client
// disables idempotency replay and rate limiting; a nil Metrics handler leaves
// /metrics unmounted.
type Dependencies struct {
	DB            controllers.Pinger
	Redis         *pkgredis.Client
	Metrics       http.Handler
	Orders        orders.Service
	Payments      payments.Service
	Disputes      disputes.Service
	Refunds       refunds.Service
	Notifications notifications.Service
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.CORS(cfg.App.CORSOrigins),
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	var (
		redisPinger controllers.Pinger
		idemStore   middleware.ResponseStore
		limiter     rateStore
	)
	if deps.Redis != nil {
		redisPinger = deps.Redis
		idemStore = deps.Redis
		limiter = deps.Redis
	}

	paymentPolicy := middleware.NewRateLimitPolicy(
		"payment",
		cfg.RateLimit.PaymentWindow,
		cfg.RateLimit.PaymentIPLimit,
		cfg.RateLimit.PaymentUserLimit,
	)
	gatewayPolicy := middleware.NewRateLimitPolicy(
		"gateway",
		cfg.RateLimit.GatewayWindow,
		cfg.RateLimit.GatewayIPLimit,
		0,
	)
	mockPolicy := middleware.NewRateLimitPolicy(
		"gateway-mock",
		cfg.RateLimit.GatewayWindow,
		cfg.RateLimit.GatewayIPLimit,
		0,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, redisPinger))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// gateway callbacks carry their own signature and never a bearer token.
	// The IPN must always answer 200 with an ack, so only the browser return
	// is throttled.
	r.Route("/api/v1/payments/vnpay", func(r chi.Router) {
		r.Get("/ipn", paymentcontrollers.GatewayIPN(deps.Payments, logg))
		r.Post("/ipn", paymentcontrollers.GatewayIPN(deps.Payments, logg))
		r.With(middleware.RateLimit(gatewayPolicy, limiter, logg)).
			Get("/return", paymentcontrollers.GatewayReturn(deps.Payments, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		once := middleware.Idempotent(idemStore, logg, middleware.IdempotencyTTL)
		critical := middleware.Idempotent(idemStore, logg, middleware.CriticalIdempotencyTTL)

		r.With(critical).Post("/checkout", ordercontrollers.Checkout(deps.Orders, logg))
		r.With(critical).Post("/packages/{packageId}/purchase", ordercontrollers.PurchasePackage(deps.Orders, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(deps.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(deps.Orders, logg))
			r.With(critical).Post("/{orderId}/cancel", ordercontrollers.Cancel(deps.Orders, logg))
			r.With(once).Post("/{orderId}/deliver", ordercontrollers.MarkDelivered(deps.Orders, logg))
			r.With(once).Post("/{orderId}/confirm-receipt", ordercontrollers.ConfirmReceipt(deps.Orders, logg))
			r.With(critical).Post("/{orderId}/disputes", disputecontrollers.Open(deps.Disputes, logg))
			r.With(middleware.RateLimit(paymentPolicy, limiter, logg), once).
				Post("/{orderId}/payments", paymentcontrollers.Initiate(deps.Payments, logg))
		})

		if !cfg.App.IsProd() || cfg.FeatureFlags.MockPayment {
			r.With(middleware.RateLimit(mockPolicy, limiter, logg)).
				Post("/payments/mock", paymentcontrollers.MockPay(deps.Payments, logg))
		}

		r.Route("/disputes", func(r chi.Router) {
			r.Get("/", disputecontrollers.List(deps.Disputes, logg))
			r.Get("/{disputeId}", disputecontrollers.Get(deps.Disputes, logg))
			r.With(once).Post("/{disputeId}/cancel", disputecontrollers.Cancel(deps.Disputes, logg))
		})

		r.Route("/refunds", func(r chi.Router) {
			r.Get("/", refundcontrollers.List(deps.Refunds, logg))
			r.Get("/{refundId}", refundcontrollers.Get(deps.Refunds, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.With(once).Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
			r.With(once).Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireStaff(logg))
		once := middleware.Idempotent(idemStore, logg, middleware.IdempotencyTTL)
		critical := middleware.Idempotent(idemStore, logg, middleware.CriticalIdempotencyTTL)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.AdminList(deps.Orders, logg))
			r.With(once).Post("/{orderId}/approve", ordercontrollers.AdminApprove(deps.Orders, logg))
			r.With(once).Post("/{orderId}/reject", ordercontrollers.AdminReject(deps.Orders, logg))
			r.With(critical).Post("/{orderId}/refunds", refundcontrollers.CreateManual(deps.Refunds, logg))
		})
		r.Route("/disputes", func(r chi.Router) {
			r.Get("/", disputecontrollers.List(deps.Disputes, logg))
			r.With(once).Post("/{disputeId}/in-progress", disputecontrollers.MarkInProgress(deps.Disputes, logg))
			r.With(critical).Post("/{disputeId}/resolve", disputecontrollers.Resolve(deps.Disputes, logg))
		})
		r.Route("/refunds", func(r chi.Router) {
			r.Get("/", refundcontrollers.List(deps.Refunds, logg))
			r.With(critical).Post("/{refundId}/process", refundcontrollers.Process(deps.Refunds, logg))
		})
	})

	return r
}
