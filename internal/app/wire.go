package app

import (
	"log/slog"
	"time"

	"github.com/attaboy/payment-orchestrator/internal/client"
	"github.com/attaboy/payment-orchestrator/internal/domain"
	"github.com/attaboy/payment-orchestrator/internal/guard"
	"github.com/attaboy/payment-orchestrator/internal/handler"
	"github.com/attaboy/payment-orchestrator/internal/infra"
	"github.com/attaboy/payment-orchestrator/internal/provider"
	"github.com/attaboy/payment-orchestrator/internal/repository"
	"github.com/attaboy/payment-orchestrator/internal/service"
	"github.com/attaboy/payment-orchestrator/internal/webhook"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Pool    *pgxpool.Pool
	Redis   *infra.RedisClient
	Logger  *slog.Logger
	Config  *infra.Config
	Service *service.PaymentService
	Ingress *webhook.Ingress
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	pool := deps.Pool
	logger := deps.Logger

	paymentHandler := handler.NewPaymentHandler(deps.Service)
	webhookHandler := handler.NewWebhookHandler(deps.Ingress)

	mutationLimiter := guard.NewRateLimiter(30, time.Minute)

	r := chi.NewRouter()

	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.CORS)
	r.Use(handler.JSONContentType)

	r.Get("/health", handler.HealthHandler(pool))

	// Webhooks: raw body required for signature verification, no JSON
	// content-type enforcement, no rate limiting (providers, not callers).
	r.Route("/api/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookHandler.HandleStripe)
		r.Post("/paypal", webhookHandler.HandlePayPal)
		r.Post("/razorpay", webhookHandler.HandleRazorpay)
	})

	r.Group(func(r chi.Router) {
		r.Use(handler.RateLimit(mutationLimiter))

		r.Post("/payments", paymentHandler.CreatePayment)
		r.Post("/payments/resolve", paymentHandler.ResolvePayment)
		r.Post("/payments/cancel", paymentHandler.CancelPayment)
	})

	return r
}

// BuildAdapters constructs the three provider adapters from config, keyed
// by domain.Provider for PaymentService's adapter map.
func BuildAdapters(cfg *infra.Config, redis *infra.RedisClient) map[domain.Provider]provider.Adapter {
	return map[domain.Provider]provider.Adapter{
		domain.ProviderStripe:   provider.NewStripeAdapter(cfg.StripeSecretKey, cfg.StripeWebhookSecret),
		domain.ProviderPayPal:   provider.NewPayPalAdapter(cfg.PayPalAPIBaseURL, cfg.PayPalClientID, cfg.PayPalClientSecret, cfg.PayPalWebhookID, redis),
		domain.ProviderRazorpay: provider.NewRazorpayAdapter(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret),
	}
}

// BuildService wires the full PaymentService dependency graph.
func BuildService(cfg *infra.Config, pool *pgxpool.Pool, redis *infra.RedisClient, logger *slog.Logger) *service.PaymentService {
	adapters := BuildAdapters(cfg, redis)

	paymentRepo := repository.NewPaymentRepository()
	outboxRepo := repository.NewOutboxRepository()

	orderClient := client.NewOrderClient(cfg.OrderServiceBaseURL, logger)
	courseClient := client.NewCourseClient(cfg.CourseServiceBaseURL, logger)
	exchangeClient := client.NewExchangeClient(cfg.ExchangeAPIBaseURL, redis, logger)

	idemEngine := guard.NewIdempotencyEngine(redis)
	circuitBreaker := guard.NewCircuitBreaker(5, 30*time.Second)

	return service.NewPaymentService(pool, paymentRepo, outboxRepo, adapters, orderClient, courseClient, exchangeClient, redis, idemEngine, circuitBreaker, logger)
}

// BuildIngress wires the webhook ingress over the three concrete adapters.
func BuildIngress(cfg *infra.Config, pool *pgxpool.Pool, redis *infra.RedisClient, logger *slog.Logger) *webhook.Ingress {
	stripe := provider.NewStripeAdapter(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	paypal := provider.NewPayPalAdapter(cfg.PayPalAPIBaseURL, cfg.PayPalClientID, cfg.PayPalClientSecret, cfg.PayPalWebhookID, redis)
	razorpay := provider.NewRazorpayAdapter(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret)

	outboxRepo := repository.NewOutboxRepository()
	return webhook.NewIngress(pool, outboxRepo, stripe, razorpay, paypal, logger)
}
