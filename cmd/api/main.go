package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/printshop-api/internal/app"
	"github.com/noah-isme/printshop-api/internal/auth"
	"github.com/noah-isme/printshop-api/internal/cart"
	"github.com/noah-isme/printshop-api/internal/checkout"
	"github.com/noah-isme/printshop-api/internal/common"
	"github.com/noah-isme/printshop-api/internal/config"
	"github.com/noah-isme/printshop-api/internal/events"
	"github.com/noah-isme/printshop-api/internal/health"
	"github.com/noah-isme/printshop-api/internal/lock"
	"github.com/noah-isme/printshop-api/internal/obs"
	"github.com/noah-isme/printshop-api/internal/order"
	"github.com/noah-isme/printshop-api/internal/payment"
	"github.com/noah-isme/printshop-api/internal/pricing"
	"github.com/noah-isme/printshop-api/internal/ratelimit"
	"github.com/noah-isme/printshop-api/internal/repo"
	"github.com/noah-isme/printshop-api/internal/resilience"
	"github.com/noah-isme/printshop-api/internal/security"
	"github.com/noah-isme/printshop-api/internal/vendor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)
	if err := resilience.RegisterMetrics(nil); err != nil {
		logger.Error().Err(err).Msg("register breaker metrics")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := app.InitTracing(ctx, cfg, "printshop-api", logger)
	defer shutdownTracing()

	deps, err := app.Open(ctx, cfg, "printshop-api", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer deps.Close()

	cartStore := repo.NewCartStore(deps.DB)
	orderStore := repo.NewOrderStore(deps.DB)
	tierStore := repo.NewTierStore(deps.DB)

	vendorClient := &vendor.Client{
		BaseURL:  cfg.VendorBaseURL,
		APIKey:   cfg.VendorAPIKey,
		HTTP:     outboundClient(cfg, "vendor", logger),
		Cache:    vendor.NewRedisCache(deps.Redis, "vendor"),
		CacheTTL: cfg.VendorPriceCacheTTL,
		Lock:     lock.Locker{R: deps.Redis},
		LockTTL:  cfg.OutboundTimeout * 2,
		Logger:   logger.With().Str("component", "vendor").Logger(),
	}
	composer := &pricing.Composer{Vendor: vendorClient, Tiers: tierStore}

	totals := &cart.Aggregator{Store: cartStore, Tax: cart.ZeroTax{}, Logger: logger}
	cartSvc := &cart.Service{Store: cartStore, Pricer: composer, Logger: logger}
	cartHandler := &cart.Handler{
		Svc:          cartSvc,
		Totals:       totals,
		Pricer:       composer,
		DefaultStore: pricing.ParseStore(cfg.DefaultStore),
		Logger:       logger,
	}

	bus := &events.Bus{
		Queue:     deps.Tasks,
		QueueName: cfg.EventsQueue,
		MaxRetry:  cfg.EventsMaxRetry,
	}
	materializer := &order.Materializer{
		Store:     orderStore,
		Tax:       cart.ZeroTax{},
		Publisher: bus,
		Logger:    logger.With().Str("component", "orders").Logger(),
	}
	orderHandler := &order.Handler{Store: orderStore, Logger: logger}

	providers := map[string]payment.Provider{}
	var paymentSvc checkout.IntentCreator
	if cfg.PaymentsEnabled() {
		stripe := payment.Stripe{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			BaseURL:       cfg.StripeBaseURL,
			HTTP:          outboundClient(cfg, "stripe", logger),
			Tolerance:     cfg.StripeWebhookTolerance,
			Logger:        logger.With().Str("component", "stripe").Logger(),
		}
		providers[stripe.Name()] = stripe
		paymentSvc = &payment.Service{Provider: stripe, Logger: logger}
	} else {
		logger.Warn().Msg("stripe credentials missing; paid checkout disabled")
	}
	webhookHandler := payment.Webhook{
		Providers: providers,
		Orders:    materializer,
		Totals:    totals,
		Failures:  bus,
		Logger:    logger.With().Str("component", "payment-webhook").Logger(),
	}

	finalizer := &checkout.Finalizer{Totals: totals, Orders: materializer, Logger: logger}
	checkoutHandler := &checkout.Handler{Finalizer: finalizer, Payments: paymentSvc, Logger: logger}

	identity := auth.Middleware{
		AccessCookie:  cfg.AccessCookie,
		SessionCookie: cfg.SessionCookie,
		SecureCookie:  cfg.CookieSecure,
	}
	switch {
	case cfg.JWKSURL != "":
		verifier, err := auth.NewJWKSVerifier(ctx, cfg.JWKSURL, cfg.JWKSRefresh)
		if err != nil {
			logger.Fatal().Err(err).Str("url", cfg.JWKSURL).Msg("load identity key set")
		}
		verifier.Issuer, verifier.Audience, verifier.ClockSkew = cfg.JWTIssuer, cfg.JWTAudience, 30*time.Second
		identity.Tokens = verifier
	case cfg.JWTSecret != "":
		identity.Tokens = auth.Verifier{
			Secret:    []byte(cfg.JWTSecret),
			Issuer:    cfg.JWTIssuer,
			Audience:  cfg.JWTAudience,
			ClockSkew: 30 * time.Second,
		}
	}

	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}

	checkoutLimiter, err := ratelimit.NewRedisFixedWindow(deps.Redis, "rl:checkout")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise checkout rate limiter")
	}
	limitErr := func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") }
	checkoutLimit := ratelimit.Handler{
		Limiter: checkoutLimiter,
		Config:  ratelimit.Config{Key: ratelimit.KeyBySessionOrIP("checkout:"), Window: cfg.CheckoutRateWindow, Max: cfg.CheckoutRateMax},
		OnError: limitErr,
	}
	webhookLimit := ratelimit.Handler{
		Limiter: ratelimit.SlidingWindow{Client: deps.Redis, Prefix: "rl:webhook:"},
		Config:  ratelimit.Config{Key: ratelimit.KeyByIP("payments:"), Window: cfg.WebhookRateWindow, Max: cfg.WebhookRateMax},
		OnError: limitErr,
	}

	var httpMetrics *obs.HTTPMetrics
	if cfg.MetricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{Enable: cfg.SecurityHeaders, EnableHSTS: cfg.HSTSEnabled}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-CSRF-Token", auth.DefaultSessionHeader},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      deps,
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		// Provider callbacks carry no storefront session.
		v.With(webhookLimit.Middleware, security.BodyLimit{Max: cfg.WebhookMaxBodyBytes}.Middleware).
			Post("/payments/webhook/{provider}", webhookHandler.Handle)

		v.Group(func(s chi.Router) {
			s.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)
			if cfg.CSRFEnabled {
				s.Use(security.CSRF{SessionHeader: auth.DefaultSessionHeader}.Middleware)
			}
			s.Use(identity.Session)
			s.Use(identity.Authenticate)

			s.Post("/pricing/quote", cartHandler.Quote)
			s.Route("/cart", func(c chi.Router) {
				c.Use(idem.Middleware)
				cartHandler.Routes(c)
			})
			s.With(checkoutLimit.Middleware, idem.Middleware).Post("/checkout", checkoutHandler.Checkout)
			s.With(identity.RequireAuth).Get("/orders", orderHandler.List)
			s.Get("/orders/{orderId}", orderHandler.Get)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

// outboundClient builds the retrying, breaker-guarded client used for one upstream.
func outboundClient(cfg *config.Config, target string, logger zerolog.Logger) resilience.HTTPClient {
	return resilience.HTTPClient{
		Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker:     resilience.NewBreaker(target, cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).WithLogger(logger),
		BaseBackoff: cfg.RetryBase,
		MaxAttempts: cfg.RetryMaxAttempts,
		Jitter:      cfg.RetryJitter,
		Timeout:     cfg.OutboundTimeout,
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
