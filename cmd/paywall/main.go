package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/paywall/pkg/api"
	"github.com/platinummonkey/paywall/pkg/billing"
	"github.com/platinummonkey/paywall/pkg/booking"
	"github.com/platinummonkey/paywall/pkg/cache"
	"github.com/platinummonkey/paywall/pkg/config"
	"github.com/platinummonkey/paywall/pkg/docstore"
	"github.com/platinummonkey/paywall/pkg/entitlement"
	"github.com/platinummonkey/paywall/pkg/events"
	"github.com/platinummonkey/paywall/pkg/gateway"
	"github.com/platinummonkey/paywall/pkg/httputil"
	"github.com/platinummonkey/paywall/pkg/middleware"
	"github.com/platinummonkey/paywall/pkg/notify"
	"github.com/platinummonkey/paywall/pkg/observability"
	"github.com/platinummonkey/paywall/pkg/webhooks"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("OpenTelemetry initialization failed")
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	store, err := docstore.NewPostgresStore(docstore.PostgresConfig{
		URL:      cfg.Store.PostgresURL,
		MaxConns: cfg.Store.PostgresMaxConns,
		MinConns: cfg.Store.PostgresMinConns,
		Timeout:  cfg.Store.PostgresTimeout,
	})
	if err != nil {
		logger.WithError(err).Error("document store initialization failed")
		os.Exit(1)
	}
	defer store.Close()

	if err := store.InitSchema(ctx); err != nil {
		logger.WithError(err).Error("schema initialization failed")
		os.Exit(1)
	}
	logger.Info("document store initialized")

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient = newRedisClient(cfg.Cache, logger)
		defer func() {
			if redisClient != nil {
				redisClient.Close()
			}
		}()
	}

	subCache := cache.NewSubscriptionCache(store, redisClient, cache.Options{
		L1Size: cfg.Cache.L1Size,
		TTL:    cfg.Cache.SubscriptionTTL,
	}, logger, metrics)

	resolver := entitlement.NewResolver(store, subCache, entitlement.DefaultCatalog(), logger, metrics, cfg.Billing.UpgradeBaseURL)

	stripeClient := gateway.NewStripeClient(gateway.Config{
		SecretKey: cfg.Stripe.SecretKey,
		BaseURL:   cfg.Stripe.APIBaseURL,
		Timeout:   cfg.Stripe.Timeout,
	}, logger, metrics)

	var sender notify.Sender
	if cfg.Email.Enabled {
		sender = notify.NewSMTPSender(cfg.Email.SMTPHost, cfg.Email.SMTPPort,
			cfg.Email.SMTPUsername, cfg.Email.SMTPPassword, cfg.Email.FromAddress, logger, metrics)
	} else {
		sender = notify.NewNopSender(logger)
	}

	limiter := middleware.NewRateLimiter(
		middleware.DefaultRateLimitConfig(cfg.Server.RateLimitPerMinute), logger)
	limiter.StartCleanup()
	defer limiter.Stop()

	subscribers := events.SubscriberMap{
		events.TypePaymentDisputed: {events.HandlerFunc(func(ctx context.Context, event events.Event) error {
			_, err := sender.Send(ctx, notify.Message{
				Kind:    "dispute_alert",
				To:      []string{cfg.Email.AdminAddress},
				Subject: "Payment Dispute Opened - CVPlus",
				Body:    "A payment dispute was opened. Event id: " + event.ID,
			})
			return err
		})},
	}

	if len(cfg.Events.WebhookURLs) > 0 {
		hookManager := webhooks.NewManager(
			webhooks.NewDeliveryLogStore(0),
			webhooks.NewRetryPolicy(webhooks.DefaultRetryConfig()),
			limiter, logger, metrics)
		for _, hookURL := range cfg.Events.WebhookURLs {
			if _, err := hookManager.Register(hookURL, cfg.Events.WebhookSecret, nil, "configured event sink"); err != nil {
				logger.WithError(err).Error("event webhook registration failed")
				os.Exit(1)
			}
		}
		for _, eventType := range []string{
			events.TypePaymentSucceeded,
			events.TypePaymentFailed,
			events.TypePaymentDisputed,
			events.TypeAccessGranted,
		} {
			subscribers[eventType] = append(subscribers[eventType], hookManager)
		}

		retryWorker := webhooks.NewRetryWorker(hookManager, cfg.Events.RetryInterval)
		retryWorker.Start()
		defer retryWorker.Stop()
	}

	billingSvc := billing.NewService(store, stripeClient, subCache, subscribers, entitlement.DefaultCatalog(), billing.Config{
		PriceCents: cfg.Billing.LifetimePriceCents,
		Currency:   cfg.Billing.Currency,
		BaseURL:    cfg.Billing.UpgradeBaseURL,
	}, logger, metrics)

	bookingSvc := booking.NewService(store, sender, cfg.Email.AdminAddress, logger)

	sweeper := entitlement.NewSweeper(store, logger)
	if err := sweeper.Start(cfg.Billing.GraceSweepSchedule); err != nil {
		logger.WithError(err).Error("grace period sweeper failed to start")
		os.Exit(1)
	}
	defer sweeper.Stop()

	server := api.NewServer(api.Options{
		Resolver:      resolver,
		Billing:       billingSvc,
		Booking:       bookingSvc,
		Verifier:      &gateway.StripeVerifier{},
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Auth:          middleware.NewAuthMiddleware(middleware.NewHMACTokenVerifier(cfg.Server.AuthSecret), logger),
		RateLimiter:   limiter,
		Logger:        logger,
		Metrics:       metrics,
	})

	var handler http.Handler = server
	handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.MaxBytesMiddleware(1<<20),
	)(handler)
	handler = metrics.HTTPMiddleware(handler)
	handler = otelhttp.NewHandler(handler, "paywall")

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(store.DB(), redisClient))
	healthMux.Handle("/metrics", observability.Handler(registry))
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("API server shutdown")
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("health server shutdown")
		}
		if otelProviders != nil {
			if err := observability.ShutdownOTel(shutdownCtx, otelProviders, logger); err != nil {
				logger.WithError(err).Warn("OpenTelemetry shutdown")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newRedisClient(cfg config.CacheConfig, logger *observability.Logger) *redis.Client {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		opts = &redis.Options{Addr: cfg.RedisURL}
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB != 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// The cache degrades to store reads, so a dead Redis is not fatal.
		logger.WithError(err).Warn("redis unreachable, cache will fall back to the store")
	}
	return client
}
