/**
 * @description
 * This is the main entry point for the donation-service. It is responsible for
 * initializing all components of the service, including configuration, logging, the
 * ledger store, the payment provider client, the message broker, the receipt mailer,
 * the core application service, and the HTTP server. It wires everything together,
 * runs the server, the receipt consumer and the reconciliation scheduler, and shuts
 * them down together on SIGINT/SIGTERM.
 *
 * @dependencies
 * - github.com/joho/godotenv: optional .env loading for local runs.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: intent rate limiting.
 * - golang.org/x/sync/errgroup: lifecycle of the long-running components.
 * - internal/api, internal/app, internal/config, internal/logging, internal/store.
 * - pkg/mailer, pkg/rabbitmq, pkg/stripeclient.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/noor/donation-service/internal/api"
	"github.com/noor/donation-service/internal/app"
	"github.com/noor/donation-service/internal/config"
	"github.com/noor/donation-service/internal/logging"
	"github.com/noor/donation-service/internal/store"
	"github.com/noor/donation-service/pkg/mailer"
	"github.com/noor/donation-service/pkg/rabbitmq"
	"github.com/noor/donation-service/pkg/stripeclient"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "component", "bootstrap", "err", err)
	}

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("config load failed", "component", "bootstrap", "err", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("donation-service stopped with error", "component", "bootstrap", "err", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootLog := logger.With("component", "bootstrap")
	bootLog.Info("starting donation-service", "port", cfg.ServerPort)

	// Ledger store: PostgreSQL when configured, in-memory otherwise.
	var repository store.Repository
	if cfg.DatabaseURL == "" {
		bootLog.Warn("DATABASE_URL not set; using in-memory ledger, data is lost on restart")
		repository = store.NewMemoryRepository()
	} else {
		dbpool, err := store.OpenPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer dbpool.Close()

		pgRepository := store.NewPostgresRepository(dbpool)
		if err := pgRepository.Migrate(ctx); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		repository = pgRepository
		bootLog.Info("database connected")
	}

	// Initialize the RabbitMQ producer to publish receipt and payment events.
	var producer rabbitmq.Publisher = &rabbitmq.EventProducerFallback{}
	brokerConnected := false
	if cfg.RabbitMQURL != "" {
		eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			bootLog.Warn("rabbitmq producer unavailable; using fallback", "err", err)
		} else {
			defer eventProducer.Close()
			producer = eventProducer
			brokerConnected = true
			bootLog.Info("rabbitmq producer connected")
		}
	}

	var smtpMailer *mailer.SMTPMailer
	if cfg.SMTPHost != "" {
		m, err := mailer.New(mailer.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.EmailFrom,
			Timeout:  cfg.SMTPTimeout(),
		})
		if err != nil {
			bootLog.Warn("smtp mailer not configured correctly; receipts will only be logged", "err", err)
		} else {
			smtpMailer = m
		}
	}

	var receipts app.ReceiptDispatcher
	switch {
	case brokerConnected && smtpMailer != nil:
		receipts = app.NewBrokerReceiptDispatcher(producer, logger)
		bootLog.Info("receipts delivered through the broker")
	case smtpMailer != nil:
		receipts = app.NewDirectReceiptDispatcher(smtpMailer, cfg.SMTPTimeout(), logger)
		bootLog.Info("receipts delivered directly over smtp")
	default:
		receipts = app.NewLogReceiptDispatcher(logger)
		bootLog.Warn("no smtp configured; receipts will only be logged")
	}

	// The provider stays a nil interface when unconfigured so the service runs in simulation mode.
	var provider app.IntentProvider
	if cfg.ProviderConfigured() {
		provider = stripeclient.NewClient(cfg.StripeSecretKey, cfg.ProviderTimeout())
	} else {
		bootLog.Warn("STRIPE_SECRET_KEY not set; payment intents will be simulated")
	}

	var verifier app.EventVerifier
	if cfg.StripeWebhookSecret != "" {
		verifier = stripeclient.NewWebhookVerifier(cfg.StripeWebhookSecret)
	} else {
		bootLog.Warn("STRIPE_WEBHOOK_SECRET not set; all webhook deliveries will be rejected")
	}

	// Initialize the core application service with its dependencies.
	donationService, err := app.NewService(repository, provider, receipts, producer, logger, app.Options{
		MinimumAmountMinor: cfg.MinDonationMinor,
		PersistAttempts:    cfg.IntentPersistAttempts,
	})
	if err != nil {
		return err
	}
	webhooks := app.NewWebhookProcessor(verifier, donationService, logger)

	var limiter app.IntentLimiter
	if cfg.RedisURL != "" && cfg.IntentRateLimitPerMinute > 0 {
		redisOptions, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			bootLog.Warn("redis url parse failed; intent rate limiting disabled", "err", err)
		} else {
			redisOptions.ReadTimeout = 2 * time.Second
			redisOptions.WriteTimeout = 2 * time.Second
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				bootLog.Warn("redis ping failed; intent rate limiting disabled", "err", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				limiter = app.NewRedisIntentLimiter(redisClient, cfg.RedisRateLimitPrefix, cfg.IntentRateLimitPerMinute)
				bootLog.Info("redis connected", "intent_limit_per_minute", cfg.IntentRateLimitPerMinute)
			}
		}
	}

	if cfg.TrustProxyHeaders {
		bootLog.Info("trusting X-Forwarded-For for client addresses")
	}

	// Initialize the API handlers and router.
	handlers := api.NewDonationHandlers(donationService, webhooks, limiter, logger)
	auth := api.NewAuthenticator(cfg.JWTSecret, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: api.DonationRoutes(handlers, auth, api.RouterOptions{
			AllowedOrigins:    cfg.AllowedOrigins(),
			TrustProxyHeaders: cfg.TrustProxyHeaders,
		}, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	reconciler := app.NewReconciler(repository, logger)
	scheduler := app.NewScheduler(reconciler, cfg.ReconcileSchedule, cfg.ReconcileRepair, logger)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("reconciliation scheduler start failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening", "component", "http", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server stopped unexpectedly: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown started", "component", "http")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "component", "http", "err", err)
		}
		<-scheduler.Stop().Done()
		return nil
	})

	// The receipt consumer delivers broker-queued receipts over SMTP.
	if brokerConnected && smtpMailer != nil {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq consumer init failed: %w", err)
		}
		defer consumer.Close()

		receiptConsumer := app.NewReceiptConsumer(smtpMailer, cfg.SMTPTimeout(), logger)
		g.Go(func() error {
			return consumer.ConsumeWithBindings(gctx, rabbitmq.ExchangeDonationEvents, cfg.ReceiptQueue, map[string]rabbitmq.Handler{
				rabbitmq.RoutingKeyReceiptRequested: receiptConsumer.HandleMessage,
			})
		})
	}

	err = g.Wait()
	logger.Info("shutdown complete", "component", "http")
	return err
}
