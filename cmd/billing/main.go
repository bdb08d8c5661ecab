package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"billing/internal/app/payments"
	"billing/internal/app/subscriptions"
	"billing/internal/app/webhooks"
	"billing/internal/config"
	payments_http "billing/internal/handler/http/payments"
	subscriptions_http "billing/internal/handler/http/subscriptions"
	webhooks_http "billing/internal/handler/http/webhooks"
	"billing/internal/infrastructure/database"
	kafka_infra "billing/internal/infrastructure/kafka"
	"billing/internal/outbox"
	"billing/internal/provider"
	"billing/internal/provider/sandbox"
	"billing/internal/repository/idempotency_repo"
	"billing/internal/repository/outbox_repo"
	"billing/internal/repository/payments_repo"
	"billing/internal/repository/subscriptions_repo"
	"billing/internal/repository/transactions_repo"
	"billing/internal/repository/webhooks_repo"
)

func ensureKafkaTopics(ctx context.Context, brokerURLs []string, topics []string, logger *zap.Logger) error {
	conn, err := kafka.DialContext(ctx, "tcp", brokerURLs[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka broker for admin operations: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get kafka controller: %w", err)
	}
	controllerConn, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	topicConfigs := make([]kafka.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}

	if err := controllerConn.CreateTopics(topicConfigs...); err != nil {
		if err == kafka.TopicAlreadyExists {
			logger.Info("One or more Kafka topics already exist, skipping creation.")
			return nil
		}
		return fmt.Errorf("failed to create Kafka topics: %w", err)
	}
	logger.Info("Kafka topics ensured successfully.", zap.Strings("topics", topics))
	return nil
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"

	appLogger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	appLogger.Info("Billing service starting...")

	appLogger.Info("Waiting for database to be available...")
	dbConfig := database.DBConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.Name,
		SSLMode:  cfg.DBConfig.SSLMode,
	}

	var db *sql.DB
	maxRetries := 10
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		db, err = database.NewPostgresDB(dbConfig)
		if err == nil {
			appLogger.Info("Successfully connected to PostgreSQL database!")
			break
		}
		appLogger.Warn(fmt.Sprintf("Failed to connect to database (attempt %d/%d): %v. Retrying in %s...", i+1, maxRetries, err, retryDelay))
		time.Sleep(retryDelay)
	}
	if db == nil {
		appLogger.Fatal("Could not connect to database after multiple retries. Exiting.", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			appLogger.Error("Error closing database connection", zap.Error(err))
		} else {
			appLogger.Info("Database connection closed.")
		}
	}()

	appLogger.Info("Running database migrations...")
	m, err := migrate.New(cfg.MigrationsURL, cfg.GetDBMigrationConnectionString())
	if err != nil {
		appLogger.Fatal("Failed to create migrate instance", zap.Error(err))
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		appLogger.Fatal("Failed to run database migrations", zap.Error(err))
	}
	appLogger.Info("Database migrations completed successfully (or no new migrations).")

	kafkaBrokers := cfg.GetKafkaBrokers()
	requiredTopics := []string{
		cfg.KafkaPaymentEventsTopic,
		cfg.KafkaSubscriptionTopic,
	}
	topicCtx, topicCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer topicCancel()
	if err := ensureKafkaTopics(topicCtx, kafkaBrokers, requiredTopics, appLogger); err != nil {
		appLogger.Fatal("Failed to ensure Kafka topics", zap.Error(err))
	}

	signatureConfigs := make(map[string]provider.SignatureConfig, len(cfg.WebhookSecrets))
	for name, secret := range cfg.WebhookSecrets {
		signatureConfigs[name] = provider.SignatureConfig{Secret: secret.Secret, Digest: secret.Digest}
	}
	verifier, err := provider.NewVerifier(signatureConfigs)
	if err != nil {
		appLogger.Fatal("Failed to build webhook verifier", zap.Error(err))
	}

	selector, err := provider.NewSelector(provider.SelectorConfig{
		CurrencyAffinity: cfg.CurrencyRouting,
		RegionAffinity:   cfg.RegionRouting,
		DefaultProvider:  cfg.DefaultProvider,
	}, sandbox.New())
	if err != nil {
		appLogger.Fatal("Failed to build provider selector", zap.Error(err))
	}

	paymentRepository := payments_repo.NewPaymentRepository()
	subscriptionRepository := subscriptions_repo.NewSubscriptionRepository()
	transactionRepository := transactions_repo.NewTransactionRepository()
	webhookRepository := webhooks_repo.NewWebhookRepository()
	idempotencyRepository := idempotency_repo.NewIdempotencyRepository()
	outboxRepository := outbox_repo.NewOutboxRepository()

	paymentService := payments.NewPaymentService(
		db,
		paymentRepository,
		transactionRepository,
		idempotencyRepository,
		outboxRepository,
		selector,
		payments.Config{
			EventsTopic:    cfg.KafkaPaymentEventsTopic,
			CallTimeout:    cfg.ProviderCallTimeout,
			IdempotencyTTL: cfg.IdempotencyTTL,
		},
		appLogger.With(zap.String("component", "PaymentService")),
	)
	subscriptionService := subscriptions.NewSubscriptionService(
		db,
		subscriptionRepository,
		transactionRepository,
		outboxRepository,
		subscriptions.Config{
			EventsTopic:    cfg.KafkaSubscriptionTopic,
			SweepBatchSize: cfg.OutboxBatchSize,
		},
		appLogger.With(zap.String("component", "SubscriptionService")),
	)
	webhookService := webhooks.NewWebhookService(
		db,
		webhookRepository,
		paymentRepository,
		subscriptionRepository,
		transactionRepository,
		outboxRepository,
		selector,
		verifier,
		webhooks.Config{
			PaymentEventsTopic:      cfg.KafkaPaymentEventsTopic,
			SubscriptionEventsTopic: cfg.KafkaSubscriptionTopic,
			RetryBatchSize:          cfg.OutboxBatchSize,
		},
		appLogger.With(zap.String("component", "WebhookService")),
	)
	appLogger.Info("Billing services initialized.")

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Billing service is healthy!"))
	})
	payments_http.RegisterRoutes(router, paymentService, appLogger)
	subscriptions_http.RegisterRoutes(router, subscriptionService, appLogger)
	webhooks_http.RegisterRoutes(router, webhookService, appLogger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}
	appLogger.Info("HTTP server configured.")

	kafkaProducer := kafka_infra.NewProducer(
		kafkaBrokers,
		appLogger.With(zap.String("component", "KafkaProducer")),
	)
	defer func() {
		if err := kafkaProducer.Close(); err != nil {
			appLogger.Error("Error closing Kafka producer", zap.Error(err))
		}
	}()
	appLogger.Info("Kafka producer created successfully.")

	outboxProcessor := outbox.NewProcessor(
		db,
		outboxRepository,
		kafkaProducer,
		cfg.OutboxPollInterval,
		cfg.OutboxPollTimeout,
		cfg.OutboxBatchSize,
		appLogger.With(zap.String("component", "OutboxProcessor")),
	)
	webhookReprocessor := webhooks.NewReprocessor(
		webhookService,
		cfg.WebhookRetryInterval,
		appLogger.With(zap.String("component", "WebhookReprocessor")),
	)

	ctxMain, cancelMain := context.WithCancel(context.Background())
	go func() {
		appLogger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()
	go outboxProcessor.Start(ctxMain)
	go webhookReprocessor.Start(ctxMain)
	go func() {
		ticker := time.NewTicker(cfg.PeriodEndSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctxMain.Done():
				return
			case <-ticker.C:
				if err := subscriptionService.RunPeriodEndSweep(ctxMain); err != nil {
					appLogger.Error("Period-end sweep failed", zap.Error(err))
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	appLogger.Info("Shutting down application...")
	cancelMain()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		appLogger.Info("HTTP server gracefully shut down.")
	}

	outboxProcessor.Stop()
	webhookReprocessor.Stop()

	appLogger.Info("Application gracefully shut down.")
}
