package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"orderpay/internal/broker/rabbitmq"
	"orderpay/internal/database"
	"orderpay/internal/event"
	"orderpay/internal/inbox"
	"orderpay/internal/logging"
	"orderpay/internal/outbox"
	"orderpay/payments/internal/app/payments"
	"orderpay/payments/internal/config"
	amqp_handler "orderpay/payments/internal/handler/amqp"
	payments_http "orderpay/payments/internal/handler/http/payments"
	"orderpay/payments/internal/repository/accounts_repo"
	"orderpay/payments/internal/repository/balance_tx_repo"
	"orderpay/payments/internal/repository/payments_repo"
	"orderpay/payments/migrations"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	appLogger, err := logging.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()
	appLogger.Info("Payments Service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLogger.Info("Waiting for database to be available...")
	db, err := database.ConnectWithRetry(ctx, cfg.Database(), cfg.DBConnectRetries, cfg.DBConnectRetryDelay, appLogger)
	if err != nil {
		appLogger.Fatal("Could not connect to database. Exiting.", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			appLogger.Error("Error closing database connection", zap.Error(err))
		} else {
			appLogger.Info("Database connection closed.")
		}
	}()

	appLogger.Info("Running database migrations...")
	if err := database.Migrate(migrations.FS, cfg.Database().URL(), appLogger); err != nil {
		appLogger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	broker, err := rabbitmq.NewClient(rabbitmq.Config{
		URL:         cfg.RabbitMQURL,
		Exchange:    event.ExchangeName,
		Prefetch:    cfg.BrokerPrefetch,
		Concurrency: cfg.ConsumerConcurrency,
		MaxAttempts: cfg.BrokerConnectTries,
	}, appLogger.With(zap.String("component", "RabbitMQ")))
	if err != nil {
		appLogger.Fatal("Failed to create RabbitMQ client", zap.Error(err))
	}
	if err := broker.Connect(ctx); err != nil {
		appLogger.Fatal("Could not connect to RabbitMQ. Exiting.", zap.Error(err))
	}
	defer broker.Close()

	if err := broker.DeclareQueue(event.QueuePaymentRequests, event.RoutingKeyPaymentRequested); err != nil {
		appLogger.Fatal("Failed to declare payment requests queue", zap.Error(err))
	}

	transactor := database.NewTransactor(db, appLogger.With(zap.String("component", "Transactor")))
	outboxRepository := outbox.NewRepository()

	paymentService := payments.NewPaymentService(
		transactor,
		accounts_repo.NewAccountRepository(),
		payments_repo.NewPaymentRepository(),
		balance_tx_repo.NewBalanceTransactionRepository(),
		inbox.NewRepository(),
		outboxRepository,
		cfg.ServiceName,
		appLogger.With(zap.String("component", "PaymentService")),
	)
	appLogger.Info("Payment Service initialized.")

	dispatcher, err := outbox.NewDispatcher(
		transactor,
		outboxRepository,
		broker,
		map[string]string{event.TypePaymentResult: event.RoutingKeyPaymentResult},
		appLogger.With(zap.String("component", "OutboxDispatcher")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
	)
	if err != nil {
		appLogger.Fatal("Failed to create outbox dispatcher", zap.Error(err))
	}

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	payments_http.RegisterRoutes(router, paymentService, appLogger.With(zap.String("component", "HTTPHandler")))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return dispatcher.Run(gctx)
	})

	g.Go(func() error {
		handler := amqp_handler.PaymentRequestedHandler(paymentService,
			appLogger.With(zap.String("component", "PaymentRequestedConsumer")))
		return broker.Consume(gctx, event.QueuePaymentRequests, handler)
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Payments Service stopped with error", zap.Error(err))
	}
	appLogger.Info("Application gracefully shut down.")
}
