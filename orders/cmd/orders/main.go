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
	"orderpay/orders/internal/app/orders"
	"orderpay/orders/internal/config"
	"orderpay/orders/internal/fanout"
	amqp_handler "orderpay/orders/internal/handler/amqp"
	orders_http "orderpay/orders/internal/handler/http/orders"
	"orderpay/orders/internal/handler/ws"
	"orderpay/orders/internal/infrastructure/redis"
	"orderpay/orders/internal/repository/order_repo/postgres"
	"orderpay/orders/migrations"
)

type statusChannel interface {
	fanout.Publisher
	fanout.Source
}

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
	appLogger.Info("Orders Service starting...")

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

	if err := broker.DeclareQueue(event.QueueOrdersPaymentResults, event.RoutingKeyPaymentResult); err != nil {
		appLogger.Fatal("Failed to declare payment results queue", zap.Error(err))
	}

	var status statusChannel
	if cfg.RedisURL != "" {
		redisClient, err := redis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			appLogger.Fatal("Could not connect to Redis. Exiting.", zap.Error(err))
		}
		defer redisClient.Close()
		status = redis.NewStatusChannel(redisClient, cfg.StatusChannelName,
			appLogger.With(zap.String("component", "StatusChannel")))
		appLogger.Info("Status fan-out over Redis", zap.String("channel", cfg.StatusChannelName))
	} else {
		status = fanout.NewLocalChannel()
		appLogger.Info("Status fan-out in process")
	}

	transactor := database.NewTransactor(db, appLogger.With(zap.String("component", "Transactor")))
	outboxRepository := outbox.NewRepository()

	orderService := orders.NewOrderService(
		transactor,
		postgres.NewOrderRepository(appLogger.With(zap.String("component", "OrderRepository"))),
		inbox.NewRepository(),
		outboxRepository,
		status,
		cfg.ServiceName,
		appLogger.With(zap.String("component", "OrderService")),
	)
	appLogger.Info("Order Service initialized.")

	dispatcher, err := outbox.NewDispatcher(
		transactor,
		outboxRepository,
		broker,
		map[string]string{event.TypePaymentRequested: event.RoutingKeyPaymentRequested},
		appLogger.With(zap.String("component", "OutboxDispatcher")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
	)
	if err != nil {
		appLogger.Fatal("Failed to create outbox dispatcher", zap.Error(err))
	}

	hub := fanout.NewHub(appLogger.With(zap.String("component", "Hub")))
	relay := fanout.NewRelay(hub, status, appLogger.With(zap.String("component", "StatusRelay")))

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	orders_http.RegisterRoutes(router, orderService, appLogger.With(zap.String("component", "HTTPHandler")))
	ws.RegisterRoutes(router, ws.NewHandler(orderService, hub, appLogger.With(zap.String("component", "WSHandler"))))

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
		return relay.Run(gctx)
	})

	g.Go(func() error {
		handler := amqp_handler.PaymentResultHandler(orderService,
			appLogger.With(zap.String("component", "PaymentResultConsumer")))
		return broker.Consume(gctx, event.QueueOrdersPaymentResults, handler)
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Orders Service stopped with error", zap.Error(err))
	}
	appLogger.Info("Application gracefully shut down.")
}
