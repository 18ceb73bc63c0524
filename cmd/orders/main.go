package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/orderlifecycle/internal/catalog"
	"github.com/joao-fontenele/orderlifecycle/internal/config"
	"github.com/joao-fontenele/orderlifecycle/internal/messaging"
	"github.com/joao-fontenele/orderlifecycle/internal/orders"
	"github.com/joao-fontenele/orderlifecycle/internal/telemetry"
)

const serviceName = "orders"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := run(logger); err != nil {
		logger.Error("orders service failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.LoadOrders(os.Getenv)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, telemetry.TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, cfg.Telemetry.ServiceVersion)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	metrics, err := telemetry.NewOrderMetrics(otel.Meter("orders"))
	if err != nil {
		return err
	}

	db, err := telemetry.OpenDB(ctx, cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	routes := messaging.DefaultRoutingTable(cfg.Topics.OrderStatus, cfg.Topics.PaymentStatus, cfg.Topics.Analytics)
	publisher, err := messaging.NewPublisher(cfg.KafkaBrokers, routes)
	if err != nil {
		return err
	}
	defer func() { _ = publisher.Close() }()

	catalogClient := catalog.NewClient(cfg.CatalogURL, &http.Client{
		Timeout:   cfg.CatalogTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})

	var idempotency *orders.IdempotencyStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		idempotency = orders.NewIdempotencyStore(rdb, cfg.IdempotencyTTL, cfg.IdempotencyLockTTL)
		logger.Info("idempotent order creation enabled", "redis_addr", cfg.RedisAddr,
			"ttl", cfg.IdempotencyTTL, "lock_ttl", cfg.IdempotencyLockTTL)
	}

	service := orders.NewService(orders.NewOrderRepository(db), catalogClient, publisher, metrics, logger)
	handler := orders.NewHandler(service, idempotency, logger)

	mux := http.NewServeMux()
	handler.Register(mux, telemetry.WithHTTPRoute)
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(mux, serviceName, otelhttp.WithSpanNameFormatter(telemetry.SpanName)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting orders service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
