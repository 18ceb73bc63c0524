package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"

	"github.com/joao-fontenele/orderlifecycle/internal/config"
	"github.com/joao-fontenele/orderlifecycle/internal/domain"
	"github.com/joao-fontenele/orderlifecycle/internal/messaging"
	"github.com/joao-fontenele/orderlifecycle/internal/subscriber"
	"github.com/joao-fontenele/orderlifecycle/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadSubscriber(os.Getenv)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	channel, ok := domain.ParseChannel(cfg.Channel)
	if !ok {
		logger.Error("unknown channel", "channel", cfg.Channel)
		os.Exit(1)
	}

	routes := messaging.DefaultRoutingTable(cfg.Topics.OrderStatus, cfg.Topics.PaymentStatus, cfg.Topics.Analytics)
	route, err := routes.Lookup(channel)
	if err != nil {
		logger.Error("no route for channel", "error", err)
		os.Exit(1)
	}

	var opts []messaging.ConsumerOption
	if cfg.BindingKey != "" {
		if route.Kind == messaging.RouteFanout {
			logger.Error("fanout channels do not take a binding key", "channel", channel)
			os.Exit(1)
		}
		opts = append(opts, messaging.WithBinding(cfg.BindingKey))
	}
	opts = append(opts, messaging.WithStartOffset(kafka.FirstOffset))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, telemetry.TracerConfig{
		ServiceName:    "subscriber",
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	consumer := messaging.NewConsumer(cfg.KafkaBrokers, route.Topic, cfg.GroupID, opts...)
	defer func() { _ = consumer.Close() }()

	handler := subscriber.NewEventLogger(cfg.GroupID, logger)

	logger.Info("starting subscriber",
		"channel", channel, "topic", route.Topic, "group_id", cfg.GroupID, "binding", cfg.BindingKey)

	if err := consumer.Consume(ctx, handler.Handle); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("subscriber stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
