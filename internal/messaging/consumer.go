package messaging

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var consumerTracer = otel.Tracer("messaging/consumer")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Delivery is one consumed event.
type Delivery struct {
	Channel    string
	RoutingKey string
	Key        string
	Payload    []byte
}

type Handler func(ctx context.Context, d Delivery) error

type Consumer struct {
	reader  messageReader
	topic   string
	groupID string
	binding string
}

type consumerConfig struct {
	reader  kafka.ReaderConfig
	binding string
}

type ConsumerOption func(*consumerConfig)

func WithStartOffset(offset int64) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.reader.StartOffset = offset
	}
}

// WithBinding restricts delivery to messages whose routing key matches pattern.
// Messages that do not match are committed without calling the handler.
func WithBinding(pattern string) ConsumerOption {
	return func(cfg *consumerConfig) {
		cfg.binding = pattern
	}
}

// NewConsumer joins groupID on topic. Every consumer group receives every message
// of the topic, which is how fanout channels reach each subscriber.
func NewConsumer(brokers []string, topic, groupID string, opts ...ConsumerOption) *Consumer {
	cfg := consumerConfig{
		reader: kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return &Consumer{
		reader:  kafka.NewReader(cfg.reader),
		topic:   topic,
		groupID: groupID,
		binding: cfg.binding,
	}
}

func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		if c.accepts(msg) {
			if err := c.processMessage(ctx, msg, handler); err != nil {
				return err
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) accepts(msg kafka.Message) bool {
	if c.binding == "" {
		return true
	}
	return MatchBinding(c.binding, headerValue(&msg, HeaderRoutingKey))
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message, handler Handler) error {
	parentCtx := otel.GetTextMapPropagator().Extract(ctx, NewMessageCarrier(&msg))
	routingKey := headerValue(&msg, HeaderRoutingKey)

	spanCtx, span := consumerTracer.Start(parentCtx, "process "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(c.topic),
			semconv.MessagingKafkaConsumerGroup(c.groupID),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
			attribute.String("messaging.routing_key", routingKey),
		),
	)
	defer span.End()

	delivery := Delivery{
		Channel:    headerValue(&msg, HeaderChannel),
		RoutingKey: routingKey,
		Key:        string(msg.Key),
		Payload:    msg.Value,
	}

	if err := handler(spanCtx, delivery); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
