package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/orderlifecycle/internal/domain"
)

var producerTracer = otel.Tracer("messaging/producer")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Keyed payloads are partitioned by their aggregate id so that events of one
// order keep their relative order on a topic.
type Keyed interface {
	AggregateID() string
}

// Publisher sends JSON events to the topic routed for each channel. A send is
// synchronous: Publish returns only after the broker acknowledged the write.
type Publisher struct {
	writer messageWriter
	routes RoutingTable
}

func NewPublisher(brokers []string, routes RoutingTable) (*Publisher, error) {
	if err := routes.Validate(); err != nil {
		return nil, err
	}

	return newPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}, routes), nil
}

func newPublisher(w messageWriter, routes RoutingTable) *Publisher {
	return &Publisher{writer: w, routes: routes}
}

// Publish serializes payload to JSON and writes it to the channel's topic. Topic
// channels require a routing key; fanout channels must not be given one.
func (p *Publisher) Publish(ctx context.Context, channel domain.Channel, routingKey string, payload any) error {
	route, err := p.routes.Lookup(channel)
	if err != nil {
		return err
	}

	switch route.Kind {
	case RouteTopic:
		if routingKey == "" {
			return fmt.Errorf("channel %s requires a routing key", channel)
		}
	case RouteFanout:
		if routingKey != "" {
			return fmt.Errorf("fanout channel %s does not take a routing key", channel)
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", channel, err)
	}

	key := routingKey
	if k, ok := payload.(Keyed); ok && k.AggregateID() != "" {
		key = k.AggregateID()
	}

	msg := kafka.Message{
		Topic: route.Topic,
		Key:   []byte(key),
		Value: data,
		Time:  time.Now().UTC(),
	}
	setHeader(&msg, HeaderChannel, string(channel))
	if routingKey != "" {
		setHeader(&msg, HeaderRoutingKey, routingKey)
	}

	ctx, span := producerTracer.Start(ctx, "send "+route.Topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("send"),
			semconv.MessagingOperationTypePublish,
			semconv.MessagingDestinationName(route.Topic),
			semconv.MessagingKafkaMessageKey(key),
			attribute.String("messaging.routing_key", routingKey),
		),
	)
	defer span.End()

	otel.GetTextMapPropagator().Inject(ctx, NewMessageCarrier(&msg))

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("write to %s: %w", route.Topic, err)
	}

	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
