package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OrderMetrics holds the counters recorded by the order workflow.
type OrderMetrics struct {
	created        metric.Int64Counter
	createFailures metric.Int64Counter
	transitions    metric.Int64Counter
	published      metric.Int64Counter
}

func NewOrderMetrics(meter metric.Meter) (*OrderMetrics, error) {
	created, err := meter.Int64Counter("orders.created",
		metric.WithDescription("Orders committed to the store."))
	if err != nil {
		return nil, err
	}

	createFailures, err := meter.Int64Counter("orders.create_failures",
		metric.WithDescription("Order creations that returned an error, by workflow stage."))
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter("orders.transitions",
		metric.WithDescription("Accepted status transitions, by state machine and target state."))
	if err != nil {
		return nil, err
	}

	published, err := meter.Int64Counter("orders.events_published",
		metric.WithDescription("Event publish attempts, by channel and outcome."))
	if err != nil {
		return nil, err
	}

	return &OrderMetrics{
		created:        created,
		createFailures: createFailures,
		transitions:    transitions,
		published:      published,
	}, nil
}

func (m *OrderMetrics) OrderCreated(ctx context.Context) {
	m.created.Add(ctx, 1)
}

func (m *OrderMetrics) CreateFailed(ctx context.Context, stage string) {
	m.createFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *OrderMetrics) Transition(ctx context.Context, machine, to string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("machine", machine),
		attribute.String("to", to),
	))
}

func (m *OrderMetrics) EventPublished(ctx context.Context, channel string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.published.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("outcome", outcome),
	))
}
