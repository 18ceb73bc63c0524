//go:build integration

package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderlifecycle/internal/domain"
	"github.com/joao-fontenele/orderlifecycle/internal/testsupport"
)

// collect consumes until n deliveries arrived or ctx expires.
func collect(ctx context.Context, t *testing.T, c *Consumer, n int) []Delivery {
	t.Helper()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var got []Delivery
	_ = c.Consume(ctx, func(_ context.Context, d Delivery) error {
		got = append(got, d)
		if len(got) == n {
			cancel()
		}
		return nil
	})
	return got
}

func TestKafkaRouting(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers := testsupport.Kafka(ctx, t)

	routes := DefaultRoutingTable("order.status.topic", "payment.status.topic", "order.analytics.fanout")
	publisher, err := NewPublisher(brokers, routes)
	require.NoError(t, err)
	defer func() { _ = publisher.Close() }()

	publish := func(ch domain.Channel, key string, payload any) {
		t.Helper()
		// the first write may race topic auto-creation
		require.Eventually(t, func() bool {
			return publisher.Publish(ctx, ch, key, payload) == nil
		}, 30*time.Second, 500*time.Millisecond)
	}

	publish(domain.ChannelOrderStatus, domain.OrderStatusConfirmed.RoutingKey(),
		domain.OrderStatusEvent{OrderID: "o-1", Status: domain.OrderStatusConfirmed, Total: "20.00"})
	publish(domain.ChannelOrderStatus, domain.OrderStatusCancelled.RoutingKey(),
		domain.OrderStatusEvent{OrderID: "o-2", Status: domain.OrderStatusCancelled})
	publish(domain.ChannelOrderStatus, domain.OrderStatusShipped.RoutingKey(),
		domain.OrderStatusEvent{OrderID: "o-3", Status: domain.OrderStatusShipped})
	publish(domain.ChannelAnalytics, "",
		domain.AnalyticsEvent{EventType: domain.AnalyticsOrderCreated, OrderID: "o-1", Total: "20.00"})

	t.Run("topic binding receives only matching keys", func(t *testing.T) {
		c := NewConsumer(brokers, "order.status.topic", "cancellations",
			WithBinding("order.status.cancelled"), WithStartOffset(kafka.FirstOffset))
		defer func() { _ = c.Close() }()

		readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
		defer readCancel()

		got := collect(readCtx, t, c, 1)
		require.Len(t, got, 1)
		assert.Equal(t, "order.status.cancelled", got[0].RoutingKey)
		assert.Equal(t, "o-2", got[0].Key)

		var event domain.OrderStatusEvent
		require.NoError(t, json.Unmarshal(got[0].Payload, &event))
		assert.Equal(t, domain.OrderStatusCancelled, event.Status)
	})

	t.Run("fanout reaches every group", func(t *testing.T) {
		for _, group := range []string{"analytics-a", "analytics-b"} {
			c := NewConsumer(brokers, "order.analytics.fanout", group, WithStartOffset(kafka.FirstOffset))

			readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
			got := collect(readCtx, t, c, 1)
			readCancel()
			_ = c.Close()

			require.Len(t, got, 1, group)
			assert.Equal(t, string(domain.ChannelAnalytics), got[0].Channel)
			assert.Empty(t, got[0].RoutingKey)
		}
	})
}
