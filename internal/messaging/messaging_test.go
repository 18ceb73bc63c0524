package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderlifecycle/internal/domain"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	msgs      []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(_ context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func testRoutes() RoutingTable {
	return DefaultRoutingTable("order.status.topic", "payment.status.topic", "order.analytics.fanout")
}

func TestMatchBinding(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"order.status.*", "order.status.confirmed", true},
		{"order.status.*", "order.status", false},
		{"order.status.*", "order.status.confirmed.extra", false},
		{"order.status.confirmed", "order.status.confirmed", true},
		{"order.status.confirmed", "order.status.shipped", false},
		{"order.#", "order.status.shipped", true},
		{"order.#", "order", true},
		{"#", "payment.status.paid", true},
		{"#.paid", "payment.status.paid", true},
		{"*.status.#", "payment.status.failed", true},
		{"payment.*.paid", "order.status.paid", false},
		{"", "order.status.confirmed", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchBinding(tt.pattern, tt.key))
		})
	}
}

func TestRoutingTable_Validate(t *testing.T) {
	require.NoError(t, testRoutes().Validate())

	missing := testRoutes()
	delete(missing, domain.ChannelAnalytics)
	assert.Error(t, missing.Validate())

	empty := testRoutes()
	empty[domain.ChannelOrderStatus] = Route{Kind: RouteTopic}
	assert.Error(t, empty.Validate())

	_, err := NewPublisher([]string{"localhost:9092"}, missing)
	assert.Error(t, err)
}

func TestPublisher_Publish(t *testing.T) {
	t.Run("topic channel carries routing key and order key", func(t *testing.T) {
		w := &fakeWriter{}
		p := newPublisher(w, testRoutes())

		event := domain.OrderStatusEvent{OrderID: "o-1", Status: domain.OrderStatusConfirmed, Total: "20.00", Timestamp: 1}
		err := p.Publish(context.Background(), domain.ChannelOrderStatus, "order.status.confirmed", event)
		require.NoError(t, err)

		require.Len(t, w.msgs, 1)
		msg := w.msgs[0]
		assert.Equal(t, "order.status.topic", msg.Topic)
		assert.Equal(t, "o-1", string(msg.Key))
		assert.Equal(t, "order.status.confirmed", headerValue(&msg, HeaderRoutingKey))
		assert.Equal(t, string(domain.ChannelOrderStatus), headerValue(&msg, HeaderChannel))

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(msg.Value, &decoded))
		assert.Equal(t, "o-1", decoded["orderId"])
		assert.Equal(t, "CONFIRMED", decoded["status"])
		assert.Equal(t, "20.00", decoded["total"])
	})

	t.Run("fanout channel has no routing key header", func(t *testing.T) {
		w := &fakeWriter{}
		p := newPublisher(w, testRoutes())

		err := p.Publish(context.Background(), domain.ChannelAnalytics, "", domain.AnalyticsEvent{
			EventType: domain.AnalyticsOrderFetched,
			OrderID:   "o-2",
		})
		require.NoError(t, err)

		require.Len(t, w.msgs, 1)
		assert.Equal(t, "order.analytics.fanout", w.msgs[0].Topic)
		assert.Empty(t, headerValue(&w.msgs[0], HeaderRoutingKey))
	})

	t.Run("topic channel without routing key is rejected", func(t *testing.T) {
		w := &fakeWriter{}
		p := newPublisher(w, testRoutes())

		err := p.Publish(context.Background(), domain.ChannelPaymentStatus, "", map[string]string{})
		assert.Error(t, err)
		assert.Empty(t, w.msgs)
	})

	t.Run("fanout channel with routing key is rejected", func(t *testing.T) {
		p := newPublisher(&fakeWriter{}, testRoutes())
		err := p.Publish(context.Background(), domain.ChannelAnalytics, "analytics.x", map[string]string{})
		assert.Error(t, err)
	})

	t.Run("unknown channel", func(t *testing.T) {
		p := newPublisher(&fakeWriter{}, testRoutes())
		err := p.Publish(context.Background(), domain.Channel("audit"), "a.b", map[string]string{})
		assert.Error(t, err)
	})

	t.Run("writer failure is returned", func(t *testing.T) {
		cause := errors.New("broker down")
		p := newPublisher(&fakeWriter{err: cause}, testRoutes())
		err := p.Publish(context.Background(), domain.ChannelPaymentStatus, "payment.status.paid",
			domain.PaymentStatusEvent{OrderID: "o-3", PaymentStatus: domain.PaymentStatusPaid})
		assert.ErrorIs(t, err, cause)
	})
}

func TestConsumer_Consume(t *testing.T) {
	message := func(routingKey, body string) kafka.Message {
		msg := kafka.Message{Key: []byte("o-1"), Value: []byte(body)}
		setHeader(&msg, HeaderChannel, string(domain.ChannelOrderStatus))
		setHeader(&msg, HeaderRoutingKey, routingKey)
		return msg
	}

	t.Run("binding filters deliveries but commits everything", func(t *testing.T) {
		reader := &fakeReader{msgs: []kafka.Message{
			message("order.status.confirmed", `{"a":1}`),
			message("order.status.cancelled", `{"a":2}`),
			message("order.status.shipped", `{"a":3}`),
		}}
		c := &Consumer{reader: reader, topic: "order.status.topic", groupID: "g", binding: "order.status.cancelled"}

		var got []Delivery
		err := c.Consume(context.Background(), func(_ context.Context, d Delivery) error {
			got = append(got, d)
			return nil
		})
		assert.ErrorIs(t, err, io.EOF)

		require.Len(t, got, 1)
		assert.Equal(t, "order.status.cancelled", got[0].RoutingKey)
		assert.Equal(t, string(domain.ChannelOrderStatus), got[0].Channel)
		assert.JSONEq(t, `{"a":2}`, string(got[0].Payload))
		assert.Len(t, reader.committed, 3)
	})

	t.Run("no binding delivers every message", func(t *testing.T) {
		reader := &fakeReader{msgs: []kafka.Message{
			{Value: []byte(`{}`)},
			{Value: []byte(`{}`)},
		}}
		c := &Consumer{reader: reader, topic: "order.analytics.fanout", groupID: "analytics"}

		count := 0
		err := c.Consume(context.Background(), func(_ context.Context, _ Delivery) error {
			count++
			return nil
		})
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, 2, count)
	})

	t.Run("handler error stops consumption without commit", func(t *testing.T) {
		reader := &fakeReader{msgs: []kafka.Message{message("order.status.shipped", `{}`)}}
		c := &Consumer{reader: reader, topic: "order.status.topic", groupID: "g"}

		cause := errors.New("boom")
		err := c.Consume(context.Background(), func(_ context.Context, _ Delivery) error {
			return cause
		})
		assert.ErrorIs(t, err, cause)
		assert.Empty(t, reader.committed)
	})
}
