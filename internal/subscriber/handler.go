package subscriber

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/joao-fontenele/orderlifecycle/internal/domain"
	"github.com/joao-fontenele/orderlifecycle/internal/messaging"
)

// EventLogger logs the order lifecycle events delivered to one subscription.
type EventLogger struct {
	subscription string
	logger       *slog.Logger
}

func NewEventLogger(subscription string, logger *slog.Logger) *EventLogger {
	return &EventLogger{
		subscription: subscription,
		logger:       logger.With("subscription", subscription),
	}
}

// Handle never fails on a malformed payload; the message is logged and skipped
// so that one bad event does not block the partition.
func (h *EventLogger) Handle(ctx context.Context, d messaging.Delivery) error {
	channel, ok := domain.ParseChannel(d.Channel)
	if !ok {
		h.logger.WarnContext(ctx, "event on unknown channel", "channel", d.Channel, "key", d.Key)
		return nil
	}

	switch channel {
	case domain.ChannelOrderStatus:
		var event domain.OrderStatusEvent
		if !h.decode(ctx, d, &event) {
			return nil
		}
		h.logger.InfoContext(ctx, "order status event",
			"routing_key", d.RoutingKey, "order_id", event.OrderID, "status", event.Status, "total", event.Total)

	case domain.ChannelPaymentStatus:
		var event domain.PaymentStatusEvent
		if !h.decode(ctx, d, &event) {
			return nil
		}
		h.logger.InfoContext(ctx, "payment status event",
			"routing_key", d.RoutingKey, "order_id", event.OrderID, "payment_status", event.PaymentStatus)

	case domain.ChannelAnalytics:
		var event domain.AnalyticsEvent
		if !h.decode(ctx, d, &event) {
			return nil
		}
		h.logger.InfoContext(ctx, "analytics event",
			"event_type", event.EventType, "order_id", event.OrderID)
	}

	return nil
}

func (h *EventLogger) decode(ctx context.Context, d messaging.Delivery, v any) bool {
	if err := json.Unmarshal(d.Payload, v); err != nil {
		h.logger.WarnContext(ctx, "skipping malformed event", "error", err, "channel", d.Channel, "key", d.Key)
		return false
	}
	return true
}
