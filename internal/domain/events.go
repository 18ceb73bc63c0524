package domain

import "strings"

// Channel is a logical event channel. Its transport destination comes from the
// publisher's routing table.
type Channel string

const (
	ChannelOrderStatus   Channel = "order-status"
	ChannelPaymentStatus Channel = "payment-status"
	ChannelAnalytics     Channel = "analytics"
)

var AllChannels = []Channel{ChannelOrderStatus, ChannelPaymentStatus, ChannelAnalytics}

func ParseChannel(s string) (Channel, bool) {
	for _, c := range AllChannels {
		if Channel(s) == c {
			return c, true
		}
	}
	return "", false
}

// RoutingKey returns order.status.<lowercase-status>.
func (s OrderStatus) RoutingKey() string {
	return "order.status." + strings.ToLower(string(s))
}

// RoutingKey returns payment.status.<lowercase-status>.
func (s PaymentStatus) RoutingKey() string {
	return "payment.status." + strings.ToLower(string(s))
}

type AnalyticsEventType string

const (
	AnalyticsOrderCreated         AnalyticsEventType = "ORDER_CREATED"
	AnalyticsOrderStatusUpdated   AnalyticsEventType = "ORDER_STATUS_UPDATED"
	AnalyticsPaymentStatusUpdated AnalyticsEventType = "PAYMENT_STATUS_UPDATED"
	AnalyticsOrderFetched         AnalyticsEventType = "ORDER_FETCHED"
)

// OrderStatusEvent is published on the order-status channel. Total is only set
// for the CONFIRMED event emitted on creation. Timestamp is in Unix milliseconds.
type OrderStatusEvent struct {
	OrderID   string      `json:"orderId"`
	Status    OrderStatus `json:"status"`
	Total     string      `json:"total,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func (e OrderStatusEvent) AggregateID() string { return e.OrderID }

type PaymentStatusEvent struct {
	OrderID       string        `json:"orderId"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	Timestamp     int64         `json:"timestamp"`
}

func (e PaymentStatusEvent) AggregateID() string { return e.OrderID }

type AnalyticsEvent struct {
	EventType     AnalyticsEventType `json:"eventType"`
	OrderID       string             `json:"orderId"`
	Total         string             `json:"total,omitempty"`
	Status        OrderStatus        `json:"status,omitempty"`
	PaymentStatus PaymentStatus      `json:"paymentStatus,omitempty"`
}

func (e AnalyticsEvent) AggregateID() string { return e.OrderID }
