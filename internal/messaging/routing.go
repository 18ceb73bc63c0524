package messaging

import (
	"fmt"

	"github.com/joao-fontenele/orderlifecycle/internal/domain"
)

type RouteKind int

const (
	// RouteTopic delivers a message only to consumers whose binding matches its routing key.
	RouteTopic RouteKind = iota
	// RouteFanout delivers every message to every consumer group; routing keys are not used.
	RouteFanout
)

func (k RouteKind) String() string {
	switch k {
	case RouteTopic:
		return "topic"
	case RouteFanout:
		return "fanout"
	default:
		return fmt.Sprintf("RouteKind(%d)", int(k))
	}
}

type Route struct {
	Topic string
	Kind  RouteKind
}

// RoutingTable maps each logical channel to its Kafka topic.
type RoutingTable map[domain.Channel]Route

// DefaultRoutingTable returns the routing table with the given topic names.
func DefaultRoutingTable(orderStatusTopic, paymentStatusTopic, analyticsTopic string) RoutingTable {
	return RoutingTable{
		domain.ChannelOrderStatus:   {Topic: orderStatusTopic, Kind: RouteTopic},
		domain.ChannelPaymentStatus: {Topic: paymentStatusTopic, Kind: RouteTopic},
		domain.ChannelAnalytics:     {Topic: analyticsTopic, Kind: RouteFanout},
	}
}

// Validate checks that every channel has a route with a topic.
func (t RoutingTable) Validate() error {
	for _, ch := range domain.AllChannels {
		route, ok := t[ch]
		if !ok {
			return fmt.Errorf("no route for channel %s", ch)
		}
		if route.Topic == "" {
			return fmt.Errorf("empty topic for channel %s", ch)
		}
	}
	return nil
}

func (t RoutingTable) Lookup(ch domain.Channel) (Route, error) {
	route, ok := t[ch]
	if !ok {
		return Route{}, fmt.Errorf("no route for channel %s", ch)
	}
	return route, nil
}
