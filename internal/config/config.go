// Package config reads each binary's settings from environment variables.
// Loaders take a getenv function so tests can supply values without touching
// the process environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Telemetry struct {
	OTLPEndpoint   string
	ServiceVersion string
	SampleRatio    float64
}

type Topics struct {
	OrderStatus   string
	PaymentStatus string
	Analytics     string
}

type Orders struct {
	Port               string
	PostgresURL        string
	CatalogURL         string
	KafkaBrokers       []string
	RedisAddr          string
	IdempotencyTTL     time.Duration
	IdempotencyLockTTL time.Duration
	CatalogTimeout     time.Duration
	Topics             Topics
	Telemetry          Telemetry
}

type Migrate struct {
	PostgresURL    string
	MigrationsPath string
}

type Catalog struct {
	Port        string
	PostgresURL string
	Telemetry   Telemetry
}

type Subscriber struct {
	KafkaBrokers []string
	Channel      string
	BindingKey   string
	GroupID      string
	Topics       Topics
	Telemetry    Telemetry
}

type Gateway struct {
	Port              string
	OrdersServiceURL  string
	CatalogServiceURL string
	Telemetry         Telemetry
}

// loader collects every problem so a misconfigured binary reports all of them at once.
type loader struct {
	getenv func(string) string
	errs   []error
}

func (l *loader) required(name string) string {
	v := strings.TrimSpace(l.getenv(name))
	if v == "" {
		l.errs = append(l.errs, fmt.Errorf("%s environment variable is required", name))
	}
	return v
}

func (l *loader) optional(name, fallback string) string {
	if v := strings.TrimSpace(l.getenv(name)); v != "" {
		return v
	}
	return fallback
}

func (l *loader) duration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(l.getenv(name))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		l.errs = append(l.errs, fmt.Errorf("%s must be a positive duration, got %q", name, raw))
		return fallback
	}
	return d
}

func (l *loader) ratio(name string, fallback float64) float64 {
	raw := strings.TrimSpace(l.getenv(name))
	if raw == "" {
		return fallback
	}
	r, err := strconv.ParseFloat(raw, 64)
	if err != nil || r < 0 || r > 1 {
		l.errs = append(l.errs, fmt.Errorf("%s must be a ratio between 0 and 1, got %q", name, raw))
		return fallback
	}
	return r
}

func (l *loader) list(name string) []string {
	var out []string
	for _, part := range strings.Split(l.required(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (l *loader) telemetry() Telemetry {
	return Telemetry{
		OTLPEndpoint:   l.optional("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		ServiceVersion: l.optional("SERVICE_VERSION", "0.1.0"),
		SampleRatio:    l.ratio("OTEL_TRACES_SAMPLER_ARG", 1),
	}
}

func (l *loader) topics() Topics {
	return Topics{
		OrderStatus:   l.optional("ORDER_STATUS_TOPIC", "order.status.topic"),
		PaymentStatus: l.optional("PAYMENT_STATUS_TOPIC", "payment.status.topic"),
		Analytics:     l.optional("ANALYTICS_TOPIC", "order.analytics.fanout"),
	}
}

func (l *loader) err() error {
	return errors.Join(l.errs...)
}

func LoadOrders(getenv func(string) string) (Orders, error) {
	l := &loader{getenv: getenv}
	cfg := Orders{
		Port:               l.optional("PORT", "8081"),
		PostgresURL:        l.required("POSTGRES_URL"),
		CatalogURL:         strings.TrimRight(l.required("CATALOG_URL"), "/"),
		KafkaBrokers:       l.list("KAFKA_BROKERS"),
		RedisAddr:          l.optional("REDIS_ADDR", ""),
		IdempotencyTTL:     l.duration("IDEMPOTENCY_TTL", 24*time.Hour),
		IdempotencyLockTTL: l.duration("IDEMPOTENCY_LOCK_TTL", 30*time.Second),
		CatalogTimeout:     l.duration("CATALOG_TIMEOUT", 5*time.Second),
		Topics:             l.topics(),
		Telemetry:          l.telemetry(),
	}
	return cfg, l.err()
}

func LoadCatalog(getenv func(string) string) (Catalog, error) {
	l := &loader{getenv: getenv}
	cfg := Catalog{
		Port:        l.optional("PORT", "8082"),
		PostgresURL: l.required("POSTGRES_URL"),
		Telemetry:   l.telemetry(),
	}
	return cfg, l.err()
}

// LoadSubscriber defaults to every order-status event for a group named after
// the channel.
func LoadSubscriber(getenv func(string) string) (Subscriber, error) {
	l := &loader{getenv: getenv}
	cfg := Subscriber{
		KafkaBrokers: l.list("KAFKA_BROKERS"),
		Channel:      l.optional("SUBSCRIBE_CHANNEL", "order-status"),
		BindingKey:   l.optional("BINDING_KEY", ""),
		Topics:       l.topics(),
		Telemetry:    l.telemetry(),
	}
	cfg.GroupID = l.optional("GROUP_ID", cfg.Channel+"-subscriber")
	return cfg, l.err()
}

func LoadGateway(getenv func(string) string) (Gateway, error) {
	l := &loader{getenv: getenv}
	cfg := Gateway{
		Port:              l.optional("PORT", "8080"),
		OrdersServiceURL:  strings.TrimRight(l.required("ORDERS_SERVICE_URL"), "/"),
		CatalogServiceURL: strings.TrimRight(l.required("CATALOG_SERVICE_URL"), "/"),
		Telemetry:         l.telemetry(),
	}
	return cfg, l.err()
}

func LoadMigrate(getenv func(string) string) (Migrate, error) {
	l := &loader{getenv: getenv}
	cfg := Migrate{
		PostgresURL:    l.required("POSTGRES_URL"),
		MigrationsPath: l.optional("MIGRATIONS_PATH", "file://migrations"),
	}
	return cfg, l.err()
}
