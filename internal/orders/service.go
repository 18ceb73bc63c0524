package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/orderlifecycle/internal/domain"
	"github.com/joao-fontenele/orderlifecycle/internal/telemetry"
)

var tracer = otel.Tracer("orders/service")

// OrderStore persists orders. FindByID returns nil, nil when the order does not
// exist. Save fails with *domain.ConflictError when the stored version differs
// from order.Version and returns the order with its new version.
type OrderStore interface {
	Create(ctx context.Context, order *domain.Order) (*domain.Order, error)
	FindByID(ctx context.Context, id string) (*domain.Order, error)
	FindByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)
	FindByPaymentStatus(ctx context.Context, status domain.PaymentStatus) ([]domain.Order, error)
	Save(ctx context.Context, order *domain.Order) (*domain.Order, error)
}

type ProductCatalog interface {
	FetchSnapshots(ctx context.Context, ids []string) ([]domain.ProductSnapshot, error)
	ReduceInventory(ctx context.Context, items []domain.InventoryItem) (*domain.InventoryReduceResult, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, channel domain.Channel, routingKey string, payload any) error
}

// Failure stages recorded in orders.create_failures.
const (
	stageValidate  = "validate"
	stagePricing   = "pricing"
	stagePersist   = "persist"
	stageReserve   = "reserve_inventory"
	stagePublish   = "publish"
	machineOrder   = "order"
	machinePayment = "payment"
)

// Service coordinates the order lifecycle: creation against the catalog, and
// status and payment transitions gated by their state machines. Nothing is
// retried and nothing is compensated; every error reaches the caller.
type Service struct {
	store     OrderStore
	catalog   ProductCatalog
	publisher EventPublisher
	metrics   *telemetry.OrderMetrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(store OrderStore, catalog ProductCatalog, publisher EventPublisher, metrics *telemetry.OrderMetrics, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		catalog:   catalog,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder validates req, prices it from the catalog, commits the order,
// reserves inventory and publishes the CONFIRMED and ORDER_CREATED events.
//
// Errors raised after the commit (inventory reservation, publishing) carry the
// order id and leave the committed order in place.
func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (_ *domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "CreateOrder", trace.WithAttributes(attribute.Int("order.items", len(req.Items))))
	defer func() { endSpan(span, err) }()

	if err := validateCreateRequest(req); err != nil {
		s.metrics.CreateFailed(ctx, stageValidate)
		return nil, err
	}

	items, total, err := s.priceItems(ctx, req.Items)
	if err != nil {
		s.metrics.CreateFailed(ctx, stagePricing)
		return nil, err
	}

	now := s.now()
	order, err := s.store.Create(ctx, &domain.Order{
		LineItems:       items,
		TotalAmount:     total,
		DeliveryAddress: *req.DeliveryAddress,
		Status:          domain.OrderStatusConfirmed,
		PaymentStatus:   domain.PaymentStatusPending,
		PaymentMethod:   req.PaymentMethod,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		s.metrics.CreateFailed(ctx, stagePersist)
		return nil, fmt.Errorf("persist order: %w", err)
	}
	s.metrics.OrderCreated(ctx)
	span.SetAttributes(attribute.String("order.id", order.ID))

	if err := s.reserveInventory(ctx, order); err != nil {
		s.metrics.CreateFailed(ctx, stageReserve)
		s.logger.Error("inventory reservation failed after order commit; order left CONFIRMED/PENDING",
			"order_id", order.ID, "error", err)
		return nil, err
	}

	s.logger.Info("order created", "order_id", order.ID, "total", order.TotalAmount.StringFixed(2))

	err = s.publish(ctx, order.ID, domain.ChannelOrderStatus, domain.OrderStatusConfirmed.RoutingKey(), domain.OrderStatusEvent{
		OrderID:   order.ID,
		Status:    order.Status,
		Total:     order.TotalAmount.StringFixed(2),
		Timestamp: now.UnixMilli(),
	})
	if err != nil {
		s.metrics.CreateFailed(ctx, stagePublish)
		return nil, err
	}

	err = s.publish(ctx, order.ID, domain.ChannelAnalytics, "", domain.AnalyticsEvent{
		EventType: domain.AnalyticsOrderCreated,
		OrderID:   order.ID,
		Total:     order.TotalAmount.StringFixed(2),
	})
	if err != nil {
		s.metrics.CreateFailed(ctx, stagePublish)
		return nil, err
	}

	return order, nil
}

func validateCreateRequest(req domain.CreateOrderRequest) error {
	if req.DeliveryAddress == nil {
		return &domain.ValidationError{Rule: "delivery address is required"}
	}
	if err := validateAddress(*req.DeliveryAddress); err != nil {
		return err
	}

	if len(req.Items) == 0 {
		return &domain.ValidationError{Rule: "order must contain at least one product"}
	}

	seen := make(map[string]struct{}, len(req.Items))
	for _, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return &domain.ValidationError{Rule: "product id is required"}
		}
		if _, dup := seen[item.ProductID]; dup {
			return &domain.ValidationError{Rule: "duplicate products in the same order are not allowed"}
		}
		seen[item.ProductID] = struct{}{}
	}

	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return &domain.ValidationError{Rule: "quantity must be greater than zero"}
		}
	}

	if req.PaymentMethod != "" && !req.PaymentMethod.Valid() {
		return &domain.ValidationError{Rule: "unknown payment method " + string(req.PaymentMethod)}
	}

	return nil
}

func validateAddress(a domain.Address) error {
	required := []struct {
		name  string
		value string
	}{
		{"line1", a.Line1},
		{"city", a.City},
		{"state", a.State},
		{"country", a.Country},
		{"postalCode", a.PostalCode},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &domain.ValidationError{Rule: "delivery address " + f.name + " is required"}
		}
	}
	return nil
}

// priceItems builds line items from catalog snapshots. Prices in the request
// are ignored.
func (s *Service) priceItems(ctx context.Context, reqItems []domain.LineItemRequest) ([]domain.LineItem, decimal.Decimal, error) {
	ids := make([]string, len(reqItems))
	for i, item := range reqItems {
		ids[i] = item.ProductID
	}

	snapshots, err := s.catalog.FetchSnapshots(ctx, ids)
	if err != nil {
		return nil, decimal.Zero, &domain.ExternalServiceError{Operation: "fetch product snapshots", Err: err}
	}

	if len(snapshots) != len(ids) {
		return nil, decimal.Zero, &domain.ExternalServiceError{
			Operation: "fetch product snapshots",
			Err:       fmt.Errorf("requested %d products, catalog returned %d", len(ids), len(snapshots)),
		}
	}

	byID := make(map[string]domain.ProductSnapshot, len(snapshots))
	for _, snap := range snapshots {
		byID[snap.ProductID] = snap
	}

	items := make([]domain.LineItem, 0, len(reqItems))
	total := decimal.Zero
	for _, reqItem := range reqItems {
		snap, ok := byID[reqItem.ProductID]
		if !ok {
			return nil, decimal.Zero, &domain.ExternalServiceError{
				Operation: "fetch product snapshots",
				Err:       fmt.Errorf("catalog returned no snapshot for product %s", reqItem.ProductID),
			}
		}

		if snap.AvailabilityStatus != domain.ProductStatusActive {
			return nil, decimal.Zero, &domain.ProductUnavailableError{ProductID: snap.ProductID, Status: snap.AvailabilityStatus}
		}

		if snap.Price.IsNegative() {
			return nil, decimal.Zero, &domain.ExternalServiceError{
				Operation: "fetch product snapshots",
				Err:       fmt.Errorf("negative price for product %s", snap.ProductID),
			}
		}

		item := domain.LineItem{
			ProductID: reqItem.ProductID,
			Quantity:  reqItem.Quantity,
			UnitPrice: snap.Price.Round(domain.UnitPriceScale),
		}
		total = total.Add(item.LineTotal())
		items = append(items, item)
	}

	return items, total.Round(2), nil
}

func (s *Service) reserveInventory(ctx context.Context, order *domain.Order) error {
	reserve := make([]domain.InventoryItem, len(order.LineItems))
	for i, item := range order.LineItems {
		reserve[i] = domain.InventoryItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	result, err := s.catalog.ReduceInventory(ctx, reserve)
	if err != nil {
		return &domain.ExternalServiceError{Operation: "reduce inventory", OrderID: order.ID, Committed: true, Err: err}
	}

	if result == nil || result.Status != domain.InventoryReduceSuccess {
		status := "no response"
		if result != nil {
			status = string(result.Status)
		}
		return &domain.ExternalServiceError{
			Operation: "reduce inventory",
			OrderID:   order.ID,
			Committed: true,
			Err:       fmt.Errorf("catalog reported %s", status),
		}
	}

	return nil
}

// GetOrderByID loads an order and emits ORDER_FETCHED for it.
func (s *Service) GetOrderByID(ctx context.Context, id string) (_ *domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "GetOrderByID", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { endSpan(span, err) }()

	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.publish(ctx, id, domain.ChannelAnalytics, "", domain.AnalyticsEvent{
		EventType: domain.AnalyticsOrderFetched,
		OrderID:   id,
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// FindOrder loads an order without emitting an analytics event.
func (s *Service) FindOrder(ctx context.Context, id string) (_ *domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "FindOrder", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { endSpan(span, err) }()

	return s.load(ctx, id)
}

func (s *Service) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	orders, err := s.store.FindByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list orders by status %s: %w", status, err)
	}
	return orders, nil
}

func (s *Service) ListByPaymentStatus(ctx context.Context, status domain.PaymentStatus) ([]domain.Order, error) {
	orders, err := s.store.FindByPaymentStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list orders by payment status %s: %w", status, err)
	}
	return orders, nil
}

// UpdateOrderStatus moves the order to next if the order state machine allows it,
// then publishes the status event and ORDER_STATUS_UPDATED.
func (s *Service) UpdateOrderStatus(ctx context.Context, id string, next domain.OrderStatus) (_ *domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "UpdateOrderStatus", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.status.next", string(next)),
	))
	defer func() { endSpan(span, err) }()

	if parsed, ok := domain.ParseOrderStatus(string(next)); !ok || parsed != next {
		return nil, &domain.ValidationError{Rule: "unknown order status " + string(next)}
	}

	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	current := order.Status
	if !current.CanTransitionTo(next) {
		return nil, &domain.InvalidTransitionError{Machine: machineOrder, From: string(current), To: string(next)}
	}

	order.Status = next
	order.UpdatedAt = s.now()

	saved, err := s.store.Save(ctx, order)
	if err != nil {
		return nil, err
	}
	s.metrics.Transition(ctx, machineOrder, string(next))
	s.logger.Info("order status updated", "order_id", id, "from", current, "to", next)

	err = s.publish(ctx, id, domain.ChannelOrderStatus, next.RoutingKey(), domain.OrderStatusEvent{
		OrderID:   id,
		Status:    next,
		Timestamp: saved.UpdatedAt.UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	err = s.publish(ctx, id, domain.ChannelAnalytics, "", domain.AnalyticsEvent{
		EventType: domain.AnalyticsOrderStatusUpdated,
		OrderID:   id,
		Status:    next,
	})
	if err != nil {
		return nil, err
	}

	return saved, nil
}

// UpdatePaymentStatus is the payment-track counterpart of UpdateOrderStatus.
func (s *Service) UpdatePaymentStatus(ctx context.Context, id string, next domain.PaymentStatus) (_ *domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "UpdatePaymentStatus", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.payment_status.next", string(next)),
	))
	defer func() { endSpan(span, err) }()

	if parsed, ok := domain.ParsePaymentStatus(string(next)); !ok || parsed != next {
		return nil, &domain.ValidationError{Rule: "unknown payment status " + string(next)}
	}

	order, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	current := order.PaymentStatus
	if !current.CanTransitionTo(next) {
		return nil, &domain.InvalidTransitionError{Machine: machinePayment, From: string(current), To: string(next)}
	}

	order.PaymentStatus = next
	order.UpdatedAt = s.now()

	saved, err := s.store.Save(ctx, order)
	if err != nil {
		return nil, err
	}
	s.metrics.Transition(ctx, machinePayment, string(next))
	s.logger.Info("payment status updated", "order_id", id, "from", current, "to", next)

	err = s.publish(ctx, id, domain.ChannelPaymentStatus, next.RoutingKey(), domain.PaymentStatusEvent{
		OrderID:       id,
		PaymentStatus: next,
		Timestamp:     saved.UpdatedAt.UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	err = s.publish(ctx, id, domain.ChannelAnalytics, "", domain.AnalyticsEvent{
		EventType:     domain.AnalyticsPaymentStatusUpdated,
		OrderID:       id,
		PaymentStatus: next,
	})
	if err != nil {
		return nil, err
	}

	return saved, nil
}

func (s *Service) load(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", id, err)
	}
	if order == nil {
		return nil, &domain.NotFoundError{OrderID: id}
	}
	return order, nil
}

func (s *Service) publish(ctx context.Context, orderID string, channel domain.Channel, routingKey string, payload any) error {
	err := s.publisher.Publish(ctx, channel, routingKey, payload)
	s.metrics.EventPublished(ctx, string(channel), err)
	if err != nil {
		s.logger.Error("failed to publish event", "error", err, "order_id", orderID,
			"channel", channel, "routing_key", routingKey)
		return &domain.PublishError{Channel: channel, RoutingKey: routingKey, OrderID: orderID, Err: err}
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
