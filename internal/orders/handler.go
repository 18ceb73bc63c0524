package orders

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joao-fontenele/orderlifecycle/internal/domain"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// Handler exposes the order service over HTTP. Idempotent creation is enabled
// when an IdempotencyStore is supplied.
type Handler struct {
	service     *Service
	idempotency *IdempotencyStore
	logger      *slog.Logger
}

func NewHandler(service *Service, idempotency *IdempotencyStore, logger *slog.Logger) *Handler {
	return &Handler{
		service:     service,
		idempotency: idempotency,
		logger:      logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("POST /v1/orders", wrap(h.HandleCreate))
	mux.HandleFunc("GET /v1/orders", wrap(h.HandleList))
	mux.HandleFunc("GET /v1/orders/{id}", wrap(h.HandleGet))
	mux.HandleFunc("PATCH /v1/orders/{id}/status", wrap(h.HandleUpdateStatus))
	mux.HandleFunc("PATCH /v1/orders/{id}/payment-status", wrap(h.HandleUpdatePaymentStatus))
}

type lineItemResponse struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	LineTotal string `json:"lineTotal"`
}

type orderResponse struct {
	ID            string               `json:"id"`
	Products      []lineItemResponse   `json:"products"`
	TotalAmount   string               `json:"totalAmount"`
	Address       domain.Address       `json:"address"`
	Status        domain.OrderStatus   `json:"status"`
	PaymentStatus domain.PaymentStatus `json:"paymentStatus"`
	PaymentMethod domain.PaymentMethod `json:"paymentMethod,omitempty"`
	Version       int64                `json:"version"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

func newOrderResponse(o *domain.Order) orderResponse {
	items := make([]lineItemResponse, len(o.LineItems))
	for i, item := range o.LineItems {
		items[i] = lineItemResponse{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
			LineTotal: item.LineTotal().StringFixed(2),
		}
	}

	return orderResponse{
		ID:            o.ID,
		Products:      items,
		TotalAmount:   o.TotalAmount.StringFixed(2),
		Address:       o.DeliveryAddress,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PaymentMethod: o.PaymentMethod,
		Version:       o.Version,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" || h.idempotency == nil {
		order, err := h.service.CreateOrder(r.Context(), req)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.writeJSON(w, http.StatusCreated, newOrderResponse(order))
		return
	}

	fingerprint, err := Fingerprint(req)
	if err != nil {
		h.logger.Error("idempotency fingerprint failed", "error", err, "idempotency_key", key)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	previous, err := h.idempotency.Begin(r.Context(), key, fingerprint)
	switch {
	case errors.Is(err, ErrRequestInProgress):
		h.writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, ErrKeyReused):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		h.logger.Error("idempotency lookup failed", "error", err, "idempotency_key", key)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if previous != nil {
		h.replay(w, r, key, previous)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), req)
	if err != nil {
		status, resp := h.serviceError(err)
		// Retries of a request whose order was persisted get the same failure.
		if resp.Committed {
			body, encErr := json.Marshal(resp)
			if encErr != nil {
				h.logger.Error("failed to encode idempotent outcome", "error", encErr, "idempotency_key", key)
			} else {
				h.completeKey(r, key, fingerprint, Outcome{OrderID: resp.OrderID, StatusCode: status, Body: body})
			}
		} else if abortErr := h.idempotency.Abort(r.Context(), key); abortErr != nil {
			h.logger.Error("failed to release idempotency key", "error", abortErr, "idempotency_key", key)
		}
		h.writeJSON(w, status, resp)
		return
	}

	h.completeKey(r, key, fingerprint, Outcome{OrderID: order.ID, StatusCode: http.StatusCreated})
	h.writeJSON(w, http.StatusCreated, newOrderResponse(order))
}

func (h *Handler) completeKey(r *http.Request, key, fingerprint string, outcome Outcome) {
	if err := h.idempotency.Complete(r.Context(), key, fingerprint, outcome); err != nil {
		h.logger.Error("failed to record idempotency key", "error", err, "idempotency_key", key, "order_id", outcome.OrderID)
	}
}

// replay answers a retried create. Failures are sent back as recorded; a
// successful create returns the order as it is now.
func (h *Handler) replay(w http.ResponseWriter, r *http.Request, key string, outcome *Outcome) {
	h.logger.Info("replayed order creation", "order_id", outcome.OrderID, "idempotency_key", key,
		"status_code", outcome.StatusCode)

	if outcome.StatusCode != http.StatusCreated {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(outcome.StatusCode)
		if _, err := w.Write(outcome.Body); err != nil {
			h.logger.Error("failed to write replayed response", "error", err)
		}
		return
	}

	order, err := h.service.FindOrder(r.Context(), outcome.OrderID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.service.GetOrderByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newOrderResponse(order))
}

// HandleList filters by ?status= or ?paymentStatus=, defaulting to CONFIRMED orders.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var (
		orders []domain.Order
		err    error
	)

	switch {
	case query.Get("status") != "" && query.Get("paymentStatus") != "":
		h.writeError(w, http.StatusBadRequest, "filter by either status or paymentStatus, not both")
		return
	case query.Get("paymentStatus") != "":
		status, ok := domain.ParsePaymentStatus(query.Get("paymentStatus"))
		if !ok {
			h.writeError(w, http.StatusBadRequest, "unknown payment status "+query.Get("paymentStatus"))
			return
		}
		orders, err = h.service.ListByPaymentStatus(r.Context(), status)
	default:
		status := domain.OrderStatusConfirmed
		if raw := query.Get("status"); raw != "" {
			parsed, ok := domain.ParseOrderStatus(raw)
			if !ok {
				h.writeError(w, http.StatusBadRequest, "unknown order status "+raw)
				return
			}
			status = parsed
		}
		orders, err = h.service.ListByStatus(r.Context(), status)
	}

	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := make([]orderResponse, len(orders))
	for i := range orders {
		resp[i] = newOrderResponse(&orders[i])
	}

	h.logger.Info("orders listed", "count", len(resp))
	h.writeJSON(w, http.StatusOK, resp)
}

type updateStatusRequest struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.statusParam(w, r, "status")
	if !ok {
		return
	}

	status, valid := domain.ParseOrderStatus(raw)
	if !valid {
		h.writeError(w, http.StatusBadRequest, "unknown order status "+raw)
		return
	}

	order, err := h.service.UpdateOrderStatus(r.Context(), r.PathValue("id"), status)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handler) HandleUpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.statusParam(w, r, "paymentStatus")
	if !ok {
		return
	}

	status, valid := domain.ParsePaymentStatus(raw)
	if !valid {
		h.writeError(w, http.StatusBadRequest, "unknown payment status "+raw)
		return
	}

	order, err := h.service.UpdatePaymentStatus(r.Context(), r.PathValue("id"), status)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, newOrderResponse(order))
}

// statusParam reads the target state from the query string, falling back to a
// JSON body.
func (h *Handler) statusParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	if v := r.URL.Query().Get(name); v != "" {
		return v, true
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}

	v := req.Status
	if name == "paymentStatus" {
		v = req.PaymentStatus
	}
	if v == "" {
		h.writeError(w, http.StatusBadRequest, "missing "+name)
		return "", false
	}
	return v, true
}

type errorResponse struct {
	Error     string `json:"error"`
	OrderID   string `json:"order_id,omitempty"`
	Committed bool   `json:"committed,omitempty"`
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrProductUnavailable), errors.Is(err, domain.ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// committedOrderID reports the order an error was raised for when that order
// had already been persisted.
func committedOrderID(err error) (string, bool) {
	var pubErr *domain.PublishError
	if errors.As(err, &pubErr) && pubErr.OrderID != "" {
		return pubErr.OrderID, true
	}

	var extErr *domain.ExternalServiceError
	if errors.As(err, &extErr) && extErr.Committed {
		return extErr.OrderID, true
	}

	return "", false
}

func (h *Handler) serviceError(err error) (int, errorResponse) {
	status := httpStatus(err)
	resp := errorResponse{Error: err.Error()}

	if orderID, committed := committedOrderID(err); committed {
		resp.OrderID = orderID
		resp.Committed = true
	}

	if status == http.StatusInternalServerError && !errors.Is(err, domain.ErrPublish) {
		h.logger.Error("request failed", "error", err)
		resp.Error = "internal server error"
	}

	return status, resp
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status, resp := h.serviceError(err)
	h.writeJSON(w, status, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}
