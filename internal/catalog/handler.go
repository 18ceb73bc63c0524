package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/joao-fontenele/orderlifecycle/internal/domain"
)

type ProductStore interface {
	ListAll(ctx context.Context) ([]Product, error)
	Get(ctx context.Context, id string) (*Product, error)
	Snapshots(ctx context.Context, ids []string) ([]domain.ProductSnapshot, error)
	ReduceBulk(ctx context.Context, items []domain.InventoryItem) ([]string, error)
}

// Handler serves the catalog endpoints the order service depends on.
type Handler struct {
	store  ProductStore
	logger *slog.Logger
}

func NewHandler(store ProductStore, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("GET /api/v1/products", wrap(h.HandleList))
	mux.HandleFunc("GET /api/v1/products/{id}", wrap(h.HandleGet))
	mux.HandleFunc("POST /api/v1/products/batch", wrap(h.HandleBatch))
	mux.HandleFunc("POST /api/v1/products/reduce", wrap(h.HandleReduce))
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("products listed", "count", len(products))
	h.writeJSON(w, http.StatusOK, products)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	product, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "product_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if product == nil {
		h.writeError(w, http.StatusNotFound, "product not found")
		return
	}

	h.writeJSON(w, http.StatusOK, product)
}

func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if err := json.NewDecoder(r.Body).Decode(&ids); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snapshots, err := h.store.Snapshots(r.Context(), ids)
	if err != nil {
		h.logger.Error("failed to load snapshots", "error", err, "count", len(ids))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("snapshots served", "requested", len(ids), "found", len(snapshots))
	h.writeJSON(w, http.StatusOK, snapshots)
}

type reduceResponse struct {
	Status       domain.InventoryReduceStatus `json:"status"`
	ProcessedIDs []string                     `json:"processedProductIds"`
	ProcessedAt  time.Time                    `json:"processedAt"`
}

// HandleReduce answers 200 with status FAILED when stock is short; only
// malformed requests and storage errors produce an error status.
func (h *Handler) HandleReduce(w http.ResponseWriter, r *http.Request) {
	var req reduceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.Items) == 0 {
		h.writeError(w, http.StatusBadRequest, "no items to reduce")
		return
	}

	for _, item := range req.Items {
		if item.ProductID == "" || item.Quantity <= 0 {
			h.writeError(w, http.StatusBadRequest, "items need a product id and a positive quantity")
			return
		}
	}

	processed, err := h.store.ReduceBulk(r.Context(), req.Items)
	if errors.Is(err, ErrInsufficientStock) {
		h.logger.Info("inventory reduction rejected", "reason", err.Error())
		h.writeJSON(w, http.StatusOK, reduceResponse{
			Status:       domain.InventoryReduceFailed,
			ProcessedIDs: []string{},
			ProcessedAt:  time.Now().UTC(),
		})
		return
	}
	if err != nil {
		h.logger.Error("failed to reduce inventory", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("inventory reduced", "items", len(processed))
	h.writeJSON(w, http.StatusOK, reduceResponse{
		Status:       domain.InventoryReduceSuccess,
		ProcessedIDs: processed,
		ProcessedAt:  time.Now().UTC(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
