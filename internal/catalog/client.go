package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/joao-fontenele/orderlifecycle/internal/domain"
)

var ErrSnapshotCountMismatch = errors.New("catalog returned a different number of snapshots than requested")

// Client calls the product catalog's batch lookup and bulk inventory endpoints.
// Timeouts are the responsibility of the supplied http.Client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// FetchSnapshots returns one snapshot per requested id, in catalog order.
func (c *Client) FetchSnapshots(ctx context.Context, ids []string) ([]domain.ProductSnapshot, error) {
	var snapshots []domain.ProductSnapshot
	if err := c.post(ctx, "/api/v1/products/batch", ids, &snapshots); err != nil {
		return nil, fmt.Errorf("fetch product snapshots: %w", err)
	}

	if len(snapshots) != len(ids) {
		return nil, fmt.Errorf("%w: requested %d, got %d", ErrSnapshotCountMismatch, len(ids), len(snapshots))
	}

	return snapshots, nil
}

type reduceRequest struct {
	Items []domain.InventoryItem `json:"items"`
}

func (c *Client) ReduceInventory(ctx context.Context, items []domain.InventoryItem) (*domain.InventoryReduceResult, error) {
	var result domain.InventoryReduceResult
	if err := c.post(ctx, "/api/v1/products/reduce", reduceRequest{Items: items}, &result); err != nil {
		return nil, fmt.Errorf("reduce inventory: %w", err)
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("catalog returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
