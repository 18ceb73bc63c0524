package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductStatusActive is the only availability value that admits a product into an order.
const ProductStatusActive = "ACTIVE"

// ProductSnapshot is a point-in-time price and availability read from the catalog.
type ProductSnapshot struct {
	ProductID          string          `json:"id"`
	Price              decimal.Decimal `json:"price"`
	AvailabilityStatus string          `json:"status"`
}

type InventoryItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type InventoryReduceStatus string

const (
	InventoryReduceSuccess InventoryReduceStatus = "SUCCESS"
	InventoryReduceFailed  InventoryReduceStatus = "FAILED"
)

type InventoryReduceResult struct {
	Status       InventoryReduceStatus `json:"status"`
	ProcessedIDs []string              `json:"processedProductIds"`
	ProcessedAt  time.Time             `json:"processedAt"`
}
