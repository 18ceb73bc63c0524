package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderlifecycle/internal/domain"
)

var ErrInsufficientStock = errors.New("insufficient stock")

type Product struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Status string          `json:"status"`
	Stock  int             `json:"stock"`
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ListAll(ctx context.Context) ([]Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, price, status, stock
		FROM catalog.products
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Status, &p.Stock); err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	return products, rows.Err()
}

func (r *Repository) Get(ctx context.Context, id string) (*Product, error) {
	p := &Product{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, price, status, stock
		FROM catalog.products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.Status, &p.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return p, nil
}

// Snapshots returns price and status for the ids that exist. Unknown ids are
// simply absent from the result.
func (r *Repository) Snapshots(ctx context.Context, ids []string) ([]domain.ProductSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, price, status
		FROM catalog.products
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	snapshots := []domain.ProductSnapshot{}
	for rows.Next() {
		var s domain.ProductSnapshot
		if err := rows.Scan(&s.ProductID, &s.Price, &s.AvailabilityStatus); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}

	return snapshots, rows.Err()
}

// ReduceBulk decrements stock for every item in one transaction. If any item is
// unknown or short on stock nothing is changed. Rows are locked in product id
// order so concurrent reductions over the same products cannot deadlock.
func (r *Repository) ReduceBulk(ctx context.Context, items []domain.InventoryItem) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, item := range lockOrder(items) {
		result, err := tx.ExecContext(ctx, `
			UPDATE catalog.products
			SET stock = stock - $2
			WHERE id = $1 AND stock >= $2
		`, item.ProductID, item.Quantity)
		if err != nil {
			return nil, err
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return nil, err
		}

		if rowsAffected == 0 {
			return nil, fmt.Errorf("%w: product %s", ErrInsufficientStock, item.ProductID)
		}
	}

	processed := make([]string, len(items))
	for i, item := range items {
		processed[i] = item.ProductID
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return processed, nil
}

func lockOrder(items []domain.InventoryItem) []domain.InventoryItem {
	sorted := slices.Clone(items)
	slices.SortFunc(sorted, func(a, b domain.InventoryItem) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return sorted
}
