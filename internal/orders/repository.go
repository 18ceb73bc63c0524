package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/orderlifecycle/internal/domain"
)

const orderColumns = `id, status, payment_status, payment_method, total_amount,
	address_line1, address_line2, address_city, address_state, address_country, address_postal_code,
	version, created_at, updated_at`

// OrderRepository stores orders in Postgres. Every update is guarded by the
// order's version column.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	created := *order
	created.ID = uuid.New().String()
	created.Version = 1
	created.LineItems = append([]domain.LineItem(nil), order.LineItems...)

	addr := created.DeliveryAddress
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders.orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, created.ID, created.Status, created.PaymentStatus, nullString(string(created.PaymentMethod)),
		created.TotalAmount, addr.Line1, nullString(addr.Line2), addr.City, addr.State, addr.Country, addr.PostalCode,
		created.Version, created.CreatedAt, created.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	for i, item := range created.LineItems {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders.order_items (order_id, position, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`, created.ID, i, item.ProductID, item.Quantity, item.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("insert order item %s: %w", item.ProductID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &created, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders.orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	orders := []domain.Order{*order}
	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}

	return &orders[0], nil
}

func (r *OrderRepository) FindByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT `+orderColumns+` FROM orders.orders
		WHERE status = $1
		ORDER BY created_at DESC
	`, status)
}

func (r *OrderRepository) FindByPaymentStatus(ctx context.Context, status domain.PaymentStatus) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT `+orderColumns+` FROM orders.orders
		WHERE payment_status = $1
		ORDER BY created_at DESC
	`, status)
}

// Save writes the mutable fields of order if the stored version still equals
// order.Version, and returns the order with the incremented version.
func (r *OrderRepository) Save(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders.orders
		SET status = $1, payment_status = $2, updated_at = $3, version = version + 1
		WHERE id = $4 AND version = $5
	`, order.Status, order.PaymentStatus, order.UpdatedAt, order.ID, order.Version)
	if err != nil {
		return nil, fmt.Errorf("update order %s: %w", order.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if rowsAffected == 0 {
		var exists bool
		err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM orders.orders WHERE id = $1)`, order.ID).Scan(&exists)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, &domain.NotFoundError{OrderID: order.ID}
		}
		return nil, &domain.ConflictError{OrderID: order.ID, Version: order.Version}
	}

	saved := *order
	saved.Version++
	return &saved, nil
}

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, orders); err != nil {
		return nil, err
	}

	return orders, nil
}

// loadItems fills the line items of orders with a single query.
func (r *OrderRepository) loadItems(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	index := make(map[string]int, len(orders))
	ids := make([]string, len(orders))
	for i, o := range orders {
		index[o.ID] = i
		ids[i] = o.ID
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, unit_price
		FROM orders.order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var orderID string
		var item domain.LineItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return err
		}
		i := index[orderID]
		orders[i].LineItems = append(orders[i].LineItems, item)
	}

	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o             domain.Order
		paymentMethod sql.NullString
		line2         sql.NullString
	)

	err := row.Scan(&o.ID, &o.Status, &o.PaymentStatus, &paymentMethod, &o.TotalAmount,
		&o.DeliveryAddress.Line1, &line2, &o.DeliveryAddress.City, &o.DeliveryAddress.State,
		&o.DeliveryAddress.Country, &o.DeliveryAddress.PostalCode,
		&o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	o.PaymentMethod = domain.PaymentMethod(paymentMethod.String)
	o.DeliveryAddress.Line2 = line2.String
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
