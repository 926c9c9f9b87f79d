package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// CreateOrderTx: idempotent via external_id.
// If external_id already exists -> return existing order_id + total (existed=true).
func (r *Repo) CreateOrderTx(ctx context.Context, externalID, customerID string, items []Item) (orderID string, total int, existed bool, err error) {
	row := r.DB.QueryRow(ctx, `SELECT id, total_cents FROM orders WHERE external_id=$1`, externalID)
	if err = row.Scan(&orderID, &total); err == nil {
		return orderID, total, true, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return "", 0, false, err
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", 0, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// price from the products table, never trusted from the client
	params := make([]string, 0, len(items))
	productIDs := make([]any, 0, len(items))
	for i, it := range items {
		params = append(params, fmt.Sprintf("$%d", i+1))
		productIDs = append(productIDs, it.ProductID)
	}
	rows, err := tx.Query(ctx, `SELECT id, price_cents FROM products WHERE id IN (`+strings.Join(params, ",")+`)`, productIDs...)
	if err != nil {
		return "", 0, false, err
	}
	prices := map[string]int{}
	for rows.Next() {
		var id string
		var price int
		if err := rows.Scan(&id, &price); err != nil {
			return "", 0, false, err
		}
		prices[id] = price
	}
	if err := rows.Err(); err != nil {
		return "", 0, false, err
	}

	for _, it := range items {
		price, ok := prices[it.ProductID]
		if !ok {
			return "", 0, false, fmt.Errorf("product not found: %s", it.ProductID)
		}
		if it.Quantity <= 0 {
			return "", 0, false, fmt.Errorf("invalid quantity for product %s", it.ProductID)
		}
		total += price * it.Quantity
	}

	orderID = uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, customer_id, status, total_cents, stock_reserved, stock_restored)
		VALUES ($1, $2, $3, 'pending', $4, false, false)
	`, orderID, externalID, customerID, total)
	if err != nil {
		return "", 0, false, err
	}

	for _, it := range items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, quantity, price_cents)
			VALUES ($1, $2, $3, $4)`,
			orderID, it.ProductID, it.Quantity, prices[it.ProductID],
		)
		if err != nil {
			return "", 0, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", 0, false, err
	}
	return orderID, total, false, nil
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var o Order
	err := r.DB.QueryRow(ctx, `
		SELECT id, external_id, customer_id, status, total_cents, stock_reserved, stock_restored,
		       COALESCE(rejection_reason, ''), created_at, updated_at
		FROM orders WHERE id=$1`, orderID).
		Scan(&o.ID, &o.ExternalID, &o.CustomerID, &o.Status, &o.TotalCents,
			&o.StockReserved, &o.StockRestored, &o.RejectionReason, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}

	rows, err := r.DB.Query(ctx, `SELECT product_id, quantity FROM order_items WHERE order_id=$1`, orderID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Quantity); err != nil {
			return Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

func (r *Repo) GetOrderStatus(ctx context.Context, orderID string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return Status(s), nil
}

// TransitionStatus applies a status change after validating it against the
// state machine, and returns the order as it was before and after the write.
func (r *Repo) TransitionStatus(ctx context.Context, orderID string, to Status, reason string) (before, after Order, err error) {
	before, err = r.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, Order{}, err
	}
	if !CanTransition(before.Status, to) {
		return Order{}, Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, before.Status, to)
	}

	// The write is conditional on the status still being the one the check
	// ran against, so a concurrent transition from the same state cannot be
	// silently overwritten by the loser.
	now := time.Now().UTC()
	var ct pgconn.CommandTag
	if reason != "" {
		ct, err = r.DB.Exec(ctx, `UPDATE orders SET status=$2, rejection_reason=$3, updated_at=$4 WHERE id=$1 AND status=$5`,
			orderID, to, reason, now, before.Status)
	} else {
		ct, err = r.DB.Exec(ctx, `UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1 AND status=$4`,
			orderID, to, now, before.Status)
	}
	if err != nil {
		return Order{}, Order{}, err
	}
	if ct.RowsAffected() == 0 {
		return Order{}, Order{}, fmt.Errorf("%w: %s -> %s (order changed concurrently)", ErrInvalidTransition, before.Status, to)
	}

	after = before
	after.Status = to
	after.RejectionReason = reason
	after.UpdatedAt = now
	return before, after, nil
}

// StockFlags reads the current reservation flags straight from the row, so
// redelivered events cannot act on a stale snapshot.
func (r *Repo) StockFlags(ctx context.Context, orderID string) (reserved, restored bool, err error) {
	err = r.DB.QueryRow(ctx, `SELECT stock_reserved, stock_restored FROM orders WHERE id=$1`, orderID).
		Scan(&reserved, &restored)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, false, ErrNotFound
	}
	return reserved, restored, err
}

// MarkStockReserved flips the one-way stock_reserved flag on the order.
func (r *Repo) MarkStockReserved(ctx context.Context, orderID string) error {
	_, err := r.DB.Exec(ctx, `UPDATE orders SET stock_reserved=true, updated_at=$2 WHERE id=$1`,
		orderID, time.Now().UTC())
	return err
}

// MarkStockRestored flips the one-way stock_restored flag on the order.
func (r *Repo) MarkStockRestored(ctx context.Context, orderID string) error {
	_, err := r.DB.Exec(ctx, `UPDATE orders SET stock_restored=true, updated_at=$2 WHERE id=$1`,
		orderID, time.Now().UTC())
	return err
}

// MarkRejected records a terminal stock rejection straight on the order row.
func (r *Repo) MarkRejected(ctx context.Context, orderID, reason string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE orders SET status='rejected', rejection_reason=$2, stock_reserved=false, updated_at=$3
		WHERE id=$1`, orderID, reason, time.Now().UTC())
	return err
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, sku, name, available_quantity, sold_quantity, current_reserved, price_cents, created_at, updated_at
		FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.AvailableQuantity, &p.SoldQuantity,
			&p.CurrentReserved, &p.PriceCents, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CustomerPushToken returns the customer's FCM token, empty when none is registered.
func (r *Repo) CustomerPushToken(ctx context.Context, customerID string) (string, error) {
	var token string
	err := r.DB.QueryRow(ctx, `SELECT COALESCE(fcm_token, '') FROM customers WHERE id=$1`, customerID).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return token, err
}

// SaveNotification persists an in-app notification row for the customer.
func (r *Repo) SaveNotification(ctx context.Context, n Notification) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO notifications(id, customer_id, order_id, type, title, message, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, false)
		ON CONFLICT (id) DO NOTHING`,
		n.ID, n.CustomerID, n.OrderID, n.Type, n.Title, n.Message)
	return err
}
