package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/agricart/agricart-ops/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStore struct{ DB *pgxpool.Pool }

// ReserveItems holds stock for every item inside one transaction. The
// availability check and the counter increment are a single conditional
// UPDATE, so two orders racing for the last units cannot both win.
func (s *PGStore) ReserveItems(ctx context.Context, items []orders.Item) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, it := range items {
		ct, err := tx.Exec(ctx, `
			UPDATE products
			SET current_reserved = current_reserved + $2, updated_at = now()
			WHERE id = $1
			  AND available_quantity - sold_quantity - current_reserved >= $2`,
			it.ProductID, it.Quantity)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 1 {
			continue
		}

		// No row updated: either the product is missing or stock ran short.
		var available int
		err = tx.QueryRow(ctx, `
			SELECT available_quantity - sold_quantity - current_reserved
			FROM products WHERE id = $1`, it.ProductID).Scan(&available)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrProductNotFound, it.ProductID)
		}
		if err != nil {
			return err
		}
		return &InsufficientStockError{ProductID: it.ProductID, Required: it.Quantity, Available: available}
	}

	return tx.Commit(ctx)
}

// ReleaseItem decrements current_reserved, clamped at zero. The previous
// value is read under lock so a clamp can be reported to the caller.
func (s *PGStore) ReleaseItem(ctx context.Context, productID string, qty int) (bool, error) {
	var prev int
	err := s.DB.QueryRow(ctx, `
		UPDATE products p
		SET current_reserved = GREATEST(p.current_reserved - $2, 0), updated_at = now()
		FROM (SELECT current_reserved FROM products WHERE id = $1 FOR UPDATE) old
		WHERE p.id = $1
		RETURNING old.current_reserved`,
		productID, qty).Scan(&prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if err != nil {
		return false, err
	}
	return prev < qty, nil
}
