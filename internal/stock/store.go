package stock

import (
	"context"

	"github.com/agricart/agricart-ops/internal/orders"
)

// Store is the inventory side of the reservation protocol. Implementations
// must make ReserveItems all-or-nothing and must check availability and
// increment current_reserved as one atomic step per product, otherwise
// concurrent orders can oversell.
type Store interface {
	// ReserveItems holds quantity for every item or none of them. Returns
	// ErrProductNotFound or *InsufficientStockError on the first item that
	// cannot be held; nothing is committed in that case.
	ReserveItems(ctx context.Context, items []orders.Item) error

	// ReleaseItem hands a held quantity back, clamped at zero. clamped=true
	// means the counter would have gone negative, which indicates drift
	// introduced upstream and is worth surfacing.
	ReleaseItem(ctx context.Context, productID string, qty int) (clamped bool, err error)
}
