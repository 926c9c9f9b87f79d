package stock

import (
	"errors"
	"fmt"
)

// ErrProductNotFound aborts the whole reservation, the order gets rejected.
var ErrProductNotFound = errors.New("product not found")

// InsufficientStockError is terminal for the order; it carries the numbers
// the rejection event reports back to the customer-facing side.
type InsufficientStockError struct {
	ProductID string
	Required  int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: required %d, available %d",
		e.ProductID, e.Required, e.Available)
}

// Rejection classifies reservation failures that should reject the order
// instead of being retried.
func Rejection(err error) bool {
	var ise *InsufficientStockError
	return errors.Is(err, ErrProductNotFound) || errors.As(err, &ise)
}
