package orders

import "time"

// Product carries the three stock counters the reservation protocol works with.
// Effective availability is AvailableQuantity - SoldQuantity - CurrentReserved.
type Product struct {
	ID                string
	SKU               string
	Name              string
	AvailableQuantity int
	SoldQuantity      int
	CurrentReserved   int
	PriceCents        int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AvailableQty is the quantity still open for new reservations.
func (p Product) AvailableQty() int {
	return p.AvailableQuantity - p.SoldQuantity - p.CurrentReserved
}

type Order struct {
	ID              string
	ExternalID      string
	CustomerID      string
	Status          Status // see status.go
	Items           []Item
	StockReserved   bool
	StockRestored   bool
	RejectionReason string
	TotalCents      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type Notification struct {
	ID         string
	CustomerID string
	OrderID    string
	Type       string
	Title      string
	Message    string
	IsRead     bool
	CreatedAt  time.Time
}
