package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventStockReserved      = "StockReserved"
	EventStockRejected      = "StockRejected"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "agricart-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually order_id
	Payload       json.RawMessage `json:"payload"`                  // event-specific payload
}

// ---- payload per event type ----

type OrderCreatedPayload struct {
	OrderID    string `json:"order_id"`
	ExternalID string `json:"external_id"`
	CustomerID string `json:"customer_id"`
	Items      []Item `json:"items"`
	TotalCents int    `json:"total_cents"`
}

// OrderStatusChangedPayload carries both sides of the transition so consumers
// can apply their own guard conditions without re-reading the order.
type OrderStatusChangedPayload struct {
	OrderID       string `json:"order_id"`
	CustomerID    string `json:"customer_id"`
	BeforeStatus  Status `json:"before_status"`
	AfterStatus   Status `json:"after_status"`
	StockReserved bool   `json:"stock_reserved"`
	StockRestored bool   `json:"stock_restored"`
	Items         []Item `json:"items"`
	Reason        string `json:"reason,omitempty"`
}

type StockReservedPayload struct {
	OrderID string `json:"order_id"`
	Items   []Item `json:"items"`
}

type StockRejectedDetail struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

type StockRejectedPayload struct {
	OrderID string                `json:"order_id"`
	Reason  string                `json:"reason"` // e.g., OUT_OF_STOCK, PRODUCT_NOT_FOUND
	Details []StockRejectedDetail `json:"details,omitempty"`
}
