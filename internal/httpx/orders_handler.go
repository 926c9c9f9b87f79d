package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/agricart/agricart-ops/internal/heartbeat"
	kafkax "github.com/agricart/agricart-ops/internal/kafka"
	"github.com/agricart/agricart-ops/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// OrderStore is the slice of the order repo the HTTP layer uses.
type OrderStore interface {
	CreateOrderTx(ctx context.Context, externalID, customerID string, items []orders.Item) (orderID string, total int, existed bool, err error)
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	TransitionStatus(ctx context.Context, orderID string, to orders.Status, reason string) (before, after orders.Order, err error)
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

// Publisher matches kafkax.Producer's publish side.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// StatusCache is the Redis fast path for creates and status reads. A nil
// cache disables it; the DB is always the truth.
type StatusCache interface {
	SetIdempotent(ctx context.Context, externalID, orderID string)
	GetStatus(ctx context.Context, orderID string) (string, bool)
	SetStatus(ctx context.Context, orderID string, body []byte)
	DropStatus(ctx context.Context, orderID string)
}

type OrdersHandler struct {
	Repo           OrderStore
	ProducerCreate Publisher // order.created
	ProducerStatus Publisher // order.status.changed
	Cache          StatusCache
	CoopTime       *heartbeat.Clock // read-only, for /coop-time
	Service        string
}

type CreateOrderReq struct {
	ExternalID string        `json:"external_id"`
	CustomerID string        `json:"customer_id"`
	Items      []orders.Item `json:"items"`
}

type CreateOrderResp struct {
	OrderID    string `json:"order_id"`
	TotalCents int    `json:"total_cents"`
	Idempotent bool   `json:"idempotent"`
}

type StatusChangeReq struct {
	Status orders.Status `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/status", h.changeStatus)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Get("/products", h.listProducts)
	r.Get("/coop-time", h.coopTime)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.ExternalID == "" || req.CustomerID == "" || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	orderID, total, existed, err := h.Repo.CreateOrderTx(ctx, req.ExternalID, req.CustomerID, req.Items)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if h.Cache != nil {
		h.Cache.SetIdempotent(ctx, req.ExternalID, orderID)
		// On a replay the order may long have moved past pending; only the
		// first create may seed the status cache.
		if !existed {
			h.Cache.SetStatus(ctx, orderID, []byte(`{"status":"pending"}`))
		}
	}

	if !existed {
		ev := orders.Envelope{
			EventID:       uuid.NewString(),
			EventType:     orders.EventOrderCreated,
			EventVersion:  1,
			OccurredAt:    time.Now().UTC(),
			Producer:      h.Service,
			TraceID:       r.Header.Get("X-Request-Id"),
			CorrelationID: orderID,
		}
		ev.Payload = kafkax.MustMarshal(orders.OrderCreatedPayload{
			OrderID:    orderID,
			ExternalID: req.ExternalID,
			CustomerID: req.CustomerID,
			Items:      req.Items,
			TotalCents: total,
		})
		h.ProducerCreate.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
			kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderCreated)},
			kafkago.Header{Key: "x-event-version", Value: []byte("1")},
		)
	}

	writeJSON(w, http.StatusAccepted, CreateOrderResp{OrderID: orderID, TotalCents: total, Idempotent: existed})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// status cache first
	if h.Cache != nil {
		if s, ok := h.Cache.GetStatus(ctx, orderID); ok {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	o, err := h.Repo.GetOrder(ctx, orderID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	body := map[string]any{
		"status":           o.Status,
		"stock_reserved":   o.StockReserved,
		"stock_restored":   o.StockRestored,
		"rejection_reason": o.RejectionReason,
	}
	b, _ := json.Marshal(body)
	if h.Cache != nil {
		h.Cache.SetStatus(ctx, orderID, b)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *OrdersHandler) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusChangeReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	h.transition(w, r, chi.URLParam(r, "id"), req.Status, req.Reason)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, chi.URLParam(r, "id"), orders.StatusCancelled, "cancelled by customer")
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request, orderID string, to orders.Status, reason string) {
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	before, after, err := h.Repo.TransitionStatus(ctx, orderID, to, reason)
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	case errors.Is(err, orders.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	// drop the stale cached status
	if h.Cache != nil {
		h.Cache.DropStatus(ctx, orderID)
	}

	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderStatusChanged,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: orderID,
	}
	ev.Payload = kafkax.MustMarshal(orders.OrderStatusChangedPayload{
		OrderID:       orderID,
		CustomerID:    after.CustomerID,
		BeforeStatus:  before.Status,
		AfterStatus:   after.Status,
		StockReserved: after.StockReserved,
		StockRestored: after.StockRestored,
		Items:         after.Items,
		Reason:        reason,
	})
	h.ProducerStatus.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderStatusChanged)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)

	writeJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "status": after.Status})
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Repo.ListProducts(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// coopTime serves the cooperative clock with its trust tag, degrading from
// the shared record to the fallback snapshot to plain server time.
func (h *OrdersHandler) coopTime(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	t := h.CoopTime.CooperativeTime(ctx)
	writeJSON(w, http.StatusOK, t)
}
