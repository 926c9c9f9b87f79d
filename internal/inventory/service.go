package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkax "github.com/agricart/agricart-ops/internal/kafka"
	"github.com/agricart/agricart-ops/internal/metrics"
	"github.com/agricart/agricart-ops/internal/orders"
	"github.com/agricart/agricart-ops/internal/stock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	kafkago "github.com/segmentio/kafka-go"
)

const dedupGroup = "inventory"

// OrderFlags is the slice of the order repo the protocol needs: the one-way
// stock_reserved / stock_restored flags and the terminal rejection write.
type OrderFlags interface {
	StockFlags(ctx context.Context, orderID string) (reserved, restored bool, err error)
	MarkStockReserved(ctx context.Context, orderID string) error
	MarkStockRestored(ctx context.Context, orderID string) error
	MarkRejected(ctx context.Context, orderID, reason string) error
}

// Publisher matches kafkax.Producer's publish side.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Dedup remembers which event ids this consumer already handled. Mark runs
// only after the handler succeeded; a failed event must stay unseen so the
// redelivery is processed.
type Dedup interface {
	Seen(ctx context.Context, group, eventID string) (bool, error)
	Mark(ctx context.Context, group, eventID string)
}

type Service struct {
	Store          stock.Store
	Orders         OrderFlags
	Dedup          Dedup
	ProducerOK     Publisher // publishes order.stock.reserved
	ProducerReject Publisher // publishes order.stock.rejected
	ProducerStatus Publisher // publishes order.status.changed on rejection
	ServiceName    string
}

// Reserve holds stock for a freshly created order. Malformed input or an
// order that already holds its reservation is a no-op. A shortfall or a
// missing product rejects the order terminally; only infrastructure errors
// are returned for redelivery.
func (s *Service) Reserve(ctx context.Context, o orders.Order) error {
	if o.ID == "" || len(o.Items) == 0 || o.StockReserved {
		return nil
	}

	// The event payload may be stale; the row is the truth.
	reserved, _, err := s.Orders.StockFlags(ctx, o.ID)
	if err != nil {
		return err
	}
	if reserved {
		return nil
	}

	err = s.Store.ReserveItems(ctx, o.Items)
	if err == nil {
		if err := s.Orders.MarkStockReserved(ctx, o.ID); err != nil {
			// Counters are already held; losing the flag write risks a double
			// reserve on redelivery, so it must at least be visible in logs.
			log.Error().Err(err).Str("order_id", o.ID).Msg("stock held but flag write failed")
		}
		metrics.ReservationsTotal.WithLabelValues("reserved").Inc()
		s.publishReserved(o, "")
		return nil
	}

	if !stock.Rejection(err) {
		metrics.ReservationsTotal.WithLabelValues("error").Inc()
		return err
	}

	reason := fmt.Sprintf("Stock reservation failed: %v", err)
	if err := s.Orders.MarkRejected(ctx, o.ID, reason); err != nil {
		return err
	}
	metrics.ReservationsTotal.WithLabelValues("rejected").Inc()
	log.Warn().Str("order_id", o.ID).Str("reason", reason).Msg("order rejected")
	s.publishRejected(o, err)
	s.publishStatusChanged(o, orders.StatusRejected, reason)
	return nil
}

// Restore hands held stock back after a cancellation or rejection. Guards:
// the reservation must exist, the status must actually have changed into a
// releasing one, and the order must not already be restored. Per-item
// release errors are logged and skipped; the pass is not aborted.
func (s *Service) Restore(ctx context.Context, before, after orders.Order) error {
	if after.ID == "" || len(after.Items) == 0 {
		return nil
	}
	if !after.StockReserved || before.Status == after.Status ||
		!orders.ReleasesStock(after.Status) || after.StockRestored {
		return nil
	}

	reserved, restored, err := s.Orders.StockFlags(ctx, after.ID)
	if err != nil {
		return err
	}
	if !reserved || restored {
		return nil
	}

	for _, it := range after.Items {
		clamped, err := s.Store.ReleaseItem(ctx, it.ProductID, it.Quantity)
		if err != nil {
			log.Warn().Err(err).Str("order_id", after.ID).Str("product_id", it.ProductID).
				Msg("release failed, skipping item")
			continue
		}
		if clamped {
			// A clamp means current_reserved was already short of what this
			// order held: the no-oversell invariant broke somewhere upstream.
			metrics.RestoreClampsTotal.Inc()
			log.Warn().Str("order_id", after.ID).Str("product_id", it.ProductID).
				Int("quantity", it.Quantity).Msg("reserved counter clamped at zero")
		}
	}

	if err := s.Orders.MarkStockRestored(ctx, after.ID); err != nil {
		log.Error().Err(err).Str("order_id", after.ID).Msg("stock released but flag write failed")
	}
	return nil
}

// HandleOrderCreated is wired as the order.created consumer handler.
func (s *Service) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventOrderCreated {
		return nil
	}

	if s.seen(ctx, env.EventID) {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		return err
	}

	err = s.Reserve(ctx, orders.Order{
		ID:         p.OrderID,
		CustomerID: p.CustomerID,
		Status:     orders.StatusPending,
		Items:      p.Items,
	})
	if err != nil {
		return err
	}
	s.markSeen(ctx, env.EventID)
	return nil
}

// HandleStatusChanged is wired as the order.status.changed consumer handler.
func (s *Service) HandleStatusChanged(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventOrderStatusChanged {
		return nil
	}

	if s.seen(ctx, env.EventID) {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
	if err != nil {
		return err
	}

	before := orders.Order{ID: p.OrderID, CustomerID: p.CustomerID, Status: p.BeforeStatus, Items: p.Items}
	after := before
	after.Status = p.AfterStatus
	after.StockReserved = p.StockReserved
	after.StockRestored = p.StockRestored
	if err := s.Restore(ctx, before, after); err != nil {
		return err
	}
	s.markSeen(ctx, env.EventID)
	return nil
}

func (s *Service) seen(ctx context.Context, eventID string) bool {
	if s.Dedup == nil {
		return false
	}
	seen, err := s.Dedup.Seen(ctx, dedupGroup, eventID)
	return err == nil && seen
}

func (s *Service) markSeen(ctx context.Context, eventID string) {
	if s.Dedup != nil {
		s.Dedup.Mark(ctx, dedupGroup, eventID)
	}
}

func (s *Service) publishReserved(o orders.Order, trace string) {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventStockReserved,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       trace,
		CorrelationID: o.ID,
		Payload:       kafkax.MustMarshal(orders.StockReservedPayload{OrderID: o.ID, Items: o.Items}),
	}
	s.ProducerOK.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventStockReserved)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Service) publishRejected(o orders.Order, cause error) {
	p := orders.StockRejectedPayload{OrderID: o.ID, Reason: "OUT_OF_STOCK"}
	var ise *stock.InsufficientStockError
	if errors.As(cause, &ise) {
		p.Details = []orders.StockRejectedDetail{{
			ProductID: ise.ProductID, Required: ise.Required, Available: ise.Available,
		}}
	} else {
		p.Reason = "PRODUCT_NOT_FOUND"
	}

	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventStockRejected,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		CorrelationID: o.ID,
		Payload:       kafkax.MustMarshal(p),
	}
	s.ProducerReject.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventStockRejected)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (s *Service) publishStatusChanged(o orders.Order, to orders.Status, reason string) {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventOrderStatusChanged,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		CorrelationID: o.ID,
		Payload: kafkax.MustMarshal(orders.OrderStatusChangedPayload{
			OrderID:      o.ID,
			CustomerID:   o.CustomerID,
			BeforeStatus: o.Status,
			AfterStatus:  to,
			Items:        o.Items,
			Reason:       reason,
		}),
	}
	s.ProducerStatus.Publish(orders.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderStatusChanged)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
