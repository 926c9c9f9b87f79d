package notify

import (
	"context"
	"encoding/json"
	"fmt"

	kafkax "github.com/agricart/agricart-ops/internal/kafka"
	"github.com/agricart/agricart-ops/internal/metrics"
	"github.com/agricart/agricart-ops/internal/orders"
	"github.com/rs/zerolog/log"
	kafkago "github.com/segmentio/kafka-go"
)

const dedupGroup = "notifier"

// Repo is the slice of storage the notifier needs.
type Repo interface {
	CustomerPushToken(ctx context.Context, customerID string) (string, error)
	SaveNotification(ctx context.Context, n orders.Notification) error
}

// Dedup remembers handled event ids. Mark runs only after the notification
// row was stored; a failed save stays unseen so the redelivery retries it.
type Dedup interface {
	Seen(ctx context.Context, group, eventID string) (bool, error)
	Mark(ctx context.Context, group, eventID string)
}

type Service struct {
	Repo        Repo
	Sender      Sender
	Dedup       Dedup
	ServiceName string
}

// HandleStatusChanged stores an in-app notification for the customer and
// pushes it to their device. A missing token or a failed push never fails
// the message: the stored row is the baseline, the push is best effort.
func (s *Service) HandleStatusChanged(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventOrderStatusChanged {
		return nil
	}

	if s.Dedup != nil {
		if seen, err := s.Dedup.Seen(ctx, dedupGroup, env.EventID); err == nil && seen {
			return nil
		}
	}

	if err := s.notifyStatusChange(ctx, env); err != nil {
		return err
	}
	if s.Dedup != nil {
		s.Dedup.Mark(ctx, dedupGroup, env.EventID)
	}
	return nil
}

func (s *Service) notifyStatusChange(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
	if err != nil {
		return err
	}
	if p.BeforeStatus == p.AfterStatus || p.CustomerID == "" {
		return nil
	}

	tpl, ok := ForStatus(p.AfterStatus)
	if !ok {
		metrics.NotificationsTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	title, body := tpl.Render(p.OrderID)

	// Deterministic id so a replay of the same transition cannot insert twice.
	n := orders.Notification{
		ID:         fmt.Sprintf("order_%s_%s", p.OrderID, p.AfterStatus),
		CustomerID: p.CustomerID,
		OrderID:    p.OrderID,
		Type:       tpl.Type,
		Title:      title,
		Message:    body,
	}
	if err := s.Repo.SaveNotification(ctx, n); err != nil {
		return err
	}

	token, err := s.Repo.CustomerPushToken(ctx, p.CustomerID)
	if err != nil {
		log.Warn().Err(err).Str("customer_id", p.CustomerID).Msg("token lookup failed")
		metrics.NotificationsTotal.WithLabelValues("stored_only").Inc()
		return nil
	}
	if token == "" {
		log.Info().Str("customer_id", p.CustomerID).Msg("no push token, stored in-app only")
		metrics.NotificationsTotal.WithLabelValues("stored_only").Inc()
		return nil
	}

	msgID, err := s.Sender.Send(ctx, token, title, body, map[string]string{
		"type":           tpl.Type,
		"orderId":        p.OrderID,
		"notificationId": n.ID,
	})
	if err != nil {
		log.Warn().Err(err).Str("order_id", p.OrderID).Msg("push send failed")
		metrics.NotificationsTotal.WithLabelValues("stored_only").Inc()
		return nil
	}
	metrics.NotificationsTotal.WithLabelValues("pushed").Inc()
	log.Info().Str("order_id", p.OrderID).Str("message_id", msgID).
		Str("status", string(p.AfterStatus)).Msg("push sent")
	return nil
}
