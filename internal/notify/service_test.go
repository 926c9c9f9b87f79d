package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	kafkax "github.com/agricart/agricart-ops/internal/kafka"
	"github.com/agricart/agricart-ops/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
)

type memRepo struct {
	tokens map[string]string
	saved  []orders.Notification
}

func (m *memRepo) CustomerPushToken(_ context.Context, customerID string) (string, error) {
	return m.tokens[customerID], nil
}

func (m *memRepo) SaveNotification(_ context.Context, n orders.Notification) error {
	for _, have := range m.saved {
		if have.ID == n.ID {
			return nil // mirrors ON CONFLICT DO NOTHING
		}
	}
	m.saved = append(m.saved, n)
	return nil
}

type memSender struct {
	sent []string // tokens
}

func (m *memSender) Send(_ context.Context, token, _, _ string, _ map[string]string) (string, error) {
	m.sent = append(m.sent, token)
	return "msg-1", nil
}

func statusMessage(t *testing.T, before, after orders.Status) kafkago.Message {
	t.Helper()
	env := orders.Envelope{
		EventID:      "ev-" + string(after),
		EventType:    orders.EventOrderStatusChanged,
		EventVersion: 1,
		Payload: kafkax.MustMarshal(orders.OrderStatusChangedPayload{
			OrderID:      "a1b2c3d4e5f6",
			CustomerID:   "cust-1",
			BeforeStatus: before,
			AfterStatus:  after,
		}),
	}
	return kafkago.Message{Value: kafkax.MustMarshal(env)}
}

func TestStatusChangeStoresAndPushes(t *testing.T) {
	repo := &memRepo{tokens: map[string]string{"cust-1": "tok-1"}}
	sender := &memSender{}
	svc := &Service{Repo: repo, Sender: sender, ServiceName: "test-notifier"}

	m := statusMessage(t, orders.StatusPending, orders.StatusConfirmed)
	if err := svc.HandleStatusChanged(context.Background(), m); err != nil {
		t.Fatalf("HandleStatusChanged: %v", err)
	}

	if len(repo.saved) != 1 {
		t.Fatalf("saved %d notifications, want 1", len(repo.saved))
	}
	n := repo.saved[0]
	if n.Type != "order_confirmed" {
		t.Fatalf("type = %q, want order_confirmed", n.Type)
	}
	if !strings.Contains(n.Message, "#a1b2c3d4") {
		t.Fatalf("message %q should carry the short order id", n.Message)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "tok-1" {
		t.Fatalf("push should go to tok-1, got %v", sender.sent)
	}
}

func TestNoTokenStoresInAppOnly(t *testing.T) {
	repo := &memRepo{tokens: map[string]string{}}
	sender := &memSender{}
	svc := &Service{Repo: repo, Sender: sender}

	m := statusMessage(t, orders.StatusConfirmed, orders.StatusOutForDelivery)
	if err := svc.HandleStatusChanged(context.Background(), m); err != nil {
		t.Fatalf("HandleStatusChanged: %v", err)
	}
	if len(repo.saved) != 1 {
		t.Fatalf("saved %d, want 1", len(repo.saved))
	}
	if len(sender.sent) != 0 {
		t.Fatal("no push expected without a token")
	}
}

func TestUnmappedStatusSkipped(t *testing.T) {
	repo := &memRepo{tokens: map[string]string{"cust-1": "tok-1"}}
	sender := &memSender{}
	svc := &Service{Repo: repo, Sender: sender}

	// picked_up is handled by the staff dashboard, no template here
	m := statusMessage(t, orders.StatusPickupReady, orders.StatusPickedUp)
	if err := svc.HandleStatusChanged(context.Background(), m); err != nil {
		t.Fatalf("HandleStatusChanged: %v", err)
	}
	if len(repo.saved) != 0 || len(sender.sent) != 0 {
		t.Fatal("picked_up must not notify")
	}
}

func TestUnchangedStatusSkipped(t *testing.T) {
	repo := &memRepo{tokens: map[string]string{"cust-1": "tok-1"}}
	sender := &memSender{}
	svc := &Service{Repo: repo, Sender: sender}

	m := statusMessage(t, orders.StatusConfirmed, orders.StatusConfirmed)
	if err := svc.HandleStatusChanged(context.Background(), m); err != nil {
		t.Fatalf("HandleStatusChanged: %v", err)
	}
	if len(repo.saved) != 0 {
		t.Fatal("no notification for a non-transition")
	}
}

func TestReplaySameTransitionSavesOnce(t *testing.T) {
	repo := &memRepo{tokens: map[string]string{}}
	svc := &Service{Repo: repo, Sender: &memSender{}}

	m := statusMessage(t, orders.StatusPending, orders.StatusRejected)
	for i := 0; i < 2; i++ {
		if err := svc.HandleStatusChanged(context.Background(), m); err != nil {
			t.Fatalf("HandleStatusChanged: %v", err)
		}
	}
	if len(repo.saved) != 1 {
		t.Fatalf("saved %d, want 1 (deterministic id dedups the replay)", len(repo.saved))
	}
}

type memDedup struct {
	seen map[string]bool
}

func (d *memDedup) Seen(_ context.Context, group, eventID string) (bool, error) {
	return d.seen[group+":"+eventID], nil
}

func (d *memDedup) Mark(_ context.Context, group, eventID string) {
	d.seen[group+":"+eventID] = true
}

// failOnceRepo rejects the first save so the event comes back redelivered.
type failOnceRepo struct {
	memRepo
	failed bool
}

func (r *failOnceRepo) SaveNotification(ctx context.Context, n orders.Notification) error {
	if !r.failed {
		r.failed = true
		return errors.New("connection refused")
	}
	return r.memRepo.SaveNotification(ctx, n)
}

func TestRedeliveryAfterSaveFailureStillStores(t *testing.T) {
	repo := &failOnceRepo{memRepo: memRepo{tokens: map[string]string{}}}
	dd := &memDedup{seen: map[string]bool{}}
	svc := &Service{Repo: repo, Sender: &memSender{}, Dedup: dd}

	m := statusMessage(t, orders.StatusPending, orders.StatusConfirmed)
	if err := svc.HandleStatusChanged(context.Background(), m); err == nil {
		t.Fatal("save failure should be returned for redelivery")
	}
	if dd.seen["notifier:ev-confirmed"] {
		t.Fatal("failed event must not be marked seen")
	}

	if err := svc.HandleStatusChanged(context.Background(), m); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(repo.saved) != 1 {
		t.Fatalf("saved %d, want 1 after redelivery", len(repo.saved))
	}
	if !dd.seen["notifier:ev-confirmed"] {
		t.Fatal("stored event should be marked seen")
	}
}

func TestSeenEventIsSkipped(t *testing.T) {
	repo := &memRepo{tokens: map[string]string{"cust-1": "tok-1"}}
	dd := &memDedup{seen: map[string]bool{"notifier:ev-confirmed": true}}
	svc := &Service{Repo: repo, Sender: &memSender{}, Dedup: dd}

	m := statusMessage(t, orders.StatusPending, orders.StatusConfirmed)
	if err := svc.HandleStatusChanged(context.Background(), m); err != nil {
		t.Fatalf("HandleStatusChanged: %v", err)
	}
	if len(repo.saved) != 0 {
		t.Fatal("seen event must not store again")
	}
}
