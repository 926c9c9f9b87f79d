package notify

import (
	"fmt"

	"github.com/agricart/agricart-ops/internal/orders"
)

type Template struct {
	Type    string
	Title   string
	Message string // format string taking the short order id
}

// One template per customer-visible status change. picked_up is deliberately
// absent: the staff dashboard writes that notification itself, and a second
// one here would duplicate it.
var statusTemplates = map[orders.Status]Template{
	orders.StatusConfirmed: {
		Type: "order_confirmed", Title: "Order Confirmed",
		Message: "Your order #%s has been confirmed!",
	},
	orders.StatusRejected: {
		Type: "order_rejected", Title: "Order Rejected",
		Message: "Your order #%s has been rejected.",
	},
	orders.StatusCancelled: {
		Type: "order_cancelled", Title: "Order Cancelled",
		Message: "Your order #%s has been cancelled.",
	},
	orders.StatusCancellationConfirmed: {
		Type: "order_cancellation_confirmed", Title: "Cancellation Confirmed",
		Message: "Your cancellation request for order #%s has been confirmed.",
	},
	orders.StatusOutForDelivery: {
		Type: "order_out_for_delivery", Title: "Order Out for Delivery",
		Message: "Your order #%s is out for delivery!",
	},
	orders.StatusPickupReady: {
		Type: "order_ready_to_pickup", Title: "Order Ready for Pickup",
		Message: "Your order #%s is ready for pickup!",
	},
	orders.StatusDelivered: {
		Type: "order_delivered", Title: "Order Delivered",
		Message: "Your order #%s has been delivered successfully!",
	},
	orders.StatusFailed: {
		Type: "order_failed", Title: "Order Failed",
		Message: "Your order #%s has failed. Please contact support.",
	},
}

func ForStatus(s orders.Status) (Template, bool) {
	t, ok := statusTemplates[s]
	return t, ok
}

// Render fills the template with the short form of the order id.
func (t Template) Render(orderID string) (title, body string) {
	short := orderID
	if len(short) > 8 {
		short = short[:8]
	}
	return t.Title, fmt.Sprintf(t.Message, short)
}
