package orders

type Status string

const (
	StatusPending               Status = "pending"
	StatusConfirmed             Status = "confirmed"
	StatusRejected              Status = "rejected"
	StatusCancelled             Status = "cancelled"
	StatusCancellationConfirmed Status = "cancellation_confirmed"
	StatusOutForDelivery        Status = "out_for_delivery"
	StatusPickupReady           Status = "pickup_ready"
	StatusPickedUp              Status = "picked_up"
	StatusDelivered             Status = "delivered"
	StatusFailed                Status = "failed"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:               {StatusConfirmed: true, StatusRejected: true, StatusCancelled: true},
	StatusConfirmed:             {StatusOutForDelivery: true, StatusPickupReady: true, StatusCancelled: true, StatusFailed: true},
	StatusCancelled:             {StatusCancellationConfirmed: true},
	StatusOutForDelivery:        {StatusDelivered: true, StatusFailed: true},
	StatusPickupReady:           {StatusPickedUp: true, StatusFailed: true},
	StatusPickedUp:              {},
	StatusDelivered:             {},
	StatusRejected:              {},
	StatusCancellationConfirmed: {},
	StatusFailed:                {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// ReleasesStock reports whether reaching this status should hand a reserved
// quantity back to the product counters.
func ReleasesStock(s Status) bool {
	return s == StatusCancelled || s == StatusRejected
}
