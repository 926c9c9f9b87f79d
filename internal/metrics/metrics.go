package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agricart_stock_reservations_total",
		Help: "Reservation attempts by outcome (reserved, rejected, error).",
	}, []string{"result"})

	RestoreClampsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agricart_stock_restore_clamps_total",
		Help: "Restorations that clamped current_reserved at zero (counter drift).",
	})

	HeartbeatPublishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agricart_heartbeat_publish_total",
		Help: "Heartbeat publish attempts by outcome (ok, failed, stale).",
	}, []string{"result"})

	HeartbeatQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agricart_heartbeat_queue_depth",
		Help: "Heartbeats waiting in the durable queue.",
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agricart_notifications_total",
		Help: "Customer notifications by outcome (pushed, stored_only, skipped).",
	}, []string{"result"})
)
