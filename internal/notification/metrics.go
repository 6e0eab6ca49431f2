package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	enqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_notifications_enqueued_total",
		Help: "Notifications queued by type.",
	}, []string{"type"})

	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "library_notifications_dispatched_total",
		Help: "Dispatcher decisions by outcome.",
	}, []string{"outcome"})
)
