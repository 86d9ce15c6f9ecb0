package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	LeadsEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "leads_enqueued_total",
			Help: "Total queue tasks created for leads",
		},
	)

	DeliveriesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deliveries_sent_total",
			Help: "Total leads delivered to partners",
		},
	)

	DeliveryRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_retries_total",
			Help: "Total delivery attempts rescheduled for retry",
		},
	)

	DeliveryFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_failures_total",
			Help: "Total deliveries that exhausted their attempts",
		},
	)
)

func Init() {
	prometheus.MustRegister(LeadsEnqueued)
	prometheus.MustRegister(DeliveriesSent)
	prometheus.MustRegister(DeliveryRetries)
	prometheus.MustRegister(DeliveryFailures)
}
