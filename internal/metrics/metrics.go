// Package metrics holds the Prometheus collectors of the monitor service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartbin_messages_received_total",
		Help: "MQTT messages received, by channel.",
	}, []string{"channel"})

	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartbin_decode_errors_total",
		Help: "Inbound payloads dropped because they could not be decoded.",
	}, []string{"channel"})

	Duplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartbin_duplicates_dropped_total",
		Help: "QoS 1 redeliveries dropped by the de-duplicator.",
	})

	ReadingsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartbin_readings_dropped_total",
		Help: "Readings dropped because a queue was full.",
	}, []string{"stage"})

	SinkDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartbin_sink_deliveries_total",
		Help: "Readings delivered to a dispatcher sink.",
	}, []string{"sink"})

	SinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartbin_sink_failures_total",
		Help: "Dispatcher sink failures.",
	}, []string{"sink"})

	Observers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "smartbin_observers",
		Help: "Connected WebSocket observers.",
	})

	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "smartbin_broker_connected",
		Help: "1 while the MQTT broker connection is up.",
	})

	ReconcileSource = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartbin_reconcile_total",
		Help: "Observer reconciliations, by the source that answered.",
	}, []string{"source"})
)

// SetBrokerConnected mirrors the broker state into the gauge.
func SetBrokerConnected(up bool) {
	if up {
		BrokerConnected.Set(1)
		return
	}
	BrokerConnected.Set(0)
}
