// Package metrics holds the Prometheus collectors for the printing stack
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	printJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cafeprint_print_jobs_total",
		Help: "Print jobs by logical target and outcome",
	}, []string{"target", "outcome"}) // target=receipt|kitchen|usb|bluetooth outcome=success|failure

	chunksWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cafeprint_chunks_written_total",
		Help: "Chunks written to a transport",
	}, []string{"transport"})

	transportStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cafeprint_transport_status",
		Help: "Current transport session status (1 for the active status)",
	}, []string{"transport", "status"})

	reconnectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cafeprint_reconnect_attempts_total",
		Help: "Scheduled reconnect attempts by transport",
	}, []string{"transport"})

	relayMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cafeprint_relay_messages_total",
		Help: "Relay messages received by event",
	}, []string{"event"})

	relayConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cafeprint_relay_connections_total",
		Help: "Successful relay connections",
	})
)

var statuses = []string{"disconnected", "connecting", "connected", "printing", "error"}

// RecordPrintJob counts one finished print job.
func RecordPrintJob(target string, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	printJobsTotal.WithLabelValues(target, outcome).Inc()
}

func IncChunksWritten(transport string) {
	chunksWrittenTotal.WithLabelValues(transport).Inc()
}

// SetTransportStatus flags status as the only active status of transport.
func SetTransportStatus(transport, status string) {
	for _, s := range statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		transportStatus.WithLabelValues(transport, s).Set(v)
	}
}

func IncReconnectAttempts(transport string) {
	reconnectAttemptsTotal.WithLabelValues(transport).Inc()
}

func IncRelayMessages(event string) {
	relayMessagesTotal.WithLabelValues(event).Inc()
}

func IncRelayConnections() {
	relayConnectionsTotal.Inc()
}
