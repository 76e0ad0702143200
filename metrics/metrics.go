package metrics

import (
	"fmt"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_sessions_active",
		Help: "The current number of driver sessions holding a live connection.",
	})
	TotalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_sessions_total",
		Help: "The total number of driver sessions registered.",
	})
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_active",
		Help: "The current number of open websocket connections.",
	})

	// Event metrics
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_received_total",
		Help: "The total number of inbound relay events, by kind.",
	}, []string{"event"})
	EventsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_sent_total",
		Help: "The total number of outbound relay events, by kind.",
	}, []string{"event"})
	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_events_rejected_total",
		Help: "The total number of inbound events dropped at validation, by kind.",
	}, []string{"event"})

	// Booking metrics
	BookingsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_bookings_created_total",
		Help: "The total number of bookings placed into a slot.",
	})
	BookingsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_bookings_rejected_total",
		Help: "The total number of booking requests rejected, by reason.",
	}, []string{"reason"})
	RoutingMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_routing_misses_total",
		Help: "The total number of rider location events with no bound driver.",
	})

	// Backend metrics
	StoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_store_failures_total",
		Help: "The total number of failed durable store calls, by operation.",
	}, []string{"op"})
	StreamPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_stream_publish_failures_total",
		Help: "The total number of failed event stream publishes.",
	})
)

// StartServer starts the HTTP server for Prometheus metrics.
func StartServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	log.Printf("Starting metrics server on %s%s", addr, path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("Metrics server stopped: %v", err)
		}
	}()
}
