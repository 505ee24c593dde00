// File: internal/metrics/metrics.go
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
	// WebSocket Metrics
	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ws_connections_active",
		Help: "The current number of active WebSocket connections, by kind.",
	}, []string{"kind"})
	TotalConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_connections_total",
		Help: "The total number of WebSocket connections accepted, by kind.",
	}, []string{"kind"})
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_messages_received_total",
		Help: "The total number of messages received from clients.",
	})
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_messages_sent_total",
		Help: "The total number of messages sent to clients.",
	})
	ConnectionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_connections_rejected_total",
		Help: "The total number of connection attempts rejected, by reason.",
	}, []string{"reason"})

	// Broker Metrics
	BrokerMessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_messages_published_total",
		Help: "The total number of messages published to the message broker.",
	}, []string{"broker_type"})
	BrokerPublishRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_publish_retries_total",
		Help: "The total number of retries when publishing to the message broker.",
	}, []string{"broker_type"})

	// Auth Metrics
	AuthSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_success_total",
		Help: "The total number of successful authentications.",
	})
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_failures_total",
		Help: "The total number of failed authentications.",
	}, []string{"reason"})

	// Session Metrics
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sessions_active",
		Help: "The current number of simulator sessions tracked by the session manager.",
	})
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_created_total",
		Help: "The total number of sessions created.",
	})
	SessionsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_deleted_total",
		Help: "The total number of sessions deleted.",
	})
	OrphansRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessions_orphans_recovered_total",
		Help: "The total number of booted devices adopted as orphaned sessions at startup.",
	})

	// Capture Metrics
	CaptureFramesProduced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_frames_produced_total",
		Help: "The total number of frames produced by a device's capture service, by queue kind.",
	}, []string{"kind"})
	CaptureFramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_frames_dropped_total",
		Help: "The total number of frames dropped from a full ring buffer, by queue kind.",
	}, []string{"kind"})
	CaptureMethodRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_method_restarts_total",
		Help: "The total number of times a device's capture service fell back to the next method.",
	}, []string{"method"})
	CaptureServicesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "capture_services_active",
		Help: "The current number of per-device capture services held by the resource pool.",
	})

	// Recording Metrics
	RecordingsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recordings_active",
		Help: "The current number of in-progress recordings.",
	})
	RecordingsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recordings_completed_total",
		Help: "The total number of recordings stopped and returned successfully.",
	})
	RecordingsEmergencySaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recordings_emergency_saved_total",
		Help: "The total number of recordings salvaged via the shutdown emergency-save path.",
	})

	// Resource Pressure Metrics
	ProcessMemoryPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "process_memory_percent",
		Help: "The current process RSS as a fraction of the configured memory cap.",
	})
	IdleEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resource_idle_evictions_total",
		Help: "The total number of capture services evicted for being idle past the configured timeout.",
	})
	EmergencyEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resource_emergency_evictions_total",
		Help: "The total number of capture services evicted under emergency memory pressure.",
	})
)

// Handler returns the Prometheus scrape handler, for mounting into an
// existing HTTP router.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer starts a standalone HTTP server for Prometheus metrics, used
// when the metrics surface isn't mounted onto the main REST router.
func StartServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	log.Printf("Starting metrics server on %s%s", addr, path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("Failed to start metrics server: %v", err)
		}
	}()
}
