// Package observability exposes Prometheus metrics for the diary service.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	conflictsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "diary_service",
		Subsystem: "store",
		Name:      "conflicts_rejected_total",
		Help:      "Mutations rejected because of an overlapping time range.",
	})
	syncWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "diary_service",
		Subsystem: "sync",
		Name:      "writes_total",
		Help:      "Outbound snapshot writes by status.",
	}, []string{"status"})
	inboundSnapshots = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "diary_service",
		Subsystem: "sync",
		Name:      "inbound_snapshots_total",
		Help:      "Remote snapshots applied to in-memory stores.",
	})
	lastSyncGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "diary_service",
		Subsystem: "sync",
		Name:      "last_write_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful snapshot write.",
	})
	feedDecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "diary_service",
		Subsystem: "feed",
		Name:      "decode_errors_total",
		Help:      "Malformed change-feed messages committed and skipped.",
	})
	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "diary_service",
		Subsystem: "session",
		Name:      "active_sessions",
		Help:      "Diary sessions currently held in memory.",
	})
)

func init() {
	prometheus.MustRegister(
		conflictsRejected,
		syncWrites,
		inboundSnapshots,
		lastSyncGauge,
		feedDecodeErrors,
		activeSessions,
	)
}

// RecordConflictRejected counts a mutation rejected with a time conflict.
func RecordConflictRejected() {
	conflictsRejected.Inc()
}

// RecordSyncWrite counts an outbound write and moves the success watermark.
func RecordSyncWrite(err error) {
	if err != nil {
		syncWrites.WithLabelValues("failure").Inc()
		return
	}
	syncWrites.WithLabelValues("success").Inc()
	lastSyncGauge.Set(float64(time.Now().Unix()))
}

// RecordInboundSnapshot counts a remote snapshot applied locally.
func RecordInboundSnapshot() {
	inboundSnapshots.Inc()
}

// RecordFeedDecodeError counts a malformed change-feed message.
func RecordFeedDecodeError() {
	feedDecodeErrors.Inc()
}

// SetActiveSessions updates the live session gauge.
func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}
