package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PollCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gps_poller_cycles_total",
		Help: "Poll cycles by action and result.",
	}, []string{"action", "result"})

	RecordsNormalized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gps_poller_records_normalized_total",
		Help: "Vendor records turned into positions.",
	})

	RecordsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gps_poller_records_dropped_total",
		Help: "Vendor records that could not be decoded.",
	})

	StalePositionsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gps_poller_stale_positions_skipped_total",
		Help: "Positions older than the stored one and therefore not written.",
	})

	RowsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gps_poller_rows_written_total",
		Help: "Rows written to the backing store by table.",
	}, []string{"table"})

	WriteFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gps_poller_write_failures_total",
		Help: "Rows lost to failed chunk writes by table.",
	}, []string{"table"})

	EventsInserted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gps_poller_events_inserted_total",
		Help: "Proactive events stored by type.",
	}, []string{"type"})

	EventsSuppressed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gps_poller_events_suppressed_total",
		Help: "Candidate events dropped by the cooldown window.",
	})

	SessionRefreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gps_poller_session_refreshes_total",
		Help: "Vendor logins performed.",
	})

	TripSyncDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gps_poller_trip_sync_dropped_total",
		Help: "Trip sync requests dropped because the queue was full.",
	})

	TripSyncFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gps_poller_trip_sync_failures_total",
		Help: "Trip sync requests that failed.",
	})

	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gps_poller_cycle_duration_seconds",
		Help:    "Wall time of a poll cycle.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(
		PollCycles,
		RecordsNormalized,
		RecordsDropped,
		StalePositionsSkipped,
		RowsWritten,
		WriteFailures,
		EventsInserted,
		EventsSuppressed,
		SessionRefreshes,
		TripSyncDrops,
		TripSyncFailures,
		CycleDuration,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
