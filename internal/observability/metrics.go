package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wirectl"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"server", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"server", "method", "path", "status"},
	)
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "active",
			Help:      "Open protocol connections.",
		},
	)
	connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "accepted_total",
			Help:      "Accepted transport connections by handshake result.",
		},
		[]string{"result", "version"},
	)
	diagnostics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "diagnostics_total",
			Help:      "Unrecoverable connection failures reported to the diagnostic sink.",
		},
		[]string{"kind"},
	)
	bytesRead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "read_bytes_total",
			Help:      "Bytes read from protocol connections.",
		},
	)
	bytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "written_bytes_total",
			Help:      "Bytes written to protocol connections.",
		},
	)
	executed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "executed_total",
			Help:      "Messages run by session executors.",
		},
	)
	discarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "discarded_total",
			Help:      "Queued messages dropped at close.",
		},
	)
	backlog = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "backlog",
			Help:      "Executor backlog sampled before each read.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256},
		},
	)
	connectionLifetime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "lifetime_seconds",
			Help:      "Protocol connection lifetime in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			connectionsActive, connectionsTotal, diagnostics,
			bytesRead, bytesWritten,
			executed, discarded, backlog, connectionLifetime,
		)
	})
}

func RecordHTTPRequest(server, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(server, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(server, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordAccepted counts a handshake outcome. version is zero on rejection.
func RecordAccepted(result string, version uint32) {
	RegisterMetrics()
	connectionsTotal.WithLabelValues(result, strconv.FormatUint(uint64(version), 10)).Inc()
}

func RecordOpened() {
	RegisterMetrics()
	connectionsActive.Inc()
}

// ConnStats is the per-connection summary recorded at teardown.
type ConnStats struct {
	Lifetime     time.Duration
	BytesRead    int64
	BytesWritten int64
	Executed     int64
	Discarded    int64
}

func RecordClosed(s ConnStats) {
	RegisterMetrics()
	connectionsActive.Dec()
	connectionLifetime.Observe(s.Lifetime.Seconds())
	bytesRead.Add(float64(s.BytesRead))
	bytesWritten.Add(float64(s.BytesWritten))
	executed.Add(float64(s.Executed))
	discarded.Add(float64(s.Discarded))
}

func RecordBacklog(n int) {
	RegisterMetrics()
	backlog.Observe(float64(n))
}

func RecordDiagnostic(kind string) {
	RegisterMetrics()
	diagnostics.WithLabelValues(kind).Inc()
}
