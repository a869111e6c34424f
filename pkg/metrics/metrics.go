package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics (pkg/mqueue)
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "epctools_queue_depth",
			Help: "Number of filled slots in a queue, by queue id",
		},
		[]string{"queue_id"},
	)

	QueueDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epctools_queue_dropped_total",
			Help: "Total number of messages dropped on a non-blocking push into a full queue",
		},
		[]string{"queue_id"},
	)

	// Event thread / work group metrics (pkg/evthread)
	ThreadDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epctools_thread_dispatched_total",
			Help: "Total number of messages dispatched, by thread id",
		},
		[]string{"thread_id"},
	)

	ThreadDispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "epctools_thread_dispatch_duration_seconds",
			Help:    "Handler dispatch duration in seconds, by thread id",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"thread_id"},
	)

	// Timer pool metrics (pkg/timerpool)
	TimerPoolBuckets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "epctools_timerpool_buckets",
			Help: "Number of distinct quantised-expiry buckets currently armed",
		},
	)

	TimerPoolEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "epctools_timerpool_entries",
			Help: "Number of registered logical timers across all buckets",
		},
	)

	TimerPoolOSTimersFree = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "epctools_timerpool_os_timers_free",
			Help: "Number of OS timers currently idle on the free list",
		},
	)

	TimerPoolFiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "epctools_timerpool_fired_total",
			Help: "Total number of timer-pool timers whose callbacks were dispatched",
		},
	)

	// DNS cache metrics (pkg/dnscache)
	DNSCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epctools_dns_cache_hits_total",
			Help: "Total number of DNS cache lookups served from cache",
		},
		[]string{"named_server_id"},
	)

	DNSCacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epctools_dns_cache_misses_total",
			Help: "Total number of DNS cache lookups that required a fresh query",
		},
		[]string{"named_server_id"},
	)

	DNSCacheSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "epctools_dns_cache_size",
			Help: "Number of entries currently cached",
		},
		[]string{"named_server_id"},
	)

	DNSRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epctools_dns_refreshes_total",
			Help: "Total number of background refresh queries issued",
		},
		[]string{"named_server_id"},
	)

	DNSQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "epctools_dns_query_duration_seconds",
			Help:    "Resolver round-trip duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"named_server_id"},
	)

	// TEID manager metrics (pkg/teid)
	TEIDAllocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epctools_teid_allocations_total",
			Help: "Total number of TEID values allocated, by range",
		},
		[]string{"range"},
	)

	TEIDWrapsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epctools_teid_wraps_total",
			Help: "Total number of times a TEID allocator wrapped from max back to min",
		},
		[]string{"range"},
	)

	// Shared-memory primitive pool diagnostics (pkg/shmem)
	ShmemSemSlotsInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "epctools_shmem_sem_slots_in_use",
			Help: "High-water mark of semaphore slots in use in the shared-memory primitive pool",
		},
	)

	ShmemMutexSlotsInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "epctools_shmem_mutex_slots_in_use",
			Help: "High-water mark of mutex slots in use in the shared-memory primitive pool",
		},
	)

	// Refresh-coordinator metrics (pkg/refreshcoord)
	RefreshCoordIsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "epctools_refreshcoord_is_leader",
			Help: "Whether this process holds refresher leadership (1 = leader, 0 = follower)",
		},
	)
)

func init() {
	prometheus.MustRegister(
		QueueDepth,
		QueueDroppedTotal,
		ThreadDispatchedTotal,
		ThreadDispatchDuration,
		TimerPoolBuckets,
		TimerPoolEntries,
		TimerPoolOSTimersFree,
		TimerPoolFiredTotal,
		DNSCacheHitsTotal,
		DNSCacheMissesTotal,
		DNSCacheSize,
		DNSRefreshesTotal,
		DNSQueryDuration,
		TEIDAllocationsTotal,
		TEIDWrapsTotal,
		ShmemSemSlotsInUse,
		ShmemMutexSlotsInUse,
		RefreshCoordIsLeader,
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations and recording them to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, started now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
