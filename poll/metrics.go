package poll

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry        *prometheus.Registry
	CyclesTotal     *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	SearchesTotal   *prometheus.CounterVec
	ListingsTotal   *prometheus.CounterVec
	NotifyTotal     *prometheus.CounterVec
	PurgedTotal     *prometheus.CounterVec
	LastCycleUnixTS prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	cycles := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "myauto_cycles_total",
			Help: "Pipeline cycles by outcome.",
		},
		[]string{"outcome"},
	)
	cycleDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "myauto_cycle_duration_seconds",
			Help:    "Wall time of one pipeline cycle.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)
	searches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "myauto_searches_total",
			Help: "Per-search cycle results by final state and failure class.",
		},
		[]string{"search", "state", "class"},
	)
	listings := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "myauto_listings_total",
			Help: "Candidates by classification result.",
		},
		[]string{"search", "result"},
	)
	notifications := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "myauto_notifications_total",
			Help: "Notification attempts by kind and success.",
		},
		[]string{"kind", "success"},
	)
	purged := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "myauto_purged_rows_total",
			Help: "Rows removed by the retention sweep.",
		},
		[]string{"table"},
	)
	lastCycle := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "myauto_last_cycle_timestamp_seconds",
			Help: "Unix time the last cycle finished.",
		},
	)

	registry.MustRegister(cycles, cycleDuration, searches, listings, notifications, purged, lastCycle)

	return &Metrics{
		Registry:        registry,
		CyclesTotal:     cycles,
		CycleDuration:   cycleDuration,
		SearchesTotal:   searches,
		ListingsTotal:   listings,
		NotifyTotal:     notifications,
		PurgedTotal:     purged,
		LastCycleUnixTS: lastCycle,
	}
}

func (m *Metrics) observeCycle(outcome string, d time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(d.Seconds())
	m.LastCycleUnixTS.Set(float64(finished.Unix()))
}

func (m *Metrics) observeSearch(search string, state State, class string) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(search, string(state), class).Inc()
}

func (m *Metrics) incListing(search, result string) {
	if m == nil {
		return
	}
	m.ListingsTotal.WithLabelValues(search, result).Inc()
}

func (m *Metrics) incNotify(kind string, success bool) {
	if m == nil {
		return
	}
	m.NotifyTotal.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}

func (m *Metrics) addPurged(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.PurgedTotal.WithLabelValues(table).Add(float64(n))
}
