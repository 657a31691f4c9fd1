package kfetch

import "github.com/prometheus/client_golang/prometheus"

// metrics bundles the Prometheus collectors the fetch loop reports
// through, grounded on the same collector-per-concern shape the kprom
// plugin in this ecosystem uses. A nil registerer is valid: the
// collectors still exist and are updated, they are simply never
// registered for scraping.
type metrics struct {
	inFlightRequests   prometheus.Gauge
	bufferedPartitions prometheus.Gauge
	fetchLatency       *prometheus.HistogramVec
	offsetResets       *prometheus.CounterVec
	partitionErrors    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		inFlightRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kfetch",
			Name:      "in_flight_requests",
			Help:      "Number of fetch requests currently awaiting a broker response.",
		}),
		bufferedPartitions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kfetch",
			Name:      "buffered_partitions",
			Help:      "Number of partitions currently holding an undrained buffer or error sentinel.",
		}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kfetch",
			Name:      "fetch_request_latency_seconds",
			Help:      "Latency of a single per-node fetch request.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node"}),
		offsetResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kfetch",
			Name:      "offset_resets_total",
			Help:      "Count of offset resets performed, by resolved strategy.",
		}, []string{"strategy"}),
		partitionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kfetch",
			Name:      "partition_errors_total",
			Help:      "Count of per-partition error sentinels installed, by kind.",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(m.inFlightRequests, m.bufferedPartitions, m.fetchLatency, m.offsetResets, m.partitionErrors)
	}
	return m
}
