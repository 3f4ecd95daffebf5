package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/madfam-io/sim4d-sub012/pkg/cache"
)

const (
	metricsNamespace = "sim4d"
	metricsSubsystem = "engine"
)

type metrics struct {
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	kernelCalls   *prometheus.CounterVec
	retries       prometheus.Counter
	staleDiscards prometheus.Counter
	eventsDropped prometheus.Counter
	outcomes      *prometheus.CounterVec
	running       prometheus.Gauge
	evalSeconds   prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer, c *cache.Cache) *metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem, Name: name, Help: help,
		})
	}
	m := &metrics{
		cacheHits:     counter("cache_hits_total", "Dispatches served from the evaluation cache."),
		cacheMisses:   counter("cache_misses_total", "Dispatches that needed a kernel call."),
		retries:       counter("kernel_retries_total", "Kernel attempts repeated after a transient failure."),
		staleDiscards: counter("stale_discards_total", "Kernel results dropped because an edit superseded them."),
		eventsDropped: counter("events_dropped_total", "Events not delivered to a slow subscriber."),
		kernelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "kernel_calls_total", Help: "Requests sent to the kernel bridge.",
		}, []string{"op"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "node_outcomes_total", Help: "Nodes settled, by status.",
		}, []string{"status"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "running_nodes", Help: "Nodes with a kernel call in flight.",
		}),
		evalSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "node_eval_seconds", Help: "Wall time of node evaluations, retries included.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
	entries := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace, Subsystem: metricsSubsystem,
		Name: "cache_entries", Help: "Entries held by the evaluation cache.",
	}, func() float64 { return float64(c.Len()) })

	reg.MustRegister(m.cacheHits, m.cacheMisses, m.kernelCalls, m.retries, m.staleDiscards,
		m.eventsDropped, m.outcomes, m.running, m.evalSeconds, entries)
	return m
}
