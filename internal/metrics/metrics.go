// Package metrics exposes Prometheus collectors for the download queue and
// host event reconciliation.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/godlp/godlp/internal/queue"
)

// Collector implements queue.Observer and reconcile.Observer. Metric names
// are prefixed with the namespace given to New.
type Collector struct {
	namespace string

	enqueuedTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	dispatchWait     prometheus.Histogram
	dispatchFailures prometheus.Counter
	hostEventsTotal  *prometheus.CounterVec
	itemsByStatus    *prometheus.GaugeVec
}

// New creates and registers the collectors. A nil registerer means the
// default Prometheus registry.
//
// Registered metrics:
//   - {namespace}_enqueued_total{result}: new or duplicate submissions
//   - {namespace}_status_transitions_total{from,to}
//   - {namespace}_dispatch_wait_seconds: throttle delay before each host call
//   - {namespace}_dispatch_failures_total: host rejections not caused by a cancel
//   - {namespace}_host_events_total{event,route}
//   - {namespace}_queue_items{status}
func New(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{namespace: namespace}

	c.enqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_enqueued_total", namespace),
			Help: "Download submissions by result (new, duplicate).",
		},
		[]string{"result"},
	)

	c.transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_status_transitions_total", namespace),
			Help: "Queue item status transitions.",
		},
		[]string{"from", "to"},
	)

	// Buckets: 0 (no throttle) up to about 1 minute
	c.dispatchWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_dispatch_wait_seconds", namespace),
			Help:    "Time a selected item waited for the dispatch throttle.",
			Buckets: []float64{0, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	c.dispatchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_dispatch_failures_total", namespace),
			Help: "Downloads the host rejected outright.",
		},
	)

	c.hostEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_host_events_total", namespace),
			Help: "Host events handled, by where they were routed.",
		},
		[]string{"event", "route"},
	)

	c.itemsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_queue_items", namespace),
			Help: "Queue items by status.",
		},
		[]string{"status"},
	)

	reg.MustRegister(
		c.enqueuedTotal,
		c.transitionsTotal,
		c.dispatchWait,
		c.dispatchFailures,
		c.hostEventsTotal,
		c.itemsByStatus,
	)
	return c
}

func (c *Collector) Enqueued(deduplicated bool) {
	result := "new"
	if deduplicated {
		result = "duplicate"
	}
	c.enqueuedTotal.WithLabelValues(result).Inc()
}

func (c *Collector) StatusChanged(from, to queue.Status) {
	c.transitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

func (c *Collector) Dispatched(wait time.Duration) {
	c.dispatchWait.Observe(wait.Seconds())
}

func (c *Collector) DispatchFailed() {
	c.dispatchFailures.Inc()
}

func (c *Collector) EventHandled(event, route string) {
	c.hostEventsTotal.WithLabelValues(event, route).Inc()
}

// ObserveQueue sets the per-status gauge from a queue listing.
func (c *Collector) ObserveQueue(items []queue.Item) {
	counts := map[queue.Status]int{
		queue.StatusPending:    0,
		queue.StatusInProgress: 0,
		queue.StatusPaused:     0,
		queue.StatusCompleted:  0,
		queue.StatusFailed:     0,
		queue.StatusCancelled:  0,
	}
	for _, it := range items {
		counts[it.Status]++
	}
	for status, n := range counts {
		c.itemsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}

var _ queue.Observer = (*Collector)(nil)
