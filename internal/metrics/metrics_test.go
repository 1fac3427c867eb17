package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/godlp/godlp/internal/queue"
)

func TestNew_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New("test", reg)

	c.Enqueued(false)
	c.DispatchFailed()

	families, err := reg.Gather()
	assert.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_enqueued_total"])
	assert.True(t, names["test_dispatch_failures_total"])

	// A second collector on another registry does not collide.
	assert.NotPanics(t, func() { New("test", prometheus.NewRegistry()) })
}

func TestCollector_Enqueued(t *testing.T) {
	c := New("test", prometheus.NewRegistry())

	c.Enqueued(false)
	c.Enqueued(false)
	c.Enqueued(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.enqueuedTotal.WithLabelValues("new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.enqueuedTotal.WithLabelValues("duplicate")))
}

func TestCollector_Transitions(t *testing.T) {
	c := New("test", prometheus.NewRegistry())

	c.StatusChanged(queue.StatusPending, queue.StatusInProgress)
	c.StatusChanged(queue.StatusInProgress, queue.StatusCompleted)
	c.StatusChanged(queue.StatusPending, queue.StatusInProgress)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.transitionsTotal.WithLabelValues("pending", "in-progress")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitionsTotal.WithLabelValues("in-progress", "completed")))
}

func TestCollector_Dispatch(t *testing.T) {
	c := New("test", prometheus.NewRegistry())

	c.Dispatched(0)
	c.Dispatched(1500 * time.Millisecond)
	c.DispatchFailed()

	assert.Equal(t, 1, testutil.CollectAndCount(c.dispatchWait))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dispatchFailures))
}

func TestCollector_EventHandled(t *testing.T) {
	c := New("test", prometheus.NewRegistry())

	c.EventHandled("download-progress", "queue")
	c.EventHandled("download-progress", "queue")
	c.EventHandled("download-complete", "dropped")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.hostEventsTotal.WithLabelValues("download-progress", "queue")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.hostEventsTotal.WithLabelValues("download-complete", "dropped")))
}

func TestCollector_ObserveQueue(t *testing.T) {
	c := New("test", prometheus.NewRegistry())

	c.ObserveQueue([]queue.Item{
		{Status: queue.StatusPending},
		{Status: queue.StatusPending},
		{Status: queue.StatusInProgress},
	})
	assert.Equal(t, 2.0, testutil.ToFloat64(c.itemsByStatus.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.itemsByStatus.WithLabelValues("in-progress")))

	c.ObserveQueue(nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.itemsByStatus.WithLabelValues("pending")))
}

func TestCollector_DrivenByQueue(t *testing.T) {
	c := New("test", prometheus.NewRegistry())
	m := queue.New(nopHost{}, queueConfig(), queue.WithObserver(c))
	defer m.Close()

	m.Enqueue(queue.Request{Locator: "L1"})
	m.Enqueue(queue.Request{Locator: "L1"})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.enqueuedTotal.WithLabelValues("new")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.enqueuedTotal.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitionsTotal.WithLabelValues("pending", "in-progress")))
}
