package messaging

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	dispatchQueuePrometheusMetrics sync.Once

	dispatchQueueEventsEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "pnfs",
			Name:      "dispatch_queue_events_enqueued_total",
			Help:      "Number of events received from pools that were queued for processing.",
		})
	dispatchQueueEventsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "pnfs",
			Name:      "dispatch_queue_events_rejected_total",
			Help:      "Number of events received from pools that were rejected, because the queue was full.",
		})
)

// Event is a unit of work that is processed by DispatchQueue.
type Event = func(ctx context.Context)

// DispatchQueue processes events received from pools on a fixed
// number of goroutines, separate from the ones that handle client
// requests. This ensures that events that wake up pending LAYOUTGET
// calls are processed, even if all client facing goroutines are
// blocked waiting for them.
type DispatchQueue struct {
	events chan Event
}

// NewDispatchQueue creates a DispatchQueue that is capable of holding
// a bounded number of events that have not been picked up by workers.
func NewDispatchQueue(queueSize int) *DispatchQueue {
	dispatchQueuePrometheusMetrics.Do(func() {
		prometheus.MustRegister(dispatchQueueEventsEnqueued)
		prometheus.MustRegister(dispatchQueueEventsRejected)
	})

	return &DispatchQueue{
		events: make(chan Event, queueSize),
	}
}

// TryEnqueue queues an event for processing. This function does not
// block. It returns false if the queue is full.
func (dq *DispatchQueue) TryEnqueue(event Event) bool {
	select {
	case dq.events <- event:
		dispatchQueueEventsEnqueued.Inc()
		return true
	default:
		dispatchQueueEventsRejected.Inc()
		return false
	}
}

// Run processes events using a given number of workers. This function
// returns after the context is cancelled and all workers have finished
// the event they were processing.
func (dq *DispatchQueue) Run(ctx context.Context, workers int) {
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event := <-dq.events:
					event(ctx)
				}
			}
		}()
	}
	wg.Wait()
}
