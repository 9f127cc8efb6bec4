package usage

import (
	"context"
	"sync"
	"time"

	"github.com/ragcore/ragcore/internal/log"
)

// reportTimeout bounds a single sink call so a stalled backend cannot
// wedge the worker.
const reportTimeout = 15 * time.Second

// Dispatcher hands records to a Sink asynchronously. Enqueue never
// blocks the caller and a sink failure never propagates back; failed
// or overflowed records are logged and dropped.
type Dispatcher struct {
	sink   Sink
	queue  chan Record
	logger log.Logger

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// NewDispatcher starts the worker goroutine. buffer controls how many
// records may be pending; values below 1 are raised to 1.
func NewDispatcher(sink Sink, buffer int, logger log.Logger) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	if logger == nil {
		logger = log.NewNop()
	}

	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan Record, buffer),
		logger:  logger,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue submits a record for delivery. Returns false when the queue
// is full or the dispatcher is closed; the record is dropped either way.
func (d *Dispatcher) Enqueue(rec Record) bool {
	select {
	case <-d.done:
		d.logger.Warn("usage record dropped, dispatcher closed", "request_id", rec.RequestID)
		return false
	default:
	}

	select {
	case d.queue <- rec:
		return true
	default:
		d.logger.Warn("usage record dropped, queue full", "request_id", rec.RequestID)
		return false
	}
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case <-d.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case rec := <-d.queue:
					d.report(rec)
				default:
					return
				}
			}
		case rec := <-d.queue:
			d.report(rec)
		}
	}
}

func (d *Dispatcher) report(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	if err := d.sink.Report(ctx, rec); err != nil {
		d.logger.Warn("usage report failed",
			"request_id", rec.RequestID,
			"org_id", rec.OrgID,
			"error", err,
		)
	}
}

// Close stops accepting records, waits for the worker to drain the
// queue, and returns. Safe to call more than once.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
	<-d.stopped
}
