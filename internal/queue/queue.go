// Package queue decouples report production from sink I/O. Submissions are
// never blocked or dropped while the sink is unreachable; the worker retries
// transient failures forever and keeps the original delivery order.
package queue

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/thusser/lambrecht/internal/meteo"
)

// Sink delivers one completed report downstream. A nil error means delivered.
// Failures that retrying cannot fix must be wrapped with Permanent; anything
// else is treated as transient and retried.
type Sink interface {
	Write(r meteo.Report) error
}

// PermanentError marks a delivery failure that no retry can resolve, e.g. a
// payload the sink rejects as malformed.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a permanent delivery failure.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is a permanent delivery failure.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// entry wraps one report awaiting delivery.
type entry struct {
	report   meteo.Report
	attempts int
}

// Config tunes the forwarding worker.
type Config struct {
	// RetryPause is how long the worker waits after a transient sink
	// failure before trying the same entry again.
	RetryPause time.Duration
}

// Queue is an unbounded FIFO of reports with a single delivery worker.
// Submit never blocks; ordering among undelivered reports is preserved
// because a failed entry goes back to the head of the queue.
type Queue struct {
	cfg  Config
	sink Sink

	mu      sync.Mutex
	cond    *sync.Cond
	entries []*entry
	closed  bool

	closing   chan struct{}
	done      chan struct{}
	errs      chan error
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a queue delivering to sink. Call Start to launch the worker.
func New(cfg Config, sink Sink) *Queue {
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = 10 * time.Second
	}
	q := &Queue{
		cfg:     cfg,
		sink:    sink,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		errs:    make(chan error, 16),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the delivery worker.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		go q.run()
	})
}

// Stop signals the worker to exit after its current operation and waits for
// it. Entries still queued are dropped; nothing persists across a shutdown.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.closing)
		q.cond.Broadcast()
	})
	<-q.done
}

// Submit places the report at the tail of the queue. It never blocks,
// whatever state the sink is in. After Stop the report is discarded.
func (q *Queue) Submit(r meteo.Report) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.entries = append(q.entries, &entry{report: r})
	q.cond.Signal()
}

// Len returns the number of undelivered reports.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Errors surfaces permanent delivery failures. The channel is buffered and
// never blocks the worker; when nobody reads it, failures are only logged.
func (q *Queue) Errors() <-chan error {
	return q.errs
}

func (q *Queue) run() {
	defer close(q.done)

	for {
		e, ok := q.next()
		if !ok {
			return
		}

		err := q.sink.Write(e.report)
		switch {
		case err == nil:

		case IsPermanent(err):
			log.Printf("queue: dropping report from %s: %v", e.report.Time.Format(time.RFC3339), err)
			select {
			case q.errs <- err:
			default:
			}

		default:
			e.attempts++
			q.pushFront(e)
			log.Printf("queue: delivery failed (attempt %d), retrying in %s: %v",
				e.attempts, q.cfg.RetryPause, err)
			select {
			case <-q.closing:
				return
			case <-time.After(q.cfg.RetryPause):
			}
		}
	}
}

// next blocks until an entry is available or the queue is stopped.
func (q *Queue) next() (*entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.entries) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}

	e := q.entries[0]
	q.entries = q.entries[1:]
	return e, true
}

func (q *Queue) pushFront(e *entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append([]*entry{e}, q.entries...)
}
