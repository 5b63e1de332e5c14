// Package notify forwards high-priority events to an external sink.
//
// Delivery is at-most-once: a full queue drops the offered job, and a failed
// delivery is logged and discarded.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/your-org/motionwatch/internal/model"
)

// Sink delivers one event to an external system.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev model.Event) error
	Close() error
}

// Params configures a Queue.
type Params struct {
	Sink     Sink
	Logger   *zap.Logger
	Capacity int
	// Timeout bounds a single delivery attempt.
	Timeout time.Duration
	// PollInterval bounds how long the consumer waits for a job before
	// re-checking the stop signal.
	PollInterval time.Duration
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Enqueued  uint64
	Dropped   uint64
	Delivered uint64
	Failed    uint64
}

// Queue is a bounded job queue with one consumer goroutine.
type Queue struct {
	sink    Sink
	logger  *zap.Logger
	jobs    chan model.Event
	timeout time.Duration
	poll    time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}

	enqueued  atomic.Uint64
	dropped   atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// New builds a Queue. It returns nil when no sink is configured, and every
// Queue method is safe to call on a nil Queue.
func New(p Params) *Queue {
	if p.Sink == nil {
		return nil
	}
	if p.Capacity <= 0 {
		p.Capacity = 100
	}
	if p.Timeout <= 0 {
		p.Timeout = 5 * time.Second
	}
	if p.PollInterval <= 0 {
		p.PollInterval = time.Second
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	return &Queue{
		sink:    p.Sink,
		logger:  p.Logger.Named("notify").With(zap.String("sink", p.Sink.Name())),
		jobs:    make(chan model.Event, p.Capacity),
		timeout: p.Timeout,
		poll:    p.PollInterval,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Enqueue offers a copy of ev without blocking. It reports false when the
// job was dropped because the queue is full or disabled.
func (q *Queue) Enqueue(ev model.Event) bool {
	if q == nil {
		return false
	}
	select {
	case q.jobs <- ev.Clone():
		q.enqueued.Add(1)
		return true
	default:
		q.dropped.Add(1)
		q.logger.Warn("notification queue full, dropping event", zap.Int64("event_id", ev.ID))
		return false
	}
}

// Start launches the consumer goroutine. Subsequent calls do nothing.
func (q *Queue) Start() {
	if q == nil {
		return
	}
	q.startOnce.Do(func() {
		go q.run()
		q.logger.Info("notification worker started", zap.Int("capacity", cap(q.jobs)))
	})
}

// Stop signals the consumer and waits up to timeout for it to exit. An
// in-flight delivery is allowed to finish within its own timeout.
func (q *Queue) Stop(timeout time.Duration) {
	if q == nil {
		return
	}
	q.stopOnce.Do(func() { close(q.stop) })
	// A queue that was never started has no consumer to wait for.
	q.startOnce.Do(func() { close(q.done) })

	select {
	case <-q.done:
		if err := q.sink.Close(); err != nil {
			q.logger.Warn("close notification sink", zap.Error(err))
		}
	case <-time.After(timeout):
		q.logger.Warn("notification worker did not stop in time", zap.Duration("timeout", timeout))
	}
}

// Stats returns current counters.
func (q *Queue) Stats() Stats {
	if q == nil {
		return Stats{}
	}
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Dropped:   q.dropped.Load(),
		Delivered: q.delivered.Load(),
		Failed:    q.failed.Load(),
	}
}

func (q *Queue) run() {
	defer close(q.done)

	timer := time.NewTimer(q.poll)
	defer timer.Stop()

	for {
		select {
		case <-q.stop:
			return
		default:
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(q.poll)

		select {
		case <-q.stop:
			return
		case ev := <-q.jobs:
			q.deliver(ev)
		case <-timer.C:
		}
	}
}

func (q *Queue) deliver(ev model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	ctx, span := otel.Tracer("motionwatch/notify").Start(ctx, "notify.deliver")
	span.SetAttributes(
		attribute.String("notify.sink", q.sink.Name()),
		attribute.Int64("event.id", ev.ID),
	)
	defer span.End()

	if err := q.sink.Deliver(ctx, ev); err != nil {
		q.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		q.logger.Debug("notification delivery failed", zap.Int64("event_id", ev.ID), zap.Error(err))
		return
	}
	q.delivered.Add(1)
}
