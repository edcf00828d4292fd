package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/viewport/internal/metrics"
)

const (
	DefaultQueueSize    = 256
	DefaultWriteTimeout = 200 * time.Millisecond
)

// DispatcherOptions tune the sink queue.
type DispatcherOptions struct {
	QueueSize    int
	WriteTimeout time.Duration
}

// Dispatcher logs each event immediately and forwards it to the durable
// sinks through a bounded queue drained by one worker. Emit never blocks for
// longer than the write timeout; when the queue stays full the event is
// dropped from the sinks (it is still in the log).
type Dispatcher struct {
	log     *slog.Logger
	sinks   []Sink
	timeout time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	closed   bool
	queue    chan Event
	abandon  chan struct{}
	done     chan struct{}
	closeErr error // set by run before done is closed
}

func NewDispatcher(log *slog.Logger, o DispatcherOptions, sinks ...Sink) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	d := &Dispatcher{
		log:     log,
		sinks:   sinks,
		timeout: o.WriteTimeout,
		now:     time.Now,
		queue:   make(chan Event, o.QueueSize),
		abandon: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit records e. Safe for concurrent use.
func (d *Dispatcher) Emit(e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = d.now()
	}
	d.log.LogAttrs(context.Background(), e.Level, e.Message, e.Attrs()...)
	if len(d.sinks) == 0 {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- e:
		return
	default:
	}
	t := time.NewTimer(d.timeout)
	defer t.Stop()
	select {
	case d.queue <- e:
	case <-t.C:
		metrics.IncSinkDropped()
		d.log.Warn("event sink queue full, dropping event", "event", string(e.Type), "tile", e.Tile)
	}
}

// run owns the sinks: it is the only goroutine that sends to or closes them.
func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		select {
		case <-d.abandon:
			metrics.IncSinkDropped()
			continue
		default:
		}
		for _, s := range d.sinks {
			d.send(s, e)
		}
	}
	d.closeErr = d.closeSinks()
}

func (d *Dispatcher) closeSinks() error {
	var errs []error
	for _, s := range d.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", sinkName(s), err))
			}
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) send(s Sink, e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event sink panicked", "sink", sinkName(s), "panic", r)
		}
	}()
	if err := s.Send(ctx, e); err != nil {
		metrics.IncSinkError(sinkName(s))
		// log directly: re-emitting would loop on a broken sink
		d.log.Warn("event sink write failed", "sink", sinkName(s), "error", err)
	}
}

// Close stops accepting events and drains the queue, bounded by ctx. Sinks
// that implement io.Closer are closed by the worker once it is done with
// them; if ctx expires first the remaining events are dropped and the sinks
// close in the background after the in-flight write returns.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.done:
		return d.closeErr
	case <-ctx.Done():
		close(d.abandon)
		return fmt.Errorf("drain event queue: %w", ctx.Err())
	}
}

type named interface{ Name() string }

func sinkName(s Sink) string {
	if n, ok := s.(named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}
