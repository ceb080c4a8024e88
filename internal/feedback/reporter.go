// Package feedback delivers listening telemetry to its sinks in emission
// order. Emitting never blocks the caller on the network.
package feedback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrClosed = errors.New("feedback: reporter closed")

type Options struct {
	// DeliveryTimeout bounds one delivery to one sink.
	DeliveryTimeout time.Duration
	Logger          *slog.Logger
}

// Stats are cumulative counters.
type Stats struct {
	Delivered int
	Failed    int
	Dropped   int
	Pending   int
}

type envelope struct {
	ev      Event
	barrier chan struct{}
}

// BatchScoped is implemented by sinks whose lifecycle events are valid only
// under the batch they were stamped with. Rotate drops their stale events.
type BatchScoped interface {
	BatchScoped() bool
}

// lane is one sink's ordered queue and its worker.
type lane struct {
	sink    Sink
	scoped  bool
	pending []envelope
	wake    chan struct{}
	done    chan struct{}
}

func (l *lane) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Reporter fans events out to its sinks. Every sink has its own ordered
// queue, so a slow sink never delays the others.
type Reporter struct {
	mu     sync.Mutex
	lanes  []*lane
	closed bool
	stats  Stats

	timeout time.Duration
	logger  *slog.Logger
	quit    chan struct{}
}

func NewReporter(opts Options) *Reporter {
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Reporter{
		timeout: opts.DeliveryTimeout,
		logger:  opts.Logger,
		quit:    make(chan struct{}),
	}
}

// Register adds a sink. It receives the events emitted after this call.
func (r *Reporter) Register(s Sink) {
	l := &lane{
		sink: s,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	if bs, ok := s.(BatchScoped); ok {
		l.scoped = bs.BatchScoped()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.lanes = append(r.lanes, l)
	go r.run(l)
}

// Sinks returns the registered sinks.
func (r *Reporter) Sinks() []Sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sink, len(r.lanes))
	for i, l := range r.lanes {
		out[i] = l.sink
	}
	return out
}

// Emit queues ev for every sink and returns immediately.
func (r *Reporter) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	r.mu.Lock()
	if r.closed || len(r.lanes) == 0 {
		r.stats.Dropped++
		r.mu.Unlock()
		r.logger.Debug("feedback dropped", slog.String("kind", string(ev.Kind)), slog.String("track_id", ev.TrackID))
		return
	}
	for _, l := range r.lanes {
		l.pending = append(l.pending, envelope{ev: ev})
		l.signal()
	}
	r.mu.Unlock()
}

// Flush waits until every event emitted before the call has been handed to
// every sink, or ctx ends.
func (r *Reporter) Flush(ctx context.Context) error {
	return r.flush(ctx, false)
}

// FlushBatch is Flush restricted to batch-scoped sinks.
func (r *Reporter) FlushBatch(ctx context.Context) error {
	return r.flush(ctx, true)
}

func (r *Reporter) flush(ctx context.Context, scopedOnly bool) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	var barriers []chan struct{}
	for _, l := range r.lanes {
		if scopedOnly && !l.scoped {
			continue
		}
		b := make(chan struct{})
		l.pending = append(l.pending, envelope{barrier: b})
		l.signal()
		barriers = append(barriers, b)
	}
	r.mu.Unlock()

	for _, b := range barriers {
		select {
		case <-b:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Rotate installs batchID as the current batch. Lifecycle events still
// queued for batch-scoped sinks under any other batch are dropped.
func (r *Reporter) Rotate(batchID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for _, l := range r.lanes {
		if !l.scoped {
			continue
		}
		kept := l.pending[:0]
		for _, env := range l.pending {
			if env.barrier == nil && env.ev.BatchID != "" && env.ev.BatchID != batchID {
				dropped++
				r.logger.Debug("stale feedback dropped",
					slog.String("sink", l.sink.ID()),
					slog.String("kind", string(env.ev.Kind)),
					slog.String("track_id", env.ev.TrackID),
					slog.String("batch_id", env.ev.BatchID),
					slog.String("current_batch", batchID))
				continue
			}
			kept = append(kept, env)
		}
		for i := len(kept); i < len(l.pending); i++ {
			l.pending[i] = envelope{}
		}
		l.pending = kept
	}
	r.stats.Dropped += dropped
	return dropped
}

// Stats returns a snapshot of the counters. Pending counts queued
// deliveries over all sinks.
func (r *Reporter) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	for _, l := range r.lanes {
		for _, env := range l.pending {
			if env.barrier == nil {
				s.Pending++
			}
		}
	}
	return s
}

// Close delivers what is queued, bounded by ctx, and stops the workers.
// Events still queued when ctx ends are dropped.
func (r *Reporter) Close(ctx context.Context) error {
	flushErr := r.Flush(ctx)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	lanes := r.lanes
	r.mu.Unlock()
	close(r.quit)
	for _, l := range lanes {
		<-l.done
	}

	r.mu.Lock()
	for _, l := range lanes {
		for _, env := range l.pending {
			if env.barrier != nil {
				close(env.barrier)
			} else {
				r.stats.Dropped++
			}
		}
		l.pending = nil
	}
	r.mu.Unlock()
	if errors.Is(flushErr, ErrClosed) {
		return nil
	}
	return flushErr
}

func (r *Reporter) pop(l *lane) (envelope, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(l.pending) == 0 {
		return envelope{}, false
	}
	env := l.pending[0]
	l.pending[0] = envelope{}
	l.pending = l.pending[1:]
	return env, true
}

func (r *Reporter) run(l *lane) {
	defer close(l.done)
	for {
		select {
		case <-r.quit:
			return
		default:
		}
		env, ok := r.pop(l)
		if !ok {
			select {
			case <-l.wake:
				continue
			case <-r.quit:
				return
			}
		}
		if env.barrier != nil {
			close(env.barrier)
			continue
		}
		r.deliver(l.sink, env.ev)
	}
}

func (r *Reporter) deliver(s Sink, ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	err := s.Deliver(ctx, ev)
	cancel()
	r.mu.Lock()
	if err != nil {
		r.stats.Failed++
	} else {
		r.stats.Delivered++
	}
	r.mu.Unlock()
	if err != nil {
		r.logger.Warn("feedback delivery failed",
			slog.String("sink", s.ID()),
			slog.String("kind", string(ev.Kind)),
			slog.String("track_id", ev.TrackID),
			slog.Any("err", err))
		return
	}
	r.logger.Debug("feedback delivered",
		slog.String("sink", s.ID()),
		slog.String("kind", string(ev.Kind)),
		slog.String("track_id", ev.TrackID),
		slog.String("batch_id", ev.BatchID))
}
