package feedback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/olaradio/olaradio/internal/remote"
	"github.com/olaradio/olaradio/internal/remote/remotetest"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	gate   chan struct{}
	err    error
	scoped bool
}

func (s *recordingSink) ID() string { return "recording" }

func (s *recordingSink) BatchScoped() bool { return s.scoped }

func (s *recordingSink) Deliver(ctx context.Context, ev Event) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) kinds() []Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Kind
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestReporterDeliversInOrder(t *testing.T) {
	r := NewReporter(Options{})
	sink := &recordingSink{}
	r.Register(sink)

	want := []Kind{RadioStarted, TrackStarted, Skip, TrackStarted, TrackFinished}
	for _, k := range want {
		r.Emit(Event{Kind: k, BatchID: "b1", TrackID: "t"})
	}
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	got := sink.kinds()
	if len(got) != len(want) {
		t.Fatalf("expected %v got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v got %v", want, got)
		}
	}
	if st := r.Stats(); st.Delivered != 5 || st.Pending != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestReporterFailuresAreNotRetried(t *testing.T) {
	r := NewReporter(Options{})
	sink := &recordingSink{err: errors.New("boom")}
	r.Register(sink)
	r.Emit(Event{Kind: TrackStarted, BatchID: "b1"})
	r.Emit(Event{Kind: Skip, BatchID: "b1"})
	r.Flush(context.Background())

	if len(sink.kinds()) != 2 {
		t.Fatalf("each event should be attempted once, got %v", sink.kinds())
	}
	if st := r.Stats(); st.Failed != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
	r.Close(context.Background())
}

func sameKinds(got, want []Kind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestReporterRotateDropsStaleQueuedEvents(t *testing.T) {
	r := NewReporter(Options{})
	scoped := &recordingSink{gate: make(chan struct{}), scoped: true}
	local := &recordingSink{gate: make(chan struct{})}
	r.Register(scoped)
	r.Register(local)

	// The first event occupies both workers; the rest stay queued.
	r.Emit(Event{Kind: RadioStarted, BatchID: "b1"})
	for r.Stats().Pending != 0 {
		time.Sleep(time.Millisecond)
	}
	r.Emit(Event{Kind: TrackStarted, BatchID: "b1", TrackID: "a"})
	r.Emit(Event{Kind: Trace, TrackID: "a"})
	r.Emit(Event{Kind: Skip, BatchID: "b1", TrackID: "a"})

	if n := r.Rotate("b2"); n != 2 {
		t.Fatalf("expected 2 dropped, got %d", n)
	}
	r.Emit(Event{Kind: TrackStarted, BatchID: "b1", TrackID: "b"})
	close(scoped.gate)
	close(local.gate)
	r.Flush(context.Background())

	if got, want := scoped.kinds(), []Kind{RadioStarted, Trace, TrackStarted}; !sameKinds(got, want) {
		t.Fatalf("batch-scoped sink: expected %v got %v", want, got)
	}
	if got, want := local.kinds(), []Kind{RadioStarted, TrackStarted, Trace, Skip, TrackStarted}; !sameKinds(got, want) {
		t.Fatalf("local sink keeps every event: expected %v got %v", want, got)
	}
	if st := r.Stats(); st.Dropped != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
	r.Close(context.Background())
}

func TestReporterSlowSinkDoesNotHoldOthers(t *testing.T) {
	r := NewReporter(Options{})
	upstream := &recordingSink{scoped: true}
	slow := &recordingSink{gate: make(chan struct{})}
	r.Register(upstream)
	r.Register(slow)

	want := []Kind{RadioStarted, TrackStarted, TrackFinished, TrackStarted}
	for _, k := range want {
		r.Emit(Event{Kind: k, BatchID: "b1", TrackID: "t"})
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.FlushBatch(ctx); err != nil {
		t.Fatalf("flush of batch-scoped sinks: %v", err)
	}
	if got := upstream.kinds(); !sameKinds(got, want) {
		t.Fatalf("expected %v got %v", want, got)
	}
	if n := r.Rotate("b2"); n != 0 {
		t.Fatalf("nothing stale should remain, dropped %d", n)
	}
	if len(slow.kinds()) != 0 {
		t.Fatal("slow sink should still be blocked")
	}

	close(slow.gate)
	r.Flush(context.Background())
	if got := slow.kinds(); !sameKinds(got, want) {
		t.Fatalf("slow sink: expected %v got %v", want, got)
	}
	r.Close(context.Background())
}

func TestReporterFlushRespectsContext(t *testing.T) {
	r := NewReporter(Options{})
	sink := &recordingSink{gate: make(chan struct{})}
	r.Register(sink)
	r.Emit(Event{Kind: TrackStarted, BatchID: "b1"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	close(sink.gate)
	r.Close(context.Background())
}

func TestReporterEmitAfterClose(t *testing.T) {
	r := NewReporter(Options{})
	r.Close(context.Background())
	r.Emit(Event{Kind: TrackStarted})
	if st := r.Stats(); st.Dropped != 1 {
		t.Fatalf("expected 1 dropped, got %+v", st)
	}
	if err := r.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := r.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestRemoteSink(t *testing.T) {
	fake := remotetest.New()
	sink := NewRemoteSink(fake)
	ctx := context.Background()

	if err := sink.Deliver(ctx, Event{Kind: TrackFinished, StationID: "s", BatchID: "b1", TrackID: "a", PlayedSec: 180}); err != nil {
		t.Fatal(err)
	}
	if err := sink.Deliver(ctx, Event{Kind: TrackStarted, StationID: "s", TrackID: "a"}); !errors.Is(err, remote.ErrNoBatch) {
		t.Fatalf("expected ErrNoBatch, got %v", err)
	}
	if err := sink.Deliver(ctx, Event{Kind: Trace, TrackID: "a", PlayID: "1-2-3", PlayedSec: 12}); err != nil {
		t.Fatal(err)
	}

	fb := fake.Feedback()
	if len(fb) != 1 || fb[0].BatchID != "b1" || fb[0].Feedback.TotalPlayedSeconds != 180 || fb[0].Feedback.Kind != remote.FeedbackTrackFinished {
		t.Fatalf("unexpected feedback %+v", fb)
	}
	tr := fake.Traces()
	if len(tr) != 1 || tr[0].PlayID != "1-2-3" || tr[0].PlayedSec != 12 {
		t.Fatalf("unexpected traces %+v", tr)
	}
}
