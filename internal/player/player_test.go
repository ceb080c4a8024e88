package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/olaradio/olaradio/internal/cache"
	"github.com/olaradio/olaradio/internal/feedback"
	"github.com/olaradio/olaradio/internal/lyrics"
	"github.com/olaradio/olaradio/internal/mpv"
	"github.com/olaradio/olaradio/internal/remote"
	"github.com/olaradio/olaradio/internal/remote/remotetest"
	"github.com/olaradio/olaradio/internal/station"
	"github.com/olaradio/olaradio/internal/track"
)

type fakeOutput struct {
	mu      sync.Mutex
	loads   []string
	paused  bool
	volume  float64
	seeks   []float64
	stopped bool
	loadErr error
	events  chan mpv.Event
}

func newFakeOutput() *fakeOutput {
	return &fakeOutput{events: make(chan mpv.Event, 16)}
}

func (f *fakeOutput) Start(ctx context.Context) error { return nil }

func (f *fakeOutput) Load(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loads = append(f.loads, path)
	f.paused = false
	return nil
}

func (f *fakeOutput) SetPause(paused bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = paused
	return nil
}

func (f *fakeOutput) Seek(delta float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, delta)
	return nil
}

func (f *fakeOutput) SetVolume(vol float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = vol
	return nil
}

func (f *fakeOutput) Events() <-chan mpv.Event { return f.events }

func (f *fakeOutput) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeOutput) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.loads)
}

type rig struct {
	fake     *remotetest.Fake
	out      *fakeOutput
	reporter *feedback.Reporter
	events   *[]feedback.Event
	evMu     *sync.Mutex
	ctrl     *Controller
}

func newRig(t *testing.T, batches ...remote.Batch) *rig {
	t.Helper()
	fake := remotetest.New(batches...)
	fake.LyricsText = map[string]string{}
	store, err := cache.New(t.TempDir(), fake, cache.Options{})
	if err != nil {
		t.Fatal(err)
	}
	reporter := feedback.NewReporter(feedback.Options{})
	var mu sync.Mutex
	var events []feedback.Event
	reporter.Register(feedback.SinkFunc(func(ctx context.Context, ev feedback.Event) error {
		mu.Lock()
		defer mu.Unlock()
		if ev.Kind != feedback.Trace {
			events = append(events, ev)
		}
		return nil
	}))
	ly, _ := lyrics.New(fake, 8, nil)
	st := station.New(fake, store, reporter, station.Options{})
	out := newFakeOutput()
	ctrl := New(st, out, Options{Lyrics: ly, Telemetry: reporter})
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ctrl.Close(context.Background()) })
	return &rig{fake: fake, out: out, reporter: reporter, events: &events, evMu: &mu, ctrl: ctrl}
}

func (r *rig) lifecycle(t *testing.T) []string {
	t.Helper()
	r.reporter.Flush(context.Background())
	r.evMu.Lock()
	defer r.evMu.Unlock()
	var out []string
	for _, ev := range *r.events {
		s := string(ev.Kind)
		if ev.TrackID != "" {
			s += "(" + ev.TrackID
			if ev.Kind.Terminal() {
				s += fmt.Sprintf(",%d", ev.PlayedSec)
			}
			s += ")"
		}
		out = append(out, s)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestPlayPauseToggle(t *testing.T) {
	r := newRig(t, remotetest.Batch("b1", "A", "B"))
	ctx := context.Background()

	if r.ctrl.State() != StateIdle || r.ctrl.IsPlaying() {
		t.Fatal("expected idle")
	}
	if err := r.ctrl.Play(ctx); err != nil {
		t.Fatalf("play: %v", err)
	}
	if !r.ctrl.IsPlaying() || r.ctrl.CurrentTrack().ID() != "A" {
		t.Fatalf("expected A playing, state %s", r.ctrl.State())
	}
	if !r.ctrl.CurrentTrack().Cached() {
		t.Fatal("playing track must be cached")
	}
	if err := r.ctrl.Toggle(ctx); err != nil {
		t.Fatal(err)
	}
	if r.ctrl.State() != StatePaused {
		t.Fatalf("expected paused, got %s", r.ctrl.State())
	}
	if err := r.ctrl.Toggle(ctx); err != nil {
		t.Fatal(err)
	}
	if r.ctrl.State() != StatePlaying {
		t.Fatalf("expected playing, got %s", r.ctrl.State())
	}
	if r.out.loadCount() != 1 {
		t.Fatalf("resume must not reload, loads=%d", r.out.loadCount())
	}
}

func TestSkipAndNaturalCompletion(t *testing.T) {
	b1 := remote.Batch{BatchID: "b1", Tracks: []track.Metadata{
		{ID: "A", Title: "A", ArtistName: "X", DurationMs: 200000},
		{ID: "B", Title: "B", ArtistName: "X", DurationMs: 180000},
	}}
	r := newRig(t, b1, remotetest.Batch("b2", "C", "D"))
	ctx := context.Background()

	if err := r.ctrl.Play(ctx); err != nil {
		t.Fatal(err)
	}
	pos := 50.4
	r.out.events <- mpv.Event{TimePos: &pos}
	waitFor(t, func() bool { return r.ctrl.Position() == 50 })

	if err := r.ctrl.Skip(ctx); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if r.ctrl.CurrentTrack().ID() != "B" {
		t.Fatalf("expected B, got %s", r.ctrl.CurrentTrack().ID())
	}

	// The last time-pos mpv reports falls short of the duration.
	last := 179.97
	r.out.events <- mpv.Event{TimePos: &last}
	r.out.events <- mpv.Event{End: mpv.EndReplaced}
	r.out.events <- mpv.Event{End: mpv.EndFinished}
	waitFor(t, func() bool { return r.out.loadCount() == 3 })
	if r.ctrl.CurrentTrack().ID() != "C" {
		t.Fatalf("expected C, got %s", r.ctrl.CurrentTrack().ID())
	}

	want := []string{"radioStarted", "trackStarted(A)", "skip(A,50)", "trackStarted(B)", "trackFinished(B,180)", "trackStarted(C)"}
	got := r.lifecycle(t)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v\ngot %v", want, got)
	}
}

func TestEndWithoutPlaybackIgnored(t *testing.T) {
	r := newRig(t, remotetest.Batch("b1", "A", "B"))
	if err := r.ctrl.Play(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.out.events <- mpv.Event{End: mpv.EndFinished}
	time.Sleep(20 * time.Millisecond)
	if r.out.loadCount() != 1 {
		t.Fatalf("a stale end-of-file must not advance, loads=%d", r.out.loadCount())
	}
}

func TestDislikeSkips(t *testing.T) {
	r := newRig(t, remotetest.Batch("b1", "A", "B", "C"))
	ctx := context.Background()
	if err := r.ctrl.Play(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.ctrl.Dislike(ctx); err != nil {
		t.Fatalf("dislike: %v", err)
	}
	if r.ctrl.CurrentTrack().ID() != "B" {
		t.Fatalf("expected B after dislike, got %s", r.ctrl.CurrentTrack().ID())
	}
	got := r.lifecycle(t)
	want := []string{"radioStarted", "trackStarted(A)", "skip(A,0)", "trackStarted(B)"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v got %v", want, got)
	}
}

func TestLikeToggles(t *testing.T) {
	r := newRig(t, remotetest.Batch("b1", "A", "B"))
	ctx := context.Background()
	if err := r.ctrl.Like(ctx); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	r.ctrl.Play(ctx)
	r.ctrl.Like(ctx)
	if !r.ctrl.CurrentTrack().Liked() {
		t.Fatal("expected liked")
	}
	r.ctrl.Like(ctx)
	if r.ctrl.CurrentTrack().Liked() {
		t.Fatal("expected like removed")
	}
}

func TestLikeFailureKeepsPlaying(t *testing.T) {
	r := newRig(t, remotetest.Batch("b1", "A", "B"))
	r.fake.AccountID = remote.AccountID{}
	ctx := context.Background()
	if err := r.ctrl.Play(ctx); err != nil {
		t.Fatal(err)
	}
	pos := 42.0
	r.out.events <- mpv.Event{TimePos: &pos}
	waitFor(t, func() bool { return r.ctrl.Position() == 42 })

	if err := r.ctrl.Like(ctx); !errors.Is(err, remote.ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}
	if r.ctrl.State() != StatePlaying {
		t.Fatalf("a failed like must not stop playback, state %s", r.ctrl.State())
	}
	if err := r.ctrl.Dislike(ctx); err == nil {
		t.Fatal("expected dislike to fail")
	}
	if r.ctrl.State() != StatePlaying || r.ctrl.CurrentTrack().ID() != "A" {
		t.Fatalf("a failed dislike must keep A playing, state %s", r.ctrl.State())
	}

	if err := r.ctrl.Toggle(ctx); err != nil {
		t.Fatal(err)
	}
	if r.ctrl.State() != StatePaused {
		t.Fatalf("expected paused, got %s", r.ctrl.State())
	}
	if r.out.loadCount() != 1 || r.ctrl.Position() != 42 {
		t.Fatalf("toggle must pause in place, loads=%d position=%d", r.out.loadCount(), r.ctrl.Position())
	}
}

func TestFailedFileSkippedOnPlay(t *testing.T) {
	r := newRig(t, remotetest.Batch("b1", "A", "B"))
	ctx := context.Background()
	if err := r.ctrl.Play(ctx); err != nil {
		t.Fatal(err)
	}
	r.out.events <- mpv.Event{End: mpv.EndFailed, FileError: "unrecognized file format"}
	timeout := time.After(2 * time.Second)
	for {
		var u Update
		select {
		case u = <-r.ctrl.Updates():
		case <-timeout:
			t.Fatal("no error update")
		}
		if u.State != StateError {
			continue
		}
		if !errors.Is(u.Err, ErrPlayback) || u.Message != Describe(ErrPlayback) {
			t.Fatalf("unexpected update %+v", u)
		}
		break
	}

	if err := r.ctrl.Play(ctx); err != nil {
		t.Fatalf("play: %v", err)
	}
	if r.ctrl.State() != StatePlaying || r.ctrl.CurrentTrack().ID() != "B" {
		t.Fatalf("expected B playing, state %s", r.ctrl.State())
	}
	got := r.lifecycle(t)
	want := []string{"radioStarted", "trackStarted(A)", "skip(A,0)", "trackStarted(B)"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v got %v", want, got)
	}
}

func TestCloseInterruptsNaturalAdvance(t *testing.T) {
	r := newRig(t, remotetest.Batch("b1", "A"))
	ctx := context.Background()
	if err := r.ctrl.Play(ctx); err != nil {
		t.Fatal(err)
	}
	gate := make(chan struct{})
	defer close(gate)
	r.fake.SetDownloadGate(gate)
	r.fake.AddBatch(remotetest.Batch("b2", "B"))

	pos := 10.0
	r.out.events <- mpv.Event{TimePos: &pos}
	r.out.events <- mpv.Event{End: mpv.EndFinished}
	waitFor(t, func() bool {
		dl := r.fake.Downloads()
		return len(dl) > 0 && dl[len(dl)-1] == "B"
	})

	done := make(chan error, 1)
	go func() { done <- r.ctrl.Close(ctx) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked behind the natural advance")
	}
}

func TestErrorStateIsRecoverable(t *testing.T) {
	r := newRig(t)
	r.fake.NextBatchErr = remote.ErrNetwork
	ctx := context.Background()

	err := r.ctrl.Play(ctx)
	if !remote.IsNetwork(err) {
		t.Fatalf("expected network error, got %v", err)
	}
	if r.ctrl.State() != StateError {
		t.Fatalf("expected error state, got %s", r.ctrl.State())
	}

	r.fake.AddBatch(remotetest.Batch("b1", "A", "B"))
	if err := r.ctrl.Play(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if r.ctrl.State() != StatePlaying {
		t.Fatalf("expected playing after retry, got %s", r.ctrl.State())
	}
}

func TestUpdatesPublished(t *testing.T) {
	r := newRig(t, remotetest.Batch("b1", "A", "B"))
	if err := r.ctrl.Play(context.Background()); err != nil {
		t.Fatal(err)
	}
	var last Update
	for {
		select {
		case u := <-r.ctrl.Updates():
			last = u
			continue
		default:
		}
		break
	}
	if last.State != StatePlaying || last.Track == nil || last.Track.ID != "A" {
		t.Fatalf("unexpected last update %+v", last)
	}
	if last.UpNext == nil || last.UpNext.ID != "B" {
		t.Fatalf("expected up next B, got %+v", last.UpNext)
	}
}

func TestVolumeAndSeek(t *testing.T) {
	r := newRig(t, remotetest.Batch("b1", "A", "B"))
	if err := r.ctrl.Seek(5); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	r.ctrl.Play(context.Background())
	if err := r.ctrl.SetVolume(50); err != nil {
		t.Fatal(err)
	}
	if r.ctrl.Volume() != 100 {
		t.Fatalf("volume should clamp to 100, got %v", r.ctrl.Volume())
	}
	if err := r.ctrl.Seek(-10); err != nil {
		t.Fatal(err)
	}
	r.out.mu.Lock()
	defer r.out.mu.Unlock()
	if r.out.volume != 100 || len(r.out.seeks) != 1 || r.out.seeks[0] != -10 {
		t.Fatalf("unexpected output state vol=%v seeks=%v", r.out.volume, r.out.seeks)
	}
}

func TestLyrics(t *testing.T) {
	b := remote.Batch{BatchID: "b1", Tracks: []track.Metadata{
		{ID: "A", Title: "A", ArtistName: "X", LyricsAvailable: true},
		{ID: "B", Title: "B", ArtistName: "X"},
	}}
	r := newRig(t, b)
	r.fake.LyricsText = map[string]string{"A": "la la"}
	ctx := context.Background()
	if _, err := r.ctrl.Lyrics(ctx); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	r.ctrl.Play(ctx)
	text, err := r.ctrl.Lyrics(ctx)
	if err != nil || text != "la la" {
		t.Fatalf("Lyrics = %q, %v", text, err)
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("advance: %w", remote.ErrNetwork), "Network problem, press play to retry"},
		{remote.ErrUnauthorized, "Authorization failed, check your token"},
		{station.ErrNoTrack, "Nothing is playing"},
		{fmt.Errorf("no such file: %w", ErrPlayback), "This track could not be played, press play to skip it"},
		{errors.New("odd"), "odd"},
	}
	for _, tt := range tests {
		if got := Describe(tt.err); got != tt.want {
			t.Errorf("Describe(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
