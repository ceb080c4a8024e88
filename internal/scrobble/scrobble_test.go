package scrobble

import (
	"context"
	"testing"
	"time"

	"github.com/olaradio/olaradio/internal/feedback"
)

type recorder struct {
	nowPlaying []Track
	scrobbled  []Track
}

func (r *recorder) ID() string { return "rec" }
func (r *recorder) NowPlaying(_ context.Context, t Track) error {
	r.nowPlaying = append(r.nowPlaying, t)
	return nil
}
func (r *recorder) Scrobble(_ context.Context, t Track) error {
	r.scrobbled = append(r.scrobbled, t)
	return nil
}

func TestShouldScrobble(t *testing.T) {
	tests := []struct {
		name             string
		played, duration int
		want             bool
	}{
		{"under half", 20, 60, false},
		{"over half", 35, 60, true},
		{"four minutes of a long track", 240, 600, true},
		{"short track", 30, 30, false},
		{"unknown duration", 100, 0, false},
		{"unknown duration long listen", 300, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldScrobble(tt.played, tt.duration); got != tt.want {
				t.Fatalf("ShouldScrobble(%d, %d) = %v", tt.played, tt.duration, got)
			}
		})
	}
}

func TestSinkScrobblesFinishedPlays(t *testing.T) {
	rec := &recorder{}
	sink := NewSink(rec)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	events := []feedback.Event{
		{Kind: feedback.RadioStarted, At: start},
		{Kind: feedback.TrackStarted, PlayID: "p1", TrackID: "1", Title: "One", Artist: "A", DurationSec: 180, At: start},
		{Kind: feedback.Trace, PlayID: "p1", PlayedSec: 180},
		{Kind: feedback.TrackFinished, PlayID: "p1", TrackID: "1", Title: "One", Artist: "A", DurationSec: 180, PlayedSec: 180, At: start.Add(3 * time.Minute)},
		{Kind: feedback.TrackStarted, PlayID: "p2", TrackID: "2", Title: "Two", Artist: "B", DurationSec: 200, At: start.Add(3 * time.Minute)},
		{Kind: feedback.Skip, PlayID: "p2", TrackID: "2", Title: "Two", Artist: "B", DurationSec: 200, PlayedSec: 10, At: start.Add(3*time.Minute + 10*time.Second)},
	}
	for _, ev := range events {
		if err := sink.Deliver(ctx, ev); err != nil {
			t.Fatalf("deliver %s: %v", ev.Kind, err)
		}
	}

	if len(rec.nowPlaying) != 2 {
		t.Fatalf("now playing calls = %d", len(rec.nowPlaying))
	}
	if len(rec.scrobbled) != 1 {
		t.Fatalf("expected only the finished play to scrobble, got %+v", rec.scrobbled)
	}
	got := rec.scrobbled[0]
	if got.Title != "One" || !got.StartedAt.Equal(start) {
		t.Fatalf("scrobbled %+v", got)
	}
	if sink.ID() != "scrobble:rec" {
		t.Fatalf("id = %q", sink.ID())
	}
}

func TestSinkDerivesStartWhenUnknown(t *testing.T) {
	rec := &recorder{}
	sink := NewSink(rec)
	end := time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC)
	ev := feedback.Event{Kind: feedback.Skip, PlayID: "p9", DurationSec: 200, PlayedSec: 150, At: end}
	if err := sink.Deliver(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(rec.scrobbled) != 1 || !rec.scrobbled[0].StartedAt.Equal(end.Add(-150*time.Second)) {
		t.Fatalf("scrobbled %+v", rec.scrobbled)
	}
}
