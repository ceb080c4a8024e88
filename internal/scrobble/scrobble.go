// Package scrobble forwards finished radio plays to scrobbling services.
package scrobble

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/olaradio/olaradio/internal/feedback"
)

var (
	ErrNotConfigured = errors.New("scrobbling not configured")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrRateLimited   = errors.New("rate limited")
)

// Track is one play as a scrobbling service sees it.
type Track struct {
	TrackID     string
	Title       string
	Artist      string
	DurationSec int
	StartedAt   time.Time
}

// Scrobbler is a scrobbling backend.
type Scrobbler interface {
	ID() string
	NowPlaying(ctx context.Context, t Track) error
	Scrobble(ctx context.Context, t Track) error
}

// ShouldScrobble applies the usual rule: tracks longer than 30 seconds count
// once half of them or four minutes have been heard.
func ShouldScrobble(playedSec, durationSec int) bool {
	if durationSec > 0 && durationSec <= 30 {
		return false
	}
	if playedSec >= 240 {
		return true
	}
	return durationSec > 0 && playedSec*2 >= durationSec
}

// Sink adapts a Scrobbler to the feedback outbox.
type Sink struct {
	s Scrobbler

	mu      sync.Mutex
	started map[string]time.Time
}

var _ feedback.Sink = (*Sink)(nil)

func NewSink(s Scrobbler) *Sink {
	return &Sink{s: s, started: make(map[string]time.Time)}
}

func (k *Sink) ID() string { return "scrobble:" + k.s.ID() }

func (k *Sink) Deliver(ctx context.Context, ev feedback.Event) error {
	switch {
	case ev.Kind == feedback.TrackStarted:
		k.mu.Lock()
		k.started[ev.PlayID] = ev.At
		k.mu.Unlock()
		return k.s.NowPlaying(ctx, trackOf(ev, ev.At))
	case ev.Kind.Terminal():
		k.mu.Lock()
		at, ok := k.started[ev.PlayID]
		delete(k.started, ev.PlayID)
		k.mu.Unlock()
		if !ShouldScrobble(ev.PlayedSec, ev.DurationSec) {
			return nil
		}
		if !ok {
			at = ev.At.Add(-time.Duration(ev.PlayedSec) * time.Second)
		}
		return k.s.Scrobble(ctx, trackOf(ev, at))
	}
	return nil
}

func trackOf(ev feedback.Event, startedAt time.Time) Track {
	return Track{
		TrackID:     ev.TrackID,
		Title:       ev.Title,
		Artist:      ev.Artist,
		DurationSec: ev.DurationSec,
		StartedAt:   startedAt,
	}
}
