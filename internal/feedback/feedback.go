package feedback

import (
	"context"
	"time"

	"github.com/olaradio/olaradio/internal/remote"
)

// Kind names a telemetry event.
type Kind string

const (
	RadioStarted  Kind = Kind(remote.FeedbackRadioStarted)
	TrackStarted  Kind = Kind(remote.FeedbackTrackStarted)
	TrackFinished Kind = Kind(remote.FeedbackTrackFinished)
	Skip          Kind = Kind(remote.FeedbackSkip)
	// Trace is a position report; it is not tied to a batch.
	Trace Kind = "trace"
)

// Lifecycle reports whether k is one of the station lifecycle kinds sent
// under a batch id.
func (k Kind) Lifecycle() bool {
	switch k {
	case RadioStarted, TrackStarted, TrackFinished, Skip:
		return true
	}
	return false
}

// Terminal reports whether k ends a track's session.
func (k Kind) Terminal() bool { return k == TrackFinished || k == Skip }

// Event is one telemetry record. BatchID is the token captured when the
// track was drawn from the queue; it is empty for traces.
type Event struct {
	Kind      Kind
	StationID string
	BatchID   string
	At        time.Time

	TrackID     string
	PlayID      string
	Title       string
	Artist      string
	AlbumID     int
	DurationSec int
	PlayedSec   int
	FromCache   bool
}

// Sink receives events. Delivery errors are logged by the Reporter and
// never retried.
type Sink interface {
	// ID returns a short identifier used in logs.
	ID() string
	Deliver(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) ID() string                                  { return "func" }
func (f SinkFunc) Deliver(ctx context.Context, ev Event) error { return f(ctx, ev) }
