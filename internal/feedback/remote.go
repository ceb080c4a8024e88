package feedback

import (
	"context"
	"fmt"

	"github.com/olaradio/olaradio/internal/remote"
)

// Sender is the telemetry slice of remote.Service.
type Sender interface {
	SendFeedback(ctx context.Context, stationID, batchID string, fb remote.Feedback) error
	SendPlaybackTrace(ctx context.Context, tr remote.Trace) error
}

// RemoteSink forwards events to the streaming service.
type RemoteSink struct {
	svc Sender
}

func NewRemoteSink(svc Sender) *RemoteSink {
	return &RemoteSink{svc: svc}
}

func (s *RemoteSink) ID() string { return "remote" }

// BatchScoped marks remote feedback as tied to the batch it was issued under.
func (s *RemoteSink) BatchScoped() bool { return true }

func (s *RemoteSink) Deliver(ctx context.Context, ev Event) error {
	switch {
	case ev.Kind == Trace:
		return s.svc.SendPlaybackTrace(ctx, remote.Trace{
			TrackID:     ev.TrackID,
			FromCache:   ev.FromCache,
			PlayID:      ev.PlayID,
			DurationSec: ev.DurationSec,
			PlayedSec:   ev.PlayedSec,
			AlbumID:     ev.AlbumID,
			At:          ev.At,
		})
	case ev.Kind.Lifecycle():
		if ev.BatchID == "" {
			return remote.ErrNoBatch
		}
		fb := remote.Feedback{
			Kind:    remote.FeedbackKind(ev.Kind),
			TrackID: ev.TrackID,
			At:      ev.At,
		}
		if ev.Kind.Terminal() {
			fb.TotalPlayedSeconds = ev.PlayedSec
		}
		return s.svc.SendFeedback(ctx, ev.StationID, ev.BatchID, fb)
	default:
		return fmt.Errorf("feedback: unknown kind %q", ev.Kind)
	}
}
