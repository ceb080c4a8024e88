package player

import (
	"context"
	"errors"

	"github.com/olaradio/olaradio/internal/lyrics"
	"github.com/olaradio/olaradio/internal/mpv"
	"github.com/olaradio/olaradio/internal/queue"
	"github.com/olaradio/olaradio/internal/remote"
	"github.com/olaradio/olaradio/internal/station"
)

// Describe turns any error into a short message for the listener.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case remote.IsUnauthorized(err):
		return "Authorization failed, check your token"
	case errors.Is(err, remote.ErrNoAccount):
		return "Account is not resolved yet"
	case remote.IsNoPlayableVariant(err):
		return "No playable audio for this track"
	case remote.IsRateLimited(err):
		return "The service is busy, press play to retry"
	case remote.IsNetwork(err):
		return "Network problem, press play to retry"
	case remote.IsProtocol(err), errors.Is(err, queue.ErrEmpty):
		return "Unexpected answer from the service, press play to retry"
	case errors.Is(err, ErrNotReady), errors.Is(err, station.ErrNoTrack):
		return "Nothing is playing"
	case errors.Is(err, station.ErrClosed):
		return "Player is shutting down"
	case errors.Is(err, lyrics.ErrUnavailable):
		return "No lyrics for this track"
	case errors.Is(err, ErrPlayback):
		return "This track could not be played, press play to skip it"
	case errors.Is(err, mpv.ErrNotConnected):
		return "Audio output is not running"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Cancelled"
	default:
		return err.Error()
	}
}
