package remote

import (
	"context"
	"time"

	"github.com/olaradio/olaradio/internal/track"
)

// Service is the contract the radio core consumes from the streaming service.
type Service interface {
	Account(ctx context.Context) (AccountID, error)
	NextBatch(ctx context.Context, stationID, afterTrackID string) (Batch, error)
	DownloadAudio(ctx context.Context, trackID, destPath string) error
	SendFeedback(ctx context.Context, stationID, batchID string, fb Feedback) error
	SendPlaybackTrace(ctx context.Context, tr Trace) error
	MutateCollection(ctx context.Context, account AccountID, c Collection, a Action, trackID string) error
	Lyrics(ctx context.Context, trackID string) (string, error)
}

// AccountID identifies the listener; per-user calls need UID.
type AccountID struct {
	UID         int
	Login       string
	DisplayName string
}

func (a AccountID) Resolved() bool { return a.UID != 0 }

// Batch is a server-issued run of upcoming tracks plus its continuation token.
type Batch struct {
	Tracks  []track.Metadata
	BatchID string
}

type FeedbackKind string

const (
	FeedbackRadioStarted  FeedbackKind = "radioStarted"
	FeedbackTrackStarted  FeedbackKind = "trackStarted"
	FeedbackTrackFinished FeedbackKind = "trackFinished"
	FeedbackSkip          FeedbackKind = "skip"
)

// Feedback is one station lifecycle event. TrackID is empty for
// radioStarted; TotalPlayedSeconds is only sent for trackFinished and skip.
type Feedback struct {
	Kind               FeedbackKind
	TrackID            string
	TotalPlayedSeconds int
	At                 time.Time
}

// Trace is a position report for one listening session of a track.
type Trace struct {
	TrackID     string
	FromCache   bool
	PlayID      string
	DurationSec int
	PlayedSec   int
	AlbumID     int
	At          time.Time
}

type Collection string

const (
	Likes    Collection = "likes"
	Dislikes Collection = "dislikes"
)

type Action string

const (
	Add    Action = "add"
	Remove Action = "remove"
)
