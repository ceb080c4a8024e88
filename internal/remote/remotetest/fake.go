// Package remotetest provides an in-memory remote.Service for tests.
package remotetest

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/olaradio/olaradio/internal/remote"
	"github.com/olaradio/olaradio/internal/track"
)

// FeedbackCall is one recorded SendFeedback.
type FeedbackCall struct {
	StationID string
	BatchID   string
	Feedback  remote.Feedback
}

// MutationCall is one recorded MutateCollection.
type MutationCall struct {
	Collection remote.Collection
	Action     remote.Action
	TrackID    string
}

// Call is an entry of the combined call log, in arrival order.
type Call struct {
	Method  string
	TrackID string
	Kind    remote.FeedbackKind
	BatchID string
}

// Fake records every call and serves batches from a script. All fields may
// be set before use; the methods are safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	// Batches are returned in order by NextBatch. When exhausted, NextBatch
	// returns NextBatchErr or an empty batch.
	Batches      []remote.Batch
	NextBatchErr error
	// DownloadErr maps a track id to the error DownloadAudio returns for it.
	DownloadErr map[string]error
	// DownloadGate, when set, blocks every DownloadAudio until it is closed
	// or the context ends.
	DownloadGate chan struct{}
	FeedbackErr  error
	LyricsText   map[string]string
	AccountID    remote.AccountID

	batchCalls     []string
	downloads      []string
	feedback       []FeedbackCall
	traces         []remote.Trace
	mutations      []MutationCall
	calls          []Call
	lyricsRequests int
}

var _ remote.Service = (*Fake)(nil)

// New returns a Fake serving the given batches.
func New(batches ...remote.Batch) *Fake {
	return &Fake{
		Batches:   batches,
		AccountID: remote.AccountID{UID: 1, Login: "test"},
	}
}

// Batch builds a remote.Batch of tracks with ids and titles taken from ids.
func Batch(batchID string, ids ...string) remote.Batch {
	b := remote.Batch{BatchID: batchID}
	for _, id := range ids {
		b.Tracks = append(b.Tracks, track.Metadata{
			ID:         id,
			Title:      "Title " + id,
			ArtistName: "Artist " + id,
			DurationMs: 180000,
		})
	}
	return b
}

func (f *Fake) Account(ctx context.Context) (remote.AccountID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.AccountID, nil
}

func (f *Fake) NextBatch(ctx context.Context, stationID, afterTrackID string) (remote.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls = append(f.batchCalls, afterTrackID)
	f.calls = append(f.calls, Call{Method: "NextBatch", TrackID: afterTrackID})
	if len(f.Batches) == 0 {
		if f.NextBatchErr != nil {
			return remote.Batch{}, f.NextBatchErr
		}
		return remote.Batch{}, nil
	}
	b := f.Batches[0]
	f.Batches = f.Batches[1:]
	return b, nil
}

func (f *Fake) DownloadAudio(ctx context.Context, trackID, destPath string) error {
	f.mu.Lock()
	gate := f.DownloadGate
	err := f.DownloadErr[trackID]
	f.downloads = append(f.downloads, trackID)
	f.calls = append(f.calls, Call{Method: "DownloadAudio", TrackID: trackID})
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte("audio:"+trackID), 0o644)
}

func (f *Fake) SendFeedback(ctx context.Context, stationID, batchID string, fb remote.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FeedbackErr != nil {
		return f.FeedbackErr
	}
	f.feedback = append(f.feedback, FeedbackCall{StationID: stationID, BatchID: batchID, Feedback: fb})
	f.calls = append(f.calls, Call{Method: "SendFeedback", TrackID: fb.TrackID, Kind: fb.Kind, BatchID: batchID})
	return nil
}

func (f *Fake) SendPlaybackTrace(ctx context.Context, tr remote.Trace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traces = append(f.traces, tr)
	f.calls = append(f.calls, Call{Method: "SendPlaybackTrace", TrackID: tr.TrackID})
	return nil
}

func (f *Fake) MutateCollection(ctx context.Context, account remote.AccountID, c remote.Collection, a remote.Action, trackID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !account.Resolved() {
		return remote.ErrNoAccount
	}
	f.mutations = append(f.mutations, MutationCall{Collection: c, Action: a, TrackID: trackID})
	f.calls = append(f.calls, Call{Method: "MutateCollection", TrackID: trackID})
	return nil
}

func (f *Fake) Lyrics(ctx context.Context, trackID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lyricsRequests++
	text, ok := f.LyricsText[trackID]
	if !ok {
		return "", fmt.Errorf("lyrics %s: %w", trackID, remote.ErrNotFound)
	}
	return text, nil
}

// SetDownloadErr changes the download result for trackID; nil clears it.
func (f *Fake) SetDownloadErr(trackID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DownloadErr == nil {
		f.DownloadErr = map[string]error{}
	}
	if err == nil {
		delete(f.DownloadErr, trackID)
		return
	}
	f.DownloadErr[trackID] = err
}

// SetDownloadGate replaces DownloadGate for downloads that start later.
func (f *Fake) SetDownloadGate(gate chan struct{}) {
	f.mu.Lock()
	f.DownloadGate = gate
	f.mu.Unlock()
}

// AddBatch appends a batch to the script.
func (f *Fake) AddBatch(b remote.Batch) {
	f.mu.Lock()
	f.Batches = append(f.Batches, b)
	f.mu.Unlock()
}

func (f *Fake) BatchCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.batchCalls...)
}

func (f *Fake) Downloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.downloads...)
}

func (f *Fake) Feedback() []FeedbackCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FeedbackCall(nil), f.feedback...)
}

func (f *Fake) Traces() []remote.Trace {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.Trace(nil), f.traces...)
}

func (f *Fake) Mutations() []MutationCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MutationCall(nil), f.mutations...)
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *Fake) LyricsRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lyricsRequests
}
