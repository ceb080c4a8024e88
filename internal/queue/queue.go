package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/olaradio/olaradio/internal/remote"
	"github.com/olaradio/olaradio/internal/track"
)

var ErrEmpty = errors.New("queue: station returned an empty batch")

// Fetcher is the slice of remote.Service the queue needs.
type Fetcher interface {
	NextBatch(ctx context.Context, stationID, afterTrackID string) (remote.Batch, error)
}

// Hooks run around a batch fetch. BeforeFetch is called before the request
// is issued; OnBatch after a new batch id has been installed.
type Hooks struct {
	BeforeFetch func(ctx context.Context)
	OnBatch     func(batchID string)
}

type Options struct {
	StationID string
	Hooks     Hooks
	Logger    *slog.Logger
}

// Queue buffers the unplayed tracks of the latest batch together with its
// continuation token.
type Queue struct {
	mu        sync.Mutex
	fetcher   Fetcher
	stationID string
	hooks     Hooks
	logger    *slog.Logger

	items   []track.Metadata
	batchID string
	fetches int
}

func New(fetcher Fetcher, opts Options) *Queue {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		fetcher:   fetcher,
		stationID: opts.StationID,
		hooks:     opts.Hooks,
		logger:    logger,
	}
}

// Next pops the head of the buffer. When the buffer is empty it blocks on a
// fetch continued from afterTrackID and then pops. A failed fetch leaves the
// queue unchanged, so the call can be retried.
func (q *Queue) Next(ctx context.Context, afterTrackID string) (track.Metadata, string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		if err := q.replenish(ctx, afterTrackID); err != nil {
			return track.Metadata{}, "", err
		}
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, q.batchID, nil
}

func (q *Queue) replenish(ctx context.Context, afterTrackID string) error {
	if q.hooks.BeforeFetch != nil {
		q.hooks.BeforeFetch(ctx)
	}
	batch, err := q.fetcher.NextBatch(ctx, q.stationID, afterTrackID)
	if err != nil {
		return fmt.Errorf("fetch batch: %w", err)
	}
	if len(batch.Tracks) == 0 {
		return ErrEmpty
	}
	q.items = append([]track.Metadata(nil), batch.Tracks...)
	changed := batch.BatchID != q.batchID
	q.batchID = batch.BatchID
	q.fetches++
	q.logger.Debug("queue replenished",
		slog.String("station", q.stationID),
		slog.String("batch_id", batch.BatchID),
		slog.String("after", afterTrackID),
		slog.Int("tracks", len(batch.Tracks)))
	if changed && q.hooks.OnBatch != nil {
		q.hooks.OnBatch(batch.BatchID)
	}
	return nil
}

// BatchID is the continuation token of the most recent fetch, empty before
// the first one.
func (q *Queue) BatchID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.batchID
}

// Len is the number of buffered, unplayed records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Fetches counts successful batch fetches.
func (q *Queue) Fetches() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fetches
}
