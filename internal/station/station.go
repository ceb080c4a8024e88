// Package station drives a radio station: it keeps one track ready to play
// and the following one downloading, and emits the lifecycle telemetry
// around every transition.
package station

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olaradio/olaradio/internal/cache"
	"github.com/olaradio/olaradio/internal/feedback"
	"github.com/olaradio/olaradio/internal/queue"
	"github.com/olaradio/olaradio/internal/remote"
	"github.com/olaradio/olaradio/internal/track"
)

var (
	ErrNoTrack = errors.New("station: no current track")
	ErrClosed  = errors.New("station: closed")
)

const DefaultStationID = "user:onyourwave"

// maxUnplayable bounds how many tracks without a playable variant one
// Advance skips over before giving up.
const maxUnplayable = 10

type State int

const (
	StateEmpty State = iota
	StatePriming
	StateSteady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePriming:
		return "priming"
	case StateSteady:
		return "steady"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Options struct {
	StationID string
	// ResumeFrom is the continuation hint of the very first batch fetch.
	ResumeFrom string
	// FlushTimeout bounds the telemetry flush that precedes a batch fetch.
	FlushTimeout time.Duration
	Logger       *slog.Logger
}

// slot holds one drawn track and its download.
type slot struct {
	track      *track.Track
	dl         *cache.Download
	fromCache  bool
	started    bool
	terminated bool
}

// Station is the pipeline. Advance, Skip, Like and Dislike are serialized;
// Current and UpNext never block.
type Station struct {
	mu       sync.Mutex
	svc      remote.Service
	store    *cache.Store
	queue    *queue.Queue
	reporter *feedback.Reporter
	logger   *slog.Logger

	stationID    string
	resumeFrom   string
	flushTimeout time.Duration

	state        State
	current      *slot
	next         *slot
	radioStarted bool
	lastTrackID  string
	account      remote.AccountID

	shown    atomic.Pointer[track.Track]
	upcoming atomic.Pointer[track.Track]

	life   context.Context
	cancel context.CancelFunc
}

// New builds a station. The reporter is shared with its other owners and is
// not closed by the station.
func New(svc remote.Service, store *cache.Store, reporter *feedback.Reporter, opts Options) *Station {
	if opts.StationID == "" {
		opts.StationID = DefaultStationID
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	life, cancel := context.WithCancel(context.Background())
	s := &Station{
		svc:          svc,
		store:        store,
		reporter:     reporter,
		logger:       opts.Logger,
		stationID:    opts.StationID,
		resumeFrom:   opts.ResumeFrom,
		flushTimeout: opts.FlushTimeout,
		life:         life,
		cancel:       cancel,
	}
	s.queue = queue.New(svc, queue.Options{
		StationID: opts.StationID,
		Logger:    opts.Logger,
		Hooks: queue.Hooks{
			BeforeFetch: s.flushTelemetry,
			OnBatch:     s.rotateTelemetry,
		},
	})
	return s
}

func (s *Station) flushTelemetry(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.flushTimeout)
	defer cancel()
	if err := s.reporter.FlushBatch(ctx); err != nil && !errors.Is(err, feedback.ErrClosed) {
		s.logger.Warn("telemetry flush before fetch incomplete", slog.Any("err", err))
	}
}

func (s *Station) rotateTelemetry(batchID string) {
	if n := s.reporter.Rotate(batchID); n > 0 {
		s.logger.Info("dropped stale telemetry", slog.Int("events", n), slog.String("batch_id", batchID))
	}
}

func (s *Station) ID() string { return s.stationID }

func (s *Station) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current is the track last returned by Advance, or nil.
func (s *Station) Current() *track.Track { return s.shown.Load() }

// UpNext is the track being prefetched, or nil.
func (s *Station) UpNext() *track.Track { return s.upcoming.Load() }

// BatchID is the continuation token of the latest fetch.
func (s *Station) BatchID() string { return s.queue.BatchID() }

// Advance finishes the current track, promotes the prefetched one, starts
// prefetching its successor and returns the new current track once its
// audio is on disk. A failed Advance can be retried.
func (s *Station) Advance(ctx context.Context) (*track.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, ErrClosed
	}

	s.finishCurrent()

	for unplayable := 0; ; {
		if s.current == nil || s.current.terminated {
			s.current, s.next = s.next, nil
		}
		if s.current == nil {
			sl, err := s.draw(ctx, s.continuation())
			if err != nil {
				return nil, fmt.Errorf("advance: %w", err)
			}
			s.current = sl
		}
		if s.state == StateEmpty {
			s.state = StatePriming
			s.logger.Debug("station priming", slog.String("station", s.stationID), slog.String("track_id", s.current.track.ID()))
		}
		if !s.radioStarted {
			s.radioStarted = true
			s.emit(feedback.RadioStarted, s.current, 0)
		}

		if s.next == nil {
			sl, err := s.draw(ctx, s.current.track.ID())
			if err != nil {
				s.logger.Warn("prefetch draw failed", slog.Any("err", err))
			} else {
				s.next = sl
			}
		}
		s.publish()

		if s.current.dl == nil {
			s.current.dl = s.store.Prefetch(s.life, s.current.track)
		}
		err := s.current.dl.Wait(ctx)
		if err == nil {
			break
		}
		if remote.IsNoPlayableVariant(err) && unplayable < maxUnplayable {
			unplayable++
			s.logger.Info("skipping unplayable track",
				slog.String("track_id", s.current.track.ID()),
				slog.String("name", s.current.track.Name()))
			s.current.terminated = true
			continue
		}
		if ctx.Err() == nil {
			s.current.dl = nil
		}
		return nil, fmt.Errorf("advance: %w", err)
	}

	s.current.started = true
	s.lastTrackID = s.current.track.ID()
	s.emit(feedback.Trace, s.current, 0)
	s.emit(feedback.TrackStarted, s.current, 0)
	s.state = StateSteady
	s.publish()
	s.logger.Debug("track started",
		slog.String("track_id", s.current.track.ID()),
		slog.String("play_id", s.current.track.PlayID()),
		slog.String("batch_id", s.current.track.BatchID()))
	return s.current.track, nil
}

// finishCurrent emits trackFinished for a started track that has not been
// skipped. The played time is the track position, or its duration when no
// position was recorded.
func (s *Station) finishCurrent() {
	cur := s.current
	if cur == nil || !cur.started || cur.terminated {
		return
	}
	played := cur.track.Position()
	if played <= 0 {
		played = cur.track.DurationSeconds()
	}
	cur.terminated = true
	s.emit(feedback.Trace, cur, played)
	s.emit(feedback.TrackFinished, cur, played)
}

// Skip ends the current track with a skip event at position seconds.
// The caller follows it with Advance.
func (s *Station) Skip(ctx context.Context, position int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrClosed
	}
	cur := s.current
	if cur == nil || !cur.started || cur.terminated {
		return ErrNoTrack
	}
	cur.track.SetPosition(position)
	played := cur.track.Position()
	cur.terminated = true
	s.emit(feedback.Trace, cur, played)
	s.emit(feedback.Skip, cur, played)
	s.logger.Debug("track skipped", slog.String("track_id", cur.track.ID()), slog.Int("played", played))
	return nil
}

// Like adds the current track to the likes collection, or removes it.
func (s *Station) Like(ctx context.Context, remove bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, acc, err := s.collectionTarget(ctx)
	if err != nil {
		return err
	}
	action := remote.Add
	if remove {
		action = remote.Remove
	}
	if err := s.svc.MutateCollection(ctx, acc, remote.Likes, action, cur.ID()); err != nil {
		return fmt.Errorf("like: %w", err)
	}
	cur.SetLiked(!remove)
	return nil
}

// Dislike adds the current track to the dislikes collection, or removes it.
// Adding also deletes the cached file, after any in-flight download of the
// same path has finished.
func (s *Station) Dislike(ctx context.Context, remove bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, acc, err := s.collectionTarget(ctx)
	if err != nil {
		return err
	}
	action := remote.Add
	if remove {
		action = remote.Remove
	}
	if err := s.svc.MutateCollection(ctx, acc, remote.Dislikes, action, cur.ID()); err != nil {
		return fmt.Errorf("dislike: %w", err)
	}
	if remove {
		return nil
	}
	cur.SetLiked(false)
	if err := s.store.Remove(ctx, cur); err != nil {
		return fmt.Errorf("dislike: %w", err)
	}
	return nil
}

func (s *Station) collectionTarget(ctx context.Context) (*track.Track, remote.AccountID, error) {
	if s.state == StateClosed {
		return nil, remote.AccountID{}, ErrClosed
	}
	if s.current == nil || !s.current.started {
		return nil, remote.AccountID{}, ErrNoTrack
	}
	if !s.account.Resolved() {
		acc, err := s.svc.Account(ctx)
		if err != nil {
			return nil, remote.AccountID{}, fmt.Errorf("resolve account: %w", err)
		}
		if !acc.Resolved() {
			return nil, remote.AccountID{}, remote.ErrNoAccount
		}
		s.account = acc
	}
	return s.current.track, s.account, nil
}

// Close aborts any running download. Telemetry already emitted stays with
// the reporter.
func (s *Station) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	for _, sl := range []*slot{s.current, s.next} {
		if sl != nil && sl.dl != nil {
			sl.dl.Cancel()
		}
	}
	s.cancel()
	for _, sl := range []*slot{s.current, s.next} {
		if sl != nil && sl.dl != nil {
			<-sl.dl.Done()
		}
	}
	s.logger.Debug("station closed",
		slog.String("station", s.stationID),
		slog.Int("batches", s.queue.Fetches()))
}

func (s *Station) continuation() string {
	if s.lastTrackID != "" {
		return s.lastTrackID
	}
	return s.resumeFrom
}

// draw pulls one record off the queue and starts its download.
func (s *Station) draw(ctx context.Context, after string) (*slot, error) {
	md, batchID, err := s.queue.Next(ctx, after)
	if err != nil {
		return nil, err
	}
	t := track.New(md, s.store.Dir(), batchID)
	sl := &slot{track: t, fromCache: s.store.Exists(t)}
	sl.dl = s.store.Prefetch(s.life, t)
	return sl, nil
}

func (s *Station) publish() {
	if s.current != nil && s.current.started && !s.current.terminated {
		s.shown.Store(s.current.track)
	}
	if s.next != nil {
		s.upcoming.Store(s.next.track)
	} else {
		s.upcoming.Store(nil)
	}
}

func (s *Station) emit(kind feedback.Kind, sl *slot, played int) {
	t := sl.track
	ev := feedback.Event{
		Kind:        kind,
		StationID:   s.stationID,
		At:          time.Now(),
		TrackID:     t.ID(),
		PlayID:      t.PlayID(),
		Title:       t.Title(),
		Artist:      t.Artist(),
		AlbumID:     t.AlbumID(),
		DurationSec: t.DurationSeconds(),
		PlayedSec:   played,
		FromCache:   sl.fromCache,
	}
	if kind != feedback.Trace {
		ev.BatchID = t.BatchID()
	}
	if kind == feedback.RadioStarted {
		ev.TrackID = ""
		ev.PlayID = ""
	}
	s.reporter.Emit(ev)
}
