// Package player is the playback controller: it turns user commands into
// station transitions and audio output calls, and publishes what is playing
// on an update channel.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/olaradio/olaradio/internal/mpv"
	"github.com/olaradio/olaradio/internal/track"
)

var (
	ErrNotReady = errors.New("player: nothing loaded")
	// ErrPlayback is reported when the audio output gives up on a loaded
	// file.
	ErrPlayback = errors.New("player: track could not be played")
)

type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Output is the audio device.
type Output interface {
	Start(ctx context.Context) error
	Load(path string) error
	SetPause(paused bool) error
	Seek(deltaSeconds float64) error
	SetVolume(vol float64) error
	Events() <-chan mpv.Event
	Stop() error
}

// Pipeline is the station the controller draws tracks from.
type Pipeline interface {
	Advance(ctx context.Context) (*track.Track, error)
	Skip(ctx context.Context, position int) error
	Like(ctx context.Context, remove bool) error
	Dislike(ctx context.Context, remove bool) error
	UpNext() *track.Track
	Close()
}

type LyricsSource interface {
	Get(ctx context.Context, trackID string, available bool) (string, error)
}

// Telemetry is flushed and stopped by Close.
type Telemetry interface {
	Close(ctx context.Context) error
}

// Update is published on every state, track or position change.
type Update struct {
	State    State
	Track    *track.Snapshot
	UpNext   *track.Snapshot
	Position int
	Volume   float64
	Message  string
	Err      error
}

type Options struct {
	Lyrics        LyricsSource
	Telemetry     Telemetry
	InitialVolume float64
	Logger        *slog.Logger
}

// Controller is safe for concurrent use. Transitions (play, skip, like,
// dislike, natural end) are serialized.
type Controller struct {
	pipe   Pipeline
	out    Output
	opts   Options
	logger *slog.Logger

	op sync.Mutex

	// life outlives any caller context; Close cancels it first so a natural
	// advance in flight gives up.
	life   context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	track       *track.Track
	elapsed     int
	sawPlayback bool
	unplayable  bool
	volume      float64
	message     string
	lastErr     error

	updates chan Update
	quit    chan struct{}
	done    chan struct{}
	closed  bool
}

func New(pipe Pipeline, out Output, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	vol := opts.InitialVolume
	if vol <= 0 {
		vol = 70
	}
	life, cancel := context.WithCancel(context.Background())
	return &Controller{
		life:    life,
		cancel:  cancel,
		pipe:    pipe,
		out:     out,
		opts:    opts,
		logger:  opts.Logger,
		volume:  vol,
		updates: make(chan Update, 64),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start starts the audio output and the event loop.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.out.Start(ctx); err != nil {
		return err
	}
	go c.loop()
	return nil
}

// Updates delivers state changes. Updates are dropped when the reader falls
// behind; each one carries the full state.
func (c *Controller) Updates() <-chan Update { return c.updates }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) IsPlaying() bool { return c.State() == StatePlaying }

// Position is the elapsed playback time of the current track in seconds.
func (c *Controller) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// CurrentTrack is the loaded track, or nil.
func (c *Controller) CurrentTrack() *track.Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.track
}

func (c *Controller) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// Play starts the station if nothing is loaded, otherwise resumes. After an
// error it retries the current track, or moves past it when the output could
// not play it.
func (c *Controller) Play(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	tr, state, unplayable := c.track, c.state, c.unplayable
	c.mu.Unlock()

	switch {
	case tr == nil:
		return c.advanceAndLoad(ctx)
	case state == StateError && unplayable:
		return c.skipLocked(ctx)
	case state == StateError:
		return c.load(tr)
	case state == StatePaused:
		if err := c.out.SetPause(false); err != nil {
			return c.fail(err)
		}
		c.setState(StatePlaying, "")
	}
	return nil
}

func (c *Controller) Pause() error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != StatePlaying {
		return nil
	}
	if err := c.out.SetPause(true); err != nil {
		return c.fail(err)
	}
	c.setState(StatePaused, "")
	return nil
}

func (c *Controller) Toggle(ctx context.Context) error {
	if c.IsPlaying() {
		return c.Pause()
	}
	return c.Play(ctx)
}

// Skip ends the current track at the elapsed position and plays the next.
func (c *Controller) Skip(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()
	return c.skipLocked(ctx)
}

func (c *Controller) skipLocked(ctx context.Context) error {
	c.mu.Lock()
	tr, pos := c.track, c.elapsed
	c.mu.Unlock()
	if tr == nil {
		return c.report(ErrNotReady)
	}
	if err := c.pipe.Skip(ctx, pos); err != nil {
		return c.report(err)
	}
	return c.advanceAndLoad(ctx)
}

// Like toggles the liked flag of the current track. A failure leaves
// playback as it was.
func (c *Controller) Like(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()
	tr := c.CurrentTrack()
	if tr == nil {
		return c.report(ErrNotReady)
	}
	remove := tr.Liked()
	if err := c.pipe.Like(ctx, remove); err != nil {
		return c.report(err)
	}
	msg := "Liked"
	if remove {
		msg = "Like removed"
	}
	c.notify(msg)
	return nil
}

// Dislike marks the current track disliked and skips it.
func (c *Controller) Dislike(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()
	if c.CurrentTrack() == nil {
		return c.report(ErrNotReady)
	}
	if err := c.pipe.Dislike(ctx, false); err != nil {
		return c.report(err)
	}
	return c.skipLocked(ctx)
}

// Seek moves the playhead by deltaSeconds.
func (c *Controller) Seek(deltaSeconds float64) error {
	if c.CurrentTrack() == nil {
		return ErrNotReady
	}
	return c.out.Seek(deltaSeconds)
}

// SetVolume changes the volume by delta, clamped to [0,100].
func (c *Controller) SetVolume(delta float64) error {
	c.mu.Lock()
	vol := math.Max(0, math.Min(100, c.volume+delta))
	c.volume = vol
	c.mu.Unlock()
	if err := c.out.SetVolume(vol); err != nil {
		return err
	}
	c.publish()
	return nil
}

// Lyrics returns the lyrics of the current track.
func (c *Controller) Lyrics(ctx context.Context) (string, error) {
	tr := c.CurrentTrack()
	if tr == nil {
		return "", ErrNotReady
	}
	if c.opts.Lyrics == nil {
		return "", errors.New("lyrics not configured")
	}
	return c.opts.Lyrics.Get(ctx, tr.ID(), tr.HasLyrics())
}

// Close stops the output and the station, then flushes telemetry within ctx.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	close(c.quit)
	c.out.Stop()
	c.op.Lock()
	c.pipe.Close()
	c.op.Unlock()
	var err error
	if c.opts.Telemetry != nil {
		err = c.opts.Telemetry.Close(ctx)
	}
	return err
}

// advanceAndLoad must be called with c.op held.
func (c *Controller) advanceAndLoad(ctx context.Context) error {
	c.mu.Lock()
	c.track = nil
	c.elapsed = 0
	c.unplayable = false
	c.mu.Unlock()
	c.setState(StateLoading, "")

	tr, err := c.pipe.Advance(ctx)
	if err != nil {
		return c.fail(err)
	}
	return c.load(tr)
}

func (c *Controller) load(tr *track.Track) error {
	c.mu.Lock()
	c.track = tr
	c.elapsed = 0
	c.sawPlayback = false
	c.unplayable = false
	c.mu.Unlock()

	if err := c.out.Load(tr.CachePath()); err != nil {
		return c.fail(err)
	}
	c.logger.Info("now playing", slog.String("track_id", tr.ID()), slog.String("name", tr.Name()))
	c.setState(StatePlaying, "")
	return nil
}

// fail moves to the error state with a user-facing message and returns err.
func (c *Controller) fail(err error) error {
	c.logger.Error("playback command failed", slog.Any("err", err))
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.setState(StateError, Describe(err))
	return err
}

// report shows err to the listener without touching the playback state.
func (c *Controller) report(err error) error {
	c.logger.Warn("command failed", slog.Any("err", err))
	c.mu.Lock()
	c.lastErr = err
	c.message = Describe(err)
	c.mu.Unlock()
	c.publish()
	return err
}

func (c *Controller) setState(s State, msg string) {
	c.mu.Lock()
	c.state = s
	c.message = msg
	if s != StateError {
		c.lastErr = nil
	}
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) notify(msg string) {
	c.mu.Lock()
	c.message = msg
	c.mu.Unlock()
	c.publish()
}

func (c *Controller) publish() {
	c.mu.Lock()
	u := Update{
		State:    c.state,
		Position: c.elapsed,
		Volume:   c.volume,
		Message:  c.message,
		Err:      c.lastErr,
	}
	if c.track != nil {
		snap := c.track.Snapshot()
		u.Track = &snap
	}
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	if next := c.pipe.UpNext(); next != nil {
		snap := next.Snapshot()
		u.UpNext = &snap
	}
	select {
	case c.updates <- u:
	default:
	}
}

func (c *Controller) loop() {
	defer close(c.done)
	events := c.out.Events()
	for {
		select {
		case <-c.quit:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handle(ev)
		}
	}
}

func (c *Controller) handle(ev mpv.Event) {
	switch {
	case ev.Err != nil:
		c.logger.Warn("audio output event error", slog.Any("err", ev.Err))
	case ev.TimePos != nil:
		sec := int(math.Floor(*ev.TimePos))
		c.mu.Lock()
		c.sawPlayback = true
		changed := sec != c.elapsed
		c.elapsed = sec
		c.mu.Unlock()
		if changed {
			c.publish()
		}
	case ev.Paused != nil:
		c.mu.Lock()
		if c.state == StatePlaying && *ev.Paused {
			c.state = StatePaused
		} else if c.state == StatePaused && !*ev.Paused {
			c.state = StatePlaying
		}
		c.mu.Unlock()
		c.publish()
	case ev.Volume != nil:
		c.mu.Lock()
		c.volume = *ev.Volume
		c.mu.Unlock()
	case ev.Finished():
		c.completed()
	case ev.Failed():
		c.failed(ev.FileError)
	}
}

// completed handles the natural end of the loaded file.
func (c *Controller) completed() {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	tr, saw, closed := c.track, c.sawPlayback, c.closed
	c.mu.Unlock()
	if tr == nil || !saw || closed {
		return
	}
	c.logger.Debug("track completed", slog.String("track_id", tr.ID()), slog.Int("duration", tr.DurationSeconds()))
	_ = c.advanceAndLoad(c.life)
}

// failed handles the output giving up on the loaded file. The track stays
// current until the listener presses play, which skips it.
func (c *Controller) failed(reason string) {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	tr, closed := c.track, c.closed
	if tr != nil {
		c.unplayable = true
	}
	c.mu.Unlock()
	if tr == nil || closed {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	c.logger.Warn("track not playable", slog.String("track_id", tr.ID()), slog.String("reason", reason))
	_ = c.fail(fmt.Errorf("%s: %w", reason, ErrPlayback))
}
