// Package mpv plays cached station audio through an mpv process driven over
// its JSON IPC socket.
package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var ErrNotConnected = errors.New("mpv: not connected")

// EndReason is why mpv stopped playing a file.
type EndReason string

const (
	EndFinished EndReason = "eof"
	// EndReplaced is reported for a file that a new loadfile replaced.
	EndReplaced EndReason = "stop"
	EndQuit     EndReason = "quit"
	EndFailed   EndReason = "error"
	EndRedirect EndReason = "redirect"
)

// Event is one playback report. Only the fields that changed are set.
type Event struct {
	TimePos  *float64
	Duration *float64
	Paused   *bool
	Volume   *float64
	End      EndReason
	// FileError is mpv's reason for an EndFailed, e.g. "no such file".
	FileError string
	Err       error
}

// Finished reports the natural end of the loaded track.
func (e Event) Finished() bool { return e.End == EndFinished }

// Failed reports that the loaded track could not be played.
func (e Event) Failed() bool { return e.End == EndFailed }

type Options struct {
	MPVPath        string
	IPCPath        string
	InitialVolume  float64
	Logger         *slog.Logger
	DisableProcess bool
	Dial           func(ctx context.Context, network, addr string) (net.Conn, error)
	ExtraArgs      []string
}

const (
	connectAttempts = 10
	connectMaxDelay = 500 * time.Millisecond
)

// observed lists the properties mpv reports on change. The observe id of a
// property is its index plus one.
var observed = []struct {
	name   string
	decode func(data any) (Event, bool)
}{
	{"time-pos", func(d any) (Event, bool) { v, ok := toFloat(d); return Event{TimePos: &v}, ok }},
	{"duration", func(d any) (Event, bool) { v, ok := toFloat(d); return Event{Duration: &v}, ok }},
	{"pause", func(d any) (Event, bool) { b, ok := d.(bool); return Event{Paused: &b}, ok }},
	{"volume", func(d any) (Event, bool) { v, ok := toFloat(d); return Event{Volume: &v}, ok }},
}

// Output is the audio device of a station session.
type Output struct {
	opts   Options
	cmd    *exec.Cmd
	conn   net.Conn
	mu     sync.Mutex
	events chan Event
	done   chan struct{}
}

func New(opts Options) *Output {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MPVPath == "" {
		opts.MPVPath = "mpv"
	}
	if opts.IPCPath == "" {
		opts.IPCPath = filepath.Join(os.TempDir(), "olaradio-mpv-"+strconv.Itoa(os.Getpid())+".sock")
	}
	return &Output{
		opts:   opts,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
}

// LookPath reports where the mpv binary resolves to.
func LookPath(path string) (string, error) {
	if path == "" {
		path = "mpv"
	}
	return exec.LookPath(path)
}

// Start launches mpv unless DisableProcess is set, connects to its socket
// and subscribes to playback properties.
func (o *Output) Start(ctx context.Context) error {
	log := o.opts.Logger.With(slog.String("ipc_path", o.opts.IPCPath))
	if !o.opts.DisableProcess {
		os.Remove(o.opts.IPCPath)
		if err := o.spawn(); err != nil {
			log.Error("mpv did not start", slog.Any("err", err))
			return err
		}
	}
	if err := o.connect(ctx); err != nil {
		log.Error("mpv ipc unreachable", slog.Any("err", err))
		o.Stop()
		return err
	}
	for i, p := range observed {
		if err := o.send("observe_property", i+1, p.name); err != nil {
			return fmt.Errorf("observe %s: %w", p.name, err)
		}
	}
	if o.opts.InitialVolume > 0 {
		if err := o.SetVolume(o.opts.InitialVolume); err != nil {
			return err
		}
	}
	go o.readLoop()
	log.Debug("audio output ready")
	return nil
}

func (o *Output) spawn() error {
	args := append([]string{
		"--idle=yes",
		"--no-video",
		"--no-terminal",
		"--force-window=no",
		"--input-ipc-server=" + o.opts.IPCPath,
	}, o.opts.ExtraArgs...)
	cmd := exec.Command(o.opts.MPVPath, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start mpv: %w", err)
	}
	o.cmd = cmd
	o.opts.Logger.Debug("mpv started", slog.Int("pid", cmd.Process.Pid))
	return nil
}

// connect dials the socket with doubling delays; mpv creates it shortly
// after the process starts.
func (o *Output) connect(ctx context.Context) error {
	dial := o.opts.Dial
	if dial == nil {
		dial = (&net.Dialer{Timeout: 5 * time.Second}).DialContext
	}
	delay := 50 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		conn, err := dial(ctx, "unix", o.opts.IPCPath)
		if err == nil {
			o.mu.Lock()
			o.conn = conn
			o.mu.Unlock()
			return nil
		}
		lastErr = err
		if attempt == connectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("connect mpv ipc: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay = min(delay*2, connectMaxDelay)
	}
	return fmt.Errorf("connect mpv ipc after %d attempts: %w", connectAttempts, lastErr)
}

// Events is closed when the IPC connection ends.
func (o *Output) Events() <-chan Event { return o.events }

func (o *Output) send(args ...any) error {
	b, err := json.Marshal(map[string]any{"command": args})
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.conn == nil {
		return ErrNotConnected
	}
	_, err = o.conn.Write(append(b, '\n'))
	return err
}

// Load starts the cached file at path, replacing the current one.
func (o *Output) Load(path string) error {
	if err := o.send("loadfile", path, "replace"); err != nil {
		return fmt.Errorf("load %s: %w", filepath.Base(path), err)
	}
	return o.SetPause(false)
}

func (o *Output) SetPause(paused bool) error {
	return o.send("set_property", "pause", paused)
}

func (o *Output) Seek(deltaSeconds float64) error {
	return o.send("seek", deltaSeconds, "relative")
}

// SetVolume sets the absolute volume, clamped to [0,100].
func (o *Output) SetVolume(vol float64) error {
	return o.send("set_property", "volume", max(0, min(100, vol)))
}

// Stop asks mpv to quit, closes the connection and reaps the process. It is
// safe to call twice.
func (o *Output) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	select {
	case <-o.done:
	default:
		close(o.done)
	}
	if conn := o.conn; conn != nil {
		o.conn = nil
		conn.Write([]byte(`{"command":["quit"]}` + "\n"))
		conn.Close()
	}
	if cmd := o.cmd; cmd != nil {
		o.cmd = nil
		if cmd.Process != nil {
			cmd.Process.Kill()
			cmd.Wait()
		}
	}
	return nil
}

func (o *Output) emit(ev Event) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

type ipcMessage struct {
	Event     string `json:"event"`
	Name      string `json:"name"`
	Data      any    `json:"data"`
	Reason    string `json:"reason"`
	FileError string `json:"file_error"`
}

func (o *Output) readLoop() {
	defer close(o.events)
	o.mu.Lock()
	conn := o.conn
	o.mu.Unlock()
	if conn == nil {
		return
	}
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var msg ipcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			o.emit(Event{Err: fmt.Errorf("decode mpv message: %w", err)})
			continue
		}
		if ev, ok := decode(msg); ok {
			o.emit(ev)
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-o.done:
		default:
			o.emit(Event{Err: err})
		}
	}
}

// decode turns an IPC message into an Event. Command replies and events the
// player does not use are skipped.
func decode(msg ipcMessage) (Event, bool) {
	switch msg.Event {
	case "end-file":
		ev := Event{End: EndReason(msg.Reason)}
		if ev.Failed() {
			ev.FileError = msg.FileError
		}
		return ev, true
	case "property-change":
		for _, p := range observed {
			if p.name == msg.Name {
				return p.decode(msg.Data)
			}
		}
	}
	return Event{}, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}
