// Package cache keeps downloaded audio on local disk. The file name of a
// track is its cache key; a file present under that name is reused without
// contacting the service.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dhowden/tag"

	"github.com/olaradio/olaradio/internal/track"
)

const partialSuffix = ".part"

// Downloader fetches the audio of one track into destPath.
type Downloader interface {
	DownloadAudio(ctx context.Context, trackID, destPath string) error
}

type Options struct {
	Logger *slog.Logger
}

// Store is the TrackStore. All operations on one path are serialized, so a
// delete never observes a half-written file and two downloads of the same
// path never run at once.
type Store struct {
	dir    string
	dl     Downloader
	logger *slog.Logger
	locks  *keyedLocks
}

// New creates dir if needed.
func New(dir string, dl Downloader, opts Options) (*Store, error) {
	if dir == "" {
		return nil, errors.New("cache: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, dl: dl, logger: logger, locks: newKeyedLocks()}, nil
}

func (s *Store) Dir() string { return s.dir }

// Exists reports whether a complete file is present for t.
func (s *Store) Exists(t *track.Track) bool {
	return fileComplete(t.CachePath())
}

func fileComplete(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// EnsureCached makes sure t's audio is on disk and marks it cached. It is
// idempotent; a second call on a cached track does no network work. On
// failure no partial file is left at the cache path.
func (s *Store) EnsureCached(ctx context.Context, t *track.Track) error {
	path := t.CachePath()
	unlock, err := s.locks.lock(ctx, path)
	if err != nil {
		return err
	}
	defer unlock()

	if fileComplete(path) {
		t.SetCached(true)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache %s: %w", t.Name(), err)
	}
	tmp := path + partialSuffix
	start := time.Now()
	if err := s.dl.DownloadAudio(ctx, t.ID(), tmp); err != nil {
		os.Remove(tmp)
		s.logger.Error("download failed",
			slog.String("track_id", t.ID()),
			slog.String("name", t.Name()),
			slog.Any("err", err))
		return fmt.Errorf("cache %s: %w", t.Name(), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cache %s: %w", t.Name(), err)
	}
	t.SetCached(true)
	s.logger.Debug("track cached",
		slog.String("track_id", t.ID()),
		slog.String("path", path),
		slog.Duration("took", time.Since(start)))
	return nil
}

// Remove deletes t's cached file, waiting for any in-flight download of the
// same path to finish first. A missing file is not an error.
func (s *Store) Remove(ctx context.Context, t *track.Track) error {
	path := t.CachePath()
	unlock, err := s.locks.lock(ctx, path)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	t.SetCached(false)
	s.logger.Debug("cached track removed", slog.String("path", path))
	return nil
}

// busy reports whether an operation on t's path is running or waiting.
func (s *Store) busy(t *track.Track) bool {
	return s.locks.held(t.CachePath())
}

// Download is the handle of a background EnsureCached.
type Download struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// Prefetch starts EnsureCached in the background and returns at once.
// Cancelling ctx or the handle aborts the download.
func (s *Store) Prefetch(ctx context.Context, t *track.Track) *Download {
	ctx, cancel := context.WithCancel(ctx)
	d := &Download{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(d.done)
		defer cancel()
		d.err = s.EnsureCached(ctx, t)
	}()
	return d
}

// Done is closed when the download has finished either way.
func (d *Download) Done() <-chan struct{} { return d.done }

// Wait blocks until the download finishes and returns its result, or until
// ctx ends. Waiting again after completion returns the same result.
func (d *Download) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel aborts the download if it is still running.
func (d *Download) Cancel() { d.cancel() }

// Entry describes one cached file.
type Entry struct {
	Name    string
	Path    string
	Artist  string
	Title   string
	Album   string
	Size    int64
	ModTime time.Time
}

// List returns the cached audio files sorted by name. Artist and title come
// from the file's tags, falling back to the "<artist> - <title>" file name.
func (s *Store) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}
	var out []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.EqualFold(filepath.Ext(de.Name()), ".mp3") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(s.dir, de.Name())
		e := Entry{Name: de.Name(), Path: path, Size: info.Size(), ModTime: info.ModTime()}
		if f, err := os.Open(path); err == nil {
			if meta, err := tag.ReadFrom(f); err == nil {
				e.Artist = meta.Artist()
				e.Title = meta.Title()
				e.Album = meta.Album()
			}
			f.Close()
		}
		if e.Artist == "" || e.Title == "" {
			artist, title := splitName(de.Name())
			if e.Artist == "" {
				e.Artist = artist
			}
			if e.Title == "" {
				e.Title = title
			}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func splitName(name string) (artist, title string) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	artist, title, ok := strings.Cut(base, " - ")
	if !ok {
		return "", base
	}
	return artist, title
}

// Size is the total size in bytes of the cached audio files.
func (s *Store) Size() (int64, error) {
	entries, err := s.List()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	return total, nil
}
