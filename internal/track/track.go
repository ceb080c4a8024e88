package track

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Metadata is the raw record a station batch hands out for one song.
type Metadata struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	AlbumID         int    `json:"albumId"`
	AlbumTitle      string `json:"albumTitle"`
	ArtistName      string `json:"artistName"`
	DurationMs      int    `json:"durationMs"`
	CoverURI        string `json:"coverUri"`
	LyricsAvailable bool   `json:"lyricsAvailable"`
	Liked           bool   `json:"liked"`
}

// Track is one listening session of a song. Identity and metadata never
// change; position, cached and liked are written by the station and the
// playback controller.
type Track struct {
	meta     Metadata
	playID   string
	cacheDir string
	batchID  string

	mu       sync.Mutex
	position int
	cached   bool
	liked    bool
}

// New builds a Track with a fresh play id. batchID is the continuation token
// of the batch the record was drawn from.
func New(meta Metadata, cacheDir, batchID string) *Track {
	return &Track{
		meta:     meta,
		playID:   NewPlayID(),
		cacheDir: cacheDir,
		batchID:  batchID,
		liked:    meta.Liked,
	}
}

// NewPlayID returns a "%d-%d-%d" token with each part in [1,1000].
func NewPlayID() string {
	return fmt.Sprintf("%d-%d-%d", rand.IntN(1000)+1, rand.IntN(1000)+1, rand.IntN(1000)+1)
}

func (t *Track) ID() string           { return t.meta.ID }
func (t *Track) Title() string        { return t.meta.Title }
func (t *Track) Artist() string       { return t.meta.ArtistName }
func (t *Track) Album() string        { return t.meta.AlbumTitle }
func (t *Track) AlbumID() int         { return t.meta.AlbumID }
func (t *Track) PlayID() string       { return t.playID }
func (t *Track) BatchID() string      { return t.batchID }
func (t *Track) HasLyrics() bool      { return t.meta.LyricsAvailable }
func (t *Track) Metadata() Metadata   { return t.meta }
func (t *Track) DurationSeconds() int { return t.meta.DurationMs / 1000 }

// Name is the display form "<artist> - <title>".
func (t *Track) Name() string {
	return t.meta.ArtistName + " - " + t.meta.Title
}

// CacheFilename is the sanitized "<artist> - <title>.mp3". Two remote ids
// with the same artist and title share a file.
func (t *Track) CacheFilename() string {
	return CacheFilename(t.meta.ArtistName, t.meta.Title)
}

// CachePath joins the cache directory and CacheFilename.
func (t *Track) CachePath() string {
	return filepath.Join(t.cacheDir, t.CacheFilename())
}

// ArtworkURL expands the cover template to a square of sizePx pixels.
func (t *Track) ArtworkURL(sizePx int) string {
	if t.meta.CoverURI == "" {
		return ""
	}
	size := fmt.Sprintf("%dx%d", sizePx, sizePx)
	return "https://" + strings.ReplaceAll(t.meta.CoverURI, "%%", size)
}

func (t *Track) Position() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position
}

func (t *Track) SetPosition(sec int) {
	if sec < 0 {
		sec = 0
	}
	t.mu.Lock()
	t.position = sec
	t.mu.Unlock()
}

func (t *Track) Cached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cached
}

func (t *Track) SetCached(v bool) {
	t.mu.Lock()
	t.cached = v
	t.mu.Unlock()
}

func (t *Track) Liked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.liked
}

func (t *Track) SetLiked(v bool) {
	t.mu.Lock()
	t.liked = v
	t.mu.Unlock()
}

// Snapshot is an immutable copy for observers.
type Snapshot struct {
	ID         string
	PlayID     string
	Title      string
	Artist     string
	Album      string
	Duration   int
	Position   int
	Cached     bool
	Liked      bool
	HasLyrics  bool
	ArtworkURL string
	Path       string
}

func (t *Track) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		ID:         t.meta.ID,
		PlayID:     t.playID,
		Title:      t.meta.Title,
		Artist:     t.meta.ArtistName,
		Album:      t.meta.AlbumTitle,
		Duration:   t.meta.DurationMs / 1000,
		Position:   t.position,
		Cached:     t.cached,
		Liked:      t.liked,
		HasLyrics:  t.meta.LyricsAvailable,
		ArtworkURL: t.ArtworkURL(200),
		Path:       t.CachePath(),
	}
}

// CacheFilename normalizes artist and title into a file name. Path
// separators and NUL bytes are removed and the result is NFC-normalized so
// that the same song always maps to the same file.
func CacheFilename(artist, title string) string {
	name := norm.NFC.String(artist + " - " + title)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "-" || name == "" {
		name = "unknown"
	}
	return name + ".mp3"
}
