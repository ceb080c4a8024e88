// Package lastfm is a Last.fm scrobbler.
package lastfm

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/olaradio/olaradio/internal/scrobble"
)

const (
	DefaultEndpoint = "https://ws.audioscrobbler.com/2.0/"
	maxPending      = 50
)

// API error codes that map onto scrobble sentinels.
var apiErrors = map[int]error{
	4:  scrobble.ErrUnauthorized, // authentication failed
	9:  scrobble.ErrUnauthorized, // invalid session key
	10: scrobble.ErrUnauthorized, // invalid api key
	26: scrobble.ErrUnauthorized, // suspended api key
	29: scrobble.ErrRateLimited,
}

type Config struct {
	APIKey     string
	APISecret  string
	SessionKey string
	Endpoint   string
	// PendingPath is where unsent scrobbles are kept between runs. Empty
	// disables persistence.
	PendingPath string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Scrobbler implements scrobble.Scrobbler. Scrobbles that cannot be sent are
// kept in a bounded pending list and retried by FlushPending.
type Scrobbler struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	pending []scrobble.Track
}

var _ scrobble.Scrobbler = (*Scrobbler)(nil)

func New(cfg Config) *Scrobbler {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Scrobbler{cfg: cfg, client: client, logger: cfg.Logger}
}

func (s *Scrobbler) ID() string { return "lastfm" }

// Enabled reports whether all credentials are present.
func (s *Scrobbler) Enabled() bool {
	return s.cfg.APIKey != "" && s.cfg.APISecret != "" && s.cfg.SessionKey != ""
}

// NowPlaying is best effort and never queued.
func (s *Scrobbler) NowPlaying(ctx context.Context, t scrobble.Track) error {
	if !s.Enabled() {
		return nil
	}
	return s.call(ctx, "track.updateNowPlaying", t, nil)
}

// Scrobble submits t, keeping it for a later FlushPending when it cannot be
// sent now.
func (s *Scrobbler) Scrobble(ctx context.Context, t scrobble.Track) error {
	if !s.Enabled() {
		s.keep(t)
		return nil
	}
	err := s.call(ctx, "track.scrobble", t, url.Values{
		"timestamp": {strconv.FormatInt(t.StartedAt.Unix(), 10)},
	})
	if err != nil {
		s.keep(t)
	}
	return err
}

func (s *Scrobbler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// FlushPending resends kept scrobbles oldest first. It stops at the first
// authorization failure, keeping the rest.
func (s *Scrobbler) FlushPending(ctx context.Context) error {
	if !s.Enabled() {
		return scrobble.ErrNotConfigured
	}
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	var failed int
	for i, t := range pending {
		err := s.Scrobble(ctx, t)
		if err == nil {
			continue
		}
		failed++
		if errors.Is(err, scrobble.ErrUnauthorized) {
			for _, rest := range pending[i+1:] {
				s.keep(rest)
			}
			return fmt.Errorf("lastfm flush: %w", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("lastfm: %d scrobbles still pending", failed)
	}
	return nil
}

func (s *Scrobbler) keep(t scrobble.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, t)
	if over := len(s.pending) - maxPending; over > 0 {
		s.logger.Warn("dropping oldest pending scrobbles", slog.Int("count", over))
		s.pending = slices.Delete(s.pending, 0, over)
	}
}

// call posts one signed API method about t.
func (s *Scrobbler) call(ctx context.Context, method string, t scrobble.Track, extra url.Values) error {
	form := url.Values{
		"method":  {method},
		"track":   {t.Title},
		"artist":  {t.Artist},
		"api_key": {s.cfg.APIKey},
		"sk":      {s.cfg.SessionKey},
	}
	if t.DurationSec > 0 {
		form.Set("duration", strconv.Itoa(t.DurationSec))
	}
	maps.Copy(form, extra)
	form.Set("api_sig", s.sign(form))
	form.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("lastfm %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("lastfm %s: %w", method, err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return fmt.Errorf("lastfm %s: %w", method, err)
	}
	s.logger.Debug("lastfm call ok", slog.String("method", method), slog.String("track", t.Title))
	return nil
}

// checkResponse maps HTTP statuses and the API's JSON error body to errors.
func checkResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return scrobble.ErrUnauthorized
	case http.StatusTooManyRequests:
		return scrobble.ErrRateLimited
	}
	var body struct {
		Error   int    `json:"error"`
		Message string `json:"message"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)
	if decodeErr == nil && body.Error != 0 {
		if sentinel, ok := apiErrors[body.Error]; ok {
			return fmt.Errorf("%w: %s", sentinel, body.Message)
		}
		return fmt.Errorf("api error %d: %s", body.Error, body.Message)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %s", resp.Status)
	}
	return nil
}

// sign is md5 over the sorted key/value pairs followed by the secret.
// format and api_sig are not signed.
func (s *Scrobbler) sign(form url.Values) string {
	h := md5.New()
	for _, k := range slices.Sorted(maps.Keys(form)) {
		if k == "format" || k == "api_sig" {
			continue
		}
		h.Write([]byte(k + form.Get(k)))
	}
	h.Write([]byte(s.cfg.APISecret))
	return hex.EncodeToString(h.Sum(nil))
}

// SavePending writes the pending list to PendingPath, removing the file when
// nothing is pending.
func (s *Scrobbler) SavePending() error {
	path := s.cfg.PendingPath
	if path == "" {
		return nil
	}
	s.mu.Lock()
	data, err := json.Marshal(s.pending)
	empty := len(s.pending) == 0
	s.mu.Unlock()

	if empty {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("encode pending scrobbles: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadPending puts scrobbles saved by an earlier run ahead of any kept since.
func (s *Scrobbler) LoadPending() error {
	if s.cfg.PendingPath == "" {
		return nil
	}
	data, err := os.ReadFile(s.cfg.PendingPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return err
	}
	var saved []scrobble.Track
	if err := json.Unmarshal(data, &saved); err != nil {
		return fmt.Errorf("parse pending scrobbles: %w", err)
	}
	s.mu.Lock()
	s.pending = append(saved, s.pending...)
	s.mu.Unlock()
	s.logger.Debug("loaded pending scrobbles", slog.Int("count", len(saved)))
	return nil
}
