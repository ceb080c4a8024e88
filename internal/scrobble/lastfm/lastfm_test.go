package lastfm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/olaradio/olaradio/internal/scrobble"
)

type capture struct {
	mu    sync.Mutex
	forms []url.Values
}

func (c *capture) handler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.forms = append(c.forms, r.PostForm)
		c.mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

func testTrack() scrobble.Track {
	return scrobble.Track{
		Title:       "Song",
		Artist:      "Band",
		DurationSec: 200,
		StartedAt:   time.Unix(1700000000, 0),
	}
}

func creds(endpoint string) Config {
	return Config{APIKey: "key", APISecret: "secret", SessionKey: "session", Endpoint: endpoint}
}

func TestEnabled(t *testing.T) {
	if New(Config{}).Enabled() {
		t.Error("expected disabled without credentials")
	}
	if New(Config{APIKey: "k", APISecret: "s"}).Enabled() {
		t.Error("expected disabled without session key")
	}
	if !New(creds("")).Enabled() {
		t.Error("expected enabled with all keys")
	}
}

func TestScrobbleSendsSignedForm(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK, `{}`))
	defer srv.Close()

	s := New(creds(srv.URL))
	if err := s.Scrobble(context.Background(), testTrack()); err != nil {
		t.Fatalf("scrobble: %v", err)
	}
	if len(c.forms) != 1 {
		t.Fatalf("requests = %d", len(c.forms))
	}
	form := c.forms[0]
	if form.Get("method") != "track.scrobble" || form.Get("timestamp") != "1700000000" || form.Get("duration") != "200" {
		t.Fatalf("unexpected form: %v", form)
	}
	if want := s.sign(form); form.Get("api_sig") != want {
		t.Fatalf("api_sig = %q, want %q", form.Get("api_sig"), want)
	}
	if s.PendingCount() != 0 {
		t.Fatalf("pending = %d", s.PendingCount())
	}
}

func TestScrobbleFailureIsQueued(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusTooManyRequests, ``))
	defer srv.Close()

	s := New(creds(srv.URL))
	err := s.Scrobble(context.Background(), testTrack())
	if !errors.Is(err, scrobble.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if s.PendingCount() != 1 {
		t.Fatalf("pending = %d", s.PendingCount())
	}
}

func TestAPIErrorIsReported(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK, `{"error":9,"message":"Invalid session key"}`))
	defer srv.Close()

	err := New(creds(srv.URL)).NowPlaying(context.Background(), testTrack())
	if !errors.Is(err, scrobble.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAPIErrorCodes(t *testing.T) {
	tests := []struct {
		body string
		want error
	}{
		{`{"error":29,"message":"Rate limit exceeded"}`, scrobble.ErrRateLimited},
		{`{"error":4,"message":"Authentication Failed"}`, scrobble.ErrUnauthorized},
		{`{"error":11,"message":"Service Offline"}`, nil},
	}
	for _, tt := range tests {
		c := &capture{}
		srv := httptest.NewServer(c.handler(http.StatusOK, tt.body))
		err := New(creds(srv.URL)).NowPlaying(context.Background(), testTrack())
		srv.Close()
		if err == nil {
			t.Errorf("%s: expected an error", tt.body)
			continue
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.body, err, tt.want)
		}
	}
}

func TestFlushStopsOnUnauthorized(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusForbidden, ``))
	defer srv.Close()

	s := New(Config{})
	for i := 0; i < 3; i++ {
		_ = s.Scrobble(context.Background(), testTrack())
	}
	s.cfg = creds(srv.URL)
	err := s.FlushPending(context.Background())
	if !errors.Is(err, scrobble.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(c.forms) != 1 {
		t.Fatalf("requests = %d, want 1", len(c.forms))
	}
	if s.PendingCount() != 3 {
		t.Fatalf("pending = %d, want 3", s.PendingCount())
	}
}

func TestDisabledQueuesWithoutRequests(t *testing.T) {
	s := New(Config{})
	if err := s.NowPlaying(context.Background(), testTrack()); err != nil {
		t.Fatal(err)
	}
	if err := s.Scrobble(context.Background(), testTrack()); err != nil {
		t.Fatal(err)
	}
	if s.PendingCount() != 1 {
		t.Fatalf("pending = %d", s.PendingCount())
	}
	if err := s.FlushPending(context.Background()); !errors.Is(err, scrobble.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestPendingPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pending.json")

	first := New(Config{PendingPath: path})
	for i := 0; i < 3; i++ {
		_ = first.Scrobble(context.Background(), testTrack())
	}
	if err := first.SavePending(); err != nil {
		t.Fatalf("save: %v", err)
	}

	c := &capture{}
	srv := httptest.NewServer(c.handler(http.StatusOK, `{}`))
	defer srv.Close()
	cfg := creds(srv.URL)
	cfg.PendingPath = path
	second := New(cfg)
	if err := second.LoadPending(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if second.PendingCount() != 3 {
		t.Fatalf("loaded = %d", second.PendingCount())
	}
	if err := second.FlushPending(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(c.forms) != 3 || second.PendingCount() != 0 {
		t.Fatalf("requests = %d, pending = %d", len(c.forms), second.PendingCount())
	}
	if err := second.SavePending(); err != nil {
		t.Fatalf("save empty: %v", err)
	}
}
