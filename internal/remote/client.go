package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/olaradio/olaradio/internal/track"
)

const (
	DefaultBaseURL   = "https://api.music.yandex.net"
	DefaultClientID  = "YandexMusicAndroid/23020251"
	DefaultUserAgent = "Yandex-Music-API"
	DefaultFrom      = "desktop_win-home-playlist_of_the_day-playlist-default"
)

// Config configures the HTTP client.
type Config struct {
	BaseURL    string
	Token      string
	ClientID   string
	Language   string
	UserAgent  string
	From       string
	Retries    int
	RetryDelay time.Duration
	Timeout    time.Duration
	// StorageScheme is the scheme of signed audio URLs ("https" unless a test
	// server is used).
	StorageScheme string
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client talks to the rotor-style radio API.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	account AccountID
}

var _ Service = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Language == "" {
		cfg.Language = "ru"
	}
	if cfg.From == "" {
		cfg.From = DefaultFrom
	}
	if cfg.StorageScheme == "" {
		cfg.StorageScheme = "https"
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		cfg:    cfg,
		client: client,
		logger: cfg.Logger,
		now:    time.Now,
	}
}

type envelope[T any] struct {
	Result T         `json:"result"`
	Error  *apiError `json:"error"`
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Account resolves and remembers the listener identity.
func (c *Client) Account(ctx context.Context) (AccountID, error) {
	var status struct {
		Account struct {
			UID         int    `json:"uid"`
			Login       string `json:"login"`
			DisplayName string `json:"displayName"`
		} `json:"account"`
	}
	if err := c.getJSON(ctx, "/account/status", nil, &status); err != nil {
		return AccountID{}, fmt.Errorf("account status: %w", err)
	}
	if status.Account.UID == 0 {
		return AccountID{}, fmt.Errorf("account status: %w: missing uid", ErrUnauthorized)
	}
	acc := AccountID{
		UID:         status.Account.UID,
		Login:       status.Account.Login,
		DisplayName: status.Account.DisplayName,
	}
	c.mu.Lock()
	c.account = acc
	c.mu.Unlock()
	c.logger.Debug("account resolved", slog.Int("uid", acc.UID), slog.String("login", acc.Login))
	return acc, nil
}

func (c *Client) resolvedAccount() (AccountID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.account.Resolved() {
		return AccountID{}, ErrNoAccount
	}
	return c.account, nil
}

// flexID accepts ids encoded either as JSON strings or numbers.
type flexID string

func (id *flexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = flexID(n.String())
	return nil
}

type trackPacket struct {
	ID     flexID `json:"id"`
	Title  string `json:"title"`
	Albums []struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
	} `json:"albums"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	DurationMs      int    `json:"durationMs"`
	CoverURI        string `json:"coverUri"`
	LyricsAvailable bool   `json:"lyricsAvailable"`
}

func (p trackPacket) metadata(liked bool) track.Metadata {
	md := track.Metadata{
		ID:              string(p.ID),
		Title:           p.Title,
		DurationMs:      p.DurationMs,
		CoverURI:        p.CoverURI,
		LyricsAvailable: p.LyricsAvailable,
		Liked:           liked,
	}
	if len(p.Albums) > 0 {
		md.AlbumID = p.Albums[0].ID
		md.AlbumTitle = p.Albums[0].Title
	}
	if len(p.Artists) > 0 {
		md.ArtistName = p.Artists[0].Name
	}
	return md
}

// NextBatch fetches the next run of tracks for a station. afterTrackID, when
// set, lets the service continue the sequence from that track.
func (c *Client) NextBatch(ctx context.Context, stationID, afterTrackID string) (Batch, error) {
	q := url.Values{}
	q.Set("settings2", "true")
	if afterTrackID != "" {
		q.Set("queue", afterTrackID)
	}
	var seq struct {
		Sequence []struct {
			Track trackPacket `json:"track"`
			Liked bool        `json:"liked"`
		} `json:"sequence"`
		BatchID string `json:"batchId"`
	}
	path := "/rotor/station/" + url.PathEscape(stationID) + "/tracks"
	if err := c.getJSON(ctx, path, q, &seq); err != nil {
		return Batch{}, fmt.Errorf("station tracks: %w", err)
	}
	if seq.BatchID == "" {
		return Batch{}, fmt.Errorf("station tracks: %w: empty batch id", ErrProtocol)
	}
	batch := Batch{BatchID: seq.BatchID}
	for _, item := range seq.Sequence {
		if item.Track.ID == "" {
			continue
		}
		batch.Tracks = append(batch.Tracks, item.Track.metadata(item.Liked))
	}
	c.logger.Debug("station batch fetched",
		slog.String("station", stationID),
		slog.String("batch_id", batch.BatchID),
		slog.Int("tracks", len(batch.Tracks)))
	return batch, nil
}

// SendFeedback posts one lifecycle event under batchID.
func (c *Client) SendFeedback(ctx context.Context, stationID, batchID string, fb Feedback) error {
	if batchID == "" {
		return ErrNoBatch
	}
	body, err := buildFeedback(fb, strings.ReplaceAll(stationID, ":", "-"), c.now())
	if err != nil {
		return err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("batch-id", batchID)
	path := "/rotor/station/" + url.PathEscape(stationID) + "/feedback"
	var result string
	if err := c.postJSON(ctx, path, q, raw, "application/json", &result); err != nil {
		return fmt.Errorf("feedback %s: %w", body.feedbackType(), err)
	}
	return nil
}

// SendPlaybackTrace posts a /play-audio position report.
func (c *Client) SendPlaybackTrace(ctx context.Context, tr Trace) error {
	acc, err := c.resolvedAccount()
	if err != nil {
		return err
	}
	now := c.now()
	at := tr.At
	if at.IsZero() {
		at = now
	}
	form := playAudioForm{
		TrackID:     tr.TrackID,
		FromCache:   tr.FromCache,
		From:        c.cfg.From,
		PlayID:      tr.PlayID,
		UID:         acc.UID,
		Timestamp:   at,
		DurationSec: tr.DurationSec,
		PlayedSec:   tr.PlayedSec,
		AlbumID:     tr.AlbumID,
		ClientNow:   now,
	}
	var result string
	body := []byte(form.values().Encode())
	if err := c.postJSON(ctx, "/play-audio", nil, body, "application/x-www-form-urlencoded", &result); err != nil {
		return fmt.Errorf("play audio: %w", err)
	}
	return nil
}

// MutateCollection adds or removes a track in the likes or dislikes list.
func (c *Client) MutateCollection(ctx context.Context, account AccountID, coll Collection, action Action, trackID string) error {
	if !account.Resolved() {
		return ErrNoAccount
	}
	path, err := collectionPath(account.UID, coll, action)
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("track-ids", trackID)
	var result json.RawMessage
	if err := c.postJSON(ctx, path, nil, []byte(form.Encode()), "application/x-www-form-urlencoded", &result); err != nil {
		return fmt.Errorf("%s %s: %w", coll, action, err)
	}
	return nil
}

// Lyrics returns the full lyrics text of a track.
func (c *Client) Lyrics(ctx context.Context, trackID string) (string, error) {
	var sup struct {
		Lyrics *struct {
			FullLyrics string `json:"fullLyrics"`
		} `json:"lyrics"`
	}
	if err := c.getJSON(ctx, "/tracks/"+url.PathEscape(trackID)+"/supplement", nil, &sup); err != nil {
		return "", fmt.Errorf("supplement: %w", err)
	}
	if sup.Lyrics == nil || sup.Lyrics.FullLyrics == "" {
		return "", ErrNotFound
	}
	return sup.Lyrics.FullLyrics, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	data, err := c.do(ctx, http.MethodGet, c.endpoint(path, q), nil, "")
	if err != nil {
		return err
	}
	return decodeEnvelope(data, out)
}

func (c *Client) postJSON(ctx context.Context, path string, q url.Values, body []byte, contentType string, out any) error {
	data, err := c.do(ctx, http.MethodPost, c.endpoint(path, q), body, contentType)
	if err != nil {
		return err
	}
	return decodeEnvelope(data, out)
}

func decodeEnvelope(data []byte, out any) error {
	env := envelope[json.RawMessage]{}
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if env.Error != nil {
		return fmt.Errorf("%w: %s: %s", ErrProtocol, env.Error.Name, env.Error.Message)
	}
	if len(env.Result) == 0 {
		return fmt.Errorf("%w: empty result", ErrProtocol)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := path
	if strings.HasPrefix(path, "/") {
		u = c.cfg.BaseURL + path
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// do performs a request, retrying transient failures with exponential
// backoff and jitter.
func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, contentType string) ([]byte, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
			if delay > 10*time.Second {
				delay = 10 * time.Second
			}
			delay += time.Duration(float64(delay) * 0.2 * rng.Float64())
			c.logger.Debug("retrying request",
				slog.String("method", method),
				slog.String("url", rawURL),
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.Any("err", lastErr))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		resp, err := c.send(ctx, method, rawURL, body, contentType)
		if err == nil {
			data, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			if readErr == nil {
				return data, nil
			}
			err = fmt.Errorf("%w: read body: %v", ErrNetwork, readErr)
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// send issues one request and maps HTTP failures onto the package errors.
// The caller owns the returned body.
func (c *Client) send(ctx context.Context, method, rawURL string, body []byte, contentType string) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+c.cfg.Token)
	req.Header.Set("X-Yandex-Music-Client", c.cfg.ClientID)
	req.Header.Set("Accept-Language", c.cfg.Language)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.logger.Debug("remote request", slog.String("method", method), slog.String("url", rawURL))
	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if resp.StatusCode < 400 {
		return resp, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s", ErrNetwork, resp.Status)
	default:
		return nil, fmt.Errorf("%w: %s", ErrProtocol, resp.Status)
	}
}
