// Package lyrics looks up song lyrics lazily and keeps recent results in
// memory.
package lyrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/olaradio/olaradio/internal/remote"
)

// ErrUnavailable is returned for tracks without lyrics.
var ErrUnavailable = errors.New("lyrics: not available")

type Fetcher interface {
	Lyrics(ctx context.Context, trackID string) (string, error)
}

// Service caches lyrics by track id. Concurrent lookups of the same id share
// one request.
type Service struct {
	fetcher Fetcher
	cache   *lru.Cache[string, string]
	group   singleflight.Group
	logger  *slog.Logger
}

func New(fetcher Fetcher, size int, logger *slog.Logger) (*Service, error) {
	if size <= 0 {
		size = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("lyrics cache: %w", err)
	}
	return &Service{fetcher: fetcher, cache: cache, logger: logger}, nil
}

// Get returns the lyrics of trackID. available is the track's metadata flag;
// when false no request is made.
func (s *Service) Get(ctx context.Context, trackID string, available bool) (string, error) {
	if !available {
		return "", ErrUnavailable
	}
	if text, ok := s.cache.Get(trackID); ok {
		return text, nil
	}
	v, err, _ := s.group.Do(trackID, func() (any, error) {
		text, err := s.fetcher.Lyrics(ctx, trackID)
		if err != nil {
			return "", err
		}
		s.cache.Add(trackID, text)
		return text, nil
	})
	if err != nil {
		if remote.IsNotFound(err) {
			return "", ErrUnavailable
		}
		s.logger.Warn("lyrics lookup failed", slog.String("track_id", trackID), slog.Any("err", err))
		return "", err
	}
	return v.(string), nil
}

// Len is the number of cached entries.
func (s *Service) Len() int { return s.cache.Len() }
