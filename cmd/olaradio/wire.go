package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/olaradio/olaradio/internal/cache"
	"github.com/olaradio/olaradio/internal/config"
	"github.com/olaradio/olaradio/internal/feedback"
	"github.com/olaradio/olaradio/internal/history"
	"github.com/olaradio/olaradio/internal/logging"
	"github.com/olaradio/olaradio/internal/lyrics"
	"github.com/olaradio/olaradio/internal/mpv"
	"github.com/olaradio/olaradio/internal/player"
	"github.com/olaradio/olaradio/internal/remote"
	"github.com/olaradio/olaradio/internal/scrobble"
	"github.com/olaradio/olaradio/internal/scrobble/lastfm"
	"github.com/olaradio/olaradio/internal/station"
)

// stationFlags override config values for play and console.
type stationFlags struct {
	stationID string
	noResume  bool
}

// env is the loaded config plus the log file every command writes to.
type env struct {
	cfg      *config.Config
	cfgPath  string
	stateDir string
	logger   *slog.Logger
	logFile  io.Closer
}

// loadEnv loads the config and opens the log. When requireValid is false a
// config that fails validation is still returned with its error.
func loadEnv(requireValid bool) (*env, error) {
	cfg, path, cfgErr := config.Load(configPath)
	if cfg == nil {
		return nil, fmt.Errorf("load config: %w", cfgErr)
	}
	if cfgErr != nil && requireValid {
		return nil, fmt.Errorf("config %s: %w", path, cfgErr)
	}
	stateDir, err := config.StateDir()
	if err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	logger, closer, err := logging.Setup(logging.Options{
		Dir:        stateDir,
		Level:      cfg.Log.Level,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	slog.SetDefault(logger)
	logger.Info("starting olaradio", slog.String("config", path), slog.String("version", version))
	e := &env{cfg: cfg, cfgPath: path, stateDir: stateDir, logger: logger, logFile: closer}
	if cfgErr != nil {
		return e, cfgErr
	}
	return e, nil
}

func (e *env) Close() error { return e.logFile.Close() }

func (e *env) historyPath() string { return filepath.Join(e.stateDir, "history.db") }

func (e *env) remoteClient() *remote.Client {
	return remote.New(remote.Config{
		BaseURL:    e.cfg.Remote.BaseURL,
		Token:      e.cfg.Account.Token,
		ClientID:   e.cfg.Remote.ClientID,
		Language:   e.cfg.Remote.Language,
		From:       e.cfg.Station.From,
		Retries:    e.cfg.Remote.Retries,
		RetryDelay: e.cfg.RetryDelay(),
		Timeout:    e.cfg.RemoteTimeout(),
		Logger:     e.logger,
	})
}

// session owns everything a listening session needs, in shutdown order.
type session struct {
	ctrl     *player.Controller
	reporter *feedback.Reporter
	history  *history.Store
	lastfm   *lastfm.Scrobbler
	station  *station.Station
	logger   *slog.Logger
}

func openSession(ctx context.Context, e *env, flags stationFlags) (*session, error) {
	cfg := e.cfg
	if flags.stationID != "" {
		cfg.Station.ID = flags.stationID
	}
	mpvPath, err := cfg.CheckPlayer()
	if err != nil {
		return nil, err
	}

	client := e.remoteClient()
	store, err := cache.New(cfg.Cache.Dir, client, cache.Options{Logger: e.logger})
	if err != nil {
		return nil, err
	}

	reporter := feedback.NewReporter(feedback.Options{Logger: e.logger})
	reporter.Register(feedback.NewRemoteSink(client))

	var hist *history.Store
	resumeFrom := ""
	if cfg.Feedback.History {
		hist, err = history.Open(e.historyPath())
		if err != nil {
			e.logger.Warn("history unavailable", slog.Any("err", err))
		} else {
			reporter.Register(hist)
			if cfg.Station.Resume && !flags.noResume {
				resumeFrom, err = hist.LastTrackID(ctx, cfg.Station.ID)
				if err != nil {
					e.logger.Warn("resume lookup failed", slog.Any("err", err))
				}
			}
		}
	}

	var lf *lastfm.Scrobbler
	if cfg.LastFM.Enabled() {
		lf = lastfm.New(lastfm.Config{
			APIKey:      cfg.LastFM.APIKey,
			APISecret:   cfg.LastFM.APISecret,
			SessionKey:  cfg.LastFM.SessionKey,
			PendingPath: filepath.Join(e.stateDir, "scrobble_pending_lastfm.json"),
			Logger:      e.logger,
		})
		if err := lf.LoadPending(); err != nil {
			e.logger.Warn("load pending scrobbles", slog.Any("err", err))
		}
		reporter.Register(scrobble.NewSink(lf))
		go func() {
			fctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := lf.FlushPending(fctx); err != nil {
				e.logger.Warn("flush pending scrobbles", slog.Any("err", err))
			}
		}()
	}

	st := station.New(client, store, reporter, station.Options{
		StationID:    cfg.Station.ID,
		ResumeFrom:   resumeFrom,
		FlushTimeout: cfg.FlushTimeout(),
		Logger:       e.logger,
	})

	lyr, err := lyrics.New(client, 64, e.logger)
	if err != nil {
		return nil, err
	}

	out := mpv.New(mpv.Options{
		MPVPath:       mpvPath,
		IPCPath:       cfg.Player.IPC,
		InitialVolume: float64(cfg.Player.InitialVolume),
		Logger:        e.logger,
	})
	ctrl := player.New(st, out, player.Options{
		Lyrics:        lyr,
		Telemetry:     reporter,
		InitialVolume: float64(cfg.Player.InitialVolume),
		Logger:        e.logger,
	})
	if err := ctrl.Start(ctx); err != nil {
		st.Close()
		_ = reporter.Close(context.Background())
		if hist != nil {
			hist.Close()
		}
		return nil, fmt.Errorf("start audio output: %w", err)
	}
	e.logger.Info("session ready",
		slog.String("station", cfg.Station.ID),
		slog.String("resume_from", resumeFrom),
		slog.String("cache", store.Dir()))
	return &session{ctrl: ctrl, reporter: reporter, history: hist, lastfm: lf, station: st, logger: e.logger}, nil
}

// Close stops playback and gives queued telemetry a bounded chance to drain.
func (s *session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.ctrl.Close(ctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("telemetry close", slog.Any("err", err))
	}
	stats := s.reporter.Stats()
	var sinks []string
	for _, sk := range s.reporter.Sinks() {
		sinks = append(sinks, sk.ID())
	}
	s.logger.Info("session closed",
		slog.Any("sinks", sinks),
		slog.Int("delivered", stats.Delivered),
		slog.Int("failed", stats.Failed),
		slog.Int("dropped", stats.Dropped))
	if s.lastfm != nil {
		if serr := s.lastfm.SavePending(); serr != nil {
			s.logger.Warn("save pending scrobbles", slog.Any("err", serr))
		}
	}
	if s.history != nil {
		if cerr := s.history.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
