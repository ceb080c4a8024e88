package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	EnvToken   = "YANDEX_MUSIC_TOKEN"
	EnvCache   = "YANDEX_MUSIC_CACHE"
	EnvStation = "OLARADIO_STATION"
)

// ErrMissingToken means no OAuth token was configured. The station cannot
// start without one.
var ErrMissingToken = errors.New("config: account token is required")

// Config holds runtime configuration loaded from TOML, .env and the
// environment.
type Config struct {
	ConfigVersion int            `toml:"config_version"`
	Account       AccountConfig  `toml:"account"`
	Station       StationConfig  `toml:"station"`
	Cache         CacheConfig    `toml:"cache"`
	Remote        RemoteConfig   `toml:"remote"`
	Player        PlayerConfig   `toml:"player"`
	Feedback      FeedbackConfig `toml:"feedback"`
	UI            UIConfig       `toml:"ui"`
	Log           LogConfig      `toml:"log"`
	LastFM        LastFMConfig   `toml:"lastfm"`
}

type AccountConfig struct {
	Token string `toml:"token"`
	// TokenEnv names the environment variable that overrides Token.
	TokenEnv string `toml:"token_env"`
}

type StationConfig struct {
	ID     string `toml:"id"`
	From   string `toml:"from"`
	Resume bool   `toml:"resume"`
}

type CacheConfig struct {
	Dir string `toml:"dir"`
}

type RemoteConfig struct {
	BaseURL      string `toml:"base_url"`
	TimeoutMs    int    `toml:"timeout_ms"`
	Retries      int    `toml:"retries"`
	RetryDelayMs int    `toml:"retry_delay_ms"`
	ClientID     string `toml:"client_id"`
	Language     string `toml:"language"`
}

type PlayerConfig struct {
	MPVPath       string `toml:"mpv_path"`
	IPC           string `toml:"ipc"`
	InitialVolume int    `toml:"initial_volume"`
	VolumeStep    int    `toml:"volume_step"`
	SeekSeconds   int    `toml:"seek_seconds"`
}

type FeedbackConfig struct {
	FlushTimeoutMs int  `toml:"flush_timeout_ms"`
	History        bool `toml:"history"`
}

type UIConfig struct {
	Theme   string `toml:"theme"`
	NoEmoji bool   `toml:"no_emoji"`
	Artwork bool   `toml:"artwork"`
}

// LastFMConfig enables scrobbling when all three values are set.
type LastFMConfig struct {
	APIKey     string `toml:"api_key"`
	APISecret  string `toml:"api_secret"`
	SessionKey string `toml:"session_key"`
}

func (c LastFMConfig) Enabled() bool {
	return c.APIKey != "" && c.APISecret != "" && c.SessionKey != ""
}

type LogConfig struct {
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Load reads configuration from disk. If path is empty, a default OS-specific
// location is used; a missing file means defaults. A .env file next to the
// config file or in the working directory is applied before environment
// overrides. On a validation error the parsed config is still returned.
func Load(path string) (*Config, string, error) {
	cfgPath := path
	if cfgPath == "" {
		var err error
		cfgPath, err = defaultPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve config path: %w", err)
		}
	}

	var cfg Config
	data, err := os.ReadFile(cfgPath)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, cfgPath, fmt.Errorf("parse config: %w", err)
		}
		applyTOMLDefaults(&cfg, data)
	case errors.Is(err, fs.ErrNotExist):
		cfg.Station.Resume = true
		cfg.Feedback.History = true
		cfg.UI.Artwork = true
	default:
		return nil, cfgPath, fmt.Errorf("read config: %w", err)
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(cfgPath), ".env"), ".env"); err != nil {
		return nil, cfgPath, err
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := Validate(cfg); err != nil {
		return &cfg, cfgPath, err
	}
	return &cfg, cfgPath, nil
}

// applyTOMLDefaults turns on the boolean settings that default to true when
// the file does not mention them.
func applyTOMLDefaults(cfg *Config, data []byte) {
	var raw map[string]map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return
	}
	if _, ok := raw["station"]["resume"]; !ok {
		cfg.Station.Resume = true
	}
	if _, ok := raw["feedback"]["history"]; !ok {
		cfg.Feedback.History = true
	}
	if _, ok := raw["ui"]["artwork"]; !ok {
		cfg.UI.Artwork = true
	}
}

func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	tokenEnv := cfg.Account.TokenEnv
	if tokenEnv == "" {
		tokenEnv = EnvToken
	}
	if v := strings.TrimSpace(os.Getenv(tokenEnv)); v != "" {
		cfg.Account.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvCache)); v != "" {
		cfg.Cache.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStation)); v != "" {
		cfg.Station.ID = v
	}
}

func appDir(base string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(base, "Olaradio")
	}
	return filepath.Join(base, "olaradio")
}

func defaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	base := appDir(dir)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(base, "config.toml"), nil
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(appDir(dir), "tracks")
	}
	return filepath.Join(os.TempDir(), "olaradio", "tracks")
}

// StateDir holds the history database and the log file.
func StateDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(appDir(dir), "state"), nil
}

func applyDefaults(cfg *Config) {
	if cfg.Station.ID == "" {
		cfg.Station.ID = "user:onyourwave"
	}
	if cfg.Station.From == "" {
		cfg.Station.From = "desktop_win-home-playlist_of_the_day-playlist-default"
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = defaultCacheDir()
	}
	if cfg.Remote.BaseURL == "" {
		cfg.Remote.BaseURL = "https://api.music.yandex.net"
	}
	if cfg.Remote.TimeoutMs == 0 {
		cfg.Remote.TimeoutMs = 15000
	}
	if cfg.Remote.Retries == 0 {
		cfg.Remote.Retries = 3
	}
	if cfg.Remote.RetryDelayMs == 0 {
		cfg.Remote.RetryDelayMs = 500
	}
	if cfg.Remote.Language == "" {
		cfg.Remote.Language = "ru"
	}
	if cfg.Player.MPVPath == "" {
		cfg.Player.MPVPath = "mpv"
	}
	if cfg.Player.InitialVolume == 0 {
		cfg.Player.InitialVolume = 70
	}
	if cfg.Player.VolumeStep == 0 {
		cfg.Player.VolumeStep = 5
	}
	if cfg.Player.SeekSeconds == 0 {
		cfg.Player.SeekSeconds = 10
	}
	if cfg.Feedback.FlushTimeoutMs == 0 {
		cfg.Feedback.FlushTimeoutMs = 2000
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = "rainbow"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 3
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 28
	}
}

// Validate performs semantic validation of a config with defaults applied.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Account.Token) == "" {
		return ErrMissingToken
	}
	if cfg.Station.ID == "" {
		return errors.New("station.id is required")
	}
	if cfg.Cache.Dir == "" {
		return errors.New("cache.dir is required")
	}
	if cfg.Player.InitialVolume < 0 || cfg.Player.InitialVolume > 100 {
		return fmt.Errorf("player.initial_volume must be 0-100")
	}
	if cfg.Remote.Retries < 0 {
		return fmt.Errorf("remote.retries must not be negative")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Log.Level)
	}
	return nil
}

// CheckPlayer verifies that the mpv binary can be found.
func (c Config) CheckPlayer() (string, error) {
	if _, err := os.Stat(c.Player.MPVPath); err == nil {
		return c.Player.MPVPath, nil
	}
	path, err := execLookPath(c.Player.MPVPath)
	if err != nil {
		return "", fmt.Errorf("mpv not found (%s): %w", c.Player.MPVPath, err)
	}
	return path, nil
}

func (c Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutMs) * time.Millisecond
}

func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Remote.RetryDelayMs) * time.Millisecond
}

func (c Config) FlushTimeout() time.Duration {
	return time.Duration(c.Feedback.FlushTimeoutMs) * time.Millisecond
}

// DeadlineContext returns a context bounded by the remote timeout.
func (c Config) DeadlineContext() (context.Context, context.CancelFunc) {
	d := c.RemoteTimeout()
	if d == 0 {
		d = 15 * time.Second
	}
	return context.WithTimeout(context.Background(), d)
}

// execLookPath is a test seam.
var execLookPath = func(file string) (string, error) {
	return exec.LookPath(file)
}
