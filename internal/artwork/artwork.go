// Package artwork downloads cover images and renders them as ANSI art for
// the now-playing screen.
package artwork

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNotFound = errors.New("artwork not found")
	ErrInvalid  = errors.New("invalid artwork data")
)

const maxImageBytes = 8 << 20

// Cache stores rendered artwork on disk. Entries older than maxAge are
// treated as missing.
type Cache struct {
	baseDir string
	maxAge  time.Duration
}

func NewCache(baseDir string, maxAge time.Duration) (*Cache, error) {
	if baseDir == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve cache dir: %w", err)
		}
		baseDir = filepath.Join(dir, "olaradio", "artwork")
	}
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{baseDir: baseDir, maxAge: maxAge}, nil
}

func (c *Cache) Dir() string { return c.baseDir }

func cacheKey(ref string, width, height int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%dx%d", ref, width, height)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.baseDir, key+".ansi")
}

func (c *Cache) Get(key string) (string, bool) {
	path := c.path(key)
	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	if time.Since(info.ModTime()) > c.maxAge {
		os.Remove(path)
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (c *Cache) Set(key, ansi string) error {
	return os.WriteFile(c.path(key), []byte(ansi), 0o644)
}

// Clear removes all cached artwork.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.baseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".ansi") {
			os.Remove(filepath.Join(c.baseDir, e.Name()))
		}
	}
	return nil
}

// Size returns the total size of cached artwork in bytes.
func (c *Cache) Size() (int64, error) {
	entries, err := os.ReadDir(c.baseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".ansi") {
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
		}
	}
	return total, nil
}

type Options struct {
	Dir        string
	MaxAge     time.Duration
	MemorySize int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Service renders cover art by URL. Results are kept in memory and on disk;
// concurrent renders of the same cover share one download.
type Service struct {
	disk   *Cache
	mem    *lru.Cache[string, string]
	group  singleflight.Group
	client *http.Client
	logger *slog.Logger
}

func New(opts Options) (*Service, error) {
	disk, err := NewCache(opts.Dir, opts.MaxAge)
	if err != nil {
		return nil, err
	}
	if opts.MemorySize <= 0 {
		opts.MemorySize = 32
	}
	mem, err := lru.New[string, string](opts.MemorySize)
	if err != nil {
		return nil, fmt.Errorf("artwork cache: %w", err)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{disk: disk, mem: mem, client: opts.HTTPClient, logger: opts.Logger}, nil
}

func (s *Service) Cache() *Cache { return s.disk }

// Render returns url's image as ANSI art at most width cells wide and height
// cells tall.
func (s *Service) Render(ctx context.Context, url string, width, height int) (string, error) {
	if url == "" {
		return "", ErrNotFound
	}
	key := cacheKey(url, width, height)
	if art, ok := s.mem.Get(key); ok {
		return art, nil
	}
	if art, ok := s.disk.Get(key); ok {
		s.mem.Add(key, art)
		return art, nil
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		data, err := s.fetch(ctx, url)
		if err != nil {
			return "", err
		}
		art, err := ConvertToANSI(data, width, height)
		if err != nil {
			return "", err
		}
		s.mem.Add(key, art)
		if err := s.disk.Set(key, art); err != nil {
			s.logger.Warn("artwork cache write failed", slog.String("url", url), slog.Any("err", err))
		}
		return art, nil
	})
	if err != nil {
		s.logger.Debug("artwork unavailable", slog.String("url", url), slog.Any("err", err))
		return "", err
	}
	return v.(string), nil
}

func (s *Service) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("artwork request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("artwork download: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("artwork download: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("artwork download: %w", err)
	}
	return data, nil
}

// ConvertToANSI renders image data with upper half blocks, two pixel rows
// per terminal line, in the 256-color palette.
func ConvertToANSI(data []byte, width, height int) (string, error) {
	if width <= 0 {
		width = 20
	}
	if height <= 0 {
		height = 10
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	bounds := img.Bounds()
	imgW, imgH := bounds.Dx(), bounds.Dy()
	if imgW == 0 || imgH == 0 {
		return "", ErrInvalid
	}

	// Each line holds two pixel rows, so a square image of width cells
	// needs width/2 lines.
	aspect := float64(imgW) / float64(imgH)
	lines := int(float64(width) / aspect / 2)
	if lines > height {
		lines = height
		width = int(float64(lines) * 2 * aspect)
	}
	lines = max(lines, 1)
	width = max(width, 1)
	rows := lines * 2

	sample := func(x, y int) int {
		sx := min(x*imgW/width, imgW-1)
		sy := min(y*imgH/rows, imgH-1)
		r, g, b, _ := img.At(bounds.Min.X+sx, bounds.Min.Y+sy).RGBA()
		return rgbTo256(uint8(r>>8), uint8(g>>8), uint8(b>>8))
	}

	var out strings.Builder
	for line := 0; line < lines; line++ {
		for x := 0; x < width; x++ {
			top := sample(x, line*2)
			bottom := sample(x, line*2+1)
			fmt.Fprintf(&out, "\x1b[38;5;%dm\x1b[48;5;%dm▀", top, bottom)
		}
		out.WriteString("\x1b[0m")
		if line < lines-1 {
			out.WriteByte('\n')
		}
	}
	return out.String(), nil
}

// rgbTo256 maps a color to the nearest xterm 256-color index.
func rgbTo256(r, g, b uint8) int {
	if r == g && g == b {
		if r < 8 {
			return 16
		}
		if r > 248 {
			return 231
		}
		return int((r-8)/10) + 232
	}
	ri := int(r) * 5 / 255
	gi := int(g) * 5 / 255
	bi := int(b) * 5 / 255
	return 16 + 36*ri + 6*gi + bi
}

// Placeholder is a boxed note shown while artwork loads or when a track has
// none.
func Placeholder(width, height int) string {
	width = max(width, 3)
	height = max(height, 3)
	var out strings.Builder
	out.WriteString("┌" + strings.Repeat("─", width-2) + "┐\n")
	for y := 1; y < height-1; y++ {
		out.WriteString("│")
		if y == height/2 {
			pad := (width - 3) / 2
			out.WriteString(strings.Repeat(" ", pad) + "♪" + strings.Repeat(" ", width-3-pad))
		} else {
			out.WriteString(strings.Repeat(" ", width-2))
		}
		out.WriteString("│\n")
	}
	out.WriteString("└" + strings.Repeat("─", width-2) + "┘")
	return out.String()
}
