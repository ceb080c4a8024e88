package remote

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
)

const signSalt = "XGRlBW9FXlekgbPrRHuSiA"

type downloadVariant struct {
	Codec           string `json:"codec"`
	BitrateInKbps   int    `json:"bitrateInKbps"`
	DownloadInfoURL string `json:"downloadInfoUrl"`
	Preview         bool   `json:"preview"`
}

// downloadInfo is the XML document behind a variant's downloadInfoUrl.
type downloadInfo struct {
	XMLName xml.Name `xml:"download-info"`
	Host    string   `xml:"host"`
	Path    string   `xml:"path"`
	TS      string   `xml:"ts"`
	Region  string   `xml:"region"`
	S       string   `xml:"s"`
}

// bestVariant picks the highest-bitrate full mp3.
func bestVariant(variants []downloadVariant) (downloadVariant, bool) {
	var best downloadVariant
	found := false
	for _, v := range variants {
		if v.Codec != "mp3" || v.Preview || v.DownloadInfoURL == "" {
			continue
		}
		if !found || v.BitrateInKbps > best.BitrateInKbps {
			best = v
			found = true
		}
	}
	return best, found
}

func signPath(path, s string) string {
	p := strings.TrimPrefix(path, "/")
	sum := md5.Sum([]byte(signSalt + p + s))
	return hex.EncodeToString(sum[:])
}

func (c *Client) signedURL(info downloadInfo) string {
	sign := signPath(info.Path, info.S)
	return fmt.Sprintf("%s://%s/get-mp3/%s/%s%s", c.cfg.StorageScheme, info.Host, sign, info.TS, info.Path)
}

// DownloadAudio writes the best mp3 variant of trackID to destPath. On any
// failure destPath is removed.
func (c *Client) DownloadAudio(ctx context.Context, trackID, destPath string) error {
	var variants []downloadVariant
	if err := c.getJSON(ctx, "/tracks/"+url.PathEscape(trackID)+"/download-info", nil, &variants); err != nil {
		return fmt.Errorf("download info: %w", err)
	}
	variant, ok := bestVariant(variants)
	if !ok {
		return fmt.Errorf("track %s: %w", trackID, ErrNoPlayableVariant)
	}

	raw, err := c.do(ctx, http.MethodGet, variant.DownloadInfoURL, nil, "")
	if err != nil {
		return fmt.Errorf("download info document: %w", err)
	}
	var info downloadInfo
	if err := xml.Unmarshal(raw, &info); err != nil {
		return fmt.Errorf("download info document: %w: %v", ErrProtocol, err)
	}
	if info.Host == "" || info.Path == "" {
		return fmt.Errorf("download info document: %w: missing host or path", ErrProtocol)
	}

	audioURL := c.signedURL(info)
	c.logger.Debug("downloading audio",
		slog.String("track_id", trackID),
		slog.Int("bitrate", variant.BitrateInKbps),
		slog.String("host", info.Host))

	if err := c.stream(ctx, audioURL, destPath); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("download audio %s: %w", trackID, err)
	}
	return nil
}

func (c *Client) stream(ctx context.Context, rawURL, destPath string) error {
	resp, err := c.send(ctx, http.MethodGet, rawURL, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return f.Close()
}
