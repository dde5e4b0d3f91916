package offline

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"TrackVault/model"
)

// Source is an open transfer. Size is -1 when the origin does not announce it.
type Source struct {
	Body   io.ReadCloser
	Size   int64
	Format string // best guess from the URL or content type, may be empty
}

// Downloader opens audio origins.
type Downloader interface {
	Open(ctx context.Context, rawURL string) (*Source, error)
}

// HTTPDownloader fetches origins over HTTP(S).
type HTTPDownloader struct {
	client *http.Client
}

// NewHTTPDownloader creates a downloader. The timeout bounds connection setup
// and headers only; the body is bounded by the caller's context.
func NewHTTPDownloader(headerTimeout time.Duration) *HTTPDownloader {
	if headerTimeout <= 0 {
		headerTimeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &HTTPDownloader{client: &http.Client{Transport: transport}}
}

func (d *HTTPDownloader) Open(ctx context.Context, rawURL string) (*Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	format := formatFromContentType(resp.Header.Get("Content-Type"))
	if format == "" {
		format = formatFromURL(rawURL)
	}
	return &Source{Body: resp.Body, Size: resp.ContentLength, Format: format}, nil
}

func formatFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.TrimPrefix(path.Ext(u.Path), ".")
	switch strings.ToLower(ext) {
	case "mp3", "flac", "m4a", "aac", "ogg", "opus", "wav":
		return model.NormalizeFormat(ext)
	}
	return ""
}

func formatFromContentType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	switch mt {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/flac", "audio/x-flac":
		return "flac"
	case "audio/mp4", "audio/x-m4a", "audio/aac":
		return "m4a"
	case "audio/ogg", "audio/opus":
		return "ogg"
	case "audio/wav", "audio/x-wav":
		return "wav"
	}
	return ""
}
