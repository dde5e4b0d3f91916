package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"TrackVault/logger"
	"TrackVault/model"
)

// Client resolves audio URLs through a music API that answers
// GET {base}/song/url?id=...&title=...&artist=... with
// {"code":200,"data":[{"id":"...","url":"..."}]}.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a resolver client for baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the API address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type songURLResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
	Data []struct {
		ID  json.RawMessage `json:"id"`
		URL string          `json:"url"`
	} `json:"data"`
}

// Resolve asks the API for the audio URL of a track. Transport errors, error
// codes and empty URLs all come back wrapping model.ErrSourceUnavailable.
func (c *Client) Resolve(ctx context.Context, q Query) (string, error) {
	params := url.Values{}
	if q.TrackID != "" {
		params.Set("id", q.TrackID)
	}
	if q.Title != "" {
		params.Set("title", q.Title)
	}
	if q.Artist != "" {
		params.Set("artist", q.Artist)
	}
	if len(params) == 0 {
		return "", fmt.Errorf("%w: empty query", model.ErrSourceUnavailable)
	}
	endpoint := c.baseURL + "/song/url?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create resolver request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn("resolver request failed",
			logger.String("trackId", q.TrackID),
			logger.ErrorField(err))
		return "", fmt.Errorf("%w: %v", model.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: resolver returned status %d", model.ErrSourceUnavailable, resp.StatusCode)
	}

	var result songURLResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode resolver response: %v", model.ErrSourceUnavailable, err)
	}
	if result.Code != http.StatusOK {
		return "", fmt.Errorf("%w: resolver code %d %s", model.ErrSourceUnavailable, result.Code, result.Msg)
	}
	for _, d := range result.Data {
		if d.URL != "" {
			logger.Debug("resolved audio source",
				logger.String("trackId", q.TrackID),
				logger.String("url", d.URL))
			return d.URL, nil
		}
	}
	return "", fmt.Errorf("%w: no url for %q", model.ErrSourceUnavailable, q.TrackID)
}
