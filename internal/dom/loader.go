package dom

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPLoader fetches documents with plain GET requests.
type HTTPLoader struct {
	Client    *http.Client
	UserAgent string
}

func NewHTTPLoader(timeout time.Duration) *HTTPLoader {
	return &HTTPLoader{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: "page-pilot/1.0",
	}
}

func (l *HTTPLoader) Load(ctx context.Context, url string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if l.UserAgent != "" {
		req.Header.Set("User-Agent", l.UserAgent)
	}

	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("get %s: %w", url, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return nil, "", fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}
	return resp.Body, resp.Request.URL.String(), nil
}
