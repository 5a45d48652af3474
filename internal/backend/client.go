package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nbenliogludev/go-page-pilot/internal/llm"
)

// ErrStatus is wrapped by every non-2xx reply from the proxy.
var ErrStatus = errors.New("backend returned an error status")

// Client calls the proxy's /chat and /translate endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a client. A zero timeout means requests only end when
// their context does.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("backend"),
	}
}

// Chat sends the history and snapshot and returns the decoded action.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (llm.Action, error) {
	var action llm.Action
	if err := c.post(ctx, "/chat", req, &action); err != nil {
		return llm.Action{}, err
	}
	if action.Kind == "" {
		action.Kind = llm.ActionAnswer
	}
	return action, nil
}

// Translate returns one translation per input text.
func (c *Client) Translate(ctx context.Context, texts []string, target string) ([]string, error) {
	if texts == nil {
		texts = []string{}
	}
	var resp TranslateResponse
	if err := c.post(ctx, "/translate", TranslateRequest{Texts: texts, TargetLanguage: target}, &resp); err != nil {
		return nil, err
	}
	return resp.TranslatedTexts, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	c.logger.Debug("backend call",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %d: %s", ErrStatus, path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
