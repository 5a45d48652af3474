package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nbenliogludev/go-page-pilot/internal/llm"
	"github.com/nbenliogludev/go-page-pilot/internal/page"
)

// Tab implements page.Page on a live browser tab.
type Tab struct {
	driver Driver
	logger *zap.Logger

	mu        sync.Mutex
	epoch     page.Epoch
	epochOpen bool
}

func NewTab(driver Driver, logger *zap.Logger) *Tab {
	return &Tab{driver: driver, logger: logger.Named("tab")}
}

type extractResult struct {
	Title        string `json:"title"`
	Text         string `json:"text"`
	Interactable []struct {
		ID     int    `json:"id"`
		Label  string `json:"label"`
		Kind   string `json:"kind"`
		Source string `json:"source"`
	} `json:"interactable"`
	Headings []string `json:"headings"`
}

// Extract never fails for unreadable pages; it returns a placeholder.
func (t *Tab) Extract(ctx context.Context) (*page.Snapshot, error) {
	url, err := t.driver.URL(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.logger.Warn("could not read tab url", zap.Error(err))
		return page.Placeholder("", "", page.BlockedText), nil
	}
	if page.IsRestricted(url) {
		return page.Placeholder(url, "", page.RestrictedText), nil
	}

	t.mu.Lock()
	t.epoch++
	epoch := t.epoch
	t.epochOpen = true
	t.mu.Unlock()

	var res *extractResult
	if err := t.driver.Evaluate(ctx, renderExtract(epoch), &res); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.logger.Warn("extraction script failed", zap.String("url", url), zap.Error(err))
		return page.Placeholder(url, "", page.BlockedText), nil
	}
	if res == nil {
		return page.Placeholder(url, "", page.BlockedText), nil
	}

	snap := &page.Snapshot{
		Epoch:    epoch,
		URL:      url,
		Title:    res.Title,
		Text:     res.Text,
		Headings: res.Headings,
	}
	for _, el := range res.Interactable {
		snap.Interactable = append(snap.Interactable, page.Element{
			ID: el.ID, Label: el.Label, Kind: el.Kind, Source: el.Source,
		})
	}
	return snap, nil
}

type executeResult struct {
	Resolved bool   `json:"resolved"`
	Skipped  string `json:"skipped"`
}

func (t *Tab) Execute(ctx context.Context, action llm.Action) (page.Result, error) {
	t.mu.Lock()
	epoch, open := t.epoch, t.epochOpen
	t.epochOpen = false
	t.mu.Unlock()

	res := page.Result{Action: action}
	if missing := action.Missing(); missing != "" {
		res.Skipped = "missing " + missing
		return res, nil
	}

	switch action.Kind {
	case llm.ActionNavigate:
		if err := t.driver.Navigate(ctx, action.URL); err != nil {
			return res, err
		}
		res.Resolved = true
		res.Navigated = true
		return res, nil

	case llm.ActionClick, llm.ActionTypeInput:
		if !open {
			res.Skipped = fmt.Sprintf("element %d not found", action.ElementID)
			return res, nil
		}
		fallthrough

	case llm.ActionScroll:
		before, _ := t.driver.URL(ctx)
		var out executeResult
		if err := t.driver.Evaluate(ctx, renderExecute(epoch, action), &out); err != nil {
			return res, fmt.Errorf("execute %s: %w", action.Kind, err)
		}
		res.Resolved = out.Resolved
		res.Skipped = out.Skipped
		if after, err := t.driver.URL(ctx); err == nil && before != "" && after != before {
			res.Navigated = true
		}
		return res, nil

	default:
		res.Skipped = "not executable on the page"
		return res, nil
	}
}

func (t *Tab) TextNodes(ctx context.Context) ([]string, error) {
	var texts []string
	if err := t.driver.Evaluate(ctx, renderTextNodes(), &texts); err != nil {
		return nil, fmt.Errorf("collect text nodes: %w", err)
	}
	return texts, nil
}

func (t *Tab) InjectTranslations(ctx context.Context, texts []string) error {
	if err := t.driver.Evaluate(ctx, renderInject(texts), nil); err != nil {
		return fmt.Errorf("inject translations: %w", err)
	}
	return nil
}

func (t *Tab) RevertTranslations(ctx context.Context) error {
	if err := t.driver.Evaluate(ctx, revertScript, nil); err != nil {
		return fmt.Errorf("revert translations: %w", err)
	}
	return nil
}

func (t *Tab) URL() string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url, err := t.driver.URL(ctx)
	if err != nil {
		return ""
	}
	return url
}

// Open navigates the tab to url.
func (t *Tab) Open(ctx context.Context, url string) error {
	t.mu.Lock()
	t.epochOpen = false
	t.mu.Unlock()
	return t.driver.Navigate(ctx, url)
}

func (t *Tab) Close() error {
	return t.driver.Close()
}
