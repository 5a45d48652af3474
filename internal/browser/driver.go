// Package browser runs the agent against a real browser tab. A Driver
// wraps one automation backend (chromedp or playwright); Tab injects the
// page scripts through it and implements page.Page.
package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/nbenliogludev/go-page-pilot/internal/config"
)

// Driver is the minimal surface Tab needs from an automation backend.
type Driver interface {
	// Evaluate runs a JS expression in the page, awaiting a returned
	// promise, and decodes the JSON result into out (which may be nil).
	Evaluate(ctx context.Context, script string, out any) error
	// Navigate loads url and returns once the load event fired.
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Close() error
}

// NewDriver starts the backend named in cfg.Driver.
func NewDriver(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (Driver, error) {
	switch cfg.Driver {
	case config.DriverChromedp:
		return NewChromeDriver(ctx, cfg, logger)
	case config.DriverPlaywright:
		return NewPlaywrightDriver(cfg, logger)
	default:
		return nil, fmt.Errorf("browser driver %q cannot drive a live tab", cfg.Driver)
	}
}

// decodeInto moves an already-decoded value into out through JSON.
func decodeInto(v any, out any) error {
	if out == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("re-encode script result: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode script result: %w (payload: %s)", err, b)
	}
	return nil
}

func jsonEncode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
