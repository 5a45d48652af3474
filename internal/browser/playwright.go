package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/nbenliogludev/go-page-pilot/internal/config"
)

// PlaywrightDriver drives Chromium through a persistent playwright
// context so logins survive between runs.
type PlaywrightDriver struct {
	pw      *playwright.Playwright
	context playwright.BrowserContext
	page    playwright.Page
	logger  *zap.Logger
}

func NewPlaywrightDriver(cfg config.BrowserConfig, logger *zap.Logger) (*PlaywrightDriver, error) {
	if err := playwright.Install(); err != nil {
		return nil, fmt.Errorf("install pw failed: %w", err)
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start pw failed: %w", err)
	}

	userDataDir := cfg.UserDataDir
	if !filepath.IsAbs(userDataDir) {
		wd, _ := os.Getwd()
		userDataDir = filepath.Join(wd, userDataDir)
	}

	opts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args:     []string{"--disable-blink-features=AutomationControlled"},
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		opts.Viewport = &playwright.Size{Width: cfg.Viewport.Width, Height: cfg.Viewport.Height}
	}

	bctx, err := pw.Chromium.LaunchPersistentContext(userDataDir, opts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch persistent context: %w", err)
	}

	var pg playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		pg = pages[0]
	} else {
		pg, err = bctx.NewPage()
		if err != nil {
			_ = bctx.Close()
			_ = pw.Stop()
			return nil, fmt.Errorf("failed to create page: %w", err)
		}
	}

	if cfg.NavTimeout > 0 {
		ms := float64(cfg.NavTimeout.Milliseconds())
		pg.SetDefaultTimeout(ms)
		pg.SetDefaultNavigationTimeout(ms)
	}

	return &PlaywrightDriver{pw: pw, context: bctx, page: pg, logger: logger.Named("playwright")}, nil
}

// Evaluate has no cancellation inside playwright; ctx is checked around
// the call.
func (d *PlaywrightDriver) Evaluate(ctx context.Context, script string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := d.page.Evaluate(script)
	if err != nil {
		return fmt.Errorf("js evaluation failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return decodeInto(res, out)
}

func (d *PlaywrightDriver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		return fmt.Errorf("could not navigate to %s: %w", url, err)
	}
	return ctx.Err()
}

func (d *PlaywrightDriver) URL(context.Context) (string, error) {
	return d.page.URL(), nil
}

func (d *PlaywrightDriver) Title(context.Context) (string, error) {
	return d.page.Title()
}

func (d *PlaywrightDriver) Close() error {
	if d.context != nil {
		_ = d.context.Close()
	}
	if d.pw != nil {
		return d.pw.Stop()
	}
	return nil
}
