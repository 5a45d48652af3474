package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/nbenliogludev/go-page-pilot/internal/config"
)

// ChromeDriver drives a local Chrome over the DevTools protocol.
type ChromeDriver struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	navTimeout  time.Duration
	logger      *zap.Logger
}

func NewChromeDriver(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*ChromeDriver, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height),
	)
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	log := logger.Named("chromedp")
	tabCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(log.Sugar().Debugf))

	// Starts the browser.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	return &ChromeDriver{
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		navTimeout:  cfg.NavTimeout,
		logger:      log,
	}, nil
}

// run executes actions on the tab, aborting when the caller's ctx ends
// without closing the tab itself.
func (d *ChromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (d *ChromeDriver) Evaluate(ctx context.Context, script string, out any) error {
	var res json.RawMessage
	err := d.run(ctx, chromedp.Evaluate(script, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true)
	}))
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if out == nil || len(res) == 0 {
		return nil
	}
	if err := json.Unmarshal(res, out); err != nil {
		return fmt.Errorf("decode script result: %w (payload: %s)", err, res)
	}
	return nil
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	if d.navTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.navTimeout)
		defer cancel()
	}
	if err := d.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (d *ChromeDriver) URL(ctx context.Context) (string, error) {
	var url string
	if err := d.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (d *ChromeDriver) Title(ctx context.Context) (string, error) {
	var title string
	if err := d.run(ctx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

func (d *ChromeDriver) Close() error {
	d.cancel()
	d.allocCancel()
	return nil
}
