package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nbenliogludev/go-page-pilot/internal/agent"
	"github.com/nbenliogludev/go-page-pilot/internal/backend"
	"github.com/nbenliogludev/go-page-pilot/internal/browser"
	"github.com/nbenliogludev/go-page-pilot/internal/config"
	"github.com/nbenliogludev/go-page-pilot/internal/dom"
	"github.com/nbenliogludev/go-page-pilot/internal/page"
	"github.com/nbenliogludev/go-page-pilot/internal/prefs"
)

const replHelp = `Type a command for the page, or:
  /translate <lang>  translate the page and remember the language
  /revert            restore the original text and forget the language
  /model <name>      switch model (sarvam, gemini, openai)
  /history [n]       show the last runs
  /reset             clear the conversation
  /quit              exit
Ctrl+C stops a running task.`

func newRunCmd(a *app) *cobra.Command {
	var (
		startURL string
		driver   string
		model    string
		headless bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive agent session on a page.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if driver != "" {
				cfg.Browser.Driver = driver
			}
			if startURL != "" {
				cfg.Browser.StartURL = startURL
			}
			if cmd.Flags().Changed("headless") {
				cfg.Browser.Headless = headless
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			logger := a.logger()

			store, err := prefs.Open(ctx, prefsPath(a.cfgFile, cfg.Prefs.Path))
			if err != nil {
				return err
			}
			defer store.Close()

			if model == "" {
				if stored, ok, err := store.Get(ctx, prefs.KeyModel); err == nil && ok {
					model = stored
				} else {
					model = cfg.Agent.Model
				}
			}

			p, closePage, err := openPage(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closePage()

			opts := agent.OptionsFromConfig(cfg.Agent)
			opts.Model = model
			ctrl := agent.NewController(p,
				backend.NewClient(cfg.Agent.BackendURL, cfg.Agent.BackendTimeout, logger),
				opts,
				agent.WithStore(store),
				agent.WithRenderer(agent.NewWriterRenderer(cmd.OutOrStdout())),
				agent.WithLogger(logger),
			)

			signals := agent.NewSignalController(ctrl.Stop)
			defer signals.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Page Pilot on %s (model %s, install %s)\n%s\n", p.URL(), ctrl.Model(), store.InstallID(), replHelp)
			s := &session{ctrl: ctrl, store: store, out: cmd.OutOrStdout(), logger: logger}
			return s.loop(ctx, cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVar(&startURL, "url", "", "start URL (overrides browser.start_url)")
	cmd.Flags().StringVar(&driver, "driver", "", "page driver: chromedp, playwright or static")
	cmd.Flags().StringVar(&model, "model", "", "model name sent to the backend")
	cmd.Flags().BoolVar(&headless, "headless", false, "run the browser headless")
	return cmd
}

// openPage starts the configured page environment and loads the start URL.
func openPage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (page.Page, func(), error) {
	if cfg.Browser.Driver == config.DriverStatic {
		doc, err := dom.Open(ctx, dom.NewHTTPLoader(cfg.Browser.NavTimeout), cfg.Browser.StartURL,
			dom.WithLogger(logger), dom.WithViewportHeight(cfg.Browser.Viewport.Height))
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", cfg.Browser.StartURL, err)
		}
		return doc, func() {}, nil
	}

	driver, err := browser.NewDriver(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, nil, err
	}
	tab := browser.NewTab(driver, logger)
	if err := tab.Open(ctx, cfg.Browser.StartURL); err != nil {
		_ = tab.Close()
		return nil, nil, fmt.Errorf("open %s: %w", cfg.Browser.StartURL, err)
	}
	return tab, func() {
		if err := tab.Close(); err != nil {
			logger.Warn("failed to close browser", zap.Error(err))
		}
	}, nil
}

// controller is the part of agent.Controller the REPL drives.
type controller interface {
	Submit(ctx context.Context, text string) (agent.Outcome, error)
	Translate(ctx context.Context, lang string) error
	Revert(ctx context.Context) error
	Reset() error
	SetModel(name string)
	Model() string
}

type runStore interface {
	Set(ctx context.Context, key, value string) error
	RecentRuns(ctx context.Context, limit int) ([]prefs.RunRecord, error)
}

type session struct {
	ctrl   controller
	store  runStore
	out    io.Writer
	logger *zap.Logger
}

func (s *session) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		quit, err := s.handle(ctx, strings.TrimSpace(scanner.Text()))
		if err != nil {
			fmt.Fprintf(s.out, "! %v\n", err)
		}
		if quit || ctx.Err() != nil {
			return nil
		}
	}
}

// handle runs one REPL line and reports whether the session should end.
func (s *session) handle(ctx context.Context, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		out, err := s.ctrl.Submit(ctx, line)
		if err != nil {
			return false, err
		}
		s.logger.Debug("task finished", zap.Stringer("state", out.State), zap.Int("steps", out.Steps))
		return false, nil
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(s.out, replHelp)
	case "/reset":
		if err := s.ctrl.Reset(); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "Conversation cleared.")
	case "/translate":
		if arg == "" {
			return false, errors.New("usage: /translate <lang>")
		}
		if err := s.ctrl.Translate(ctx, arg); err != nil {
			return false, fmt.Errorf("translation failed: %w", err)
		}
		fmt.Fprintf(s.out, "Page translated to %s.\n", arg)
	case "/revert":
		if err := s.ctrl.Revert(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "Original text restored.")
	case "/model":
		if arg == "" {
			fmt.Fprintf(s.out, "Current model: %s\n", s.ctrl.Model())
			return false, nil
		}
		s.ctrl.SetModel(arg)
		if err := s.store.Set(ctx, prefs.KeyModel, s.ctrl.Model()); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "Model set to %s.\n", s.ctrl.Model())
	case "/history":
		n := 5
		if arg != "" {
			v, err := strconv.Atoi(arg)
			if err != nil || v <= 0 {
				return false, errors.New("usage: /history [n]")
			}
			n = v
		}
		runs, err := s.store.RecentRuns(ctx, n)
		if err != nil {
			return false, err
		}
		if len(runs) == 0 {
			fmt.Fprintln(s.out, "No runs recorded yet.")
		}
		for _, run := range runs {
			fmt.Fprintln(s.out, agent.FormatReport(run))
		}
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

// prefsPath keeps relative database paths next to the config file.
func prefsPath(cfgFile, path string) string {
	if cfgFile == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(filepath.Dir(cfgFile), path)
}
