// Package agent runs the observe, decide, act loop that drives a page from
// natural-language commands.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nbenliogludev/go-page-pilot/internal/backend"
	"github.com/nbenliogludev/go-page-pilot/internal/config"
	"github.com/nbenliogludev/go-page-pilot/internal/llm"
	"github.com/nbenliogludev/go-page-pilot/internal/page"
)

// ErrBusy is returned when a loop is already running on the controller.
var ErrBusy = errors.New("agent is busy")

// User-visible messages.
const (
	GenericErrorMessage  = "Page Pilot may be incorrect. Please verify important information."
	StoppedMessage       = "Stopped."
	TaskCompletedMessage = "Task completed."
)

// State is the controller's position in the loop.
type State int

const (
	Idle State = iota
	Requesting
	Executing
	Answered
	Stopped
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requesting:
		return "requesting"
	case Executing:
		return "executing"
	case Answered:
		return "answered"
	case Stopped:
		return "stopped"
	case Errored:
		return "errored"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome is how a Submit ended.
type Outcome struct {
	State  State
	Reason string
	Answer string
	Steps  int
	// LoopNotes counts the repetition warnings sent to the model.
	LoopNotes int
}

// Turn is one entry of the conversation history.
type Turn struct {
	Role       string
	Content    string
	Attachment string
}

// Backend is the proxy the loop talks to.
type Backend interface {
	Chat(ctx context.Context, req backend.ChatRequest) (llm.Action, error)
	Translate(ctx context.Context, texts []string, target string) ([]string, error)
}

// Store persists the translation language and finished runs.
type Store interface {
	RunRecorder
	Language(ctx context.Context) (string, error)
	SetLanguage(ctx context.Context, lang string) error
}

// Options bound and pace the loop.
type Options struct {
	Model          string
	MaxSteps       int
	MaxDuration    time.Duration
	SettleDelay    time.Duration
	NavigateSettle time.Duration
	LoopThreshold  int
}

func OptionsFromConfig(cfg config.AgentConfig) Options {
	return Options{
		Model:          cfg.Model,
		MaxSteps:       cfg.MaxSteps,
		MaxDuration:    cfg.MaxDuration,
		SettleDelay:    cfg.SettleDelay,
		NavigateSettle: cfg.NavigateSettle,
		LoopThreshold:  cfg.LoopThreshold,
	}
}

// Option customises a Controller.
type Option func(*Controller)

func WithStore(s Store) Option { return func(c *Controller) { c.store = s } }

func WithRenderer(r Renderer) Option { return func(c *Controller) { c.renderer = r } }

func WithLogger(l *zap.Logger) Option { return func(c *Controller) { c.logger = l } }

// WithSleep replaces the settle wait; it must return early when ctx ends.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// Controller owns the conversation and runs one loop at a time.
type Controller struct {
	page     page.Page
	backend  Backend
	store    Store
	renderer Renderer
	logger   *zap.Logger
	opts     Options
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time

	running atomic.Bool
	stopped atomic.Bool

	mu      sync.Mutex
	history []Turn
	cancel  context.CancelFunc
	state   State
}

func NewController(p page.Page, b Backend, opts Options, options ...Option) *Controller {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = 25
	}
	if opts.Model == "" {
		opts.Model = config.ProviderSarvam
	}
	c := &Controller{
		page:     p,
		backend:  b,
		renderer: nopRenderer{},
		logger:   zap.NewNop(),
		opts:     opts,
		sleep:    sleepCtx,
		now:      time.Now,
	}
	for _, o := range options {
		o(c)
	}
	c.logger = c.logger.Named("agent")
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// History returns a copy of the conversation.
func (c *Controller) History() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Turn(nil), c.history...)
}

func (c *Controller) appendTurn(t Turn) {
	c.mu.Lock()
	c.history = append(c.history, t)
	c.mu.Unlock()
}

func (c *Controller) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.Model
}

func (c *Controller) SetModel(name string) {
	c.mu.Lock()
	c.opts.Model = strings.ToLower(strings.TrimSpace(name))
	c.mu.Unlock()
}

// Reset clears the conversation.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running.Load() {
		return ErrBusy
	}
	c.history = nil
	c.state = Idle
	return nil
}

// Stop halts the running loop and aborts its in-flight request. It is a
// no-op when nothing is running.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running.Load() {
		return
	}
	c.stopped.Store(true)
	if c.cancel != nil {
		c.cancel()
	}
}

// begin claims the controller for one operation and returns its context.
func (c *Controller) begin(ctx context.Context) (context.Context, func(), error) {
	runCtx, cancel := context.WithCancel(ctx)

	// Stop checks running under mu, so claiming and arming together means
	// any Stop that sees the run also sees its cancel func.
	c.mu.Lock()
	if !c.running.CompareAndSwap(false, true) {
		c.mu.Unlock()
		cancel()
		return nil, nil, ErrBusy
	}
	c.stopped.Store(false)
	c.cancel = cancel
	c.mu.Unlock()

	return runCtx, func() {
		c.mu.Lock()
		c.cancel = nil
		c.running.Store(false)
		c.mu.Unlock()
		cancel()
	}, nil
}

func (c *Controller) halted(ctx context.Context) bool {
	return c.stopped.Load() || ctx.Err() != nil
}

// Submit appends the user's command and runs the loop until an answer, a
// stop, a ceiling, or a transport failure.
func (c *Controller) Submit(ctx context.Context, text string) (Outcome, error) {
	runCtx, done, err := c.begin(ctx)
	if err != nil {
		return Outcome{}, err
	}
	defer done()

	start := c.now()
	rep := NewReporter(text, start, c.logger)

	c.appendTurn(Turn{Role: llm.RoleUser, Content: text})
	guard := NewLoopGuard(c.opts.LoopThreshold)
	out := c.loop(runCtx, rep, guard, start)
	out.LoopNotes = guard.Triggered()
	c.setState(out.State)

	rep.Finish(runCtx, c.store, out, c.now(), c.page.URL())
	return out, nil
}

func (c *Controller) loop(ctx context.Context, rep *Reporter, guard *LoopGuard, start time.Time) Outcome {
	c.reapplyLanguage(ctx, rep)

	steps := 0
	for {
		if c.halted(ctx) {
			return c.stoppedOutcome(steps, ReasonStopped)
		}
		if steps >= c.opts.MaxSteps {
			return c.stoppedOutcome(steps, ReasonStepLimit)
		}
		if c.opts.MaxDuration > 0 && c.now().Sub(start) >= c.opts.MaxDuration {
			return c.stoppedOutcome(steps, ReasonTimeLimit)
		}

		c.setState(Requesting)
		snap := c.snapshot(ctx)
		if c.halted(ctx) {
			return c.stoppedOutcome(steps, ReasonStopped)
		}

		bc := snap.Context()
		action, err := c.backend.Chat(ctx, backend.ChatRequest{
			Messages:    c.messages(),
			PageContent: bc.PageContent,
			Elements:    bc.Elements,
			URL:         bc.URL,
			Title:       bc.Title,
			Model:       c.Model(),
		})
		if c.halted(ctx) {
			return c.stoppedOutcome(steps, ReasonStopped)
		}
		if err != nil {
			c.logger.Error("backend chat failed", zap.Error(err))
			c.renderer.Error(GenericErrorMessage)
			return Outcome{State: Errored, Reason: ReasonTransport, Steps: steps}
		}

		if action.Terminal() {
			text := strings.TrimSpace(action.Text)
			if text == "" {
				text = TaskCompletedMessage
			}
			c.appendTurn(Turn{Role: llm.RoleAssistant, Content: action.String()})
			c.renderer.Message(llm.RoleAssistant, text)
			return Outcome{State: Answered, Reason: ReasonAnswered, Answer: text, Steps: steps}
		}

		steps++
		c.appendTurn(Turn{Role: llm.RoleAssistant, Content: action.String()})
		if t := strings.TrimSpace(action.Text); t != "" && action.Kind != llm.ActionTypeInput {
			c.renderer.Message(llm.RoleAssistant, t)
		}

		c.setState(Executing)
		res := c.execute(ctx, action, rep)
		if c.halted(ctx) {
			return c.stoppedOutcome(steps, ReasonStopped)
		}

		settle := c.opts.SettleDelay
		if action.Kind == llm.ActionNavigate || res.Navigated {
			settle = c.opts.NavigateSettle
		}
		if err := c.sleep(ctx, settle); err != nil || c.halted(ctx) {
			return c.stoppedOutcome(steps, ReasonStopped)
		}

		if res.Navigated && res.Resolved {
			c.reapplyLanguage(ctx, rep)
			if c.halted(ctx) {
				return c.stoppedOutcome(steps, ReasonStopped)
			}
		}

		url := c.page.URL()
		rep.LogStep(steps, url, action, res)
		note := guard.Record(url, action)
		if note != "" {
			c.logger.Warn("loop detected", zap.String("note", note))
			rep.Note(note)
		}
		c.appendTurn(Turn{Role: llm.RoleUser, Content: outcomeTurn(res, url, note)})
	}
}

func (c *Controller) stoppedOutcome(steps int, reason string) Outcome {
	msg := StoppedMessage
	if reason != ReasonStopped {
		msg = fmt.Sprintf("Stopped: %s.", reason)
	}
	c.renderer.Message(llm.RoleAssistant, msg)
	return Outcome{State: Stopped, Reason: reason, Steps: steps}
}

// snapshot never fails: an unreadable page yields a placeholder.
func (c *Controller) snapshot(ctx context.Context) *page.Snapshot {
	snap, err := c.page.Extract(ctx)
	if err != nil || snap == nil {
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("extraction failed", zap.Error(err))
		}
		return page.Placeholder(c.page.URL(), "", page.BlockedText)
	}
	return snap
}

func (c *Controller) messages() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Message, 0, len(c.history))
	for _, t := range c.history {
		out = append(out, llm.Message{Role: t.Role, Content: t.Content, Image: t.Attachment})
	}
	return out
}

// execute runs one non-terminal action. DOM failures are folded into the
// result so the model can react to them.
func (c *Controller) execute(ctx context.Context, action llm.Action, rep *Reporter) page.Result {
	if action.Kind == llm.ActionTranslate {
		res := page.Result{Action: action}
		if m := action.Missing(); m != "" {
			res.Skipped = "missing " + m
			return res
		}
		if err := c.translatePage(ctx, action.Language); err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("translation failed", zap.Error(err))
			}
			res.Skipped = "translation failed"
			return res
		}
		rep.Note("translated page to " + action.Language)
		res.Resolved = true
		return res
	}

	res, err := c.page.Execute(ctx, action)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("action failed", zap.Stringer("action", action), zap.Error(err))
		}
		res.Action = action
		if res.Skipped == "" {
			res.Skipped = "execution failed"
		}
		res.Resolved = false
		res.Navigated = false
	}
	return res
}

func outcomeTurn(res page.Result, url, note string) string {
	var b strings.Builder
	a := res.Action
	if res.Resolved {
		fmt.Fprintf(&b, "Executed %s", a.Kind)
		if a.ElementID > 0 {
			fmt.Fprintf(&b, " on element %d", a.ElementID)
		}
		b.WriteString(".")
	} else {
		fmt.Fprintf(&b, "Could not execute %s: %s.", a.Kind, res.Skipped)
	}
	if url != "" {
		fmt.Fprintf(&b, " Current URL: %s.", url)
	}
	b.WriteString(" Look at the updated page and continue with the next action, or reply with ANSWER if the goal is complete.")
	if note != "" {
		b.WriteString("\n")
		b.WriteString(note)
	}
	return b.String()
}

// Translate translates the current page and remembers the language.
func (c *Controller) Translate(ctx context.Context, lang string) error {
	runCtx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()
	return c.translatePage(runCtx, lang)
}

// Revert restores the original page text and forgets the language.
func (c *Controller) Revert(ctx context.Context) error {
	runCtx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := c.page.RevertTranslations(runCtx); err != nil {
		return fmt.Errorf("revert translations: %w", err)
	}
	if c.store != nil {
		if err := c.store.SetLanguage(runCtx, ""); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) translatePage(ctx context.Context, lang string) error {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return errors.New("translate: language is required")
	}

	// A new session always starts from the untranslated page.
	if err := c.page.RevertTranslations(ctx); err != nil {
		return fmt.Errorf("revert translations: %w", err)
	}
	texts, err := c.page.TextNodes(ctx)
	if err != nil {
		return fmt.Errorf("collect text nodes: %w", err)
	}
	if len(texts) > 0 {
		translated, err := c.backend.Translate(ctx, texts, lang)
		if err != nil {
			return fmt.Errorf("translate %d texts: %w", len(texts), err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.page.InjectTranslations(ctx, translated); err != nil {
			return fmt.Errorf("inject translations: %w", err)
		}
	}
	c.logger.Info("page translated", zap.String("language", lang), zap.Int("nodes", len(texts)))

	if c.store != nil {
		if err := c.store.SetLanguage(ctx, lang); err != nil {
			c.logger.Warn("failed to persist language", zap.Error(err))
		}
	}
	return nil
}

// reapplyLanguage re-translates a freshly loaded page into the persisted
// language. Failures are logged only.
func (c *Controller) reapplyLanguage(ctx context.Context, rep *Reporter) {
	if c.store == nil || page.IsRestricted(c.page.URL()) {
		return
	}
	lang, err := c.store.Language(ctx)
	if err != nil {
		c.logger.Warn("failed to read language preference", zap.Error(err))
		return
	}
	if lang == "" {
		return
	}
	if err := c.translatePage(ctx, lang); err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("failed to reapply translation", zap.String("language", lang), zap.Error(err))
		}
		return
	}
	rep.Note("reapplied translation " + lang)
}
