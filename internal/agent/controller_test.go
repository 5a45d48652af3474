package agent

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/nbenliogludev/go-page-pilot/internal/backend"
	"github.com/nbenliogludev/go-page-pilot/internal/dom"
	"github.com/nbenliogludev/go-page-pilot/internal/llm"
	"github.com/nbenliogludev/go-page-pilot/internal/prefs"
)

const loginPage = `<!doctype html>
<html><head><title>Acme</title></head>
<body>
  <h1>Sign in</h1>
  <input type="email" placeholder="Email">
  <button>Login</button>
  <a href="#top">Top</a>
</body></html>`

const greetingPage = `<html><head><title>Hi</title></head><body><p> Hello </p><p>World</p></body></html>`

// scriptedBackend replays actions in order and answers once they run out.
type scriptedBackend struct {
	mu        sync.Mutex
	actions   []llm.Action
	chatErr   error
	requests  []backend.ChatRequest
	translate func(texts []string, target string) ([]string, error)
	targets   []string

	// block makes Chat wait for cancellation; entered is signalled on entry.
	block   bool
	entered chan struct{}
}

func (b *scriptedBackend) Chat(ctx context.Context, req backend.ChatRequest) (llm.Action, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	block, entered := b.block, b.entered
	b.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if block {
		<-ctx.Done()
		return llm.Action{}, ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chatErr != nil {
		return llm.Action{}, b.chatErr
	}
	if len(b.actions) == 0 {
		return llm.Answer("done"), nil
	}
	a := b.actions[0]
	b.actions = b.actions[1:]
	return a, nil
}

func (b *scriptedBackend) Translate(_ context.Context, texts []string, target string) ([]string, error) {
	b.mu.Lock()
	b.targets = append(b.targets, target)
	fn := b.translate
	b.mu.Unlock()
	if fn != nil {
		return fn(texts, target)
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = "[" + target + "]" + strings.TrimSpace(t)
	}
	return out, nil
}

func (b *scriptedBackend) chatCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

type recordingRenderer struct {
	mu       sync.Mutex
	messages []string
	errors   []string
}

func (r *recordingRenderer) Message(_, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
}

func (r *recordingRenderer) Error(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, text)
}

type memoryStore struct {
	mu       sync.Mutex
	language string
	runs     []prefs.RunRecord
}

func (s *memoryStore) RecordRun(_ context.Context, r prefs.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, r)
	return nil
}

func (s *memoryStore) Language(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language, nil
}

func (s *memoryStore) SetLanguage(_ context.Context, lang string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.language = lang
	return nil
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestController(t *testing.T, markup string, b Backend, opts Options, extra ...Option) (*Controller, *dom.Document, *recordingRenderer) {
	t.Helper()
	doc, err := dom.ParseString(markup, "https://acme.test/login")
	require.NoError(t, err)
	r := &recordingRenderer{}
	options := append([]Option{
		WithRenderer(r),
		WithSleep(noSleep),
		WithLogger(zaptest.NewLogger(t)),
	}, extra...)
	return NewController(doc, b, opts, options...), doc, r
}

func TestSubmit_ClickLoginScenario(t *testing.T) {
	store, err := prefs.Open(context.Background(), filepath.Join(t.TempDir(), "pilot.db"))
	require.NoError(t, err)
	defer store.Close()

	b := &scriptedBackend{actions: []llm.Action{
		{Kind: llm.ActionClick, ElementID: 2},
		llm.Answer("Clicked the login button."),
	}}
	c, doc, r := newTestController(t, loginPage, b, Options{Model: "gemini"}, WithStore(store))

	out, err := c.Submit(context.Background(), "click login")
	require.NoError(t, err)

	assert.Equal(t, Answered, out.State)
	assert.Equal(t, "Clicked the login button.", out.Answer)
	assert.Equal(t, 1, out.Steps)
	assert.Equal(t, Answered, c.State())

	require.Len(t, b.requests, 2)
	first := b.requests[0]
	assert.Equal(t, "gemini", first.Model)
	assert.Equal(t, "https://acme.test/login", first.URL)
	assert.Contains(t, string(first.Elements), `{"id":2,"text":"Login","tag":"button"}`)
	require.Len(t, first.Messages, 1)
	assert.Equal(t, "click login", first.Messages[0].Content)

	events := doc.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, dom.Event{Type: "click", Target: "2"}, events[len(events)-1])

	history := c.History()
	require.Len(t, history, 4)
	assert.Equal(t, llm.RoleUser, history[0].Role)
	assert.JSONEq(t, `{"action":"CLICK","elementId":2}`, history[1].Content)
	assert.Equal(t, llm.RoleUser, history[2].Role)
	assert.Contains(t, history[2].Content, "Executed CLICK on element 2.")
	assert.Contains(t, history[2].Content, "continue with the next action")
	assert.Equal(t, llm.RoleAssistant, history[3].Role)

	assert.Len(t, b.requests[1].Messages, 3)
	assert.Equal(t, []string{"Clicked the login button."}, r.messages)

	runs, err := store.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "click login", runs[0].Task)
	assert.Equal(t, "answered", runs[0].State)
	assert.Equal(t, 1, runs[0].Steps)
	require.Len(t, runs[0].Trace, 1)
	assert.Contains(t, runs[0].Trace[0], "CLICK")
}

func TestSubmit_StepCeiling(t *testing.T) {
	actions := make([]llm.Action, 10)
	for i := range actions {
		actions[i] = llm.Action{Kind: llm.ActionScroll, Direction: llm.DirectionDown}
	}
	b := &scriptedBackend{actions: actions}
	c, _, r := newTestController(t, loginPage, b, Options{MaxSteps: 3, LoopThreshold: 100})

	out, err := c.Submit(context.Background(), "scroll forever")
	require.NoError(t, err)
	assert.Equal(t, Stopped, out.State)
	assert.Equal(t, ReasonStepLimit, out.Reason)
	assert.Equal(t, 3, out.Steps)
	assert.Equal(t, 3, b.chatCalls())
	assert.Equal(t, []string{"Stopped: step limit reached."}, r.messages)
}

func TestSubmit_TimeCeiling(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	}
	b := &scriptedBackend{actions: []llm.Action{
		{Kind: llm.ActionScroll}, {Kind: llm.ActionScroll}, {Kind: llm.ActionScroll}, {Kind: llm.ActionScroll},
	}}
	c, _, _ := newTestController(t, loginPage, b, Options{MaxDuration: 150 * time.Second}, WithClock(clock))

	out, err := c.Submit(context.Background(), "wait")
	require.NoError(t, err)
	assert.Equal(t, Stopped, out.State)
	assert.Equal(t, ReasonTimeLimit, out.Reason)
	assert.Less(t, b.chatCalls(), 4)
}

func TestStop_HaltsRequestsAndHistory(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &scriptedBackend{block: true, entered: make(chan struct{}, 1)}
	c, _, r := newTestController(t, loginPage, b, Options{})

	go func() {
		<-b.entered
		c.Stop()
	}()

	out, err := c.Submit(context.Background(), "click login")
	require.NoError(t, err)
	assert.Equal(t, Stopped, out.State)
	assert.Equal(t, ReasonStopped, out.Reason)
	assert.Equal(t, 1, b.chatCalls())
	assert.Equal(t, []Turn{{Role: llm.RoleUser, Content: "click login"}}, c.History())
	assert.Equal(t, []string{StoppedMessage}, r.messages)
	assert.Empty(t, r.errors)
}

func TestStop_AsSoonAsRunStartsIsNotLost(t *testing.T) {
	defer goleak.VerifyNone(t)

	for i := 0; i < 50; i++ {
		b := &scriptedBackend{block: true}
		c, _, _ := newTestController(t, loginPage, b, Options{})

		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			for !c.running.Load() {
				runtime.Gosched()
			}
			c.Stop()
		}()

		result := make(chan Outcome, 1)
		go func() {
			out, _ := c.Submit(context.Background(), "click login")
			result <- out
		}()

		select {
		case out := <-result:
			assert.Equal(t, Stopped, out.State)
		case <-time.After(5 * time.Second):
			t.Fatalf("run %d: stop issued right after start was lost", i)
		}
		<-stopped
	}
}

func TestStop_BeforeRunDoesNotCarryOver(t *testing.T) {
	c, _, _ := newTestController(t, loginPage, &scriptedBackend{}, Options{})
	c.Stop()

	out, err := c.Submit(context.Background(), "click login")
	require.NoError(t, err)
	assert.Equal(t, Answered, out.State)
}

func TestStop_DuringSettleAppendsNothing(t *testing.T) {
	b := &scriptedBackend{actions: []llm.Action{{Kind: llm.ActionClick, ElementID: 2}}}
	var c *Controller
	c, _, _ = newTestController(t, loginPage, b, Options{}, WithSleep(func(ctx context.Context, _ time.Duration) error {
		c.Stop()
		return ctx.Err()
	}))

	out, err := c.Submit(context.Background(), "click login")
	require.NoError(t, err)
	assert.Equal(t, Stopped, out.State)
	assert.Equal(t, 1, b.chatCalls())

	history := c.History()
	require.Len(t, history, 2)
	assert.Equal(t, llm.RoleAssistant, history[1].Role)
}

func TestSubmit_BusyWhileRunning(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &scriptedBackend{block: true, entered: make(chan struct{}, 1)}
	c, _, _ := newTestController(t, loginPage, b, Options{})

	done := make(chan Outcome)
	go func() {
		out, _ := c.Submit(context.Background(), "first")
		done <- out
	}()
	<-b.entered

	_, err := c.Submit(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, c.Reset(), ErrBusy)
	assert.ErrorIs(t, c.Translate(context.Background(), "bn"), ErrBusy)

	c.Stop()
	out := <-done
	assert.Equal(t, Stopped, out.State)

	require.NoError(t, c.Reset())
	assert.Empty(t, c.History())
	assert.Equal(t, Idle, c.State())
}

func TestSubmit_TransportErrorEndsRun(t *testing.T) {
	b := &scriptedBackend{chatErr: errors.New("connection refused")}
	c, _, r := newTestController(t, loginPage, b, Options{})

	out, err := c.Submit(context.Background(), "click login")
	require.NoError(t, err)
	assert.Equal(t, Errored, out.State)
	assert.Equal(t, ReasonTransport, out.Reason)
	assert.Equal(t, 1, b.chatCalls())
	assert.Equal(t, []string{GenericErrorMessage}, r.errors)
	assert.Len(t, c.History(), 1)
}

func TestSubmit_UnknownActionIsTerminal(t *testing.T) {
	b := &scriptedBackend{actions: []llm.Action{{Kind: "HOVER"}}}
	c, _, r := newTestController(t, loginPage, b, Options{})

	out, err := c.Submit(context.Background(), "hover")
	require.NoError(t, err)
	assert.Equal(t, Answered, out.State)
	assert.Equal(t, TaskCompletedMessage, out.Answer)
	assert.Equal(t, []string{TaskCompletedMessage}, r.messages)
}

func TestSubmit_IncompleteActionContinues(t *testing.T) {
	b := &scriptedBackend{actions: []llm.Action{
		{Kind: llm.ActionClick, Text: "Looking for the button"},
		{Kind: llm.ActionClick, ElementID: 42},
	}}
	c, _, r := newTestController(t, loginPage, b, Options{})

	out, err := c.Submit(context.Background(), "click")
	require.NoError(t, err)
	assert.Equal(t, Answered, out.State)
	assert.Equal(t, 2, out.Steps)

	history := c.History()
	require.Len(t, history, 6)
	assert.Contains(t, history[2].Content, "Could not execute CLICK: missing elementId.")
	assert.Contains(t, history[4].Content, "Could not execute CLICK: element 42 not found.")
	assert.Equal(t, []string{"Looking for the button", "done"}, r.messages)
}

func TestSubmit_LoopNote(t *testing.T) {
	click := llm.Action{Kind: llm.ActionClick, ElementID: 2}
	b := &scriptedBackend{actions: []llm.Action{click, click, click}}
	store := &memoryStore{}
	c, _, _ := newTestController(t, loginPage, b, Options{LoopThreshold: 3}, WithStore(store))

	out, err := c.Submit(context.Background(), "click login")
	require.NoError(t, err)
	assert.Equal(t, 1, out.LoopNotes)

	history := c.History()
	require.Len(t, history, 8)
	assert.NotContains(t, history[4].Content, "SYSTEM NOTE")
	assert.Contains(t, history[6].Content, "SYSTEM NOTE: The same action")

	require.Len(t, store.runs, 1)
	trace := store.runs[0].Trace
	assert.Equal(t, "LOOP NOTES | 1 repetition warnings sent", trace[len(trace)-1])
}

func TestTranslateAndRevert(t *testing.T) {
	store := &memoryStore{}
	b := &scriptedBackend{}
	c, doc, _ := newTestController(t, greetingPage, b, Options{}, WithStore(store))

	require.NoError(t, c.Translate(context.Background(), "bn"))
	assert.Contains(t, doc.HTML(), "<p> [bn]Hello </p>")
	assert.Contains(t, doc.HTML(), "<p>[bn]World</p>")
	assert.Equal(t, "bn", store.language)

	// A second session starts from the original text, never stacking.
	require.NoError(t, c.Translate(context.Background(), "hi"))
	assert.Contains(t, doc.HTML(), "<p> [hi]Hello </p>")
	assert.NotContains(t, doc.HTML(), "[bn]")

	require.NoError(t, c.Revert(context.Background()))
	assert.Contains(t, doc.HTML(), "<p> Hello </p><p>World</p>")
	assert.Empty(t, store.language)
}

func TestTranslateAction_InLoop(t *testing.T) {
	store := &memoryStore{}
	b := &scriptedBackend{actions: []llm.Action{
		{Kind: llm.ActionTranslate},
		{Kind: llm.ActionTranslate, Language: "ta"},
	}}
	c, doc, _ := newTestController(t, greetingPage, b, Options{}, WithStore(store))

	out, err := c.Submit(context.Background(), "translate to tamil")
	require.NoError(t, err)
	assert.Equal(t, Answered, out.State)

	history := c.History()
	assert.Contains(t, history[2].Content, "Could not execute TRANSLATE: missing language.")
	assert.Contains(t, history[4].Content, "Executed TRANSLATE.")
	assert.Contains(t, doc.HTML(), "[ta]World")
	assert.Equal(t, "ta", store.language)
}

func TestSubmit_ReappliesPersistedLanguage(t *testing.T) {
	store := &memoryStore{language: "as"}
	b := &scriptedBackend{}
	c, _, _ := newTestController(t, greetingPage, b, Options{}, WithStore(store))

	_, err := c.Submit(context.Background(), "what does it say")
	require.NoError(t, err)

	assert.Equal(t, []string{"as"}, b.targets)
	require.Len(t, b.requests, 1)
	assert.Contains(t, b.requests[0].PageContent, "[as]Hello")
	require.Len(t, store.runs, 1)
	assert.Equal(t, "reapplied translation as", store.runs[0].Trace[0])
}

func TestTranslate_FailureLeavesPage(t *testing.T) {
	b := &scriptedBackend{translate: func([]string, string) ([]string, error) {
		return nil, errors.New("upstream down")
	}}
	store := &memoryStore{}
	c, doc, _ := newTestController(t, greetingPage, b, Options{}, WithStore(store))

	err := c.Translate(context.Background(), "bn")
	require.Error(t, err)
	assert.Contains(t, doc.HTML(), "<p> Hello </p>")
	assert.Empty(t, store.language)
}

type failingLoader struct{}

func (failingLoader) Load(context.Context, string) (io.ReadCloser, string, error) {
	return nil, "", errors.New("dns failure")
}

func TestSubmit_FailedNavigationIsReported(t *testing.T) {
	doc, err := dom.ParseString(greetingPage, "https://acme.test/", dom.WithLoader(failingLoader{}))
	require.NoError(t, err)
	store := &memoryStore{language: "as"}
	b := &scriptedBackend{actions: []llm.Action{
		{Kind: llm.ActionNavigate, URL: "https://unreachable.test/"},
		llm.Answer("Could not open the page."),
	}}
	c := NewController(doc, b, Options{},
		WithStore(store),
		WithRenderer(&recordingRenderer{}),
		WithSleep(noSleep),
		WithLogger(zaptest.NewLogger(t)),
	)

	out, err := c.Submit(context.Background(), "open the other site")
	require.NoError(t, err)
	assert.Equal(t, Answered, out.State)

	history := c.History()
	require.Len(t, history, 4)
	assert.Contains(t, history[2].Content, "Could not execute NAVIGATE: navigation failed.")
	assert.NotContains(t, history[2].Content, "Executed NAVIGATE")
	assert.Equal(t, []string{"as"}, b.targets, "the language is only applied at run start")
	assert.Equal(t, "https://acme.test/", doc.URL())
}
