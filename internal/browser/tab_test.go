package browser

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nbenliogludev/go-page-pilot/internal/llm"
	"github.com/nbenliogludev/go-page-pilot/internal/page"
)

// fakeDriver answers Evaluate with canned JSON and records scripts.
type fakeDriver struct {
	url       string
	results   []string
	evalErr   error
	scripts   []string
	navigated []string
}

func (f *fakeDriver) Evaluate(_ context.Context, script string, out any) error {
	f.scripts = append(f.scripts, script)
	if f.evalErr != nil {
		return f.evalErr
	}
	if len(f.results) == 0 || out == nil {
		return nil
	}
	next := f.results[0]
	f.results = f.results[1:]
	return json.Unmarshal([]byte(next), out)
}

func (f *fakeDriver) Navigate(_ context.Context, url string) error {
	f.navigated = append(f.navigated, url)
	f.url = url
	return nil
}

func (f *fakeDriver) URL(context.Context) (string, error)   { return f.url, nil }
func (f *fakeDriver) Title(context.Context) (string, error) { return "", nil }
func (f *fakeDriver) Close() error                          { return nil }

func TestTab_ExtractDecodesScriptResult(t *testing.T) {
	drv := &fakeDriver{
		url: "https://acme.test/",
		results: []string{`{
			"title": "Acme",
			"text": "Welcome",
			"interactable": [
				{"id": 1, "label": "Email", "kind": "email", "source": "input"},
				{"id": 2, "label": "Login", "kind": "button", "source": "clickable"}
			],
			"headings": ["Welcome"]
		}`},
	}
	tab := NewTab(drv, zap.NewNop())

	snap, err := tab.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, page.Epoch(1), snap.Epoch)
	assert.Equal(t, "Acme", snap.Title)
	require.Len(t, snap.Interactable, 2)
	assert.Equal(t, page.Element{ID: 2, Label: "Login", Kind: "button", Source: page.SourceClickable}, snap.Interactable[1])

	script := drv.scripts[0]
	assert.Contains(t, script, `const epoch = String(1);`)
	assert.Contains(t, script, `"data-pilot-id"`)
	assert.NotContains(t, script, "{{")
}

func TestTab_ExtractPlaceholders(t *testing.T) {
	t.Run("restricted url", func(t *testing.T) {
		drv := &fakeDriver{url: "chrome://extensions"}
		snap, err := NewTab(drv, zap.NewNop()).Extract(context.Background())
		require.NoError(t, err)
		assert.Equal(t, page.RestrictedText, snap.Text)
		assert.Empty(t, drv.scripts, "no script may run on a restricted page")
	})

	t.Run("script failure", func(t *testing.T) {
		drv := &fakeDriver{url: "https://acme.test/", evalErr: errors.New("blocked")}
		snap, err := NewTab(drv, zap.NewNop()).Extract(context.Background())
		require.NoError(t, err)
		assert.Equal(t, page.BlockedText, snap.Text)
		assert.True(t, snap.Restricted)
	})

	t.Run("no body yet", func(t *testing.T) {
		drv := &fakeDriver{url: "https://acme.test/", results: []string{"null"}}
		snap, err := NewTab(drv, zap.NewNop()).Extract(context.Background())
		require.NoError(t, err)
		assert.Equal(t, page.BlockedText, snap.Text)
	})
}

func TestTab_ExecuteBindsEpoch(t *testing.T) {
	drv := &fakeDriver{url: "https://acme.test/", results: []string{`{"interactable":[]}`, `{"resolved":true}`}}
	tab := NewTab(drv, zap.NewNop())
	ctx := context.Background()

	_, err := tab.Extract(ctx)
	require.NoError(t, err)

	res, err := tab.Execute(ctx, llm.Action{Kind: llm.ActionClick, ElementID: 3})
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	script := drv.scripts[len(drv.scripts)-1]
	assert.Contains(t, script, `[data-pilot-epoch="1"]`)
	assert.Contains(t, script, `"elementId":3`)

	// The epoch is closed now: no script runs for a second click.
	calls := len(drv.scripts)
	res, err = tab.Execute(ctx, llm.Action{Kind: llm.ActionClick, ElementID: 3})
	require.NoError(t, err)
	assert.False(t, res.Resolved)
	assert.Len(t, drv.scripts, calls)
}

func TestTab_ExecuteNavigate(t *testing.T) {
	drv := &fakeDriver{url: "https://acme.test/"}
	res, err := NewTab(drv, zap.NewNop()).Execute(context.Background(),
		llm.Action{Kind: llm.ActionNavigate, URL: "https://other.test/"})
	require.NoError(t, err)
	assert.True(t, res.Navigated)
	assert.Equal(t, []string{"https://other.test/"}, drv.navigated)
}

func TestTab_TypeTextIsEncoded(t *testing.T) {
	drv := &fakeDriver{url: "https://acme.test/", results: []string{`{"interactable":[]}`, `{"resolved":true}`}}
	tab := NewTab(drv, zap.NewNop())
	ctx := context.Background()
	_, err := tab.Extract(ctx)
	require.NoError(t, err)

	_, err = tab.Execute(ctx, llm.Action{Kind: llm.ActionTypeInput, ElementID: 1, Text: `he said "hi"</script>`})
	require.NoError(t, err)
	script := drv.scripts[len(drv.scripts)-1]
	assert.Contains(t, script, `"text":"he said \"hi\"\u003c/script\u003e"`)
}

func TestTab_OverlayScripts(t *testing.T) {
	drv := &fakeDriver{url: "https://acme.test/", results: []string{`["Hello","World"]`}}
	tab := NewTab(drv, zap.NewNop())
	ctx := context.Background()

	texts, err := tab.TextNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", "World"}, texts)
	assert.Contains(t, drv.scripts[0], "texts.length < 500")

	require.NoError(t, tab.InjectTranslations(ctx, []string{"নমস্কাৰ", "বিশ্ব"}))
	assert.True(t, strings.HasSuffix(drv.scripts[1], `})(["নমস্কাৰ","বিশ্ব"])`))

	require.NoError(t, tab.RevertTranslations(ctx))
	assert.Contains(t, drv.scripts[2], "window.__pilotOverlay = []")
}
