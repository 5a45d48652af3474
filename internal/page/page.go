// Package page defines what the agent sees of a webpage and what it can do
// to it. Implementations live in internal/browser (a real browser tab) and
// internal/dom (a parsed HTML document).
package page

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/nbenliogludev/go-page-pilot/internal/llm"
)

// Extraction bounds.
const (
	MaxTextChars  = 3000
	MaxElements   = 60
	MaxHeadings   = 20
	MaxLabelChars = 50
	MaxTextNodes  = 500
)

// Marker attributes written onto interactable elements.
const (
	IDAttr    = "data-pilot-id"
	EpochAttr = "data-pilot-epoch"
)

// Placeholder texts for pages the agent cannot read.
const (
	RestrictedText = "Browser internal page - content access restricted."
	BlockedText    = "Script injection pending or blocked."
)

// Epoch identifies one extraction. Element ids are only valid while the
// epoch that assigned them is open.
type Epoch uint64

// Element kinds grouped by how they were discovered.
const (
	SourceInput     = "input"
	SourceClickable = "clickable"
)

// Element is one interactable control with its per-extraction id.
type Element struct {
	ID     int
	Label  string
	Kind   string
	Source string
}

// MarshalJSON keeps the field names the prompt has always used: inputs
// carry name/type, clickables carry text/tag.
func (e Element) MarshalJSON() ([]byte, error) {
	if e.Source == SourceInput {
		return json.Marshal(struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
			Type string `json:"type"`
		}{e.ID, e.Label, e.Kind})
	}
	return json.Marshal(struct {
		ID   int    `json:"id"`
		Text string `json:"text"`
		Tag  string `json:"tag"`
	}{e.ID, e.Label, e.Kind})
}

// Snapshot is the simplified view of a page sent to the model.
type Snapshot struct {
	Epoch        Epoch
	URL          string
	Title        string
	Text         string
	Interactable []Element
	Headings     []string
	Restricted   bool
}

// Placeholder builds the snapshot used when the page cannot be read.
func Placeholder(url, title, text string) *Snapshot {
	return &Snapshot{URL: url, Title: title, Text: text, Restricted: true}
}

// ElementsJSON renders the interactable list and headings for the prompt.
// Restricted snapshots render as an empty object.
func (s *Snapshot) ElementsJSON() json.RawMessage {
	if s == nil || s.Restricted {
		return json.RawMessage("{}")
	}
	interactable := s.Interactable
	if interactable == nil {
		interactable = []Element{}
	}
	headings := s.Headings
	if headings == nil {
		headings = []string{}
	}
	b, err := json.Marshal(struct {
		Interactable []Element `json:"interactable"`
		Headings     []string  `json:"headings"`
	}{interactable, headings})
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// Context converts the snapshot into the request context for a provider.
func (s *Snapshot) Context() llm.BrowserContext {
	if s == nil {
		return llm.BrowserContext{Elements: json.RawMessage("{}")}
	}
	return llm.BrowserContext{
		PageContent: s.Text,
		Elements:    s.ElementsJSON(),
		URL:         s.URL,
		Title:       s.Title,
	}
}

// Element returns the element with the given id, if listed.
func (s *Snapshot) Element(id int) (Element, bool) {
	for _, e := range s.Interactable {
		if e.ID == id {
			return e, true
		}
	}
	return Element{}, false
}

// Result reports what an execution did.
type Result struct {
	Action   llm.Action
	Resolved bool
	Skipped  string
	// Navigated is set when the page location changed.
	Navigated bool
}

// Extractor snapshots a page, opening a new epoch.
type Extractor interface {
	Extract(ctx context.Context) (*Snapshot, error)
}

// Executor applies one action to the page and closes the open epoch.
type Executor interface {
	Execute(ctx context.Context, action llm.Action) (Result, error)
}

// Overlay swaps visible text for translations and back.
type Overlay interface {
	TextNodes(ctx context.Context) ([]string, error)
	InjectTranslations(ctx context.Context, texts []string) error
	RevertTranslations(ctx context.Context) error
}

// Page is everything the agent needs from one tab.
type Page interface {
	Extractor
	Executor
	Overlay
	URL() string
}

var restrictedPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"edge://",
	"about:",
	"devtools://",
	"view-source:",
}

// IsRestricted reports whether scripts cannot run on the URL.
func IsRestricted(url string) bool {
	u := strings.ToLower(strings.TrimSpace(url))
	for _, p := range restrictedPrefixes {
		if strings.HasPrefix(u, p) {
			return true
		}
	}
	return false
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// LeadingSpace and TrailingSpace return the whitespace an overlay must
// preserve around a translated node.
func LeadingSpace(s string) string {
	return s[:len(s)-len(strings.TrimLeftFunc(s, unicode.IsSpace))]
}

func TrailingSpace(s string) string {
	return s[len(strings.TrimRightFunc(s, unicode.IsSpace)):]
}

// Translatable reports whether a text node is worth translating.
func Translatable(text string) bool {
	return len([]rune(strings.TrimSpace(text))) > 1
}
