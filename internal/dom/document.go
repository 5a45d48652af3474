// Package dom implements page.Page over a parsed HTML document. It backs
// the "static" browser driver and gives the agent a deterministic page to
// run against in tests.
package dom

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/nbenliogludev/go-page-pilot/internal/page"
)

const defaultViewportHeight = 800

// Event is one DOM event the document dispatched.
type Event struct {
	Type   string
	Target string // value of the element's marker id, or "window"
	Key    string
	Value  string
}

// Loader fetches a new document for NAVIGATE and followed links.
type Loader interface {
	Load(ctx context.Context, url string) (io.ReadCloser, string, error)
}

type textRecord struct {
	node     *html.Node
	original string
}

// Document is a mutable in-memory page.
type Document struct {
	mu sync.Mutex

	root   *html.Node
	url    string
	loader Loader
	logger *zap.Logger

	epoch     page.Epoch
	epochOpen bool

	viewportHeight int
	scrollY        int

	events  []Event
	records []textRecord
}

type Option func(*Document)

func WithLoader(l Loader) Option { return func(d *Document) { d.loader = l } }

func WithLogger(l *zap.Logger) Option { return func(d *Document) { d.logger = l } }

func WithViewportHeight(h int) Option { return func(d *Document) { d.viewportHeight = h } }

// Parse builds a Document from HTML markup.
func Parse(r io.Reader, url string, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	d := &Document{
		root:           root,
		url:            url,
		logger:         zap.NewNop(),
		viewportHeight: defaultViewportHeight,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// ParseString is Parse for literal markup.
func ParseString(markup, url string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(markup), url, opts...)
}

// Open loads url through the loader and parses it.
func Open(ctx context.Context, loader Loader, url string, opts ...Option) (*Document, error) {
	body, finalURL, err := loader.Load(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return Parse(body, finalURL, append([]Option{WithLoader(loader)}, opts...)...)
}

func (d *Document) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// Epoch returns the current epoch and whether it is still open.
func (d *Document) Epoch() (page.Epoch, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.epoch, d.epochOpen
}

func (d *Document) ScrollY() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scrollY
}

// Events returns a copy of the dispatched events in order.
func (d *Document) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

// HTML renders the current document.
func (d *Document) HTML() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return ""
	}
	return buf.String()
}

// BodyText returns the visible text of the body, one line per text node.
func (d *Document) BodyText() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return innerText(findFirst(d.root, atom.Body))
}

func (d *Document) dispatch(ev Event) {
	d.events = append(d.events, ev)
}

func (d *Document) replace(root *html.Node, url string) {
	d.root = root
	d.url = url
	d.scrollY = 0
	d.epochOpen = false
	d.records = nil
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	v, _ := getAttr(n, key)
	return v
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, keys ...string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		drop := false
		for _, k := range keys {
			if a.Namespace == "" && a.Key == k {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

func walk(n *html.Node, fn func(*html.Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func findFirst(root *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.Type == html.ElementNode && n.DataAtom == a {
			found = n
			return false
		}
		return true
	})
	return found
}

// hiddenSelf reports whether the element itself is removed from layout.
func hiddenSelf(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if _, ok := getAttr(n, "hidden"); ok {
		return true
	}
	style := strings.ToLower(strings.ReplaceAll(attr(n, "style"), " ", ""))
	if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
		return true
	}
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head:
		return true
	}
	return false
}

// visible reports whether the element and all its ancestors render.
func visible(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if hiddenSelf(cur) {
			return false
		}
	}
	return true
}

// innerText collects visible descendant text, one trimmed line per node.
func innerText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var lines []string
	walk(n, func(c *html.Node) bool {
		if hiddenSelf(c) {
			return false
		}
		if c.Type == html.TextNode {
			if t := collapse(c.Data); t != "" {
				lines = append(lines, t)
			}
		}
		return true
	})
	return strings.Join(lines, "\n")
}

// collapse squeezes whitespace runs to single spaces and trims.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func textContent(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}
