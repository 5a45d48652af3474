package dom

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/nbenliogludev/go-page-pilot/internal/llm"
	"github.com/nbenliogludev/go-page-pilot/internal/page"
)

// Execute applies the action and closes the open epoch. Unresolvable ids
// and incomplete actions are reported in the result, never as errors.
func (d *Document) Execute(ctx context.Context, action llm.Action) (page.Result, error) {
	if err := ctx.Err(); err != nil {
		return page.Result{Action: action}, err
	}

	d.mu.Lock()
	res := page.Result{Action: action}
	var follow string

	switch {
	case action.Missing() != "":
		res.Skipped = "missing " + action.Missing()
	case action.Kind == llm.ActionScroll:
		d.scroll(action.ScrollDirection())
		res.Resolved = true
	case action.Kind == llm.ActionClick:
		el := d.resolve(action.ElementID)
		if el == nil {
			res.Skipped = fmt.Sprintf("element %d not found", action.ElementID)
			break
		}
		res.Resolved = true
		follow = d.click(el)
	case action.Kind == llm.ActionTypeInput:
		el := d.resolve(action.ElementID)
		if el == nil {
			res.Skipped = fmt.Sprintf("element %d not found", action.ElementID)
			break
		}
		res.Resolved = true
		d.typeInto(el, action.Text)
	case action.Kind == llm.ActionNavigate:
		res.Resolved = true
		follow = action.URL
	default:
		res.Skipped = "not executable on the page"
	}
	d.epochOpen = false
	d.mu.Unlock()

	if follow == "" {
		return res, nil
	}
	if err := d.navigate(ctx, follow); err != nil {
		res.Resolved = false
		res.Skipped = "navigation failed"
		return res, err
	}
	res.Navigated = true
	return res, nil
}

// resolve finds the element marked with id in the open epoch.
func (d *Document) resolve(id int) *html.Node {
	if !d.epochOpen {
		return nil
	}
	want := strconv.Itoa(id)
	epoch := strconv.FormatUint(uint64(d.epoch), 10)

	var found *html.Node
	walk(d.root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.Type == html.ElementNode && attr(n, page.IDAttr) == want && attr(n, page.EpochAttr) == epoch {
			found = n
			return false
		}
		return true
	})
	return found
}

func (d *Document) scroll(direction string) {
	delta := d.viewportHeight * 8 / 10
	if direction == llm.DirectionUp {
		delta = -delta
	}
	d.scrollY = max(0, d.scrollY+delta)
	d.dispatch(Event{Type: "scroll", Target: "window", Value: strconv.Itoa(d.scrollY)})
}

// click dispatches the click and returns the href to follow for links.
func (d *Document) click(el *html.Node) string {
	d.dispatch(Event{Type: "click", Target: attr(el, page.IDAttr)})
	if el.DataAtom != atom.A {
		return ""
	}
	href := strings.TrimSpace(attr(el, "href"))
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	return d.absolute(href)
}

func (d *Document) typeInto(el *html.Node, text string) {
	id := attr(el, page.IDAttr)
	d.dispatch(Event{Type: "focus", Target: id})

	if el.DataAtom == atom.Textarea {
		for c := el.FirstChild; c != nil; {
			next := c.NextSibling
			el.RemoveChild(c)
			c = next
		}
		el.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	} else {
		setAttr(el, "value", text)
	}

	d.dispatch(Event{Type: "input", Target: id, Value: text})
	d.dispatch(Event{Type: "change", Target: id, Value: text})
	d.dispatch(Event{Type: "keydown", Target: id, Key: "Enter"})
	d.dispatch(Event{Type: "keyup", Target: id, Key: "Enter"})
}

func (d *Document) absolute(ref string) string {
	base, err := url.Parse(d.url)
	if err != nil {
		return ref
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

// navigate replaces the document. Without a loader only the location
// changes and the page becomes empty.
func (d *Document) navigate(ctx context.Context, target string) error {
	d.mu.Lock()
	target = d.absolute(target)
	d.dispatch(Event{Type: "navigate", Target: "window", Value: target})
	loader := d.loader
	d.mu.Unlock()

	if loader == nil {
		root, _ := html.Parse(strings.NewReader("<html><head></head><body></body></html>"))
		d.mu.Lock()
		d.replace(root, target)
		d.mu.Unlock()
		return nil
	}

	body, finalURL, err := loader.Load(ctx, target)
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", target, err)
	}
	defer body.Close()

	root, err := html.Parse(body)
	if err != nil {
		return fmt.Errorf("parse %s: %w", finalURL, err)
	}

	d.mu.Lock()
	d.replace(root, finalURL)
	d.mu.Unlock()
	d.logger.Debug("navigated", zap.String("url", finalURL))
	return nil
}
