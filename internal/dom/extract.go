package dom

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/nbenliogludev/go-page-pilot/internal/page"
)

// Extract clears old markers, opens a new epoch and lists visible inputs
// followed by visible labelled clickables.
func (d *Document) Extract(ctx context.Context) (*page.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	title := collapse(textContent(findFirst(d.root, atom.Title)))
	if page.IsRestricted(d.url) {
		return page.Placeholder(d.url, title, page.RestrictedText), nil
	}
	body := findFirst(d.root, atom.Body)
	if body == nil {
		return page.Placeholder(d.url, title, page.BlockedText), nil
	}

	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			removeAttr(n, page.IDAttr, page.EpochAttr)
		}
		return true
	})
	d.epoch++
	d.epochOpen = true
	epoch := strconv.FormatUint(uint64(d.epoch), 10)

	snap := &page.Snapshot{
		Epoch: d.epoch,
		URL:   d.url,
		Title: title,
		Text:  page.Truncate(innerText(body), page.MaxTextChars),
	}

	mark := func(n *html.Node, label, kind, source string) {
		id := len(snap.Interactable) + 1
		setAttr(n, page.IDAttr, strconv.Itoa(id))
		setAttr(n, page.EpochAttr, epoch)
		snap.Interactable = append(snap.Interactable, page.Element{
			ID:     id,
			Label:  page.Truncate(label, page.MaxLabelChars),
			Kind:   kind,
			Source: source,
		})
	}

	walk(body, func(n *html.Node) bool {
		if len(snap.Interactable) >= page.MaxElements {
			return false
		}
		if isInput(n) && visible(n) {
			mark(n, inputLabel(n), inputKind(n), page.SourceInput)
		}
		return true
	})

	walk(body, func(n *html.Node) bool {
		if len(snap.Interactable) >= page.MaxElements {
			return false
		}
		if !isClickable(n) || !visible(n) {
			return true
		}
		if _, marked := getAttr(n, page.IDAttr); marked {
			return true
		}
		if label := clickableLabel(n); label != "" {
			mark(n, label, n.Data, page.SourceClickable)
		}
		return true
	})

	snap.Headings = headings(body)
	return snap, nil
}

func isInput(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Input:
		return !strings.EqualFold(attr(n, "type"), "hidden")
	case atom.Textarea, atom.Select:
		return true
	}
	return false
}

func isClickable(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	return n.DataAtom == atom.Button || n.DataAtom == atom.A || strings.EqualFold(attr(n, "role"), "button")
}

func inputLabel(n *html.Node) string {
	for _, key := range []string{"placeholder", "name", "id", "value", "aria-label"} {
		if v := attr(n, key); v != "" {
			return v
		}
	}
	return "input"
}

func inputKind(n *html.Node) string {
	if t := attr(n, "type"); t != "" && n.DataAtom == atom.Input {
		return strings.ToLower(t)
	}
	if n.DataAtom == atom.Input {
		return "text"
	}
	return n.Data
}

func clickableLabel(n *html.Node) string {
	if t := collapse(innerText(n)); t != "" {
		return t
	}
	if v := strings.TrimSpace(attr(n, "value")); v != "" {
		return v
	}
	return strings.TrimSpace(attr(n, "aria-label"))
}

// headings returns up to MaxHeadings h1-h3 texts, deduplicated in order.
func headings(body *html.Node) []string {
	var all []*html.Node
	walk(body, func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.H1, atom.H2, atom.H3:
				all = append(all, n)
			}
		}
		return true
	})
	if len(all) > page.MaxHeadings {
		all = all[:page.MaxHeadings]
	}

	seen := make(map[string]bool, len(all))
	var out []string
	for _, h := range all {
		t := collapse(innerText(h))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
