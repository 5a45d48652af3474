package dom

import (
	"context"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/nbenliogludev/go-page-pilot/internal/page"
)

// TextNodes reverts any previous translation and records the body's
// translatable text nodes, returning their trimmed text.
func (d *Document) TextNodes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.revert()

	body := findFirst(d.root, atom.Body)
	var texts []string
	walk(body, func(n *html.Node) bool {
		if len(d.records) >= page.MaxTextNodes {
			return false
		}
		if n.Type != html.TextNode {
			return true
		}
		if p := n.Parent; p != nil && (p.DataAtom == atom.Script || p.DataAtom == atom.Style || p.DataAtom == atom.Noscript) {
			return true
		}
		if !page.Translatable(n.Data) {
			return true
		}
		d.records = append(d.records, textRecord{node: n, original: n.Data})
		texts = append(texts, strings.TrimSpace(n.Data))
		return true
	})
	return texts, nil
}

// InjectTranslations writes texts over the recorded nodes pairwise,
// keeping each node's surrounding whitespace.
func (d *Document) InjectTranslations(ctx context.Context, texts []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for i := 0; i < min(len(d.records), len(texts)); i++ {
		r := d.records[i]
		r.node.Data = page.LeadingSpace(r.original) + texts[i] + page.TrailingSpace(r.original)
	}
	return nil
}

// RevertTranslations restores every recorded node's original text.
func (d *Document) RevertTranslations(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.revert()
	return nil
}

func (d *Document) revert() {
	for _, r := range d.records {
		r.node.Data = r.original
	}
	d.records = nil
}
