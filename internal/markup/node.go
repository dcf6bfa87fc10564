// Package markup exposes the small read-only tree-query surface the catalog
// extractors depend on, backed by goquery.
package markup

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Node is a read-only view of one element (or document) in parsed markup.
type Node interface {
	// Find returns the first descendant matching selector.
	Find(selector string) (Node, bool)
	// FindAll returns every descendant matching selector in document order.
	FindAll(selector string) []Node
	// Attr reads an attribute; ok is false when the attribute is absent.
	Attr(name string) (string, bool)
	// Text concatenates the text of all descendants.
	Text() string
}

// ErrUnreadable marks markup that could not be parsed at all.
var ErrUnreadable = errors.New("unreadable markup")

type selectionNode struct {
	sel *goquery.Selection
}

// Parse reads a full HTML document.
func Parse(text string) (Node, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	return selectionNode{sel: doc.Selection}, nil
}

// FromSelection wraps an existing goquery selection, such as colly's HTMLElement.DOM.
func FromSelection(sel *goquery.Selection) Node {
	return selectionNode{sel: sel}
}

func (n selectionNode) Find(selector string) (Node, bool) {
	found := n.sel.Find(selector).First()
	if found.Length() == 0 {
		return nil, false
	}
	return selectionNode{sel: found}, true
}

func (n selectionNode) FindAll(selector string) []Node {
	found := n.sel.Find(selector)
	out := make([]Node, 0, found.Length())
	found.Each(func(_ int, s *goquery.Selection) {
		out = append(out, selectionNode{sel: s})
	})
	return out
}

func (n selectionNode) Attr(name string) (string, bool) {
	return n.sel.Attr(name)
}

func (n selectionNode) Text() string {
	return n.sel.Text()
}

// Classes returns the node's class list in document order. A node without a
// class attribute yields an empty, non-nil slice.
func Classes(n Node) []string {
	raw, ok := n.Attr("class")
	if !ok {
		return []string{}
	}
	return strings.Fields(raw)
}
