package browser

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Snapshot is a parsed copy of a page's DOM. Elements taken from a snapshot
// never refer back to the live page, so they stay valid across navigation.
type Snapshot struct {
	URL  string
	HTML string
	root *html.Node
}

// Parse builds a Snapshot from a page's outer HTML.
func Parse(pageURL, content string) (*Snapshot, error) {
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", pageURL, err)
	}
	return &Snapshot{URL: pageURL, HTML: content, root: root}, nil
}

// Root returns the document node.
func (s *Snapshot) Root() *Element {
	return &Element{n: s.root}
}

// QueryAll returns every element matching sel in document order.
func (s *Snapshot) QueryAll(sel string) []*Element {
	return s.Root().QueryAll(sel)
}

// Query returns the first element matching sel, or nil.
func (s *Snapshot) Query(sel string) *Element {
	return s.Root().Query(sel)
}

// Text returns the body's visible text.
func (s *Snapshot) Text() string {
	if body := s.Query("body"); body != nil {
		return body.InnerText()
	}
	return s.Root().InnerText()
}

// ContainsText reports whether the body text contains sub, ignoring case.
func (s *Snapshot) ContainsText(sub string) bool {
	return strings.Contains(strings.ToLower(s.Text()), strings.ToLower(sub))
}

// Element is a node of a Snapshot.
type Element struct {
	n *html.Node
}

// QueryAll returns descendants matching sel. An invalid selector matches nothing.
func (e *Element) QueryAll(sel string) []*Element {
	m, err := compile(sel)
	if err != nil {
		return nil
	}
	nodes := cascadia.QueryAll(e.n, m)
	out := make([]*Element, len(nodes))
	for i, n := range nodes {
		out[i] = &Element{n: n}
	}
	return out
}

// Query returns the first descendant matching sel, or nil.
func (e *Element) Query(sel string) *Element {
	m, err := compile(sel)
	if err != nil {
		return nil
	}
	if n := cascadia.Query(e.n, m); n != nil {
		return &Element{n: n}
	}
	return nil
}

// Closest returns the nearest element matching sel among e and its
// ancestors, or nil.
func (e *Element) Closest(sel string) *Element {
	m, err := compile(sel)
	if err != nil {
		return nil
	}
	for n := e.n; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && m.Match(n) {
			return &Element{n: n}
		}
	}
	return nil
}

// Attr returns the value of the named attribute.
func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// Text returns the element's text content with whitespace collapsed.
func (e *Element) Text() string {
	var b strings.Builder
	collectText(e.n, &b)
	return strings.Join(strings.Fields(b.String()), " ")
}

// InnerText approximates the browser's innerText: block elements start new
// lines and script or style content is dropped.
func (e *Element) InnerText() string {
	var b strings.Builder
	writeInnerText(e.n, &b)

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// OuterHTML renders the element including its own tag.
func (e *Element) OuterHTML() string {
	var buf bytes.Buffer
	_ = html.Render(&buf, e.n)
	return buf.String()
}

// InnerHTML renders the element's children.
func (e *Element) InnerHTML() string {
	var buf bytes.Buffer
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&buf, c)
	}
	return buf.String()
}

func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	case html.ElementNode:
		if skipText(n) {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

func writeInnerText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if skipText(n) {
			return
		}
		if n.DataAtom == atom.Br {
			b.WriteByte('\n')
			return
		}
	}

	block := n.Type == html.ElementNode && isBlock(n.DataAtom)
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeInnerText(c, b)
	}
	if block {
		b.WriteByte('\n')
	} else if n.Type == html.ElementNode && (n.DataAtom == atom.Td || n.DataAtom == atom.Th) {
		b.WriteByte(' ')
	}
}

func skipText(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head:
		return true
	}
	return false
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Li, atom.Ul, atom.Ol, atom.Tr, atom.Table,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Section, atom.Article, atom.Header, atom.Footer, atom.Nav,
		atom.Blockquote, atom.Pre, atom.Main, atom.Aside, atom.Form, atom.Dl, atom.Dt, atom.Dd:
		return true
	}
	return false
}

var selectorCache sync.Map

func compile(sel string) (cascadia.SelectorGroup, error) {
	if m, ok := selectorCache.Load(sel); ok {
		return m.(cascadia.SelectorGroup), nil
	}
	m, err := cascadia.ParseGroup(sel)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", sel, err)
	}
	selectorCache.Store(sel, m)
	return m, nil
}
