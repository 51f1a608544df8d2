package browser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Kind tags how a Strategy locates elements.
type Kind int

const (
	// BySelector matches a CSS selector.
	BySelector Kind = iota
	// ByText matches elements whose text contains a pattern, ignoring case.
	ByText
	// ByAttr matches elements whose attribute contains a value.
	ByAttr
)

func (k Kind) String() string {
	switch k {
	case BySelector:
		return "selector"
	case ByText:
		return "text"
	case ByAttr:
		return "attr"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Strategy is one way of locating elements on a page.
type Strategy struct {
	Kind     Kind
	Selector string
	// Text is the ByText pattern.
	Text string
	// Attr and Value are the ByAttr pair.
	Attr  string
	Value string
	// Exact requires the whole text to equal Text for ByText.
	Exact bool
}

// Selector returns a BySelector strategy.
func Selector(css string) Strategy {
	return Strategy{Kind: BySelector, Selector: css}
}

// Text returns a ByText strategy over elements matching css ("*" when empty).
func Text(css, text string) Strategy {
	if css == "" {
		css = "*"
	}
	return Strategy{Kind: ByText, Selector: css, Text: text}
}

// ExactText is Text with whole-string matching.
func ExactText(css, text string) Strategy {
	s := Text(css, text)
	s.Exact = true
	return s
}

// Attr returns a ByAttr strategy over elements matching css.
func Attr(css, attr, value string) Strategy {
	if css == "" {
		css = "*"
	}
	return Strategy{Kind: ByAttr, Selector: css, Attr: attr, Value: value}
}

// String names the strategy in logs and errors.
func (s Strategy) String() string {
	switch s.Kind {
	case ByText:
		if s.Exact {
			return fmt.Sprintf("text(%s=%q)", s.Selector, s.Text)
		}
		return fmt.Sprintf("text(%s~%q)", s.Selector, s.Text)
	case ByAttr:
		return fmt.Sprintf("attr(%s[%s*=%q])", s.Selector, s.Attr, s.Value)
	}
	return "selector(" + s.Selector + ")"
}

// Find returns the elements under root that the strategy matches.
func (s Strategy) Find(root *Element) []*Element {
	candidates := root.QueryAll(s.Selector)
	switch s.Kind {
	case ByText:
		want := strings.ToLower(strings.TrimSpace(s.Text))
		var out []*Element
		for _, el := range candidates {
			got := strings.ToLower(el.Text())
			if (s.Exact && got == want) || (!s.Exact && strings.Contains(got, want)) {
				out = append(out, el)
			}
		}
		return innermost(out)
	case ByAttr:
		var out []*Element
		for _, el := range candidates {
			if v, ok := el.Attr(s.Attr); ok && strings.Contains(v, s.Value) {
				out = append(out, el)
			}
		}
		return out
	}
	return candidates
}

// Target addresses the i-th element the strategy matches on the live page.
func (s Strategy) Target(i int) Target {
	t := Target{Selector: s.Selector, Index: i}
	switch s.Kind {
	case ByText:
		t.Text, t.Exact = s.Text, s.Exact
	case ByAttr:
		t.Attr, t.Value = s.Attr, s.Value
	}
	return t
}

// innermost drops elements that contain another match, so a text search over
// "*" yields the element holding the text rather than every ancestor.
func innermost(els []*Element) []*Element {
	out := els[:0:0]
	for i, el := range els {
		contains := false
		for j, other := range els {
			if i != j && isAncestor(el, other) {
				contains = true
				break
			}
		}
		if !contains {
			out = append(out, el)
		}
	}
	return out
}

func isAncestor(a, b *Element) bool {
	for p := b.n.Parent; p != nil; p = p.Parent {
		if p == a.n {
			return true
		}
	}
	return false
}

// Cascade is an ordered list of strategies; the first with a match wins.
type Cascade []Strategy

// Match is the winning strategy of a cascade run.
type Match struct {
	Strategy Strategy
	Elements []*Element
	// Tried lists every strategy attempted, the winner last.
	Tried []string
}

// Run applies the cascade under root. ok is false when no strategy matched, in
// which case m.Tried names every strategy attempted.
func (c Cascade) Run(root *Element) (m Match, ok bool) {
	for _, s := range c {
		m.Tried = append(m.Tried, s.String())
		if els := s.Find(root); len(els) > 0 {
			m.Strategy, m.Elements = s, els
			return m, true
		}
	}
	return m, false
}

// First returns the first element any strategy matches under root, or nil.
func (c Cascade) First(root *Element) *Element {
	if m, ok := c.Run(root); ok {
		return m.Elements[0]
	}
	return nil
}

// FirstText returns the trimmed text of the first match whose text passes
// accept. A nil accept takes any non-empty text.
func (c Cascade) FirstText(root *Element, accept func(string) bool) string {
	for _, s := range c {
		for _, el := range s.Find(root) {
			t := el.Text()
			if t == "" {
				continue
			}
			if accept == nil || accept(t) {
				return t
			}
		}
	}
	return ""
}

// All merges the matches of every strategy, dropping repeats.
func (c Cascade) All(root *Element) []*Element {
	seen := make(map[*html.Node]bool)
	var out []*Element
	for _, s := range c {
		for _, el := range s.Find(root) {
			if seen[el.n] {
				continue
			}
			seen[el.n] = true
			out = append(out, el)
		}
	}
	return out
}

// Strategy returns the strategy whose matches t indexes.
func (t Target) Strategy() Strategy {
	switch {
	case t.Text != "":
		return Strategy{Kind: ByText, Selector: t.Selector, Text: t.Text, Exact: t.Exact}
	case t.Attr != "":
		return Strategy{Kind: ByAttr, Selector: t.Selector, Attr: t.Attr, Value: t.Value}
	}
	return Selector(t.Selector)
}

// Resolve returns the element t addresses under root, or nil.
func (t Target) Resolve(root *Element) *Element {
	els := t.Strategy().Find(root)
	if t.Index < 0 || t.Index >= len(els) {
		return nil
	}
	return els[t.Index]
}

// TargetFor returns a Target addressing el among the page-wide matches of s.
func TargetFor(root *Element, s Strategy, el *Element) (Target, bool) {
	for i, cand := range s.Find(root) {
		if cand.n == el.n {
			return s.Target(i), true
		}
	}
	return Target{}, false
}

// ClickTarget resolves the first strategy of c matching under scope and
// returns the page-wide Target for that element.
func (c Cascade) ClickTarget(root, scope *Element) (Target, bool) {
	for _, s := range c {
		for _, el := range s.Find(scope) {
			if t, ok := TargetFor(root, s, el); ok {
				return t, true
			}
		}
	}
	return Target{}, false
}
