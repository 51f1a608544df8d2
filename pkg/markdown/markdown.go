// Package markdown turns scraped or exported HTML into the markdown stored in
// vault notes.
package markdown

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/go-shiori/go-readability"
	"github.com/jaytaylor/html2text"
	"github.com/microcosm-cc/bluemonday"
)

// Converter sanitizes HTML and renders it as markdown.
type Converter struct {
	policy     *bluemonday.Policy
	stripTags  *bluemonday.Policy
	markdowner *md.Converter
}

// NewConverter returns a Converter producing ATX headings and '-' bullets.
func NewConverter() *Converter {
	conv := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		EmDelimiter:      "*",
		StrongDelimiter:  "**",
	})
	conv.Remove("script", "style", "noscript", "iframe", "svg", "button", "nav")

	return &Converter{
		policy:     bluemonday.UGCPolicy(),
		stripTags:  bluemonday.StripTagsPolicy(),
		markdowner: conv,
	}
}

// FromHTML sanitizes rawHTML and converts it to tidy markdown.
func (c *Converter) FromHTML(rawHTML string) (string, error) {
	if strings.TrimSpace(rawHTML) == "" {
		return "", nil
	}
	cleaned := c.policy.Sanitize(rawHTML)
	out, err := c.markdowner.ConvertString(cleaned)
	if err != nil {
		return "", fmt.Errorf("convert html to markdown: %w", err)
	}
	return Tidy(out), nil
}

// PlainText renders rawHTML as plain text with block structure kept as line breaks.
func (c *Converter) PlainText(rawHTML string) (string, error) {
	if strings.TrimSpace(rawHTML) == "" {
		return "", nil
	}
	text, err := html2text.FromString(c.policy.Sanitize(rawHTML), html2text.Options{OmitLinks: true})
	if err != nil {
		return Tidy(c.stripTags.Sanitize(rawHTML)), nil
	}
	return Tidy(text), nil
}

// Readable extracts the main content block of a full page and converts it to
// markdown. pageURL resolves relative links and may be empty.
func (c *Converter) Readable(rawHTML, pageURL string) (string, error) {
	if strings.TrimSpace(rawHTML) == "" {
		return "", nil
	}
	base, err := url.Parse(pageURL)
	if err != nil || pageURL == "" {
		base = &url.URL{Scheme: "https", Host: "localhost"}
	}

	article, err := readability.FromReader(strings.NewReader(c.policy.Sanitize(rawHTML)), base)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	if strings.TrimSpace(article.Content) == "" {
		return Tidy(article.TextContent), nil
	}
	return c.FromHTML(article.Content)
}

var (
	excessBlankLines = regexp.MustCompile(`\n{3,}`)
	trailingSpace    = regexp.MustCompile(`[ \t]+\n`)
)

// Tidy normalizes line endings, strips trailing whitespace, collapses runs of
// blank lines to one, and trims the result.
func Tidy(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = trailingSpace.ReplaceAllString(s, "\n")
	s = excessBlankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

var bareURL = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// LinkifyURLs wraps bare http(s) URLs as [url](url). URLs that are already
// the target or the text of a markdown link, or inside angle brackets, are left alone.
func LinkifyURLs(s string) string {
	matches := bareURL.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + len(matches)*16)
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if start > 0 {
			switch s[start-1] {
			case '(', '[', '<':
				continue
			}
		}
		u := strings.TrimRight(s[start:end], ".,;:!?")
		end = start + len(u)
		b.WriteString(s[last:start])
		b.WriteString("[" + u + "](" + u + ")")
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}
