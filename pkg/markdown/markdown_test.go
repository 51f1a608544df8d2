package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHTML(t *testing.T) {
	c := NewConverter()

	html := `<html><head><style>.c1{color:red}</style><script>alert(1)</script></head>
<body><h2 class="c1" id="h.x">Summary</h2>
<p>We <strong>agreed</strong> on the plan.</p>
<ul><li>Ship v2</li><li>Hire a designer</li></ul></body></html>`

	got, err := c.FromHTML(html)
	require.NoError(t, err)

	assert.Contains(t, got, "## Summary")
	assert.Contains(t, got, "We **agreed** on the plan.")
	assert.Contains(t, got, "- Ship v2")
	assert.Contains(t, got, "- Hire a designer")
	assert.NotContains(t, got, "alert")
	assert.NotContains(t, got, "color:red")
}

func TestFromHTML_Empty(t *testing.T) {
	got, err := NewConverter().FromHTML("  ")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPlainText(t *testing.T) {
	got, err := NewConverter().PlainText(`<div><p>First paragraph.</p><p>Second paragraph.</p></div>`)
	require.NoError(t, err)
	assert.Contains(t, got, "First paragraph.")
	assert.Contains(t, got, "Second paragraph.")
	assert.NotContains(t, got, "<p>")
}

func TestReadable(t *testing.T) {
	body := strings.Repeat("The team discussed the quarterly roadmap and agreed on three priorities for the launch. ", 8)
	page := `<html><head><title>Meeting</title></head><body>
<nav><a href="/a">Home</a><a href="/b">Settings</a></nav>
<article><h1>Meeting recap</h1><p>` + body + `</p><p>` + body + `</p></article>
<footer>Copyright</footer></body></html>`

	got, err := NewConverter().Readable(page, "https://zoom.us/summary/1")
	require.NoError(t, err)
	assert.Contains(t, got, "quarterly roadmap")
}

func TestTidy(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf", "a\r\nb", "a\nb"},
		{"collapse blank lines", "a\n\n\n\n\nb", "a\n\nb"},
		{"trailing spaces", "a   \nb\t\n", "a\nb"},
		{"nbsp", "a\u00a0b", "a b"},
		{"trim", "\n\n  text  \n\n", "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tidy(tt.in))
		})
	}
}

func TestLinkifyURLs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare url", "See https://example.com/doc for details", "See [https://example.com/doc](https://example.com/doc) for details"},
		{"trailing period", "Notes at https://example.com.", "Notes at [https://example.com](https://example.com)."},
		{"already linked", "[docs](https://example.com)", "[docs](https://example.com)"},
		{"url as link text", "[https://example.com](https://example.com)", "[https://example.com](https://example.com)"},
		{"angle brackets", "<https://example.com>", "<https://example.com>"},
		{"two urls", "http://a.io and http://b.io", "[http://a.io](http://a.io) and [http://b.io](http://b.io)"},
		{"no url", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LinkifyURLs(tt.in))
		})
	}
}
