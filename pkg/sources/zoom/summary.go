package zoom

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/otherjamesbrown/meetsync/pkg/logging"
	"github.com/otherjamesbrown/meetsync/pkg/sources/browser"
)

const minSummaryLen = 100

var (
	summaryIframes = browser.Cascade{
		browser.Selector("iframe[src*='docs.zoom.us']"),
		browser.Selector("iframe[title*='Summary']"),
		browser.Selector("iframe[src*='zoom.us/doc']"),
	}

	companionTabs = browser.Cascade{
		browser.Text("[role='tab']", "AI Companion"),
		browser.Text("[role='tab']", "Summary"),
	}

	pageSummaries = browser.Cascade{
		browser.Selector(".summary-web-detail"),
		browser.Selector("[class*='summary-content']"),
		browser.Selector("[class*='summaryContent']"),
		browser.Selector("[class*='meeting-recap']"),
		browser.Selector("[class*='meetingRecap']"),
		browser.Selector("[class*='ai-companion'] [class*='content']"),
		browser.Selector("[class*='summary-detail'] [class*='content']"),
		browser.Selector("[data-testid*='summary-content']"),
		browser.Selector("[data-testid*='summary']"),
	}
)

// Zoom shows these while a summary is pending or was never produced.
var placeholderPhrases = []string{
	"summary was not generated",
	"insufficient transcript",
	"no summary is available",
	"summary is being generated",
	"processing your summary",
	"summary will be available",
}

var summaryWords = []string{
	"discussed", "meeting", "action items", "summary", "participants", "decided", "agreed",
}

var (
	idLineRe        = regexp.MustCompile(`^ID:\s*[\d\s]+$`)
	dateLineRe      = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}`)
	timeLineRe      = regexp.MustCompile(`(?i)^\d{1,2}:\d{2}\s*(AM|PM)?`)
	labelLineRe     = regexp.MustCompile(`(?i)^(Topic|Host|Duration|Meeting ID):`)
	sentencePunctRe = regexp.MustCompile(`[.?!]`)
)

// looksLikeSummary rejects placeholder messages and text that reads as
// meeting metadata rather than prose.
func looksLikeSummary(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range placeholderPhrases {
		if strings.Contains(lower, p) && len(text) < 200 {
			return false
		}
	}

	var meta, prose float64
	lines := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines++
		switch {
		case idLineRe.MatchString(line):
			meta += 2
		case dateLineRe.MatchString(line), timeLineRe.MatchString(line), labelLineRe.MatchString(line):
			meta++
		case len(line) < 20 && !sentencePunctRe.MatchString(line):
			meta += 0.5
		case strings.Contains(line, ".") && len(line) > 50:
			prose++
		case containsAny(strings.ToLower(line), summaryWords):
			prose++
		}
	}
	return lines > 0 && meta <= prose
}

var navLines = []string{
	"My Summaries", "Shared with me", "Trash", "Back to", "Share", "Delete", "Export",
	"Download", "Copy link", "Sign out", "Settings", "Profile", "Home", "Recordings", "Summaries",
}

var metadataLines = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^ID:\s*[\d\s\-]+$`),
	regexp.MustCompile(`(?i)^Meeting ID:\s*[\d\s\-]+$`),
	regexp.MustCompile(`^\d{3}\s+\d{4}\s+\d{4}$`),
	regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`),
	regexp.MustCompile(`(?i)^\d{1,2}:\d{2}\s*(AM|PM)?$`),
	regexp.MustCompile(`(?i)^Duration:\s*\d+`),
	regexp.MustCompile(`(?i)^Host:\s*\S+`),
	regexp.MustCompile(`(?i)^Topic:\s*`),
	regexp.MustCompile(`(?i)^\d+\s*min(utes?)?$`),
	regexp.MustCompile(`(?i)^Created:`),
}

// cleanSummaryText drops navigation and metadata lines from text scraped off
// the detail page. Content after a "Meeting Summary for" heading is kept even
// when short. When cleaning leaves under 50 characters the input is returned.
func cleanSummaryText(text string) string {
	var kept []string
	inSummary := false

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isNavLine(line) || isMetadataLine(line) {
			continue
		}
		if strings.Contains(line, "Meeting Summary for") {
			inSummary = true
			continue
		}
		if len(line) < 10 && !strings.ContainsAny(line, ".?!:") {
			continue
		}
		if len(line) > 20 || (inSummary && len(line) > 5) {
			kept = append(kept, line)
			inSummary = true
		}
	}

	out := strings.Join(kept, "\n")
	if len(out) < 50 {
		return text
	}
	return out
}

func isNavLine(line string) bool {
	for _, p := range navLines {
		if line == p || strings.HasPrefix(line, p+" ") {
			return true
		}
	}
	return false
}

func isMetadataLine(line string) bool {
	for _, re := range metadataLines {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// extractSummary reads one candidate summary from the detail page: the
// summary iframe's document first, then known page containers, then the
// page's readable content. It returns "" when nothing qualifies.
func (r *run) extractSummary(ctx context.Context, snap *browser.Snapshot) string {
	if text := r.iframeSummary(ctx, snap); text != "" {
		return text
	}

	for _, strategy := range pageSummaries {
		els := strategy.Find(snap.Root())
		if len(els) == 0 {
			continue
		}
		cleaned := cleanSummaryText(els[0].InnerText())
		if len(cleaned) > minSummaryLen && looksLikeSummary(cleaned) {
			r.sess.Logger().Debug("Found summary in page container", logging.F("strategy", strategy.String()))
			return cleaned
		}
	}

	readable, err := r.src.conv.Readable(snap.HTML, snap.URL)
	if err != nil {
		r.sess.Logger().Debug("Readability extraction failed", logging.Err(err))
		return ""
	}
	if cleaned := cleanSummaryText(readable); len(cleaned) > minSummaryLen && looksLikeSummary(cleaned) {
		return cleaned
	}
	return ""
}

// iframeSummary fetches the summary iframe's document with the browser's
// cookies and converts its body to markdown, falling back to plain text.
func (r *run) iframeSummary(ctx context.Context, snap *browser.Snapshot) string {
	if r.docs == nil {
		return ""
	}
	frame := summaryIframes.First(snap.Root())
	if frame == nil {
		return ""
	}
	src, ok := frame.Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return ""
	}
	src = resolveURL(snap.URL, src)

	body, err := r.docs.Get(ctx, src, nil)
	if err != nil {
		r.sess.Logger().Debug("Could not read summary iframe", logging.F("src", src), logging.Err(err))
		return ""
	}
	doc, err := browser.Parse(src, string(body))
	if err != nil {
		return ""
	}
	inner := doc.Root().InnerHTML()
	if b := doc.Query("body"); b != nil {
		inner = b.InnerHTML()
	}

	if md, err := r.src.conv.FromHTML(inner); err == nil && len(md) > minSummaryLen {
		return md
	}
	if text, err := r.src.conv.PlainText(inner); err == nil && len(text) > minSummaryLen {
		return text
	}
	return ""
}

func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
