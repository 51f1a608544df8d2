package googlemeet

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/otherjamesbrown/meetsync/pkg/sources/browser"
)

// docLinks finds Drive entries that may be Google Docs. Every strategy is
// applied; results are merged by document id.
var docLinks = browser.Cascade{
	browser.Selector(`a[href*="docs.google.com/document"]`),
	browser.Selector("[data-id]"),
	browser.Selector("[data-tooltip][data-id]"),
}

var (
	docIDRe        = regexp.MustCompile(`/document/d/([a-zA-Z0-9_-]+)`)
	docsSuffixRe   = regexp.MustCompile(`\s*Google Docs\s*$`)
	geminiSuffixRe = regexp.MustCompile(`(?i)\s*-\s*Notes by Gemini\s*$`)
)

// Drive chrome that carries data-id attributes but is not a document.
var navTitles = map[string]bool{
	"my drive":       true,
	"shared with me": true,
	"recent":         true,
	"starred":        true,
	"trash":          true,
}

// docRef is one document found in a Drive listing.
type docRef struct {
	id    string
	title string
	href  string
}

// docFromElement reads a document id and title from a Drive anchor or a
// data-id tile. ok is false when either is missing.
func docFromElement(el *browser.Element) (docRef, bool) {
	var d docRef
	if href, ok := el.Attr("href"); ok {
		m := docIDRe.FindStringSubmatch(href)
		if m == nil {
			return d, false
		}
		d.id, d.href = m[1], href
		d.title = el.Text()
		if d.title == "" {
			d.title = attr(el, "aria-label")
		}
	} else {
		d.id = strings.TrimSpace(attr(el, "data-id"))
		if child := el.Query("[data-tooltip]"); child != nil {
			d.title = attr(child, "data-tooltip")
		}
		if d.title == "" {
			d.title = attr(el, "data-tooltip")
		}
		if d.title == "" {
			d.title = attr(el, "aria-label")
		}
	}
	d.title = docsSuffixRe.ReplaceAllString(strings.TrimSpace(d.title), "")
	return d, d.id != "" && d.title != ""
}

func attr(el *browser.Element, name string) string {
	v, _ := el.Attr(name)
	return strings.TrimSpace(v)
}

// collectDocs returns every document in the listing, first occurrence of an
// id winning.
func collectDocs(root *browser.Element) []docRef {
	var out []docRef
	seen := map[string]bool{}
	for _, el := range docLinks.All(root) {
		d, ok := docFromElement(el)
		if !ok || seen[d.id] {
			continue
		}
		seen[d.id] = true
		out = append(out, d)
	}
	return out
}

// merge appends the refs of later lists whose ids are new.
func merge(lists ...[]docRef) []docRef {
	var out []docRef
	seen := map[string]bool{}
	for _, l := range lists {
		for _, d := range l {
			if seen[d.id] {
				continue
			}
			seen[d.id] = true
			out = append(out, d)
		}
	}
	return out
}

func isNavTitle(title string) bool {
	return navTitles[strings.ToLower(strings.TrimSpace(title))]
}

// displayTitle drops the "- Notes by Gemini" suffix Drive shows on notes.
func displayTitle(title string) string {
	return strings.TrimSpace(geminiSuffixRe.ReplaceAllString(title, ""))
}

type datePattern struct {
	re      *regexp.Regexp
	layouts []string
}

// Patterns are tried in order; the first that parses wins. Go's regexp has
// no lookahead, so the two-digit-year form consumes one trailing non-digit.
var datePatterns = []datePattern{
	{regexp.MustCompile(`\d{4}/\d{2}/\d{2}`), []string{"2006/01/02"}},
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}`), []string{"2006-01-02"}},
	{regexp.MustCompile(`[A-Za-z]{3,9}\s+\d{1,2},?\s+\d{4}`), []string{"Jan 2 2006", "January 2 2006"}},
	{regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`), []string{"1/2/2006"}},
	{regexp.MustCompile(`(\d{1,2}/\d{1,2}/\d{2})(?:\D|$)`), []string{"1/2/06"}},
}

var clockRe = regexp.MustCompile(`^\s*,?\s*(?:at\s+)?(\d{1,2}):(\d{2})(?:\s*([AaPp][Mm]))?\b`)

// parseTitleDate finds the meeting date in a document title, with the time
// of day when one directly follows. Any zone abbreviation is ignored and the
// wall clock is read in loc.
func parseTitleDate(title string, loc *time.Location) (time.Time, bool) {
	for _, p := range datePatterns {
		idx := p.re.FindStringSubmatchIndex(title)
		if idx == nil {
			continue
		}
		start, end := idx[0], idx[1]
		if len(idx) >= 4 && idx[2] >= 0 {
			start, end = idx[2], idx[3]
		}
		text := strings.Join(strings.Fields(strings.ReplaceAll(title[start:end], ",", " ")), " ")

		for _, layout := range p.layouts {
			d, err := time.ParseInLocation(layout, text, loc)
			if err != nil {
				continue
			}
			h, m := clockAfter(title[end:])
			return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc), true
		}
	}
	return time.Time{}, false
}

// clockAfter reads an HH:MM time (optionally AM/PM) at the start of rest.
func clockAfter(rest string) (hour, minute int) {
	m := clockRe.FindStringSubmatch(rest)
	if m == nil {
		return 0, 0
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	switch strings.ToLower(m[3]) {
	case "pm":
		if h < 12 {
			h += 12
		}
	case "am":
		if h == 12 {
			h = 0
		}
	}
	if h > 23 || mm > 59 {
		return 0, 0
	}
	return h, mm
}
