package zoom

import (
	"fmt"
	"strings"
	"time"

	syncerr "github.com/otherjamesbrown/meetsync/pkg/errors"
	"github.com/otherjamesbrown/meetsync/pkg/meeting"
	"github.com/otherjamesbrown/meetsync/pkg/sources/browser"
)

var (
	rowCascade = browser.Cascade{
		browser.Selector("tr.zm-table__row.normal-row"),
		browser.Selector("tr.zm-table__row"),
		browser.Selector(".zm-table__body tr"),
		browser.Selector("table tbody tr"),
	}

	titleFallbacks = browser.Cascade{
		browser.Selector("td:nth-child(2) .cell"),
		browser.Selector("[class*='topic']"),
		browser.Selector("[class*='title']"),
	}

	dateCells = browser.Cascade{
		browser.Selector("td:nth-child(5) .cell"),
		browser.Selector("[aria-describedby*='column_5'] .cell"),
		browser.Selector("[class*='date']"),
		browser.Selector("time"),
	}

	detailLinks = browser.Cascade{
		browser.Selector("button.topic-link"),
		browser.Selector("[class*='topic-link']"),
		browser.Selector("td:nth-child(2) button"),
		browser.Selector("a[href*='summary']"),
		browser.Selector("a[href*='meeting']"),
	}
)

const maxKeyTitle = 50

// row is one listed meeting. The element belongs to the snapshot it was
// parsed from and is only used to address the row's detail link.
type row struct {
	index  int
	key    string
	legacy string
	title  string
	date   time.Time
	number string
	host   string
	el     *browser.Element
}

// parseRow reads a listing row. A row whose date cannot be resolved is
// malformed; header rows fall out here too.
func parseRow(el *browser.Element, index int, loc *time.Location) (*row, error) {
	r := &row{index: index, el: el}

	if btn := el.Query("button.topic-link"); btn != nil {
		if label, ok := btn.Attr("aria-label"); ok && strings.TrimSpace(label) != "" {
			r.title = strings.TrimSpace(label)
		} else {
			r.title = btn.Text()
		}
	}
	if r.title == "" {
		r.title = titleFallbacks.FirstText(el, func(s string) bool { return s != "Topic" })
	}
	if r.title == "" {
		r.title = meeting.Zoom.PlaceholderTitle()
	}

	dateCells.FirstText(el, func(s string) bool {
		if strings.Contains(s, "MM/DD") {
			return false
		}
		t, err := meeting.ParseHumanDate(s, loc)
		if err != nil {
			return false
		}
		r.date = t
		return true
	})
	if r.date.IsZero() {
		return nil, syncerr.MalformedRecord(string(meeting.Zoom), fmt.Sprintf("row %d (%q) has no parseable date", index, r.title))
	}

	if cell := el.Query("td:nth-child(3) .cell"); cell != nil {
		r.number = strings.ReplaceAll(cell.Text(), " ", "")
	}
	if cell := el.Query("td:nth-child(4) .cell"); cell != nil {
		r.host = cell.Text()
	}

	r.key = identityKey(r.number, r.date, r.title)
	if r.number != "" {
		r.legacy = "zoom_" + r.number
	}
	return r, nil
}

// identityKey is zoom_<meeting number>_<YYYYMMDDHHMM UTC>, or
// zoom_<YYYYMMDD>_<title prefix> when the listing shows no number. Recurring
// meetings share a number, so the start time tells occurrences apart.
func identityKey(number string, date time.Time, title string) string {
	if number != "" {
		return "zoom_" + number + "_" + date.UTC().Format("200601021504")
	}
	runes := []rune(title)
	if len(runes) > maxKeyTitle {
		runes = runes[:maxKeyTitle]
	}
	return fmt.Sprintf("zoom_%s_%s", date.Format("20060102"), string(runes))
}

// parseRows parses every matched row. Malformed rows keep their slot with an
// empty key so positions line up with the page.
func parseRows(els []*browser.Element, loc *time.Location) (rows []*row, keys []string, bad []error) {
	keys = make([]string, len(els))
	for i, el := range els {
		r, err := parseRow(el, i, loc)
		if err != nil {
			bad = append(bad, err)
			continue
		}
		keys[i] = r.key
		rows = append(rows, r)
	}
	return rows, keys, bad
}
