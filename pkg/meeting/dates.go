package meeting

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// humanLayouts are the date renderings seen in web listings, most specific first.
var humanLayouts = []string{
	"Jan 2, 2006 3:04 PM",
	"January 2, 2006 3:04 PM",
	"1/2/2006 3:04 PM",
	"2006-01-02 15:04",
	"Jan 2, 2006",
	"January 2, 2006",
	"1/2/2006",
}

var (
	monthDayYearRe = regexp.MustCompile(`(\w+ \d+, \d{4})`)
	slashDateRe    = regexp.MustCompile(`(\d{1,2}/\d{1,2}/\d{4})`)
)

// ParseHumanDate parses a date as displayed in a web UI. Wall-clock values are
// interpreted in loc. The first layout that parses wins; embedded dates are
// tried next and a permissive parser is the last resort.
func ParseHumanDate(text string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s := strings.Join(strings.Fields(text), " ")
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date text")
	}

	for _, layout := range humanLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}

	if m := monthDayYearRe.FindString(s); m != "" {
		for _, layout := range []string{"Jan 2, 2006", "January 2, 2006"} {
			if t, err := time.ParseInLocation(layout, m, loc); err == nil {
				return t, nil
			}
		}
	}
	if m := slashDateRe.FindString(s); m != "" {
		if t, err := time.ParseInLocation("1/2/2006", m, loc); err == nil {
			return t, nil
		}
	}

	t, err := dateparse.ParseIn(s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable date %q: %w", text, err)
	}
	return t, nil
}

// ParseAPITime parses an API timestamp. A trailing Z or explicit offset is
// honored; naive values are UTC.
func ParseAPITime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
