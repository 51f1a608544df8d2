package heypocket

import (
	"sort"
	"strconv"
	"strings"
	"time"

	syncerr "github.com/otherjamesbrown/meetsync/pkg/errors"
	"github.com/otherjamesbrown/meetsync/pkg/meeting"
)

var (
	summaryKeys = []string{"v2_summary", "summary", "brief_summary", "detailed_summary"}
	textKeys    = []string{"markdown", "text", "content"}
	timeKeys    = []string{"recorded_at", "created_at", "updated_at"}
)

// recordID returns the record's id as a string; numeric ids are formatted
// without a fraction.
func recordID(rec map[string]any) string {
	switch v := rec["id"].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// toMeeting maps an API record to a canonical meeting. detailURL becomes the
// raw source reference.
func toMeeting(rec map[string]any, detailURL string) (*meeting.Meeting, error) {
	id := recordID(rec)
	if id == "" {
		return nil, syncerr.MalformedRecord(string(meeting.Heypocket), "recording missing id")
	}

	occurred, ok := recordTime(rec)
	if !ok {
		return nil, syncerr.MalformedRecord(string(meeting.Heypocket), "recording "+id+" has no parseable recorded_at, created_at or updated_at")
	}

	title, _ := rec["title"].(string)
	if strings.TrimSpace(title) == "" {
		title = meeting.Heypocket.PlaceholderTitle()
	}

	return meeting.New(meeting.Fields{
		Platform:        meeting.Heypocket,
		ExternalID:      id,
		Title:           title,
		OccurredAt:      occurred,
		DurationMinutes: durationMinutes(rec["duration"]),
		Summary:         extractSummary(rec["summarizations"]),
		RawSourceRef:    detailURL,
		Tags:            recordTags(rec["tags"]),
	})
}

func recordTime(rec map[string]any) (time.Time, bool) {
	for _, k := range timeKeys {
		s, ok := rec[k].(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		if t, err := meeting.ParseAPITime(s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func durationMinutes(v any) *int {
	var secs float64
	switch d := v.(type) {
	case float64:
		secs = d
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(d), 64)
		if err != nil {
			return nil
		}
		secs = f
	default:
		return nil
	}
	if mins := int(secs / 60); mins > 0 {
		return &mins
	}
	return nil
}

// extractSummary returns the first non-empty summary text. Transcript fields
// are never read.
func extractSummary(v any) string {
	switch s := v.(type) {
	case map[string]any:
		for _, k := range summaryKeys {
			if text := textOf(s[k]); text != "" {
				return text
			}
		}
		// Unknown summary kinds, in stable order.
		keys := make([]string, 0, len(s))
		for k := range s {
			if strings.Contains(strings.ToLower(k), "transcript") {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if text := textOf(s[k]); text != "" {
				return text
			}
		}
	case []any:
		for _, item := range s {
			switch e := item.(type) {
			case string:
				if t := strings.TrimSpace(e); t != "" {
					return t
				}
			case map[string]any:
				if typ, _ := e["type"].(string); strings.Contains(strings.ToLower(typ), "transcript") {
					continue
				}
				if t, _ := e["text"].(string); strings.TrimSpace(t) != "" {
					return strings.TrimSpace(t)
				}
			}
		}
	}
	return ""
}

func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		for _, k := range textKeys {
			if s, ok := t[k].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func recordTags(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var tags []string
	for _, item := range list {
		switch t := item.(type) {
		case string:
			tags = append(tags, t)
		case map[string]any:
			if name, ok := t["name"].(string); ok {
				tags = append(tags, name)
			}
		}
	}
	return tags
}

// hasSummarizations reports whether a list record already carries summaries.
func hasSummarizations(rec map[string]any) bool {
	switch s := rec["summarizations"].(type) {
	case map[string]any:
		return len(s) > 0
	case []any:
		return len(s) > 0
	case string:
		return strings.TrimSpace(s) != ""
	}
	return false
}
