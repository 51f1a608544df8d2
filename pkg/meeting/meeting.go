// Package meeting defines the canonical meeting record every source adapter
// produces and every downstream component consumes.
package meeting

import (
	"fmt"
	"strings"
	"time"

	syncerr "github.com/otherjamesbrown/meetsync/pkg/errors"
)

// Meeting is the platform-neutral representation of one meeting summary.
type Meeting struct {
	Platform        Platform
	ExternalID      string
	Title           string
	OccurredAt      time.Time // UTC
	DurationMinutes *int
	Participants    []string
	SummaryMarkdown *string
	RawSourceRef    string
	Link            string
	Tags            []string
	// LegacyID is an older identity the ledger may hold for this meeting. It
	// is shared by other meetings, so it only matches together with OccurredAt.
	LegacyID        string
}

// Key uniquely identifies a meeting across all platforms.
type Key struct {
	Platform   Platform
	ExternalID string
}

func (k Key) String() string {
	return string(k.Platform) + "/" + k.ExternalID
}

// Fields are the raw values an adapter extracted from a source record.
type Fields struct {
	Platform        Platform
	ExternalID      string
	Title           string
	OccurredAt      time.Time
	DurationMinutes *int
	Participants    []string
	Summary         string
	RawSourceRef    string
	Link            string
	Tags            []string
	LegacyID        string
}

// New validates f and returns a normalized Meeting. It fails with a
// malformed-record error when the id, the timestamp, or the title is missing.
func New(f Fields) (*Meeting, error) {
	if !f.Platform.Valid() {
		return nil, syncerr.MalformedRecord(string(f.Platform), "unknown platform")
	}
	id := strings.TrimSpace(f.ExternalID)
	if id == "" {
		return nil, syncerr.MalformedRecord(string(f.Platform), "missing external id")
	}
	if f.OccurredAt.IsZero() {
		return nil, syncerr.MalformedRecord(string(f.Platform), fmt.Sprintf("record %s has no resolvable timestamp", id))
	}
	title := strings.Join(strings.Fields(f.Title), " ")
	if title == "" {
		return nil, syncerr.MalformedRecord(string(f.Platform), fmt.Sprintf("record %s has no title", id))
	}

	m := &Meeting{
		Platform:     f.Platform,
		ExternalID:   id,
		Title:        title,
		OccurredAt:   f.OccurredAt.UTC(),
		Participants: cleanList(f.Participants),
		RawSourceRef: f.RawSourceRef,
		Link:         strings.TrimSpace(f.Link),
		Tags:         cleanList(f.Tags),
		LegacyID:     strings.TrimSpace(f.LegacyID),
	}
	if f.DurationMinutes != nil && *f.DurationMinutes > 0 {
		d := *f.DurationMinutes
		m.DurationMinutes = &d
	}
	if s := strings.TrimSpace(f.Summary); s != "" {
		m.SummaryMarkdown = &s
	}
	return m, nil
}

// Key returns the meeting's identity.
func (m *Meeting) Key() Key {
	return Key{Platform: m.Platform, ExternalID: m.ExternalID}
}

// HasSummary reports whether the meeting carries non-empty summary text.
func (m *Meeting) HasSummary() bool {
	return m.SummaryMarkdown != nil && strings.TrimSpace(*m.SummaryMarkdown) != ""
}

// Summary returns the summary text or "" when absent.
func (m *Meeting) Summary() string {
	if m.SummaryMarkdown == nil {
		return ""
	}
	return *m.SummaryMarkdown
}

// WithSummary returns a copy of m carrying summary. Empty text clears it.
func (m *Meeting) WithSummary(summary string) *Meeting {
	cp := *m
	cp.SummaryMarkdown = nil
	if s := strings.TrimSpace(summary); s != "" {
		cp.SummaryMarkdown = &s
	}
	return &cp
}

// cleanList trims entries, drops empties and removes duplicates keeping order.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Minutes is a convenience for building optional durations.
func Minutes(n int) *int {
	return &n
}
