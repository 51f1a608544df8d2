// Package vault renders canonical meetings as Obsidian notes and writes them
// into the configured vault folder.
package vault

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/meetsync/pkg/markdown"
	"github.com/otherjamesbrown/meetsync/pkg/meeting"
)

const maxTitleBytes = 200

// Frontmatter is the YAML header of a meeting note. Field order is the order
// keys appear in the file.
type Frontmatter struct {
	Type        string   `yaml:"type"`
	Title       string   `yaml:"title"`
	Date        string   `yaml:"date"`
	Time        string   `yaml:"time"`
	Duration    string   `yaml:"duration,omitempty"`
	Attendees   []string `yaml:"attendees"`
	MeetingType string   `yaml:"meeting-type"`
	AIPlatform  string   `yaml:"ai-platform"`
	Link        string   `yaml:"link,omitempty"`
	Tags        []string `yaml:"tags"`
}

// Note is a rendered meeting note.
type Note struct {
	Filename    string
	Frontmatter Frontmatter
	Body        string
}

// Format renders m as a note. Dates in the filename and frontmatter are in loc.
// The result depends only on m and loc.
func Format(m *meeting.Meeting, loc *time.Location) (*Note, error) {
	if m == nil {
		return nil, fmt.Errorf("nil meeting")
	}
	if !m.HasSummary() {
		return nil, fmt.Errorf("meeting %s has no summary", m.Key())
	}
	if loc == nil {
		loc = time.Local
	}
	local := m.OccurredAt.In(loc)

	fm := Frontmatter{
		Type:        "meeting",
		Title:       m.Title,
		Date:        local.Format("2006-01-02"),
		Time:        local.Format("15:04"),
		Attendees:   append([]string{}, m.Participants...),
		MeetingType: m.Platform.MeetingType(),
		AIPlatform:  m.Platform.Tag(),
		Link:        m.Link,
		Tags:        noteTags(m),
	}
	if m.DurationMinutes != nil {
		fm.Duration = fmt.Sprintf("%d min", *m.DurationMinutes)
	}

	return &Note{
		Filename:    Filename(m, loc),
		Frontmatter: fm,
		Body:        FormatBody(m.Summary()),
	}, nil
}

// Render serializes the note as frontmatter followed by the body.
func (n *Note) Render() (string, error) {
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(n.Frontmatter); err != nil {
		return "", fmt.Errorf("encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode frontmatter: %w", err)
	}
	buf.WriteString("---\n\n")
	buf.WriteString(n.Body)
	buf.WriteString("\n")
	return buf.String(), nil
}

// Filename returns YYYY-MM-DD_HH-MM_<Platform>_<title>.md with the timestamp in loc.
func Filename(m *meeting.Meeting, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	stamp := m.OccurredAt.In(loc).Format("2006-01-02_15-04")
	return stamp + "_" + m.Platform.DisplayName() + "_" + SanitizeTitle(m.Title) + ".md"
}

// SanitizeTitle makes a title safe for use in a filename on every common filesystem.
func SanitizeTitle(title string) string {
	title = norm.NFC.String(title)
	title = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}
		return r
	}, title)
	title = strings.Trim(title, ". ")

	if len(title) > maxTitleBytes {
		cut := maxTitleBytes
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = strings.TrimRight(title[:cut], ". ")
	}
	if title == "" {
		return "Untitled"
	}
	return title
}

// FormatBody links bare URLs and normalizes whitespace of summary markdown.
func FormatBody(summary string) string {
	return markdown.Tidy(markdown.LinkifyURLs(summary))
}

// noteTags returns "meeting", the platform tag, then source tags, without duplicates.
func noteTags(m *meeting.Meeting) []string {
	tags := []string{"meeting", m.Platform.Tag()}
	seen := map[string]bool{"meeting": true, m.Platform.Tag(): true}
	for _, t := range m.Tags {
		t = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(t), " ", "-"))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	return tags
}

// ParseFrontmatter splits a rendered note into its frontmatter and body.
func ParseFrontmatter(content string) (*Frontmatter, string, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(content, "---\n") {
		return nil, content, fmt.Errorf("note has no frontmatter")
	}
	rest := content[len("---\n"):]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return nil, content, fmt.Errorf("frontmatter started but no closing delimiter found")
	}

	var fm Frontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return nil, content, fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	body := strings.TrimLeft(rest[end+len("\n---\n"):], "\n")
	return &fm, body, nil
}
