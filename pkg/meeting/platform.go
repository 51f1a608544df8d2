package meeting

import (
	"fmt"
	"strings"
)

// Platform identifies a meeting source.
type Platform string

const (
	// Heypocket is the REST API source for recorder summaries.
	Heypocket Platform = "heypocket"
	// Zoom is the browser-driven Zoom AI Companion summaries page.
	Zoom Platform = "zoom"
	// GoogleMeet is the browser-driven Google Drive "Notes by Gemini" source.
	GoogleMeet Platform = "googlemeet"
)

// AllPlatforms lists every supported platform in sync order.
var AllPlatforms = []Platform{Heypocket, Zoom, GoogleMeet}

// ParsePlatform resolves a user-supplied platform name. It accepts the id,
// the display name, and a few common spellings.
func ParsePlatform(s string) (Platform, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "", "_", "", " ", "").Replace(norm)
	switch norm {
	case "heypocket", "pocket":
		return Heypocket, nil
	case "zoom":
		return Zoom, nil
	case "googlemeet", "meet", "gmeet", "gemini":
		return GoogleMeet, nil
	}
	return "", fmt.Errorf("unknown platform %q (valid: heypocket, zoom, googlemeet)", s)
}

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	switch p {
	case Heypocket, Zoom, GoogleMeet:
		return true
	}
	return false
}

// DisplayName is the name used in note filenames and as the state store key.
func (p Platform) DisplayName() string {
	switch p {
	case Heypocket:
		return "Heypocket"
	case Zoom:
		return "Zoom"
	case GoogleMeet:
		return "GoogleMeet"
	}
	return string(p)
}

// Tag is the frontmatter tag and ai-platform value for the platform.
func (p Platform) Tag() string {
	switch p {
	case GoogleMeet:
		return "google-meet"
	}
	return string(p)
}

// MeetingType is the frontmatter meeting-type for notes from the platform.
func (p Platform) MeetingType() string {
	if p == Heypocket {
		return "recording"
	}
	return "video-call"
}

// PlaceholderTitle is used when the source omits a title.
func (p Platform) PlaceholderTitle() string {
	if p == Heypocket {
		return "Untitled Recording"
	}
	return "Untitled Meeting"
}

func (p Platform) String() string {
	return string(p)
}
