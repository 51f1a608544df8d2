package meeting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerr "github.com/otherjamesbrown/meetsync/pkg/errors"
)

func validFields() Fields {
	return Fields{
		Platform:   Heypocket,
		ExternalID: "rec-1",
		Title:      "  Weekly   sync ",
		OccurredAt: time.Date(2024, 1, 25, 12, 30, 0, 0, time.FixedZone("MST", -7*3600)),
		Summary:    "  Discussed the roadmap.  ",
	}
}

func TestNew_Normalizes(t *testing.T) {
	f := validFields()
	f.Participants = []string{"Ann", " ", "Bob", "Ann"}
	f.Tags = []string{"meeting", "", "meeting", "sales"}
	f.DurationMinutes = Minutes(45)

	m, err := New(f)
	require.NoError(t, err)

	assert.Equal(t, "Weekly sync", m.Title)
	assert.Equal(t, time.UTC, m.OccurredAt.Location())
	assert.Equal(t, 19, m.OccurredAt.Hour())
	assert.Equal(t, []string{"Ann", "Bob"}, m.Participants)
	assert.Equal(t, []string{"meeting", "sales"}, m.Tags)
	require.NotNil(t, m.DurationMinutes)
	assert.Equal(t, 45, *m.DurationMinutes)
	assert.True(t, m.HasSummary())
	assert.Equal(t, "Discussed the roadmap.", m.Summary())
	assert.Equal(t, Key{Platform: Heypocket, ExternalID: "rec-1"}, m.Key())
}

func TestNew_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Fields)
	}{
		{"missing id", func(f *Fields) { f.ExternalID = "  " }},
		{"missing timestamp", func(f *Fields) { f.OccurredAt = time.Time{} }},
		{"missing title", func(f *Fields) { f.Title = "" }},
		{"unknown platform", func(f *Fields) { f.Platform = "teams" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := validFields()
			tt.mutate(&f)
			_, err := New(f)
			require.Error(t, err)
			assert.True(t, syncerr.IsMalformedRecord(err))
		})
	}
}

func TestNew_EmptySummaryIsAbsent(t *testing.T) {
	f := validFields()
	f.Summary = " \n\t "
	f.DurationMinutes = Minutes(0)

	m, err := New(f)
	require.NoError(t, err)
	assert.False(t, m.HasSummary())
	assert.Nil(t, m.SummaryMarkdown)
	assert.Nil(t, m.DurationMinutes)
	assert.NotNil(t, m.Participants)
}

func TestWithSummary(t *testing.T) {
	m, err := New(validFields())
	require.NoError(t, err)

	cleared := m.WithSummary("   ")
	assert.False(t, cleared.HasSummary())
	assert.True(t, m.HasSummary(), "original must be unchanged")

	replaced := m.WithSummary("New text")
	assert.Equal(t, "New text", replaced.Summary())
}

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in   string
		want Platform
	}{
		{"heypocket", Heypocket},
		{"HeyPocket", Heypocket},
		{"zoom", Zoom},
		{"google-meet", GoogleMeet},
		{"GoogleMeet", GoogleMeet},
		{"google_meet", GoogleMeet},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePlatform(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParsePlatform("teams")
	assert.Error(t, err)
}

func TestPlatformAttributes(t *testing.T) {
	assert.Equal(t, "Heypocket", Heypocket.DisplayName())
	assert.Equal(t, "GoogleMeet", GoogleMeet.DisplayName())
	assert.Equal(t, "google-meet", GoogleMeet.Tag())
	assert.Equal(t, "zoom", Zoom.Tag())
	assert.Equal(t, "recording", Heypocket.MeetingType())
	assert.Equal(t, "video-call", Zoom.MeetingType())
	assert.Equal(t, "Untitled Recording", Heypocket.PlaceholderTitle())
	assert.Equal(t, "Untitled Meeting", GoogleMeet.PlaceholderTitle())
}
