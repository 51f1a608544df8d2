package zoom

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncerr "github.com/otherjamesbrown/meetsync/pkg/errors"
	"github.com/otherjamesbrown/meetsync/pkg/sources/browser"
)

func TestLooksLikeSummary(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"placeholder", "Summary is being generated. Check back soon.", false},
		{"insufficient transcript", "The summary was not generated due to insufficient transcript.", false},
		{"metadata block", "ID: 959 4495 0711\n01/25/2024\n2:30 PM\nHost: Alice", false},
		{"empty", "  \n ", false},
		{"prose", "The team discussed the release plan and agreed to ship on Friday after QA.\nAction items were assigned.", true},
		{"keywords", "Decisions\nThe group decided to defer the migration\nParticipants agreed on owners", true},
		{
			"long placeholder mention is fine",
			"Alice noted that last week the summary was not generated for the standup. " + strings.Repeat("The team discussed follow-ups in depth. ", 5),
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, looksLikeSummary(tt.text))
		})
	}
}

func TestCleanSummaryText(t *testing.T) {
	raw := strings.Join([]string{
		"My Summaries",
		"Back to list",
		"Share",
		"959 4495 0711",
		"Meeting ID: 959 4495 0711",
		"01/25/2024",
		"2:30 PM",
		"45 minutes",
		"Meeting Summary for Weekly Sync",
		"Quick recap",
		"The team discussed the release plan and agreed on Friday.",
		"ok",
		"Next steps: Alice to update the changelog before release.",
	}, "\n")

	got := cleanSummaryText(raw)
	assert.Equal(t, "Quick recap\n"+
		"The team discussed the release plan and agreed on Friday.\n"+
		"Next steps: Alice to update the changelog before release.", got)
}

func TestCleanSummaryText_KeepsInputWhenNothingSurvives(t *testing.T) {
	raw := "Home\nSettings\nshort"
	assert.Equal(t, raw, cleanSummaryText(raw))
}

func TestParseRow(t *testing.T) {
	snap, err := browser.Parse("u", listingHTML(
		weeklyRow,
		`<tr class="zm-table__row normal-row"><td></td><td><div class="cell">Design Review</div></td><td><div class="cell"></div></td><td></td><td><div class="cell">01/05/2024</div></td></tr>`,
		`<tr class="zm-table__row normal-row"><td></td><td><div class="cell">Topic</div></td><td></td><td></td><td><div class="cell">Jan 5, 2024</div></td></tr>`,
		brokenRow,
	))
	require.NoError(t, err)
	els := snap.QueryAll("tr.zm-table__row")
	require.Len(t, els, 4)

	r, err := parseRow(els[0], 0, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "Weekly Sync", r.title)
	assert.Equal(t, "95944950711", r.number)
	assert.Equal(t, "Alice Host", r.host)
	assert.Equal(t, "zoom_95944950711_202401251430", r.key)
	assert.Equal(t, "zoom_95944950711", r.legacy)

	r, err = parseRow(els[1], 1, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "Design Review", r.title)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), r.date)
	assert.Equal(t, "zoom_20240105_Design Review", r.key)
	assert.Empty(t, r.legacy)

	r, err = parseRow(els[2], 2, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "Untitled Meeting", r.title)

	_, err = parseRow(els[3], 3, time.UTC)
	assert.True(t, syncerr.IsMalformedRecord(err))
}

func TestIdentityKey(t *testing.T) {
	date := time.Date(2024, 1, 25, 14, 30, 0, 0, time.UTC)

	assert.Equal(t, "zoom_123_202401251430", identityKey("123", date, "anything"))
	assert.Equal(t, "zoom_123_202401251430", identityKey("123", date.In(time.FixedZone("PST", -8*3600)), "anything"))
	assert.Equal(t, "zoom_20240125_Standup", identityKey("", date, "Standup"))

	long := strings.Repeat("é", 60)
	assert.Equal(t, "zoom_20240125_"+strings.Repeat("é", 50), identityKey("", date, long))
}

func TestParseRows_KeepsPositions(t *testing.T) {
	snap, err := browser.Parse("u", listingHTML(weeklyRow, brokenRow, retroRow))
	require.NoError(t, err)

	rows, keys, bad := parseRows(snap.QueryAll("tr"), time.UTC)
	assert.Len(t, rows, 2)
	assert.Len(t, bad, 1)
	assert.Equal(t, []string{"zoom_95944950711_202401251430", "", "zoom_20240126_Retro"}, keys)
	assert.Equal(t, 2, rows[1].index)
}

func TestParseRows_RecurringMeetingKeysDiffer(t *testing.T) {
	lastWeek := rowHTML("Weekly Sync", "959 4495 0711", "Alice Host", "Jan 18, 2024 2:30 PM")
	snap, err := browser.Parse("u", listingHTML(weeklyRow, lastWeek))
	require.NoError(t, err)

	rows, keys, bad := parseRows(snap.QueryAll("tr"), time.UTC)
	require.Empty(t, bad)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"zoom_95944950711_202401251430", "zoom_95944950711_202401181430"}, keys)
	assert.Equal(t, rows[0].legacy, rows[1].legacy)

	idx, ok := browser.Reassociate([]string{keys[1], keys[0]}, browser.Ref{Index: 0, Key: keys[0]})
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}
