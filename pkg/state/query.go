package state

import (
	"context"
	"sort"
	"strings"
	"time"

	syncerr "github.com/otherjamesbrown/meetsync/pkg/errors"
	"github.com/otherjamesbrown/meetsync/pkg/meeting"
)

// Entry is one recorded meeting.
type Entry struct {
	ExternalID   string           `json:"meeting_id" yaml:"meeting_id"`
	Platform     meeting.Platform `json:"platform" yaml:"platform"`
	Title        string           `json:"title" yaml:"title"`
	MeetingDate  time.Time        `json:"meeting_date" yaml:"meeting_date"`
	DownloadedAt time.Time        `json:"downloaded_at" yaml:"downloaded_at"`
	FilePath     string           `json:"file_path" yaml:"file_path"`
}

// Filter narrows a Meetings query.
type Filter struct {
	Platform *meeting.Platform
	// Limit caps the number of rows; zero means no limit.
	Limit int
}

// PlatformStats summarizes the ledger for one platform.
type PlatformStats struct {
	Platform   meeting.Platform `json:"platform" yaml:"platform"`
	Meetings   int              `json:"meetings" yaml:"meetings"`
	LastSync   *time.Time       `json:"last_sync,omitempty" yaml:"last_sync,omitempty"`
	NewestDate *time.Time       `json:"newest_meeting,omitempty" yaml:"newest_meeting,omitempty"`
}

// Meetings lists recorded meetings, newest meeting date first. Stored dates
// mix naive local and RFC3339 UTC text, so ordering and the limit are applied
// after parsing.
func (s *Store) Meetings(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		b    strings.Builder
		args []interface{}
	)
	b.WriteString(`SELECT meeting_id, platform, COALESCE(meeting_title, ''), COALESCE(meeting_date, ''),
		download_timestamp, COALESCE(file_path, '') FROM meetings`)
	if f.Platform != nil {
		b.WriteString(" WHERE platform = ?")
		args = append(args, platformKey(*f.Platform))
	}
	b.WriteString(" ORDER BY id DESC")

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(b.String()), args...)
	if err != nil {
		return nil, syncerr.Persistence("", "state.list", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                          Entry
			key, meetingDate, download string
		)
		if err := rows.Scan(&e.ExternalID, &key, &e.Title, &meetingDate, &download, &e.FilePath); err != nil {
			return nil, syncerr.Persistence("", "state.list", err)
		}
		e.Platform = platformFromKey(key)
		e.MeetingDate, _ = parseTime(meetingDate)
		e.DownloadedAt, _ = parseTime(download)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.Persistence("", "state.list", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].MeetingDate.After(entries[j].MeetingDate)
	})
	if f.Limit > 0 && len(entries) > f.Limit {
		entries = entries[:f.Limit]
	}
	return entries, nil
}

// Stats returns per-platform counts and watermarks for every platform that
// has either recorded meetings or a watermark.
func (s *Store) Stats(ctx context.Context) ([]PlatformStats, error) {
	byPlatform := make(map[meeting.Platform]*PlatformStats)
	get := func(p meeting.Platform) *PlatformStats {
		if st, ok := byPlatform[p]; ok {
			return st
		}
		st := &PlatformStats{Platform: p}
		byPlatform[p] = st
		return st
	}

	rows, err := s.db.QueryContext(ctx, "SELECT platform, COALESCE(meeting_date, '') FROM meetings")
	if err != nil {
		return nil, syncerr.Persistence("", "state.stats", err)
	}
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			rows.Close()
			return nil, syncerr.Persistence("", "state.stats", err)
		}
		st := get(platformFromKey(key))
		st.Meetings++
		if t, err := parseTime(raw); err == nil && (st.NewestDate == nil || t.After(*st.NewestDate)) {
			st.NewestDate = &t
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, syncerr.Persistence("", "state.stats", err)
	}

	wrows, err := s.db.QueryContext(ctx, "SELECT platform, last_sync_timestamp FROM sync_state")
	if err != nil {
		return nil, syncerr.Persistence("", "state.stats", err)
	}
	defer wrows.Close()
	for wrows.Next() {
		var key, raw string
		if err := wrows.Scan(&key, &raw); err != nil {
			return nil, syncerr.Persistence("", "state.stats", err)
		}
		if t, err := parseTime(raw); err == nil {
			get(platformFromKey(key)).LastSync = &t
		}
	}
	if err := wrows.Err(); err != nil {
		return nil, syncerr.Persistence("", "state.stats", err)
	}

	out := make([]PlatformStats, 0, len(byPlatform))
	for _, st := range byPlatform {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

// Count returns the number of recorded meetings for p, or for all platforms when p is nil.
func (s *Store) Count(ctx context.Context, p *meeting.Platform) (int, error) {
	query := "SELECT COUNT(*) FROM meetings"
	var args []interface{}
	if p != nil {
		query += " WHERE platform = ?"
		args = append(args, platformKey(*p))
	}
	var n int
	if err := s.db.QueryRowContext(ctx, s.db.Rebind(query), args...).Scan(&n); err != nil {
		return 0, syncerr.Persistence("", "state.count", err)
	}
	return n, nil
}

// platformFromKey maps a stored platform column back to a Platform. Unknown
// values are kept verbatim so they still show up in listings.
func platformFromKey(key string) meeting.Platform {
	if p, err := meeting.ParsePlatform(key); err == nil {
		return p
	}
	return meeting.Platform(key)
}
