// Package state is the durable ledger of which meetings have been written to
// the vault and how far each platform has been synced.
//
// Rows are keyed by (external id, platform display name), which matches the
// layout of the meetings_state.db file written by earlier versions of the
// tool so an existing ledger keeps deduplicating.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/otherjamesbrown/meetsync/pkg/db"
	syncerr "github.com/otherjamesbrown/meetsync/pkg/errors"
	"github.com/otherjamesbrown/meetsync/pkg/logging"
	"github.com/otherjamesbrown/meetsync/pkg/meeting"
)

// Store persists dedup records and per-platform watermarks.
type Store struct {
	db       *db.DB
	readOnly bool
	logger   logging.Logger
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithReadOnly makes every write return ErrReadOnly. Used for dry runs.
func WithReadOnly() Option {
	return func(s *Store) { s.readOnly = true }
}

// WithLogger sets the store's logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source used for download timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens the state database described by cfg and returns a Store over it.
func Open(ctx context.Context, cfg db.Config, opts ...Option) (*Store, error) {
	s := newStore(nil, opts...)
	cfg.ReadOnly = s.readOnly

	d, err := db.Open(ctx, &cfg)
	if err != nil {
		return nil, syncerr.Persistence("", "state.open", err)
	}
	s.db = d
	return s, nil
}

// New wraps an already opened database.
func New(d *db.DB, opts ...Option) *Store {
	return newStore(d, opts...)
}

func newStore(d *db.DB, opts ...Option) *Store {
	s := &Store{
		db:     d,
		logger: logging.NewNopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.F("component", "state"))
	return s
}

// DB returns the underlying database handle.
func (s *Store) DB() *db.DB {
	return s.db
}

// ReadOnly reports whether writes are disabled.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// Close releases the database handle.
func (s *Store) Close() error {
	return db.Close(s.db)
}

func platformKey(p meeting.Platform) string {
	return p.DisplayName()
}

// IsDownloaded reports whether the meeting has already been recorded.
func (s *Store) IsDownloaded(ctx context.Context, externalID string, p meeting.Platform) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		s.db.Rebind("SELECT 1 FROM meetings WHERE meeting_id = ? AND platform = ?"),
		externalID, platformKey(p),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, syncerr.Persistence(string(p), "state.lookup", err)
	}
	return true, nil
}

// IsDownloadedAt reports whether externalID was recorded for a meeting that
// started at the same minute as at. Ids that older tooling reused across a
// meeting series are matched this way. A stored date without a time matches
// any meeting on that local day.
func (s *Store) IsDownloadedAt(ctx context.Context, externalID string, p meeting.Platform, at time.Time) (bool, error) {
	rows, err := s.db.QueryContext(ctx,
		s.db.Rebind("SELECT COALESCE(meeting_date, '') FROM meetings WHERE meeting_id = ? AND platform = ?"),
		externalID, platformKey(p),
	)
	if err != nil {
		return false, syncerr.Persistence(string(p), "state.lookup", err)
	}
	defer rows.Close()

	want := at.Truncate(time.Minute)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return false, syncerr.Persistence(string(p), "state.lookup", err)
		}
		stored, err := parseTime(raw)
		if err != nil {
			continue
		}
		if len(raw) == len("2006-01-02") {
			if stored.Equal(startOfLocalDay(at)) {
				return true, nil
			}
			continue
		}
		if stored.Truncate(time.Minute).Equal(want) {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, syncerr.Persistence(string(p), "state.lookup", err)
	}
	return false, nil
}

func startOfLocalDay(t time.Time) time.Time {
	l := t.In(time.Local)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.Local)
}

// Record marks a meeting as written to filePath. It returns false without an
// error when the meeting was already recorded.
func (s *Store) Record(ctx context.Context, m *meeting.Meeting, filePath string) (bool, error) {
	if s.readOnly {
		return false, syncerr.Persistence(string(m.Platform), "state.record", syncerr.ErrReadOnly)
	}

	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO meetings
			(meeting_id, platform, meeting_title, meeting_date, download_timestamp, file_path)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (meeting_id, platform) DO NOTHING`),
		m.ExternalID,
		platformKey(m.Platform),
		m.Title,
		formatTime(m.OccurredAt),
		formatTime(s.now()),
		filePath,
	)
	if err != nil {
		return false, syncerr.Persistence(string(m.Platform), "state.record", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, syncerr.Persistence(string(m.Platform), "state.record", err)
	}
	if n == 0 {
		s.logger.Warn("Meeting already recorded",
			logging.F("platform", string(m.Platform)),
			logging.F("meeting_id", m.ExternalID),
		)
		return false, nil
	}
	return true, nil
}

// Watermark returns the last successful sync instant for the platform.
func (s *Store) Watermark(ctx context.Context, p meeting.Platform) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		s.db.Rebind("SELECT last_sync_timestamp FROM sync_state WHERE platform = ?"),
		platformKey(p),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, syncerr.Persistence(string(p), "state.watermark", err)
	}

	t, err := parseTime(raw)
	if err != nil {
		return time.Time{}, false, syncerr.Persistence(string(p), "state.watermark", err)
	}
	return t, true, nil
}

// SetWatermark records a successful sync at the given instant. A value earlier
// than the stored watermark is ignored.
func (s *Store) SetWatermark(ctx context.Context, p meeting.Platform, at time.Time) error {
	if s.readOnly {
		return syncerr.Persistence(string(p), "state.set_watermark", syncerr.ErrReadOnly)
	}

	current, ok, err := s.Watermark(ctx, p)
	if err != nil {
		return err
	}
	if ok && at.Before(current) {
		s.logger.Debug("Ignoring watermark older than stored value",
			logging.F("platform", string(p)),
			logging.F("stored", current),
			logging.F("proposed", at),
		)
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		s.db.Rebind(`INSERT INTO sync_state (platform, last_sync_timestamp) VALUES (?, ?)
			ON CONFLICT (platform) DO UPDATE SET last_sync_timestamp = excluded.last_sync_timestamp`),
		platformKey(p), formatTime(at),
	)
	if err != nil {
		return syncerr.Persistence(string(p), "state.set_watermark", err)
	}
	return nil
}

// Reset deletes dedup records and watermarks for one platform, or for every
// platform when p is nil. It returns the number of meeting rows removed.
func (s *Store) Reset(ctx context.Context, p *meeting.Platform) (int64, error) {
	name := "all"
	if p != nil {
		name = string(*p)
	}
	if s.readOnly {
		return 0, syncerr.Persistence(name, "state.reset", syncerr.ErrReadOnly)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, syncerr.Persistence(name, "state.reset", err)
	}
	defer tx.Rollback() // nolint: errcheck

	var res sql.Result
	if p == nil {
		res, err = tx.ExecContext(ctx, "DELETE FROM meetings")
		if err == nil {
			_, err = tx.ExecContext(ctx, "DELETE FROM sync_state")
		}
	} else {
		key := platformKey(*p)
		res, err = tx.ExecContext(ctx, s.db.Rebind("DELETE FROM meetings WHERE platform = ?"), key)
		if err == nil {
			_, err = tx.ExecContext(ctx, s.db.Rebind("DELETE FROM sync_state WHERE platform = ?"), key)
		}
	}
	if err != nil {
		return 0, syncerr.Persistence(name, "state.reset", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, syncerr.Persistence(name, "state.reset", err)
	}

	n, _ := res.RowsAffected()
	s.logger.Info("State reset", logging.F("platform", name), logging.F("meetings_removed", n))
	return n, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime reads stored timestamps. Values without an offset were written by
// older tooling in local time.
func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
