// Package sources defines the contract every meeting source adapter fulfils.
package sources

import (
	"context"
	"iter"
	"time"

	"github.com/otherjamesbrown/meetsync/pkg/meeting"
)

// Source lists meetings from one platform.
//
// Fetch yields meetings that occurred at or after since, in any order. A zero
// since means "everything the platform offers". Records that cannot become a
// canonical meeting are logged and skipped by the adapter. A non-nil error in
// the sequence aborts the platform: the caller stops iterating and the
// platform's watermark is left unchanged.
type Source interface {
	Platform() meeting.Platform
	Fetch(ctx context.Context, since time.Time) iter.Seq2[*meeting.Meeting, error]
}

// Static is a Source over a fixed list, used for tests and replays.
type Static struct {
	P        meeting.Platform
	Meetings []*meeting.Meeting
	// Err, when set, is yielded after the meetings.
	Err error
}

// Platform implements Source.
func (s *Static) Platform() meeting.Platform {
	return s.P
}

// Fetch implements Source.
func (s *Static) Fetch(ctx context.Context, since time.Time) iter.Seq2[*meeting.Meeting, error] {
	return func(yield func(*meeting.Meeting, error) bool) {
		for _, m := range s.Meetings {
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			if !yield(m, nil) {
				return
			}
		}
		if s.Err != nil {
			yield(nil, s.Err)
		}
	}
}
