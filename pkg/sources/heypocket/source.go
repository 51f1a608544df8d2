package heypocket

import (
	"context"
	"iter"
	"maps"
	"time"

	syncerr "github.com/otherjamesbrown/meetsync/pkg/errors"
	"github.com/otherjamesbrown/meetsync/pkg/logging"
	"github.com/otherjamesbrown/meetsync/pkg/meeting"
	"github.com/otherjamesbrown/meetsync/pkg/sources/fetch"
)

// KnownFunc reports whether a recording was already synced. Known recordings
// are still yielded but never trigger a detail request.
type KnownFunc func(ctx context.Context, externalID string) bool

// Source adapts the Heypocket API to sources.Source.
type Source struct {
	client *Client
	known  KnownFunc
	logger logging.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithKnown installs a lookup that suppresses detail fetches for synced recordings.
func WithKnown(fn KnownFunc) Option {
	return func(s *Source) { s.known = fn }
}

// NewSource returns a Source over client.
func NewSource(client *Client, logger logging.Logger, opts ...Option) *Source {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Source{
		client: client,
		logger: logger.With(logging.F("platform", string(meeting.Heypocket))),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Platform implements sources.Source.
func (s *Source) Platform() meeting.Platform {
	return meeting.Heypocket
}

// Fetch pages through the recordings list and yields one meeting per valid
// record. Malformed records are logged and skipped. A list request that fails
// after retries ends the sequence with an error.
func (s *Source) Fetch(ctx context.Context, since time.Time) iter.Seq2[*meeting.Meeting, error] {
	platform := string(meeting.Heypocket)

	return func(yield func(*meeting.Meeting, error) bool) {
		for n := 1; n <= maxPages; n++ {
			p, err := s.client.ListPage(ctx, n, since)
			if err != nil {
				yield(nil, fetch.Classify(platform, "list", err))
				return
			}
			s.logger.Info("Fetched recordings page",
				logging.F("page", n),
				logging.F("total_pages", p.TotalPages),
				logging.F("count", len(p.Records)),
			)

			for _, rec := range p.Records {
				if err := ctx.Err(); err != nil {
					yield(nil, syncerr.ClassifyError(err, platform, "list"))
					return
				}
				m, err := s.convert(ctx, rec)
				if err != nil {
					s.logger.Warn("Skipping recording", logging.Err(err))
					continue
				}
				if !yield(m, nil) {
					return
				}
			}

			if !p.Paged || len(p.Records) == 0 || n >= p.TotalPages {
				return
			}
		}
		s.logger.Warn("Stopped paging at page cap", logging.F("max_pages", maxPages))
	}
}

func (s *Source) convert(ctx context.Context, rec map[string]any) (*meeting.Meeting, error) {
	id := recordID(rec)
	if id != "" && !hasSummarizations(rec) && !s.isKnown(ctx, id) {
		detail, err := s.client.Detail(ctx, id)
		if err != nil {
			s.logger.Warn("Could not fetch recording details",
				logging.F("external_id", id),
				logging.Err(err),
			)
		} else {
			merged := maps.Clone(rec)
			maps.Copy(merged, detail)
			rec = merged
		}
	}
	return toMeeting(rec, s.client.DetailURL(id))
}

func (s *Source) isKnown(ctx context.Context, id string) bool {
	return s.known != nil && s.known(ctx, id)
}
