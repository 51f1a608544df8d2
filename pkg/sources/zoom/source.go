// Package zoom reads AI Companion meeting summaries from the Zoom web portal
// through an authenticated browser session.
package zoom

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	syncerr "github.com/otherjamesbrown/meetsync/pkg/errors"
	"github.com/otherjamesbrown/meetsync/pkg/logging"
	"github.com/otherjamesbrown/meetsync/pkg/markdown"
	"github.com/otherjamesbrown/meetsync/pkg/meeting"
	"github.com/otherjamesbrown/meetsync/pkg/sources/browser"
	"github.com/otherjamesbrown/meetsync/pkg/sources/fetch"
)

const (
	ListingURL = "https://zoom.us/user/meeting/summary#/list"
	LoginURL   = "https://zoom.us/signin"
	ProfileURL = "https://zoom.us/profile"
)

// textElems narrows text strategies to elements that carry visible labels.
const textElems = "a, button, [role='tab'], [role='menuitem'], li, span, div, p, h1, h2, h3"

var (
	loginIndicators = browser.Cascade{
		browser.ExactText(textElems, "Sign In"),
		browser.ExactText(textElems, "Log In"),
		browser.Selector("#email"),
		browser.Selector("[name='email']"),
	}

	noResults = browser.Cascade{
		browser.Text(textElems, "No results found"),
		browser.Text(textElems, "No summaries"),
		browser.Text(textElems, "no meeting summaries"),
		browser.Text(textElems, "You have no summaries"),
		browser.Text(textElems, "No recordings"),
	}

	listTabs = browser.Cascade{
		browser.Text(textElems, "Shared with me"),
		browser.Text(textElems, "All summaries"),
		browser.ExactText(textElems, "All"),
		browser.Text(textElems, "My Summaries"),
	}

	sidebarSummaries = browser.Cascade{
		browser.ExactText(textElems, "Summaries"),
		browser.Selector("a[href*='/summaries']"),
		browser.Selector("[class*='summaries']"),
		browser.Text(textElems, "Summaries"),
	}

	sidebarMine = browser.Cascade{
		browser.Text(textElems, "My Summaries"),
		browser.Selector("a[href*='my']"),
		browser.Selector("[class*='my-summaries']"),
	}
)

// Timings bounds every wait in the Zoom flow.
type Timings struct {
	LoginTimeout time.Duration
	LoginPoll    time.Duration
	SettleDelay  time.Duration
	ListTimeout  time.Duration
	ListPoll     time.Duration
	// ClickSettle is the pause after a click that changes the view.
	ClickSettle time.Duration
	// IframeWait bounds waiting for the summary iframe to attach.
	IframeWait time.Duration
	// IframeSettle is the pause after the iframe appears.
	IframeSettle   time.Duration
	SummaryTimeout time.Duration
	SummaryPoll    time.Duration
	// ItemDelay is the pause before re-listing between detail visits.
	ItemDelay time.Duration
}

// DefaultTimings returns the waits used against the live portal.
func DefaultTimings() Timings {
	return Timings{
		LoginTimeout:   120 * time.Second,
		LoginPoll:      2 * time.Second,
		SettleDelay:    3 * time.Second,
		ListTimeout:    10 * time.Second,
		ListPoll:       time.Second,
		ClickSettle:    2 * time.Second,
		IframeWait:     20 * time.Second,
		IframeSettle:   5 * time.Second,
		SummaryTimeout: 60 * time.Second,
		SummaryPoll:    3 * time.Second,
		ItemDelay:      time.Second,
	}
}

// Config configures the Zoom source.
type Config struct {
	Launch browser.Launcher
	// Location interprets the wall-clock dates shown in the listing.
	Location *time.Location
	DebugDir string
	Timings  Timings
	// Docs configures requests for summary iframe documents.
	Docs fetch.Config
}

// KnownFunc reports whether a meeting was already synced. Known meetings are
// yielded without visiting their detail page.
type KnownFunc func(ctx context.Context, externalID string) bool

// LegacyKnownFunc reports whether a meeting was synced under its older
// number-only id at the given start time.
type LegacyKnownFunc func(ctx context.Context, legacyID string, at time.Time) bool

// Source adapts the Zoom web portal to sources.Source.
type Source struct {
	cfg         Config
	known       KnownFunc
	legacyKnown LegacyKnownFunc
	sessionOpts []browser.SessionOption
	conv        *markdown.Converter
	logger      logging.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithKnown installs a lookup that skips detail visits for synced meetings.
func WithKnown(fn KnownFunc) Option {
	return func(s *Source) { s.known = fn }
}

// WithLegacyKnown installs the lookup for meetings recorded under number-only ids.
func WithLegacyKnown(fn LegacyKnownFunc) Option {
	return func(s *Source) { s.legacyKnown = fn }
}

// WithSessionOptions passes options to every browser session.
func WithSessionOptions(opts ...browser.SessionOption) Option {
	return func(s *Source) { s.sessionOpts = append(s.sessionOpts, opts...) }
}

// NewSource returns a Source for cfg.
func NewSource(cfg Config, logger logging.Logger, opts ...Option) *Source {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Timings == (Timings{}) {
		cfg.Timings = DefaultTimings()
	}
	if cfg.Docs.Name == "" {
		cfg.Docs = fetch.DefaultConfig("zoom-docs")
		cfg.Docs.MaxRetries = 1
	}
	s := &Source{
		cfg:    cfg,
		conv:   markdown.NewConverter(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Platform implements sources.Source.
func (s *Source) Platform() meeting.Platform {
	return meeting.Zoom
}

func (s *Source) sessionConfig() browser.Config {
	t := s.cfg.Timings
	return browser.Config{
		Platform: meeting.Zoom,
		Auth: browser.AuthConfig{
			ListingURL:          ListingURL,
			Domains:             []string{"zoom.us"},
			SignedOutURLs:       []string{"signin", "login"},
			SignedOutIndicators: loginIndicators,
			LoginTimeout:        t.LoginTimeout,
			PollInterval:        t.LoginPoll,
			SettleDelay:         t.SettleDelay,
		},
		DebugDir:    s.cfg.DebugDir,
		ListTimeout: t.ListTimeout,
		ListPoll:    t.ListPoll,
	}
}

var errStopped = errors.New("consumer stopped")

// Fetch signs in, lists the summaries table and visits each new meeting's
// detail page for its summary. Rows older than since are dropped before any
// detail visit.
func (s *Source) Fetch(ctx context.Context, since time.Time) iter.Seq2[*meeting.Meeting, error] {
	return func(yield func(*meeting.Meeting, error) bool) {
		sess, err := browser.Start(ctx, s.cfg.Launch, s.sessionConfig(), s.logger, s.sessionOpts...)
		if err != nil {
			yield(nil, err)
			return
		}

		r := &run{src: s, sess: sess}
		err = r.sync(ctx, since, yield)
		if errors.Is(err, errStopped) {
			err = nil
		}
		sess.Finish(err)
		if cerr := sess.Close(); cerr != nil {
			sess.Logger().Debug("Closing browser failed", logging.Err(cerr))
		}
		if err != nil {
			yield(nil, err)
		}
	}
}

func (s *Source) isKnown(ctx context.Context, rw *row) bool {
	if s.known != nil && s.known(ctx, rw.key) {
		return true
	}
	return rw.legacy != "" && s.legacyKnown != nil && s.legacyKnown(ctx, rw.legacy, rw.date)
}

// run is the state of one Fetch.
type run struct {
	src  *Source
	sess *browser.Session
	docs *fetch.Client
}

func (r *run) sync(ctx context.Context, since time.Time, yield func(*meeting.Meeting, error) bool) error {
	log := r.sess.Logger()
	platform := string(meeting.Zoom)

	if err := r.sess.Authenticate(ctx); err != nil {
		return err
	}
	if err := r.openListing(ctx); err != nil {
		return err
	}

	snap, m, err := r.sess.List(ctx, rowCascade)
	if err != nil {
		return err
	}
	rows, keys, bad := parseRows(m.Elements, r.src.cfg.Location)
	for _, err := range bad {
		log.Warn("Skipping row", logging.Err(err))
	}
	els := m.Elements

	var pending []*row
	for _, rw := range rows {
		if !since.IsZero() && rw.date.Before(since) {
			log.Debug("Row before sync window", logging.F("external_id", rw.key), logging.F("date", rw.date))
			continue
		}
		pending = append(pending, rw)
	}
	log.Info("Found meetings in listing",
		logging.F("listed", len(els)),
		logging.F("in_window", len(pending)),
	)
	r.docs = r.docClient(ctx)

	stale := false
	for i, rw := range pending {
		if err := ctx.Err(); err != nil {
			return syncerr.ClassifyError(err, platform, "detail")
		}
		log.Info("Processing meeting",
			logging.F("n", i+1),
			logging.F("of", len(pending)),
			logging.F("title", rw.title),
		)

		if stale {
			if err := r.sess.Sleep(ctx, r.src.cfg.Timings.ItemDelay); err != nil {
				return syncerr.ClassifyError(err, platform, "detail")
			}
			snap, m, err = r.sess.List(ctx, rowCascade)
			if err != nil {
				return err
			}
			els = m.Elements
			_, keys, _ = parseRows(els, r.src.cfg.Location)
		}

		var (
			res     detailResult
			backErr error
		)
		switch idx, ok := browser.Reassociate(keys, browser.Ref{Index: rw.index, Key: rw.key}); {
		case r.src.isKnown(ctx, rw):
			log.Debug("Already synced; skipping detail page", logging.F("external_id", rw.key))
		case !ok:
			log.Warn("Meeting no longer listed; continuing without summary", logging.F("external_id", rw.key))
		default:
			res, backErr = r.detail(ctx, snap, els[idx])
			stale = stale || res.visited
		}

		mt, err := toMeeting(rw, res, snap.URL)
		if err != nil {
			log.Warn("Skipping row", logging.Err(err))
		} else if !yield(mt, nil) {
			return errStopped
		}
		if backErr != nil {
			return backErr
		}
	}
	return nil
}

// openListing gets the summaries table on screen: restricted pages are
// retried through the sidebar and an empty list through the other tabs.
func (r *run) openListing(ctx context.Context) error {
	log := r.sess.Logger()
	snap, err := r.sess.Snapshot(ctx)
	if err != nil {
		return syncerr.ClassifyError(err, string(meeting.Zoom), "listing")
	}

	if snap.ContainsText("Access restricted") || snap.ContainsText("Access denied") {
		log.Warn("Summaries page is restricted; trying sidebar navigation", logging.F("url", snap.URL))
		if snap, err = r.viaSidebar(ctx); err != nil {
			return err
		}
	}

	if _, empty := noResults.Run(snap.Root()); empty {
		log.Info("Listing shows no meetings; trying other tabs")
		if target, ok := listTabs.ClickTarget(snap.Root(), snap.Root()); ok {
			r.click(ctx, target)
		}
	}
	return nil
}

func (r *run) viaSidebar(ctx context.Context) (*browser.Snapshot, error) {
	snap, err := r.sess.Navigate(ctx, ProfileURL)
	if err != nil {
		return nil, syncerr.ClassifyError(err, string(meeting.Zoom), "listing")
	}
	for _, c := range []browser.Cascade{sidebarSummaries, sidebarMine} {
		if target, ok := c.ClickTarget(snap.Root(), snap.Root()); ok {
			r.click(ctx, target)
		}
		if snap, err = r.sess.Snapshot(ctx); err != nil {
			return nil, syncerr.ClassifyError(err, string(meeting.Zoom), "listing")
		}
	}
	return snap, nil
}

// click clicks target and waits for the view to settle. Failures are logged;
// the following listing step reports whether the page is usable.
func (r *run) click(ctx context.Context, target browser.Target) bool {
	if err := r.sess.Page().Click(ctx, target); err != nil {
		r.sess.Logger().Debug("Click failed", logging.F("target", target.Strategy().String()), logging.Err(err))
		return false
	}
	return r.sess.Sleep(ctx, r.src.cfg.Timings.ClickSettle) == nil
}

func (r *run) docClient(ctx context.Context) *fetch.Client {
	hc, err := r.sess.HTTPClient(ctx)
	if err != nil {
		r.sess.Logger().Warn("Could not copy browser cookies; summary iframes will be read from the page only", logging.Err(err))
		return nil
	}
	return fetch.New(hc, r.src.cfg.Docs, r.sess.Logger())
}

type detailResult struct {
	summary string
	link    string
	visited bool
}

// detail opens the row's summary page, waits for the summary and returns to
// the listing. The returned error is set only when the listing could not be
// reloaded.
func (r *run) detail(ctx context.Context, listing *browser.Snapshot, el *browser.Element) (detailResult, error) {
	var res detailResult
	log := r.sess.Logger()

	target, ok := detailLinks.ClickTarget(listing.Root(), el)
	if !ok {
		log.Debug("No detail link in row")
		return res, nil
	}

	r.sess.BeginDetail()
	res.visited = true
	if r.click(ctx, target) {
		if loc, err := r.sess.Page().Location(ctx); err == nil && loc != listing.URL {
			res.link = loc
		}
		res.summary = r.waitForSummary(ctx)
	}

	if _, err := r.sess.Navigate(ctx, listing.URL); err != nil {
		return res, syncerr.ClassifyError(fmt.Errorf("return to listing: %w", err), string(meeting.Zoom), "detail")
	}
	return res, nil
}

// waitForSummary polls the detail page until the same summary is read twice
// in a row. On timeout the longest candidate seen wins.
func (r *run) waitForSummary(ctx context.Context) string {
	log := r.sess.Logger()
	t := r.src.cfg.Timings

	if snap, err := r.sess.Snapshot(ctx); err == nil {
		if target, ok := companionTabs.ClickTarget(snap.Root(), snap.Root()); ok {
			r.click(ctx, target)
		}
	}
	r.waitForIframe(ctx)

	deadline := r.sess.Now().Add(t.SummaryTimeout)
	var last, best string
	for {
		if snap, err := r.sess.Snapshot(ctx); err == nil {
			cand := r.extractSummary(ctx, snap)
			switch {
			case cand == "":
				last = ""
			case cand == last:
				log.Debug("Summary content stabilized", logging.F("chars", len(cand)))
				return cand
			default:
				if len(cand) > len(best) {
					best = cand
				}
				last = cand
			}
		}
		if !r.sess.Now().Before(deadline) {
			break
		}
		if err := r.sess.Sleep(ctx, t.SummaryPoll); err != nil {
			break
		}
	}

	if best != "" {
		log.Warn("Summary did not stabilize; using longest content seen",
			logging.F("timeout", t.SummaryTimeout),
			logging.F("chars", len(best)),
		)
		return best
	}
	log.Warn("No summary content found", logging.F("timeout", t.SummaryTimeout))
	return ""
}

// waitForIframe waits for the summary iframe to attach. When it never does,
// the page is dumped for debugging and extraction continues without it.
func (r *run) waitForIframe(ctx context.Context) bool {
	t := r.src.cfg.Timings
	deadline := r.sess.Now().Add(t.IframeWait)
	for {
		snap, err := r.sess.Snapshot(ctx)
		if err == nil && summaryIframes.First(snap.Root()) != nil {
			return r.sess.Sleep(ctx, t.IframeSettle) == nil
		}
		if !r.sess.Now().Before(deadline) {
			if err == nil {
				var srcs []string
				for _, f := range snap.QueryAll("iframe") {
					src, _ := f.Attr("src")
					srcs = append(srcs, src)
				}
				r.sess.Logger().Warn("Summary iframe did not appear",
					logging.F("wait", t.IframeWait),
					logging.F("iframes", srcs),
				)
				r.sess.DumpDebug("detail", snap.HTML)
			}
			return false
		}
		if err := r.sess.Sleep(ctx, t.ListPoll); err != nil {
			return false
		}
	}
}

func toMeeting(rw *row, res detailResult, listingURL string) (*meeting.Meeting, error) {
	var participants []string
	if rw.host != "" {
		participants = []string{rw.host}
	}
	ref := listingURL
	if res.link != "" {
		ref = res.link
	}
	return meeting.New(meeting.Fields{
		Platform:     meeting.Zoom,
		ExternalID:   rw.key,
		Title:        rw.title,
		OccurredAt:   rw.date,
		Participants: participants,
		Summary:      res.summary,
		RawSourceRef: ref,
		Link:         res.link,
		LegacyID:     rw.legacy,
	})
}
