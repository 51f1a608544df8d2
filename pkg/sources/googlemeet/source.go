// Package googlemeet reads "Notes by Gemini" documents from Google Drive
// through an authenticated browser session.
package googlemeet

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strings"
	"time"

	syncerr "github.com/otherjamesbrown/meetsync/pkg/errors"
	"github.com/otherjamesbrown/meetsync/pkg/logging"
	"github.com/otherjamesbrown/meetsync/pkg/markdown"
	"github.com/otherjamesbrown/meetsync/pkg/meeting"
	"github.com/otherjamesbrown/meetsync/pkg/sources/browser"
	"github.com/otherjamesbrown/meetsync/pkg/sources/fetch"
)

const (
	DriveURL       = "https://drive.google.com/drive/my-drive"
	FoldersURL     = "https://drive.google.com/drive/folders/"
	DocsURL        = "https://docs.google.com"
	recordingsName = "Meet Recordings"
	notesQuery     = "Notes by Gemini"
)

// minContentLen is the shortest export treated as a summary.
const minContentLen = 50

const textElems = "a, button, div, span, p, [role='button'], [role='link']"

var (
	loginIndicators = browser.Cascade{
		browser.Selector("#identifierId"),
		browser.Selector("[name='identifier']"),
		browser.ExactText(textElems, "Sign in"),
	}

	recordingsFolder = browser.Cascade{
		browser.Selector("div[data-tooltip='Meet Recordings']"),
		browser.Selector("[aria-label*='Meet Recordings']"),
		browser.ExactText(textElems, recordingsName),
	}
)

// SearchURL returns the Drive search page for query.
func SearchURL(query string) string {
	return "https://drive.google.com/drive/search?q=" + url.QueryEscape(query)
}

// EditURL is the link written to notes for document id.
func EditURL(id string) string {
	return DocsURL + "/document/d/" + id + "/edit"
}

// Timings bounds every wait in the Drive flow.
type Timings struct {
	LoginTimeout time.Duration
	LoginPoll    time.Duration
	SettleDelay  time.Duration
	// RenderDelay is the pause for Drive to render a listing after navigation.
	RenderDelay time.Duration
}

// DefaultTimings returns the waits used against live Drive.
func DefaultTimings() Timings {
	return Timings{
		LoginTimeout: 120 * time.Second,
		LoginPoll:    2 * time.Second,
		SettleDelay:  3 * time.Second,
		RenderDelay:  3 * time.Second,
	}
}

// Config configures the Google Meet source.
type Config struct {
	Launch browser.Launcher
	// Location interprets the dates in document titles.
	Location *time.Location
	DebugDir string
	Timings  Timings
	// Export configures document export requests.
	Export fetch.Config
	// DocsBaseURL overrides the Docs host used for exports.
	DocsBaseURL string
}

// KnownFunc reports whether a document was already synced. Known documents
// are yielded without being exported.
type KnownFunc func(ctx context.Context, externalID string) bool

// Source adapts Google Drive to sources.Source.
type Source struct {
	cfg         Config
	known       KnownFunc
	sessionOpts []browser.SessionOption
	conv        *markdown.Converter
	logger      logging.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithKnown installs a lookup that skips exports for synced documents.
func WithKnown(fn KnownFunc) Option {
	return func(s *Source) { s.known = fn }
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
	if cfg.Export.Name == "" {
		cfg.Export = fetch.DefaultConfig("googlemeet-export")
	}
	if cfg.DocsBaseURL == "" {
		cfg.DocsBaseURL = DocsURL
	}
	cfg.DocsBaseURL = strings.TrimRight(cfg.DocsBaseURL, "/")

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
	return meeting.GoogleMeet
}

func (s *Source) exportURL(id string) string {
	return s.cfg.DocsBaseURL + "/document/d/" + id + "/export?format=html"
}

func (s *Source) sessionConfig() browser.Config {
	t := s.cfg.Timings
	return browser.Config{
		Platform: meeting.GoogleMeet,
		Auth: browser.AuthConfig{
			ListingURL:          DriveURL,
			Domains:             []string{"drive.google.com", "docs.google.com"},
			SignedOutURLs:       []string{"accounts.google.com"},
			SignedOutIndicators: loginIndicators,
			SignedIn: func(pageURL string) bool {
				return strings.HasPrefix(pageURL, "https://drive.google.com") ||
					strings.HasPrefix(pageURL, "https://docs.google.com")
			},
			LoginTimeout: t.LoginTimeout,
			PollInterval: t.LoginPoll,
			SettleDelay:  t.SettleDelay,
		},
		DebugDir: s.cfg.DebugDir,
	}
}

var errStopped = errors.New("consumer stopped")

// Fetch signs in to Drive, gathers documents from the Meet Recordings folder
// and the Notes by Gemini search, and exports each new document in the
// window. Documents whose title carries no date are skipped.
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

// run is the state of one Fetch.
type run struct {
	src    *Source
	sess   *browser.Session
	export *fetch.Client
}

func (r *run) sync(ctx context.Context, since time.Time, yield func(*meeting.Meeting, error) bool) error {
	log := r.sess.Logger()
	platform := string(meeting.GoogleMeet)

	if err := r.sess.Authenticate(ctx); err != nil {
		return err
	}
	r.sess.BeginListing()

	folder, err := r.recordingsFolder(ctx)
	if err != nil {
		return err
	}
	notes, err := r.search(ctx, notesQuery)
	if err != nil {
		return err
	}
	refs := merge(folder, notes)
	log.Info("Found meeting documents",
		logging.F("folder", len(folder)),
		logging.F("search", len(notes)),
		logging.F("unique", len(refs)),
	)
	if len(refs) == 0 {
		return nil
	}

	hc, err := r.sess.HTTPClient(ctx)
	if err != nil {
		return syncerr.ClassifyError(fmt.Errorf("copy browser cookies: %w", err), platform, "export")
	}
	r.export = fetch.New(hc, r.src.cfg.Export, log)
	r.sess.BeginDetail()

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return syncerr.ClassifyError(err, platform, "export")
		}
		if isNavTitle(ref.title) {
			continue
		}
		date, ok := parseTitleDate(ref.title, r.src.cfg.Location)
		if !ok {
			log.Warn("Skipping document",
				logging.Err(syncerr.MalformedRecord(platform, fmt.Sprintf("document %s (%q) has no date in its title", ref.id, ref.title))),
			)
			continue
		}
		if !since.IsZero() && date.Before(since) {
			log.Debug("Document before sync window", logging.F("external_id", ref.id), logging.F("date", date))
			continue
		}

		var summary string
		if r.src.known != nil && r.src.known(ctx, ref.id) {
			log.Debug("Already synced; skipping export", logging.F("external_id", ref.id))
		} else {
			summary, err = r.content(ctx, ref.id)
			if err != nil {
				if fetch.IsBreakerOpen(err) || ctx.Err() != nil {
					return fetch.Classify(platform, "export", err)
				}
				log.Warn("Could not export document", logging.F("external_id", ref.id), logging.Err(err))
			}
		}

		title := displayTitle(ref.title)
		if title == "" {
			title = meeting.GoogleMeet.PlaceholderTitle()
		}
		rawRef := ref.href
		if rawRef == "" {
			rawRef = EditURL(ref.id)
		}
		mt, err := meeting.New(meeting.Fields{
			Platform:     meeting.GoogleMeet,
			ExternalID:   ref.id,
			Title:        title,
			OccurredAt:   date,
			Summary:      summary,
			RawSourceRef: rawRef,
			Link:         EditURL(ref.id),
		})
		if err != nil {
			log.Warn("Skipping document", logging.Err(err))
			continue
		}
		if !yield(mt, nil) {
			return errStopped
		}
	}
	return nil
}

// recordingsFolder searches Drive for the Meet Recordings folder and lists
// its documents. A missing folder is not an error.
func (r *run) recordingsFolder(ctx context.Context) ([]docRef, error) {
	log := r.sess.Logger()

	snap, err := r.open(ctx, SearchURL(recordingsName))
	if err != nil {
		return nil, err
	}
	opened, err := r.openFolder(ctx, snap)
	if err != nil {
		return nil, err
	}
	if !opened {
		log.Debug("Folder not in search results; trying folder search")
		if snap, err = r.open(ctx, SearchURL(`title:"`+recordingsName+`" type:folder`)); err != nil {
			return nil, err
		}
		if opened, err = r.openFolder(ctx, snap); err != nil {
			return nil, err
		}
	}
	if !opened {
		log.Warn("Could not find the Meet Recordings folder", logging.F("url", snap.URL))
		r.sess.DumpDebug("drive_search", snap.HTML)
		return nil, nil
	}

	if err := r.sess.Sleep(ctx, r.src.cfg.Timings.RenderDelay); err != nil {
		return nil, syncerr.ClassifyError(err, string(meeting.GoogleMeet), "listing")
	}
	if snap, err = r.sess.Snapshot(ctx); err != nil {
		return nil, r.listingErr(err)
	}
	return collectDocs(snap.Root()), nil
}

// openFolder opens the Meet Recordings folder shown in snap. Drive tiles
// carry the folder id, which is navigated to directly; otherwise the match
// is clicked.
func (r *run) openFolder(ctx context.Context, snap *browser.Snapshot) (bool, error) {
	m, ok := recordingsFolder.Run(snap.Root())
	if !ok {
		return false, nil
	}
	r.sess.Logger().Debug("Found Meet Recordings folder", logging.F("strategy", m.Strategy.String()))

	if tile := m.Elements[0].Closest("[data-id]"); tile != nil {
		if id := attr(tile, "data-id"); id != "" {
			if _, err := r.sess.Navigate(ctx, FoldersURL+id); err != nil {
				return false, r.listingErr(err)
			}
			return true, nil
		}
	}

	target, ok := recordingsFolder.ClickTarget(snap.Root(), snap.Root())
	if !ok {
		return false, nil
	}
	if err := r.sess.Page().Click(ctx, target); err != nil {
		r.sess.Logger().Debug("Click failed", logging.F("target", target.Strategy().String()), logging.Err(err))
		return false, nil
	}
	return true, nil
}

// search lists the documents Drive returns for query.
func (r *run) search(ctx context.Context, query string) ([]docRef, error) {
	snap, err := r.open(ctx, SearchURL(query))
	if err != nil {
		return nil, err
	}
	return collectDocs(snap.Root()), nil
}

// open navigates to pageURL and snapshots it once Drive had time to render.
func (r *run) open(ctx context.Context, pageURL string) (*browser.Snapshot, error) {
	if err := r.sess.Page().Navigate(ctx, pageURL); err != nil {
		return nil, r.listingErr(err)
	}
	if err := r.sess.Sleep(ctx, r.src.cfg.Timings.RenderDelay); err != nil {
		return nil, syncerr.ClassifyError(err, string(meeting.GoogleMeet), "listing")
	}
	snap, err := r.sess.Snapshot(ctx)
	if err != nil {
		return nil, r.listingErr(err)
	}
	return snap, nil
}

func (r *run) listingErr(err error) error {
	return syncerr.ClassifyError(err, string(meeting.GoogleMeet), "listing")
}

// content exports document id as HTML and converts its body to markdown.
// Exports shorter than minContentLen count as no summary.
func (r *run) content(ctx context.Context, id string) (string, error) {
	u := r.src.exportURL(id)
	body, err := r.export.Get(ctx, u, nil)
	if err != nil {
		return "", err
	}
	doc, err := browser.Parse(u, string(body))
	if err != nil {
		return "", fmt.Errorf("parse export: %w", err)
	}
	inner := doc.Root().InnerHTML()
	if b := doc.Query("body"); b != nil {
		inner = b.InnerHTML()
	}
	md, err := r.src.conv.FromHTML(inner)
	if err != nil {
		return "", err
	}
	if len(md) < minContentLen {
		r.sess.Logger().Debug("Document has too little content", logging.F("external_id", id), logging.F("chars", len(md)))
		return "", nil
	}
	return md, nil
}
