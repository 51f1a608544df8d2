package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	syncerr "github.com/otherjamesbrown/meetsync/pkg/errors"
	"github.com/otherjamesbrown/meetsync/pkg/logging"
	"github.com/otherjamesbrown/meetsync/pkg/meeting"
)

// State is a step of a browser sync session.
type State int

const (
	Launching State = iota
	AuthenticatingCheck
	AwaitingManualLogin
	Authenticated
	ListingRecordings
	ExtractingDetail
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Launching:
		return "launching"
	case AuthenticatingCheck:
		return "authenticating_check"
	case AwaitingManualLogin:
		return "awaiting_manual_login"
	case Authenticated:
		return "authenticated"
	case ListingRecordings:
		return "listing_recordings"
	case ExtractingDetail:
		return "extracting_detail"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Launcher starts a browser and returns its page.
type Launcher func(ctx context.Context) (Page, error)

// ChromeLauncher returns a Launcher for cfg.
func ChromeLauncher(cfg LaunchConfig) Launcher {
	return func(ctx context.Context) (Page, error) {
		return Launch(ctx, cfg)
	}
}

// AuthConfig describes how a platform signals a signed-out browser.
type AuthConfig struct {
	// ListingURL is loaded first and again after a manual login.
	ListingURL string
	// Domains identify the platform's tabs, e.g. "zoom.us".
	Domains []string
	// SignedOutURLs are URL substrings of login pages.
	SignedOutURLs []string
	// SignedOutIndicators match DOM elements only present when signed out.
	SignedOutIndicators Cascade
	// SignedIn, when set, overrides the checks above for URLs it accepts.
	SignedIn func(pageURL string) bool

	LoginTimeout time.Duration
	PollInterval time.Duration
	SettleDelay  time.Duration
}

// SignedOut reports whether snap looks like a login page.
func (a AuthConfig) SignedOut(snap *Snapshot) bool {
	if a.SignedIn != nil && a.SignedIn(snap.URL) {
		return false
	}
	lower := strings.ToLower(snap.URL)
	for _, sub := range a.SignedOutURLs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	_, found := a.SignedOutIndicators.Run(snap.Root())
	return found
}

// Config configures a Session.
type Config struct {
	Platform meeting.Platform
	Auth     AuthConfig
	// DebugDir receives HTML dumps of pages no strategy matched.
	DebugDir string
	// ListTimeout bounds waiting for a listing cascade to match.
	ListTimeout time.Duration
	// ListPoll is the interval between listing attempts.
	ListPoll time.Duration
}

func (c *Config) applyDefaults() {
	if c.Auth.LoginTimeout <= 0 {
		c.Auth.LoginTimeout = 120 * time.Second
	}
	if c.Auth.PollInterval <= 0 {
		c.Auth.PollInterval = 2 * time.Second
	}
	if c.Auth.SettleDelay < 0 {
		c.Auth.SettleDelay = 0
	}
	if c.ListTimeout <= 0 {
		c.ListTimeout = 10 * time.Second
	}
	if c.ListPoll <= 0 {
		c.ListPoll = time.Second
	}
}

// Session runs one platform's browser flow and records its state transitions.
type Session struct {
	page    Page
	cfg     Config
	logger  logging.Logger
	state   State
	history []State
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithClock replaces the session's clock and sleep, for tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) SessionOption {
	return func(s *Session) {
		s.now, s.sleep = now, sleep
	}
}

// Start launches the browser and returns a session in the Launching state.
func Start(ctx context.Context, launch Launcher, cfg Config, logger logging.Logger, opts ...SessionOption) (*Session, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	cfg.applyDefaults()
	s := &Session{
		cfg:    cfg,
		logger: logger.With(logging.F("platform", string(cfg.Platform)), logging.F("component", "browser")),
		state:  Launching,
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.history = []State{Launching}
	s.logger.Info("Launching browser")

	page, err := launch(ctx)
	if err != nil {
		s.transition(Failed)
		return nil, syncerr.ClassifyError(fmt.Errorf("launch browser: %w", err), string(cfg.Platform), "launch")
	}
	s.page = page
	return s, nil
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// History returns every state the session entered, in order.
func (s *Session) History() []State {
	return append([]State(nil), s.history...)
}

// Page returns the live page.
func (s *Session) Page() Page {
	return s.page
}

// Logger returns the session logger.
func (s *Session) Logger() logging.Logger {
	return s.logger
}

func (s *Session) transition(to State) {
	if s.state == to {
		return
	}
	s.logger.Debug("Browser state change", logging.F("from", s.state.String()), logging.F("to", to.String()))
	s.state = to
	s.history = append(s.history, to)
}

// Now returns the session clock's current time.
func (s *Session) Now() time.Time {
	return s.now()
}

// Sleep waits d or until ctx is done.
func (s *Session) Sleep(ctx context.Context, d time.Duration) error {
	return s.sleep(ctx, d)
}

// Authenticate loads the listing URL and, when the browser is signed out,
// waits for the user to log in manually.
func (s *Session) Authenticate(ctx context.Context) error {
	platform := string(s.cfg.Platform)
	auth := s.cfg.Auth

	s.transition(AuthenticatingCheck)
	snap, err := s.Navigate(ctx, auth.ListingURL)
	if err != nil {
		s.transition(Failed)
		return syncerr.ClassifyError(err, platform, "login")
	}
	if !auth.SignedOut(snap) {
		s.transition(Authenticated)
		return nil
	}

	s.transition(AwaitingManualLogin)
	s.logger.Warn("Manual login required: sign in using the browser window",
		logging.F("timeout", auth.LoginTimeout),
		logging.F("url", snap.URL),
	)

	deadline := s.now().Add(auth.LoginTimeout)
	for {
		if err := s.sleep(ctx, auth.PollInterval); err != nil {
			s.transition(Failed)
			return syncerr.ClassifyError(err, platform, "login")
		}
		s.refreshTab(ctx)

		snap, err := s.Snapshot(ctx)
		if err != nil {
			s.logger.Debug("Login poll failed", logging.Err(err))
		} else if !auth.SignedOut(snap) {
			break
		}
		if !s.now().Before(deadline) {
			s.transition(Failed)
			return syncerr.AuthenticationTimeout(platform, auth.LoginTimeout)
		}
	}

	s.transition(Authenticated)
	s.logger.Info("Login detected")
	if err := s.sleep(ctx, auth.SettleDelay); err != nil {
		s.transition(Failed)
		return syncerr.ClassifyError(err, platform, "login")
	}
	s.refreshTab(ctx)
	if _, err := s.Navigate(ctx, auth.ListingURL); err != nil {
		s.transition(Failed)
		return syncerr.ClassifyError(err, platform, "login")
	}
	return nil
}

// refreshTab switches to the most recent tab on one of the platform's
// domains, or to the most recent tab when none matches. SSO flows often
// finish in a tab other than the one that started them.
func (s *Session) refreshTab(ctx context.Context) {
	tabs, err := s.page.Tabs(ctx)
	if err != nil || len(tabs) == 0 {
		if err != nil {
			s.logger.Debug("Could not list tabs", logging.Err(err))
		}
		return
	}
	pick := tabs[len(tabs)-1]
	for i := len(tabs) - 1; i >= 0; i-- {
		if s.onDomain(tabs[i].URL) {
			pick = tabs[i]
			break
		}
	}
	if err := s.page.SwitchTab(ctx, pick.ID); err != nil {
		s.logger.Debug("Could not switch tab", logging.F("tab", pick.ID), logging.Err(err))
	}
}

func (s *Session) onDomain(pageURL string) bool {
	for _, d := range s.cfg.Auth.Domains {
		if strings.Contains(pageURL, d) {
			return true
		}
	}
	return false
}

// Navigate loads pageURL and snapshots the result.
func (s *Session) Navigate(ctx context.Context, pageURL string) (*Snapshot, error) {
	if err := s.page.Navigate(ctx, pageURL); err != nil {
		return nil, err
	}
	return s.Snapshot(ctx)
}

// Snapshot captures the current page.
func (s *Session) Snapshot(ctx context.Context) (*Snapshot, error) {
	loc, err := s.page.Location(ctx)
	if err != nil {
		return nil, err
	}
	content, err := s.page.Content(ctx)
	if err != nil {
		return nil, err
	}
	return Parse(loc, content)
}

// List waits for the cascade to match the current page. When no strategy
// matches before the list timeout, the page is dumped to the debug directory
// and an extraction-exhausted error names every strategy tried.
func (s *Session) List(ctx context.Context, c Cascade) (*Snapshot, Match, error) {
	s.transition(ListingRecordings)
	platform := string(s.cfg.Platform)

	deadline := s.now().Add(s.cfg.ListTimeout)
	for {
		snap, err := s.Snapshot(ctx)
		if err != nil {
			return nil, Match{}, syncerr.ClassifyError(err, platform, "listing")
		}
		m, ok := c.Run(snap.Root())
		if ok {
			s.logger.Debug("Listing matched",
				logging.F("strategy", m.Strategy.String()),
				logging.F("count", len(m.Elements)),
			)
			return snap, m, nil
		}
		if !s.now().Before(deadline) {
			s.DumpDebug("listing", snap.HTML)
			return snap, m, syncerr.ExtractionExhausted(platform, snap.URL, m.Tried)
		}
		if err := s.sleep(ctx, s.cfg.ListPoll); err != nil {
			return nil, Match{}, syncerr.ClassifyError(err, platform, "listing")
		}
	}
}

// BeginListing marks the start of listing for flows that collect items
// without waiting on a cascade.
func (s *Session) BeginListing() {
	s.transition(ListingRecordings)
}

// BeginDetail marks the start of per-item extraction.
func (s *Session) BeginDetail() {
	s.transition(ExtractingDetail)
}

// Finish moves the session to Done, or Failed when err is non-nil.
func (s *Session) Finish(err error) {
	if err != nil {
		s.logger.Warn("Browser session failed", logging.Err(err))
		s.transition(Failed)
		return
	}
	s.transition(Done)
}

// Close releases the browser.
func (s *Session) Close() error {
	if s.page == nil {
		return nil
	}
	return s.page.Close()
}

// HTTPClient returns a client carrying the browser's cookies, for requests
// that need the session but not a rendered page.
func (s *Session) HTTPClient(ctx context.Context) (*http.Client, error) {
	cookies, err := s.page.Cookies(ctx)
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	byHost := make(map[string][]*http.Cookie)
	for _, c := range cookies {
		host := strings.TrimPrefix(c.Domain, ".")
		if host == "" {
			continue
		}
		byHost[host] = append(byHost[host], c)
	}
	for host, list := range byHost {
		jar.SetCookies(&url.URL{Scheme: "https", Host: host, Path: "/"}, list)
	}
	return &http.Client{Jar: jar, Timeout: 60 * time.Second}, nil
}

// DumpDebug writes content to the debug directory and returns the path, or
// "" when no debug directory is configured.
func (s *Session) DumpDebug(name, content string) string {
	if s.cfg.DebugDir == "" {
		return ""
	}
	if err := os.MkdirAll(s.cfg.DebugDir, 0o755); err != nil {
		s.logger.Warn("Could not create debug directory", logging.F("dir", s.cfg.DebugDir), logging.Err(err))
		return ""
	}
	file := fmt.Sprintf("%s_%s_%s.html", s.cfg.Platform, name, s.now().UTC().Format("20060102T150405"))
	path := filepath.Join(s.cfg.DebugDir, file)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		s.logger.Warn("Could not write debug dump", logging.F("path", path), logging.Err(err))
		return ""
	}
	s.logger.Info("Saved page HTML for debugging", logging.F("path", path))
	return path
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
