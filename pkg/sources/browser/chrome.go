package browser

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/goccy/go-json"
)

// LaunchConfig controls how Chrome is started.
type LaunchConfig struct {
	// UserDataDir is a persistent profile directory. Empty with Ephemeral
	// unset means DefaultProfileDir.
	UserDataDir string
	// Ephemeral uses a throwaway temp profile.
	Ephemeral bool
	Headless  bool
	// ExecPath overrides Chrome discovery.
	ExecPath string
	// NavigationTimeout bounds a single Navigate.
	NavigationTimeout time.Duration
}

// ErrNoTab is returned by SwitchTab for an unknown tab id.
var ErrNoTab = errors.New("tab not found")

// Chrome is a Page backed by a chromedp-controlled browser.
type Chrome struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	tabCtx        context.Context
	// attached holds cancels for tabs attached by SwitchTab. Cancelling one
	// closes its tab, so they run only on Close.
	attached   []context.CancelFunc
	tempDir    string
	navTimeout time.Duration
}

// Launch starts Chrome. The returned Chrome must be closed.
func Launch(ctx context.Context, cfg LaunchConfig) (*Chrome, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1400, 1000),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	c := &Chrome{navTimeout: cfg.NavigationTimeout}
	if c.navTimeout <= 0 {
		c.navTimeout = 60 * time.Second
	}

	switch {
	case cfg.Ephemeral:
		dir, err := os.MkdirTemp("", "meetsync-chrome-")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp profile: %w", err)
		}
		c.tempDir = dir
		opts = append(opts, chromedp.UserDataDir(dir))
	default:
		dir := cfg.UserDataDir
		if dir == "" {
			dir = DefaultProfileDir()
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create profile directory %s: %w", dir, err)
		}
		opts = append(opts, chromedp.UserDataDir(dir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	c.allocCancel, c.browserCtx, c.browserCancel = allocCancel, browserCtx, browserCancel

	// The first Run starts the browser and opens the initial tab.
	if err := chromedp.Run(browserCtx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}
	c.tabCtx = browserCtx
	return c, nil
}

// run executes actions on the current tab, cancelled with ctx.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Navigate implements Page.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, c.navTimeout)
	defer cancel()
	if err := c.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// Location implements Page.
func (c *Chrome) Location(ctx context.Context) (string, error) {
	var loc string
	if err := c.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// Content implements Page.
func (c *Chrome) Content(ctx context.Context) (string, error) {
	var out string
	if err := c.run(ctx, chromedp.OuterHTML("html", &out, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page content: %w", err)
	}
	return out, nil
}

const clickScript = `(function(t) {
  var els = Array.prototype.slice.call(document.querySelectorAll(t.selector));
  if (t.text) {
    var want = t.text.trim().toLowerCase();
    els = els.filter(function(e) {
      var got = (e.textContent || "").replace(/\s+/g, " ").trim().toLowerCase();
      return t.exact ? got === want : got.indexOf(want) >= 0;
    });
    els = els.filter(function(e) {
      return !els.some(function(o) { return o !== e && e.contains(o); });
    });
  }
  if (t.attr) {
    els = els.filter(function(e) {
      var v = e.getAttribute(t.attr);
      return v !== null && v.indexOf(t.value) >= 0;
    });
  }
  var el = els[t.index];
  if (!el) { return false; }
  el.scrollIntoView({block: "center"});
  el.click();
  return true;
})(%s)`

type clickArgs struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
	Exact    bool   `json:"exact"`
	Attr     string `json:"attr"`
	Value    string `json:"value"`
	Index    int    `json:"index"`
}

// Click implements Page.
func (c *Chrome) Click(ctx context.Context, t Target) error {
	args, err := json.Marshal(clickArgs(t))
	if err != nil {
		return err
	}
	var clicked bool
	if err := c.run(ctx, chromedp.Evaluate(fmt.Sprintf(clickScript, args), &clicked)); err != nil {
		return fmt.Errorf("click %s[%d]: %w", t.Selector, t.Index, err)
	}
	if !clicked {
		return fmt.Errorf("click %s[%d]: element not found", t.Selector, t.Index)
	}
	return nil
}

// Cookies implements Page.
func (c *Chrome) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	var raw []*network.Cookie
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}

	out := make([]*http.Cookie, 0, len(raw))
	for _, rc := range raw {
		hc := &http.Cookie{
			Name:     rc.Name,
			Value:    rc.Value,
			Domain:   rc.Domain,
			Path:     rc.Path,
			Secure:   rc.Secure,
			HttpOnly: rc.HTTPOnly,
		}
		if !rc.Session && rc.Expires > 0 {
			sec, frac := math.Modf(rc.Expires)
			hc.Expires = time.Unix(int64(sec), int64(frac*1e9))
		}
		out = append(out, hc)
	}
	return out, nil
}

// Tabs implements Page.
func (c *Chrome) Tabs(ctx context.Context) ([]Tab, error) {
	infos, err := chromedp.Targets(c.browserCtx)
	if err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}
	var tabs []Tab
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		tabs = append(tabs, Tab{ID: string(info.TargetID), URL: info.URL, Title: info.Title})
	}
	return tabs, nil
}

// SwitchTab implements Page.
func (c *Chrome) SwitchTab(ctx context.Context, id string) error {
	tabs, err := c.Tabs(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, t := range tabs {
		if t.ID == id {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNoTab, id)
	}

	if cur := chromedp.FromContext(c.tabCtx); cur != nil && cur.Target != nil && string(cur.Target.TargetID) == id {
		return nil
	}

	tabCtx, cancel := chromedp.NewContext(c.browserCtx, chromedp.WithTargetID(target.ID(id)))
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return fmt.Errorf("attach tab %s: %w", id, err)
	}
	c.tabCtx = tabCtx
	c.attached = append(c.attached, cancel)
	return nil
}

// Close shuts the browser down and removes an ephemeral profile.
func (c *Chrome) Close() error {
	for _, cancel := range c.attached {
		cancel()
	}
	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	if c.tempDir != "" {
		return os.RemoveAll(c.tempDir)
	}
	return nil
}

// DefaultProfileDir is the persistent profile shared by browser platforms:
// ~/.meetings2obsidian/chrome_profile, or a directory under the system temp
// dir when no home directory is known.
func DefaultProfileDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "meetings2obsidian", "chrome_profile")
	}
	return filepath.Join(home, ".meetings2obsidian", "chrome_profile")
}
