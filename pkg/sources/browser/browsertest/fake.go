// Package browsertest provides an in-memory browser.Page for adapter tests.
package browsertest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/otherjamesbrown/meetsync/pkg/sources/browser"
)

// ClickFunc handles a click on el. Returning a non-empty URL navigates there.
type ClickFunc func(p *Page, t browser.Target, el *browser.Element) (string, error)

// Page serves canned HTML per URL.
type Page struct {
	mu sync.Mutex

	// Sites maps URLs to documents.
	Sites map[string]string
	// Redirects maps a requested URL to the URL actually loaded.
	Redirects map[string]string
	// OnClick overrides link following.
	OnClick ClickFunc
	// BeforeContent runs before every Content call.
	BeforeContent func(p *Page)
	// NavigateErr fails every Navigate.
	NavigateErr error

	Jar     []*http.Cookie
	TabList []browser.Tab

	current     string
	navigations []string
	clicks      []browser.Target
	switched    []string
	closed      bool
}

// New returns a Page serving sites.
func New(sites map[string]string) *Page {
	return &Page{Sites: sites, Redirects: map[string]string{}}
}

// Navigate implements browser.Page.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.navigations = append(p.navigations, url)
	if to, ok := p.Redirects[url]; ok {
		url = to
	}
	p.current = url
	return nil
}

// Location implements browser.Page.
func (p *Page) Location(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, ctx.Err()
}

// Content implements browser.Page.
func (p *Page) Content(ctx context.Context) (string, error) {
	if p.BeforeContent != nil {
		p.BeforeContent(p)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.Sites[p.current], nil
}

// Click implements browser.Page. Without OnClick it follows the element's href.
func (p *Page) Click(ctx context.Context, t browser.Target) error {
	p.mu.Lock()
	snap, err := browser.Parse(p.current, p.Sites[p.current])
	p.clicks = append(p.clicks, t)
	onClick := p.OnClick
	p.mu.Unlock()
	if err != nil {
		return err
	}

	el := t.Resolve(snap.Root())
	if el == nil {
		return fmt.Errorf("click %s[%d]: element not found", t.Selector, t.Index)
	}

	next := ""
	if onClick != nil {
		if next, err = onClick(p, t, el); err != nil {
			return err
		}
	} else if href, ok := el.Attr("href"); ok {
		next = href
	}
	if next != "" {
		return p.Navigate(ctx, next)
	}
	return nil
}

// Cookies implements browser.Page.
func (p *Page) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Jar, nil
}

// Tabs implements browser.Page.
func (p *Page) Tabs(ctx context.Context) ([]browser.Tab, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Tab(nil), p.TabList...), nil
}

// SwitchTab implements browser.Page; the tab's URL becomes current.
func (p *Page) SwitchTab(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.TabList {
		if t.ID == id {
			p.switched = append(p.switched, id)
			p.current = t.URL
			return nil
		}
	}
	return fmt.Errorf("%w: %s", browser.ErrNoTab, id)
}

// Close implements browser.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// SetCurrent moves the page to url without recording a navigation.
func (p *Page) SetCurrent(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = url
}

// SetSite replaces the document served at url.
func (p *Page) SetSite(url, html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Sites[url] = html
}

// Navigations returns every requested URL in order.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Clicks returns every click target in order.
func (p *Page) Clicks() []browser.Target {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Target(nil), p.clicks...)
}

// Switched returns the ids passed to SwitchTab.
func (p *Page) Switched() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.switched...)
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Launcher returns a browser.Launcher handing out p.
func (p *Page) Launcher() browser.Launcher {
	return func(ctx context.Context) (browser.Page, error) {
		return p, nil
	}
}

// Clock is a manual clock whose Sleep advances time instantly.
type Clock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

// NewClock returns a clock starting at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 25, 12, 0, 0, 0, time.UTC)}
}

// Now returns the clock's time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the clock by d.
func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept += d
	return nil
}

// Slept returns the total time slept.
func (c *Clock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}

// Option installs the clock on a browser session.
func (c *Clock) Option() browser.SessionOption {
	return browser.WithClock(c.Now, c.Sleep)
}
