// Package browser drives an authenticated browser session for platforms that
// expose meeting summaries only through their web UI.
//
// The live page sits behind the Page interface; everything the adapters
// inspect comes from Snapshots, so no DOM handle outlives a navigation.
package browser

import (
	"context"
	"net/http"
)

// Page is the subset of browser control the adapters need.
type Page interface {
	// Navigate loads url and waits for the document body.
	Navigate(ctx context.Context, url string) error
	// Location returns the current URL.
	Location(ctx context.Context) (string, error)
	// Content returns the current document's outer HTML.
	Content(ctx context.Context) (string, error)
	// Click clicks the element t addresses.
	Click(ctx context.Context, t Target) error
	// Cookies returns every cookie the browser holds.
	Cookies(ctx context.Context) ([]*http.Cookie, error)
	// Tabs lists open page targets, oldest first.
	Tabs(ctx context.Context) ([]Tab, error)
	// SwitchTab makes the tab with id the current page.
	SwitchTab(ctx context.Context, id string) error
	Close() error
}

// Target addresses the Index-th element matching Selector, optionally
// narrowed by text or an attribute the same way the matching Strategy is.
type Target struct {
	Selector string
	Text     string
	Exact    bool
	Attr     string
	Value    string
	Index    int
}

// Tab is an open browser tab.
type Tab struct {
	ID    string
	URL   string
	Title string
}
