// Package heypocket syncs recorder summaries from the Heypocket public API.
package heypocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/otherjamesbrown/meetsync/pkg/logging"
	"github.com/otherjamesbrown/meetsync/pkg/sources/fetch"
)

const (
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://public.heypocketai.com/api/v1"

	recordingsEndpoint = "public/recordings"
	pageSize           = 100
	maxPages           = 1000
)

// Config configures the API client.
type Config struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client talks to the Heypocket REST API.
type Client struct {
	base   string
	apiKey string
	http   *fetch.Client
	logger logging.Logger
}

// NewClient returns a Client. A nil httpClient uses the default transport.
func NewClient(cfg Config, httpClient *http.Client, logger logging.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("heypocket API key is not configured")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}

	fc := fetch.DefaultConfig("heypocket")
	if cfg.RequestsPerSecond > 0 {
		fc.RequestsPerSecond = cfg.RequestsPerSecond
	}
	if cfg.Timeout > 0 {
		fc.Timeout = cfg.Timeout
	}

	return &Client{
		base:   base,
		apiKey: cfg.APIKey,
		http:   fetch.New(httpClient, fc, logger),
		logger: logger,
	}, nil
}

// Page is one decoded list response.
type Page struct {
	Records    []map[string]any
	TotalPages int
	// Paged is false for shapes that carry no pagination info.
	Paged bool
}

// ListPage fetches one page of recordings. A zero since omits start_date.
func (c *Client) ListPage(ctx context.Context, n int, since time.Time) (*Page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(n))
	q.Set("include_summarizations", "true")
	if !since.IsZero() {
		q.Set("start_date", since.Format("2006-01-02"))
	}

	body, err := c.get(ctx, c.base+"/"+recordingsEndpoint, q)
	if err != nil {
		return nil, err
	}
	return decodePage(body)
}

// Detail fetches a single recording including its summarizations.
func (c *Client) Detail(ctx context.Context, id string) (map[string]any, error) {
	q := url.Values{}
	q.Set("include_summarizations", "true")

	body, err := c.get(ctx, c.DetailURL(id), q)
	if err != nil {
		return nil, err
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode recording %s: %w", id, err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("recording %s: unexpected response type %T", id, raw)
	}
	if data, ok := obj["data"].(map[string]any); ok {
		return data, nil
	}
	return obj, nil
}

// DetailURL is the detail endpoint for id.
func (c *Client) DetailURL(id string) string {
	return c.base + "/" + recordingsEndpoint + "/" + url.PathEscape(id)
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values) ([]byte, error) {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.apiKey)
	h.Set("Accept", "application/json")
	return c.http.Get(ctx, endpoint+"?"+q.Encode(), h)
}

// decodePage accepts every list shape the API has been seen to return: a bare
// array, {"data": [...]}, {"data": {"items"|"recordings": [...], "total_pages": N}}
// and the same envelope without "data".
func decodePage(body []byte) (*Page, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode recordings: %w", err)
	}

	switch v := raw.(type) {
	case []any:
		return &Page{Records: objects(v), TotalPages: 1}, nil
	case map[string]any:
		env := v
		if data, ok := v["data"]; ok {
			switch d := data.(type) {
			case []any:
				p := &Page{Records: objects(d), TotalPages: 1}
				if tp, ok := intValue(v["total_pages"]); ok {
					p.TotalPages, p.Paged = tp, true
				}
				return p, nil
			case map[string]any:
				env = d
			}
		}
		p := &Page{TotalPages: 1}
		if items, ok := env["items"].([]any); ok {
			p.Records = objects(items)
		} else if recs, ok := env["recordings"].([]any); ok {
			p.Records = objects(recs)
		}
		if tp, ok := intValue(env["total_pages"]); ok {
			p.TotalPages, p.Paged = tp, true
		}
		return p, nil
	case nil:
		return &Page{TotalPages: 1}, nil
	}
	return nil, fmt.Errorf("decode recordings: unexpected response type %T", raw)
}

func objects(in []any) []map[string]any {
	out := make([]map[string]any, 0, len(in))
	for _, v := range in {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}
