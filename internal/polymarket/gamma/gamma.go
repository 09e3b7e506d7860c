package gamma

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/mikpoly2/polymarket-grapher/internal/httpx"
)

const DefaultBaseURL = "https://gamma-api.polymarket.com"

var (
	ErrInvalidURL = errors.New("invalid polymarket url")
	ErrNoMarkets  = errors.New("no valid markets with outcomes and clobTokenIds")
)

var slugPath = regexp.MustCompile(`^/(event|market)/([^/?#]+)`)

// ExtractSlug returns the slug of a polymarket.com/event/<slug> or
// polymarket.com/market/<slug> link. Query and fragment are ignored.
func ExtractSlug(link string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if host != "polymarket.com" && !strings.HasSuffix(host, ".polymarket.com") {
		return "", fmt.Errorf("%w: host must be polymarket.com, got %q", ErrInvalidURL, u.Host)
	}
	m := slugPath.FindStringSubmatch(u.Path)
	if m == nil {
		return "", fmt.Errorf("%w: expected /event/<slug> or /market/<slug>, got %q", ErrInvalidURL, u.Path)
	}
	return m[2], nil
}

// Client is a client for the Gamma API.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient performs the requests.
	httpClient httpx.HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
}

// ClientOption is a configuration option for the Gamma API client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API. An empty value keeps the default.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient httpx.HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewClient creates a new Gamma API client.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// EventBySlug fetches /events/slug/<slug>.
func (c *Client) EventBySlug(ctx context.Context, slug string) (*Event, error) {
	if slug == "" {
		return nil, fmt.Errorf("%w: empty slug", ErrInvalidURL)
	}
	var ev Event
	if err := httpx.GetJSON(ctx, c.httpClient, c.baseURL, "/events/slug/"+url.PathEscape(slug), nil, c.header, &ev); err != nil {
		return nil, fmt.Errorf("fetching event %q: %w", slug, err)
	}
	return &ev, nil
}

// EventMarkets resolves a link to its event and normalized markets.
func (c *Client) EventMarkets(ctx context.Context, link string) (*Event, []Market, error) {
	slug, err := ExtractSlug(link)
	if err != nil {
		return nil, nil, err
	}
	ev, err := c.EventBySlug(ctx, slug)
	if err != nil {
		return nil, nil, err
	}
	markets, err := NormalizeMarkets(ev)
	if err != nil {
		return nil, nil, fmt.Errorf("event %q: %w", slug, err)
	}
	return ev, markets, nil
}

// NormalizeMarkets keeps markets whose outcome and token lists are both
// non-empty and of equal length.
func NormalizeMarkets(ev *Event) ([]Market, error) {
	if ev == nil || len(ev.Markets) == 0 {
		return nil, ErrNoMarkets
	}
	out := make([]Market, 0, len(ev.Markets))
	for _, m := range ev.Markets {
		tokens := m.ClobTokenIds
		if len(tokens) == 0 {
			tokens = m.ClobTokenIDs
		}
		if len(m.Outcomes) == 0 || len(tokens) == 0 || len(m.Outcomes) != len(tokens) {
			continue
		}
		title := strings.TrimSpace(m.Title)
		if title == "" {
			title = strings.TrimSpace(m.Question)
		}
		if title == "" {
			title = "Untitled market"
		}
		out = append(out, Market{
			ID:       string(m.ID),
			Title:    title,
			Outcomes: []string(m.Outcomes),
			TokenIDs: []string(tokens),
		})
	}
	if len(out) == 0 {
		return nil, ErrNoMarkets
	}
	return out, nil
}
