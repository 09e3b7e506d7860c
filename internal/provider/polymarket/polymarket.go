// Package polymarket fetches outcome-token price history from the Polymarket CLOB.
package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/mikpoly2/polymarket-grapher/internal/httpx"
	"github.com/mikpoly2/polymarket-grapher/internal/provider"
)

const (
	// DefaultBaseURL is the base URL for the CLOB API.
	DefaultBaseURL = "https://clob.polymarket.com"
	// DefaultFidelity is the sampling resolution in minutes.
	DefaultFidelity = 10
)

type Config struct {
	Name     string // display name, default: Polymarket
	BaseURL  string
	Fidelity int // used when Query.Fidelity <= 0
	Logger   *slog.Logger
}

// Provider requests the full available history of a token; the upstream
// decides the range, so Query.Start and Query.End are ignored.
type Provider struct {
	cfg    Config
	client httpx.HTTPClient
}

func New(cfg Config, hc httpx.HTTPClient) *Provider {
	if cfg.Name == "" {
		cfg.Name = "Polymarket"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Fidelity <= 0 {
		cfg.Fidelity = DefaultFidelity
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

// historyResponse mirrors GET /prices-history.
//
//	{"history":[{"t":1700000000,"p":0.52}, ...]}
type historyResponse struct {
	History []struct {
		T *float64 `json:"t"`
		P *float64 `json:"p"`
	} `json:"history"`
}

func (p *Provider) Fetch(ctx context.Context, q provider.Query) (provider.Series, error) {
	token := strings.TrimSpace(q.Instrument)
	if token == "" {
		return nil, &provider.UnsupportedInstrumentError{Provider: p.cfg.Name, Instrument: q.Instrument}
	}
	fidelity := q.Fidelity
	if fidelity <= 0 {
		fidelity = p.cfg.Fidelity
	}

	query := url.Values{}
	query.Set("market", token)
	query.Set("interval", "max")
	query.Set("fidelity", strconv.Itoa(fidelity))

	var body historyResponse
	if err := httpx.GetJSON(ctx, p.client, p.cfg.BaseURL, "/prices-history", query, nil, &body); err != nil {
		return nil, provider.WrapHTTP(p.cfg.Name, "fetch price history", err)
	}

	points := make([]provider.Point, 0, len(body.History))
	skipped := 0
	for _, h := range body.History {
		if h.T == nil || h.P == nil {
			skipped++
			continue
		}
		price := *h.P
		if math.IsNaN(price) || price < 0 || price > 1 {
			skipped++
			continue
		}
		points = append(points, provider.Point{Time: int64(*h.T), Price: price})
	}
	if skipped > 0 {
		p.cfg.Logger.Debug("skipped malformed history points", "provider", p.cfg.Name, "token", token, "skipped", skipped)
	}
	if len(points) == 0 {
		return nil, provider.NewSourceError(p.cfg.Name, "fetch price history", 0, nil,
			fmt.Errorf("empty price history for token %s", token))
	}
	return provider.Normalize(points), nil
}
