// Package coingecko fetches a price range from the CoinGecko market_chart API.
package coingecko

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mikpoly2/polymarket-grapher/internal/httpx"
	"github.com/mikpoly2/polymarket-grapher/internal/provider"
)

const (
	DefaultBaseURL    = "https://api.coingecko.com/api/v3"
	DefaultVsCurrency = "usd"
	DefaultMaxRetries = 3
	DefaultBackoff    = 500 * time.Millisecond
)

// DefaultSymbols maps user symbols to CoinGecko coin ids.
var DefaultSymbols = provider.SymbolMap{
	"BTC": "bitcoin",
	"ETH": "ethereum",
	"SOL": "solana",
}

// retryable lists the statuses retried with increasing delay.
var retryable = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

type Config struct {
	Name       string
	BaseURL    string
	APIKey     string // optional demo key, sent as x-cg-demo-api-key
	VsCurrency string
	MaxRetries int           // retries after the first attempt; negative disables
	Backoff    time.Duration // first retry delay; doubles per attempt
	Symbols    provider.SymbolMap
	Logger     *slog.Logger
}

type Provider struct {
	cfg    Config
	client httpx.HTTPClient
}

func New(cfg Config, hc httpx.HTTPClient) *Provider {
	if cfg.Name == "" {
		cfg.Name = "CoinGecko"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.VsCurrency == "" {
		cfg.VsCurrency = DefaultVsCurrency
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = DefaultSymbols
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Provider{cfg: cfg, client: hc}
}

func (p *Provider) Name() string { return p.cfg.Name }

// rangeResponse mirrors GET /coins/{id}/market_chart/range.
//
//	{"prices":[[1711929600000, 71333.48], ...], "market_caps":[...], "total_volumes":[...]}
type rangeResponse struct {
	Prices [][2]float64 `json:"prices"`
}

func (p *Provider) Fetch(ctx context.Context, q provider.Query) (provider.Series, error) {
	coinID, err := p.cfg.Symbols.Resolve(p.cfg.Name, q.Instrument)
	if err != nil {
		return nil, err
	}
	if err := q.ValidateRange(); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("vs_currency", p.cfg.VsCurrency)
	query.Set("from", strconv.FormatInt(q.Start, 10))
	query.Set("to", strconv.FormatInt(q.End, 10))
	var header http.Header
	if p.cfg.APIKey != "" {
		header = http.Header{"x-cg-demo-api-key": {p.cfg.APIKey}}
	}
	path := "/coins/" + url.PathEscape(coinID) + "/market_chart/range"

	var body rangeResponse
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			back := p.cfg.Backoff * time.Duration(1<<(attempt-1))
			p.cfg.Logger.Debug("retrying request", "provider", p.cfg.Name, "attempt", attempt, "backoff", back, "error", lastErr)
			if err := httpx.Sleep(ctx, back); err != nil {
				return nil, provider.NewSourceError(p.cfg.Name, "fetch market chart", 0, nil, err)
			}
		}
		lastErr = httpx.GetJSON(ctx, p.client, p.cfg.BaseURL, path, query, header, &body)
		if lastErr == nil {
			break
		}
		var statusErr *httpx.StatusError
		if !errors.As(lastErr, &statusErr) || !retryable[statusErr.Code] {
			return nil, provider.WrapHTTP(p.cfg.Name, "fetch market chart", lastErr)
		}
	}
	if lastErr != nil {
		return nil, provider.WrapHTTP(p.cfg.Name, "fetch market chart", lastErr)
	}

	points := make([]provider.Point, 0, len(body.Prices))
	for _, row := range body.Prices {
		points = append(points, provider.Point{Time: int64(row[0]) / 1000, Price: row[1]})
	}
	if len(points) == 0 {
		return nil, provider.NewSourceError(p.cfg.Name, "fetch market chart", 0, nil,
			fmt.Errorf("empty price list for %s in [%d, %d]", coinID, q.Start, q.End))
	}
	return provider.Normalize(points), nil
}
