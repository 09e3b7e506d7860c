// Package kraken pages OHLC rows from the Kraken public API using the
// response's "last" cursor.
package kraken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mikpoly2/polymarket-grapher/internal/httpx"
	"github.com/mikpoly2/polymarket-grapher/internal/provider"
)

const (
	DefaultBaseURL    = "https://api.kraken.com"
	DefaultInterval   = 60 // minutes
	DefaultMaxPages   = 20
	DefaultMaxRetries = 3
	DefaultBackoff    = 2 * time.Second
)

// DefaultSymbols maps user symbols to Kraken pair names.
var DefaultSymbols = provider.SymbolMap{
	"BTC": "XBTUSD",
	"ETH": "ETHUSD",
	"SOL": "SOLUSD",
}

type Config struct {
	Name       string
	BaseURL    string
	Interval   int // candle width in minutes
	MaxPages   int
	MaxRetries int           // retries on 429; negative disables
	Backoff    time.Duration // fixed delay between 429 retries
	Symbols    provider.SymbolMap
	Logger     *slog.Logger
}

type Provider struct {
	cfg    Config
	client httpx.HTTPClient
}

func New(cfg Config, hc httpx.HTTPClient) *Provider {
	if cfg.Name == "" {
		cfg.Name = "Kraken"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
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

// ohlcResponse mirrors GET /0/public/OHLC.
//
//	{"error":[],"result":{"XXBTZUSD":[[1711929600,"71000.0","71500.0","70800.0","71333.4","71200.1","12.3",420], ...],"last":1711929600}}
//
// The pair key in result is Kraken's canonical name and may differ from the
// requested pair, so every non-"last" key is read.
type ohlcResponse struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

type page struct {
	rows [][]json.RawMessage
	last int64
}

// Fetch requests pages starting at since=Start and follows "last" until the
// cursor passes End, stops advancing, a page comes back empty, or MaxPages is
// reached. Rows outside [Start, End] are dropped.
func (p *Provider) Fetch(ctx context.Context, q provider.Query) (provider.Series, error) {
	pair, err := p.cfg.Symbols.Resolve(p.cfg.Name, q.Instrument)
	if err != nil {
		return nil, err
	}
	if err := q.ValidateRange(); err != nil {
		return nil, err
	}

	var points []provider.Point
	since := q.Start
	for n := 0; n < p.cfg.MaxPages; n++ {
		pg, err := p.fetchPage(ctx, pair, since)
		if err != nil {
			return nil, err
		}
		for _, row := range pg.rows {
			pt, err := parseRow(row)
			if err != nil {
				return nil, provider.NewSourceError(p.cfg.Name, "fetch ohlc", 0, nil, err)
			}
			points = append(points, pt)
		}
		p.cfg.Logger.Debug("fetched page", "provider", p.cfg.Name, "pair", pair, "since", since, "rows", len(pg.rows), "last", pg.last)

		if len(pg.rows) == 0 || pg.last <= since || pg.last >= q.End {
			break
		}
		since = pg.last
	}

	points = provider.Clip(points, q.Start, q.End)
	if len(points) == 0 {
		return nil, provider.NewSourceError(p.cfg.Name, "fetch ohlc", 0, nil,
			fmt.Errorf("no rows for %s in [%d, %d]", pair, q.Start, q.End))
	}
	return provider.Normalize(points), nil
}

func (p *Provider) fetchPage(ctx context.Context, pair string, since int64) (page, error) {
	query := url.Values{}
	query.Set("pair", pair)
	query.Set("interval", strconv.Itoa(p.cfg.Interval))
	query.Set("since", strconv.FormatInt(since, 10))

	var body ohlcResponse
	var err error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			p.cfg.Logger.Debug("rate limited, retrying", "provider", p.cfg.Name, "attempt", attempt, "backoff", p.cfg.Backoff)
			if serr := httpx.Sleep(ctx, p.cfg.Backoff); serr != nil {
				return page{}, provider.NewSourceError(p.cfg.Name, "fetch ohlc", 0, nil, serr)
			}
		}
		body = ohlcResponse{}
		err = httpx.GetJSON(ctx, p.client, p.cfg.BaseURL, "/0/public/OHLC", query, nil, &body)
		var statusErr *httpx.StatusError
		if err == nil || !errors.As(err, &statusErr) || statusErr.Code != http.StatusTooManyRequests {
			break
		}
	}
	if err != nil {
		return page{}, provider.WrapHTTP(p.cfg.Name, "fetch ohlc", err)
	}
	if len(body.Error) > 0 {
		return page{}, provider.NewSourceError(p.cfg.Name, "fetch ohlc", 0, nil,
			errors.New(strings.Join(body.Error, "; ")))
	}

	var pg page
	for key, raw := range body.Result {
		if key == "last" {
			if err := json.Unmarshal(raw, &pg.last); err != nil {
				return page{}, provider.NewSourceError(p.cfg.Name, "fetch ohlc", 0, raw, fmt.Errorf("decoding last: %w", err))
			}
			continue
		}
		if err := json.Unmarshal(raw, &pg.rows); err != nil {
			return page{}, provider.NewSourceError(p.cfg.Name, "fetch ohlc", 0, nil, fmt.Errorf("decoding %s rows: %w", key, err))
		}
	}
	return pg, nil
}

// parseRow reads [time, open, high, low, close, vwap, volume, count].
func parseRow(row []json.RawMessage) (provider.Point, error) {
	if len(row) < 5 {
		return provider.Point{}, fmt.Errorf("short ohlc row: %d fields", len(row))
	}
	var ts int64
	if err := json.Unmarshal(row[0], &ts); err != nil {
		return provider.Point{}, fmt.Errorf("row time: %w", err)
	}
	var closeStr string
	if err := json.Unmarshal(row[4], &closeStr); err != nil {
		return provider.Point{}, fmt.Errorf("row close: %w", err)
	}
	price, err := strconv.ParseFloat(closeStr, 64)
	if err != nil {
		return provider.Point{}, fmt.Errorf("row close: %w", err)
	}
	return provider.Point{Time: ts, Price: price}, nil
}
