// Package binance pages spot klines from the Binance public API.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/mikpoly2/polymarket-grapher/internal/httpx"
	"github.com/mikpoly2/polymarket-grapher/internal/provider"
)

const (
	DefaultBaseURL  = "https://api.binance.com/api/v3"
	DefaultInterval = "1h"
	DefaultLimit    = 1000
	DefaultMaxPages = 500
)

// DefaultSymbols maps user symbols to USDT spot pairs.
var DefaultSymbols = provider.SymbolMap{
	"BTC": "BTCUSDT",
	"ETH": "ETHUSDT",
	"SOL": "SOLUSDT",
}

type Config struct {
	Name     string
	BaseURL  string
	Interval string // kline interval, e.g. 1h
	Limit    int    // candles per request
	MaxPages int    // hard cap on requests per Fetch
	Symbols  provider.SymbolMap
	Logger   *slog.Logger
}

type Provider struct {
	cfg    Config
	client httpx.HTTPClient
}

func New(cfg Config, hc httpx.HTTPClient) *Provider {
	if cfg.Name == "" {
		cfg.Name = "Binance"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Interval == "" {
		cfg.Interval = DefaultInterval
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
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

// Fetch walks [Start, End] by advancing startTime just past the last candle's
// open time. It stops on an empty page, a page that does not advance the
// window, or after MaxPages requests.
func (p *Provider) Fetch(ctx context.Context, q provider.Query) (provider.Series, error) {
	pair, err := p.cfg.Symbols.Resolve(p.cfg.Name, q.Instrument)
	if err != nil {
		return nil, err
	}
	if err := q.ValidateRange(); err != nil {
		return nil, err
	}

	startMs := q.Start * 1000
	endMs := q.End * 1000
	var out []provider.Point

	for page := 0; startMs < endMs && page < p.cfg.MaxPages; page++ {
		query := url.Values{}
		query.Set("symbol", pair)
		query.Set("interval", p.cfg.Interval)
		query.Set("startTime", strconv.FormatInt(startMs, 10))
		query.Set("endTime", strconv.FormatInt(endMs, 10))
		query.Set("limit", strconv.Itoa(p.cfg.Limit))

		var rows [][]json.RawMessage
		if err := httpx.GetJSON(ctx, p.client, p.cfg.BaseURL, "/klines", query, nil, &rows); err != nil {
			return nil, provider.WrapHTTP(p.cfg.Name, "fetch klines", err)
		}
		if len(rows) == 0 {
			break
		}

		lastOpen := int64(-1)
		for _, row := range rows {
			openMs, closePrice, err := parseKline(row)
			if err != nil {
				return nil, provider.NewSourceError(p.cfg.Name, "decode kline", 0, nil, err)
			}
			out = append(out, provider.Point{Time: openMs / 1000, Price: closePrice})
			lastOpen = max(lastOpen, openMs)
		}
		p.cfg.Logger.Debug("klines page", "provider", p.cfg.Name, "pair", pair, "page", page, "rows", len(rows))

		next := lastOpen + 1
		if next <= startMs {
			break
		}
		startMs = next
	}

	if len(out) == 0 {
		return nil, provider.NewSourceError(p.cfg.Name, "fetch klines", 0, nil,
			fmt.Errorf("no candles for %s in [%d, %d]", pair, q.Start, q.End))
	}
	return provider.Normalize(out), nil
}

// parseKline reads open time (ms, index 0) and close price (string, index 4).
//
//	[1499040000000, "0.016", "0.8", "0.015", "0.0159", "148976.1", 1499644799999, ...]
func parseKline(row []json.RawMessage) (int64, float64, error) {
	if len(row) < 5 {
		return 0, 0, fmt.Errorf("kline has %d fields, want >= 5", len(row))
	}
	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return 0, 0, fmt.Errorf("open time: %w", err)
	}
	closePrice, err := parseNumber(row[4])
	if err != nil {
		return 0, 0, fmt.Errorf("close price: %w", err)
	}
	return openMs, closePrice, nil
}

// parseNumber accepts a JSON string or number.
func parseNumber(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
}
