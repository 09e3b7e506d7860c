// Package grapher turns a selection of outcome tokens into an aligned chart
// with an optional crypto overlay.
package grapher

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mikpoly2/polymarket-grapher/internal/align"
	"github.com/mikpoly2/polymarket-grapher/internal/provider"
	"github.com/mikpoly2/polymarket-grapher/internal/provider/cache"
)

const DefaultMaxConcurrency = 4

// Per-request fidelity bounds in minutes.
const (
	MinFidelity = 1
	MaxFidelity = 60
)

type Config struct {
	Prices         provider.Provider // prediction-market history
	Crypto         provider.Provider // optional overlay source
	Fidelity       int               // minutes
	MaxConcurrency int
	Logger         *slog.Logger
}

// Selection is one outcome line to draw.
type Selection struct {
	Label   string `json:"label"`
	TokenID string `json:"token_id"`
}

type Request struct {
	Event        string // event slug or id; a change starts a fresh cache
	Selections   []Selection
	ShowSum      bool
	CryptoSymbol string // empty for no overlay; case-insensitive
	Fidelity     int    // minutes; 0 uses Config.Fidelity
}

// Overlay is the crypto series on its own timestamps.
type Overlay struct {
	Symbol   string          `json:"symbol"`
	Provider string          `json:"provider"`
	Series   provider.Series `json:"series"`
}

type Chart struct {
	Matrix   align.Matrix `json:"matrix"`
	Overlay  *Overlay     `json:"overlay,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
}

// Session owns the series cache for one interactive selection. The cache is
// dropped whenever the event or the selected instruments change.
type Session struct {
	ID string

	cfg    Config
	prices provider.Provider
	crypto provider.Provider
	cache  *cache.Cache

	mu          sync.Mutex
	fingerprint string
	lastUsed    time.Time
}

func NewSession(cfg Config) *Session {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := cache.New()
	s := &Session{
		ID:       uuid.NewString(),
		cfg:      cfg,
		cache:    c,
		prices:   &cache.Provider{P: cfg.Prices, C: c},
		lastUsed: time.Now(),
	}
	if cfg.Crypto != nil {
		s.crypto = &cache.Provider{P: cfg.Crypto, C: c}
	}
	return s
}

// CacheLen reports the number of cached series.
func (s *Session) CacheLen() int { return s.cache.Len() }

// LastUsed returns the time of the most recent Refresh.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Refresh fetches every selection through the session cache, aligns them and
// attaches the crypto overlay over the matrix time range. Any failed
// selection aborts the refresh; a failed overlay only adds a warning.
func (s *Session) Refresh(ctx context.Context, req Request) (*Chart, error) {
	sym := strings.ToUpper(strings.TrimSpace(req.CryptoSymbol))
	fidelity := req.Fidelity
	if fidelity == 0 {
		fidelity = s.cfg.Fidelity
	}
	s.touch(req.Event, req.Selections, sym)

	series := make([]provider.Series, len(req.Selections))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrency)
	for i, sel := range req.Selections {
		g.Go(func() error {
			got, err := s.prices.Fetch(gctx, provider.Query{Instrument: sel.TokenID, Fidelity: fidelity})
			if err != nil {
				return fmt.Errorf("fetching %q: %w", sel.Label, err)
			}
			series[i] = got
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputs := make([]align.Input, len(req.Selections))
	for i, sel := range req.Selections {
		inputs[i] = align.Input{Label: sel.Label, Series: series[i]}
	}
	chart := &Chart{Matrix: align.Align(inputs, req.ShowSum)}

	if sym == "" {
		return chart, nil
	}
	if s.crypto == nil {
		chart.Warnings = append(chart.Warnings, "crypto overlay unavailable: no provider configured")
		return chart, nil
	}
	if chart.Matrix.Len() == 0 {
		return chart, nil
	}
	start, end := chart.Matrix.Index[0], chart.Matrix.Index[chart.Matrix.Len()-1]
	overlay, err := s.crypto.Fetch(ctx, provider.Query{Instrument: sym, Start: start, End: end})
	if err != nil {
		s.cfg.Logger.Warn("crypto overlay omitted", "session", s.ID, "symbol", sym, "error", err)
		chart.Warnings = append(chart.Warnings, fmt.Sprintf("crypto overlay omitted: %v", err))
		return chart, nil
	}
	chart.Overlay = &Overlay{Symbol: sym, Provider: s.crypto.Name(), Series: overlay}
	return chart, nil
}

// touch records use and resets the cache when the selection changed.
func (s *Session) touch(event string, sels []Selection, sym string) {
	fp := fingerprint(event, sels, sym)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = time.Now()
	if fp == s.fingerprint {
		return
	}
	if s.fingerprint != "" {
		s.cfg.Logger.Debug("selection changed, cache reset", "session", s.ID, "entries", s.cache.Len())
		s.cache.Reset()
	}
	s.fingerprint = fp
}

func fingerprint(event string, sels []Selection, sym string) string {
	ids := make([]string, 0, len(sels))
	for _, sel := range sels {
		ids = append(ids, sel.TokenID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)
	return event + "|" + strings.Join(ids, ",") + "|" + sym
}
