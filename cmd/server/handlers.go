package main

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

	"github.com/mikpoly2/polymarket-grapher/internal/align"
	"github.com/mikpoly2/polymarket-grapher/internal/grapher"
	"github.com/mikpoly2/polymarket-grapher/internal/httpx"
	"github.com/mikpoly2/polymarket-grapher/internal/polymarket/gamma"
	"github.com/mikpoly2/polymarket-grapher/internal/provider"
)

const maxSelections = 50

// eventSource resolves an event link into its markets.
type eventSource interface {
	EventMarkets(ctx context.Context, link string) (*gamma.Event, []gamma.Market, error)
}

type server struct {
	events        eventSource
	sessions      *grapher.Sessions
	defaultSymbol string
	timeout       time.Duration
	logger        *slog.Logger
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("GET /api/event", s.handleEvent)
	mux.HandleFunc("GET /api/chart", s.handleChart)
	return mux
}

type marketJSON struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Outcomes []gamma.Outcome `json:"outcomes"`
}

type eventResponse struct {
	Session string       `json:"session"`
	Slug    string       `json:"slug"`
	Title   string       `json:"title"`
	Markets []marketJSON `json:"markets"`
}

func (s *server) handleEvent(w http.ResponseWriter, r *http.Request) {
	link := strings.TrimSpace(r.URL.Query().Get("url"))
	if link == "" {
		writeError(w, http.StatusBadRequest, "missing url query param")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	ev, markets, err := s.events.EventMarkets(ctx, link)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	resp := eventResponse{
		Session: s.sessions.Get("").ID,
		Slug:    ev.Slug,
		Title:   ev.Title,
		Markets: make([]marketJSON, 0, len(markets)),
	}
	for _, m := range markets {
		resp.Markets = append(resp.Markets, marketJSON{ID: m.ID, Title: m.Title, Outcomes: m.Pairs()})
	}
	writeJSON(w, http.StatusOK, resp)
}

type columnJSON struct {
	Label   string     `json:"label"`
	Percent []*float64 `json:"percent"`
}

type chartResponse struct {
	Session  string           `json:"session"`
	Index    []int64          `json:"index"`
	Columns  []columnJSON     `json:"columns"`
	Overlay  *grapher.Overlay `json:"overlay,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
}

func (s *server) handleChart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := s.parseChartRequest(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess := s.sessions.Get(q.Get("session"))

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	chart, err := sess.Refresh(ctx, req)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chartResponse{
		Session:  sess.ID,
		Index:    chart.Matrix.Index,
		Columns:  percentColumns(chart.Matrix),
		Overlay:  chart.Overlay,
		Warnings: chart.Warnings,
	})
}

// parseChartRequest reads repeated token=<label>=<id> params, sum (default
// true), fidelity in minutes (default from config) and crypto (default symbol
// when absent, "none" to disable).
func (s *server) parseChartRequest(q url.Values) (grapher.Request, error) {
	req := grapher.Request{Event: strings.TrimSpace(q.Get("event")), ShowSum: true}

	tokens := q["token"]
	if len(tokens) == 0 {
		return req, errors.New("at least one token=<label>=<id> param is required")
	}
	if len(tokens) > maxSelections {
		return req, fmt.Errorf("too many tokens (max %d)", maxSelections)
	}
	for _, t := range tokens {
		i := strings.LastIndex(t, "=")
		if i <= 0 || i == len(t)-1 {
			return req, fmt.Errorf("invalid token param %q, want <label>=<id>", t)
		}
		req.Selections = append(req.Selections, grapher.Selection{
			Label:   strings.TrimSpace(t[:i]),
			TokenID: strings.TrimSpace(t[i+1:]),
		})
	}

	if v := strings.TrimSpace(q.Get("sum")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("invalid sum param %q", v)
		}
		req.ShowSum = b
	}

	if v := strings.TrimSpace(q.Get("fidelity")); v != "" {
		f, err := strconv.Atoi(v)
		if err != nil || f < grapher.MinFidelity || f > grapher.MaxFidelity {
			return req, fmt.Errorf("invalid fidelity param %q, want %d..%d minutes", v, grapher.MinFidelity, grapher.MaxFidelity)
		}
		req.Fidelity = f
	}

	sym := strings.TrimSpace(q.Get("crypto"))
	switch {
	case !q.Has("crypto"):
		req.CryptoSymbol = s.defaultSymbol
	case sym == "" || strings.EqualFold(sym, "none"):
		req.CryptoSymbol = ""
	default:
		req.CryptoSymbol = strings.ToUpper(sym)
	}
	return req, nil
}

// percentColumns scales probabilities to percent; absent cells stay null.
func percentColumns(m align.Matrix) []columnJSON {
	out := make([]columnJSON, 0, len(m.Columns))
	for _, c := range m.Columns {
		vals := make([]*float64, len(c.Values))
		for i, v := range c.Values {
			if v.Valid {
				pct := v.Price * 100
				vals[i] = &pct
			}
		}
		out = append(out, columnJSON{Label: c.Label, Percent: vals})
	}
	return out
}

func (s *server) writeUpstreamError(w http.ResponseWriter, err error) {
	var (
		unsupported *provider.UnsupportedInstrumentError
		rangeErr    *provider.InvalidRangeError
		statusErr   *httpx.StatusError
	)
	switch {
	case errors.Is(err, gamma.ErrInvalidURL), errors.As(err, &unsupported), errors.As(err, &rangeErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, gamma.ErrNoMarkets):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.logger.Warn("upstream failure", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
