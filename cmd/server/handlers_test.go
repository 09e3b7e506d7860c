package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mikpoly2/polymarket-grapher/internal/grapher"
	"github.com/mikpoly2/polymarket-grapher/internal/polymarket/gamma"
	"github.com/mikpoly2/polymarket-grapher/internal/provider"
)

type fakeEvents struct {
	err error
}

func (f fakeEvents) EventMarkets(_ context.Context, link string) (*gamma.Event, []gamma.Market, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	if _, err := gamma.ExtractSlug(link); err != nil {
		return nil, nil, err
	}
	return &gamma.Event{Slug: "btc-price", Title: "Bitcoin price"}, []gamma.Market{
		{ID: "1", Title: "BTC above 100k", Outcomes: []string{"Yes", "No"}, TokenIDs: []string{"111", "222"}},
	}, nil
}

type fakeProvider struct {
	name   string
	series map[string]provider.Series
	err    error
}

func (f fakeProvider) Name() string { return f.name }

func (f fakeProvider) Fetch(_ context.Context, q provider.Query) (provider.Series, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.series[q.Instrument]
	if !ok {
		return nil, provider.NewSourceError(f.name, "fetch", http.StatusNotFound, nil, nil)
	}
	return s, nil
}

func newTestServer(prices, crypto provider.Provider, events eventSource) http.Handler {
	s := &server{
		events:        events,
		sessions:      grapher.NewSessions(grapher.Config{Prices: prices, Crypto: crypto}, time.Minute),
		defaultSymbol: "BTC",
		timeout:       5 * time.Second,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return withJSONHeaders(withGzip(recoverPanic(s.logger, limitBody(s.routes()))))
}

func defaultProviders() (provider.Provider, provider.Provider) {
	prices := fakeProvider{name: "prices", series: map[string]provider.Series{
		"111": {{Time: 0, Price: 0.2}, {Time: 10, Price: 0.5}},
		"222": {{Time: 5, Price: 0.1}, {Time: 15, Price: 0.9}},
	}}
	crypto := fakeProvider{name: "crypto", series: map[string]provider.Series{
		"BTC": {{Time: 2, Price: 60000}},
	}}
	return prices, crypto
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func chartURL(params url.Values) string {
	return "/api/chart?" + params.Encode()
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	prices, crypto := defaultProviders()
	rr := get(t, newTestServer(prices, crypto, fakeEvents{}), "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))
}

func TestEvent(t *testing.T) {
	t.Parallel()

	prices, crypto := defaultProviders()
	h := newTestServer(prices, crypto, fakeEvents{})

	rr := get(t, h, "/api/event?url="+url.QueryEscape("https://polymarket.com/event/btc-price"))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp eventResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Session)
	require.Equal(t, "Bitcoin price", resp.Title)
	require.Len(t, resp.Markets, 1)
	require.Equal(t, []gamma.Outcome{
		{Label: "BTC above 100k (Yes)", TokenID: "111"},
		{Label: "BTC above 100k (No)", TokenID: "222"},
	}, resp.Markets[0].Outcomes)
}

func TestEvent_Errors(t *testing.T) {
	t.Parallel()

	prices, crypto := defaultProviders()

	cases := []struct {
		name   string
		events eventSource
		target string
		want   int
	}{
		{name: "missing url", events: fakeEvents{}, target: "/api/event", want: http.StatusBadRequest},
		{name: "foreign host", events: fakeEvents{}, target: "/api/event?url=https://example.com/event/x", want: http.StatusBadRequest},
		{name: "no markets", events: fakeEvents{err: gamma.ErrNoMarkets}, target: "/api/event?url=x", want: http.StatusUnprocessableEntity},
		{name: "upstream", events: fakeEvents{err: errors.New("dial tcp: refused")}, target: "/api/event?url=x", want: http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rr := get(t, newTestServer(prices, crypto, tc.events), tc.target)
			require.Equal(t, tc.want, rr.Code, rr.Body.String())
			require.Contains(t, rr.Body.String(), `"error"`)
		})
	}
}

func TestChart(t *testing.T) {
	t.Parallel()

	prices, crypto := defaultProviders()
	h := newTestServer(prices, crypto, fakeEvents{})

	rr := get(t, h, chartURL(url.Values{
		"event": {"btc-price"},
		"token": {"Yes=111", "No=222"},
	}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp chartResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Session)
	require.Equal(t, []int64{0, 5, 10, 15}, resp.Index)
	require.Len(t, resp.Columns, 3)

	yes := resp.Columns[0]
	require.Equal(t, "Yes", yes.Label)
	require.InDelta(t, 20.0, *yes.Percent[0], 1e-9)
	require.InDelta(t, 50.0, *yes.Percent[3], 1e-9)

	no := resp.Columns[1]
	require.Nil(t, no.Percent[0])

	sum := resp.Columns[2]
	require.Equal(t, "SUM", sum.Label)
	require.Nil(t, sum.Percent[0])
	require.InDelta(t, 140.0, *sum.Percent[3], 1e-9)

	require.NotNil(t, resp.Overlay)
	require.Equal(t, "BTC", resp.Overlay.Symbol)
}

func TestChart_ReusesSession(t *testing.T) {
	t.Parallel()

	prices, crypto := defaultProviders()
	h := newTestServer(prices, crypto, fakeEvents{})

	first := get(t, h, chartURL(url.Values{"token": {"Yes=111"}, "crypto": {"none"}}))
	require.Equal(t, http.StatusOK, first.Code)
	var a chartResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.Nil(t, a.Overlay)
	require.Len(t, a.Columns, 1)

	second := get(t, h, chartURL(url.Values{"session": {a.Session}, "token": {"Yes=111"}, "sum": {"false"}}))
	require.Equal(t, http.StatusOK, second.Code)
	var b chartResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	require.Equal(t, a.Session, b.Session)
}

func TestChart_BadRequests(t *testing.T) {
	t.Parallel()

	prices, crypto := defaultProviders()
	h := newTestServer(prices, crypto, fakeEvents{})

	for _, params := range []url.Values{
		{},
		{"token": {"no-separator"}},
		{"token": {"Yes="}},
		{"token": {"=111"}},
		{"token": {"Yes=111"}, "sum": {"maybe"}},
		{"token": {"Yes=111"}, "fidelity": {"0"}},
		{"token": {"Yes=111"}, "fidelity": {"61"}},
		{"token": {"Yes=111"}, "fidelity": {"ten"}},
	} {
		rr := get(t, h, chartURL(params))
		require.Equal(t, http.StatusBadRequest, rr.Code, params.Encode())
	}
}

// fidelityRecorder records the fidelity of every prices query.
type fidelityRecorder struct {
	fakeProvider

	mu   sync.Mutex
	seen []int
}

func (f *fidelityRecorder) Fetch(ctx context.Context, q provider.Query) (provider.Series, error) {
	f.mu.Lock()
	f.seen = append(f.seen, q.Fidelity)
	f.mu.Unlock()
	return f.fakeProvider.Fetch(ctx, q)
}

func TestChart_Fidelity(t *testing.T) {
	t.Parallel()

	prices, crypto := defaultProviders()
	rec := &fidelityRecorder{fakeProvider: prices.(fakeProvider)}
	h := newTestServer(rec, crypto, fakeEvents{})

	rr := get(t, h, chartURL(url.Values{"token": {"Yes=111"}, "crypto": {"none"}, "fidelity": {"30"}}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body chartResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))

	for _, f := range []string{"30", "5"} {
		rr = get(t, h, chartURL(url.Values{"session": {body.Session}, "token": {"Yes=111"}, "crypto": {"none"}, "fidelity": {f}}))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, []int{30, 5}, rec.seen)
}

func TestChart_PriceFailureIsBadGateway(t *testing.T) {
	t.Parallel()

	prices := fakeProvider{name: "prices", err: provider.NewSourceError("prices", "fetch", 500, []byte("oops"), nil)}
	rr := get(t, newTestServer(prices, nil, fakeEvents{}), chartURL(url.Values{"token": {"Yes=111"}}))
	require.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestChart_CryptoFailureWarns(t *testing.T) {
	t.Parallel()

	prices, _ := defaultProviders()
	crypto := fakeProvider{name: "crypto", err: errors.New("rate limited")}
	rr := get(t, newTestServer(prices, crypto, fakeEvents{}), chartURL(url.Values{"token": {"Yes=111"}, "crypto": {"eth"}}))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp chartResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Nil(t, resp.Overlay)
	require.Len(t, resp.Warnings, 1)
}

func TestGzip(t *testing.T) {
	t.Parallel()

	prices, crypto := defaultProviders()
	h := newTestServer(prices, crypto, fakeEvents{})

	req := httptest.NewRequest(http.MethodGet, chartURL(url.Values{"token": {"Yes=111"}}), nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "gzip", rr.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(rr.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.Contains(t, string(body), `"index"`)
}

func TestRecoverPanic(t *testing.T) {
	t.Parallel()

	h := recoverPanic(slog.New(slog.NewTextHandler(io.Discard, nil)), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := get(t, h, "/")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}
