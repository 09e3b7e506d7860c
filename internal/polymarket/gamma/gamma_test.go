package gamma_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mikpoly2/polymarket-grapher/internal/httpx"
	"github.com/mikpoly2/polymarket-grapher/internal/httpx/httpxmock"
	"github.com/mikpoly2/polymarket-grapher/internal/polymarket/gamma"
)

func TestExtractSlug(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{name: "event with query", in: "https://polymarket.com/event/bitcoin-above-100k?tid=123", want: "bitcoin-above-100k", ok: true},
		{name: "market", in: "  https://polymarket.com/market/will-it-rain  ", want: "will-it-rain", ok: true},
		{name: "nested path", in: "https://polymarket.com/event/fed-decision/fed-cuts-25bps", want: "fed-decision", ok: true},
		{name: "www host", in: "https://www.polymarket.com/event/x", want: "x", ok: true},
		{name: "other host", in: "https://example.com/event/x"},
		{name: "lookalike host", in: "https://notpolymarket.com/event/x"},
		{name: "no slug", in: "https://polymarket.com/event/"},
		{name: "wrong kind", in: "https://polymarket.com/profile/abc"},
		{name: "garbage", in: "://"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := gamma.ExtractSlug(tc.in)
			if !tc.ok {
				require.ErrorIs(t, err, gamma.ErrInvalidURL)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

const eventBody = `{
  "id": "9001",
  "slug": "btc-price",
  "title": "Bitcoin price",
  "markets": [
    {"id": 1, "question": "  BTC above 100k?  ", "outcomes": "[\"Yes\",\"No\"]", "clobTokenIds": "[\"111\",\"222\"]"},
    {"id": "2", "title": "BTC above 120k", "outcomes": ["Yes","No"], "clobTokenIds": ["333","444"]},
    {"id": "3", "question": "mismatched", "outcomes": ["Yes","No"], "clobTokenIds": ["555"]},
    {"id": "4", "question": "not json", "outcomes": "Yes,No", "clobTokenIds": "[\"6\",\"7\"]"},
    {"id": "5", "outcomes": ["Up","Down"], "clobTokenIDs": ["888","999"]}
  ]
}`

func decodeEvent(t *testing.T, body string) *gamma.Event {
	t.Helper()
	var ev gamma.Event
	require.NoError(t, json.Unmarshal([]byte(body), &ev))
	return &ev
}

func TestNormalizeMarkets(t *testing.T) {
	t.Parallel()

	markets, err := gamma.NormalizeMarkets(decodeEvent(t, eventBody))
	require.NoError(t, err)
	require.Equal(t, []gamma.Market{
		{ID: "1", Title: "BTC above 100k?", Outcomes: []string{"Yes", "No"}, TokenIDs: []string{"111", "222"}},
		{ID: "2", Title: "BTC above 120k", Outcomes: []string{"Yes", "No"}, TokenIDs: []string{"333", "444"}},
		{ID: "5", Title: "Untitled market", Outcomes: []string{"Up", "Down"}, TokenIDs: []string{"888", "999"}},
	}, markets)

	require.Equal(t, []gamma.Outcome{
		{Label: "BTC above 120k (Yes)", TokenID: "333"},
		{Label: "BTC above 120k (No)", TokenID: "444"},
	}, markets[1].Pairs())
}

func TestNormalizeMarkets_NoneValid(t *testing.T) {
	t.Parallel()

	_, err := gamma.NormalizeMarkets(decodeEvent(t, `{"markets":[{"outcomes":["Yes"],"clobTokenIds":[]}]}`))
	require.ErrorIs(t, err, gamma.ErrNoMarkets)

	_, err = gamma.NormalizeMarkets(decodeEvent(t, `{"markets":[]}`))
	require.ErrorIs(t, err, gamma.ErrNoMarkets)

	_, err = gamma.NormalizeMarkets(nil)
	require.ErrorIs(t, err, gamma.ErrNoMarkets)
}

func TestClient_EventMarkets(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	httpClient := httpxmock.NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "gamma.test", req.URL.Host)
			require.Equal(t, "/events/slug/btc-price", req.URL.Path)
			require.Equal(t, "grapher-test", req.Header.Get("X-Client"))
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewBufferString(eventBody))}, nil
		}).
		Times(1)

	c := gamma.NewClient(
		gamma.WithHTTPClient(httpClient),
		gamma.WithBaseURL("http://gamma.test/"),
		gamma.WithHeader(http.Header{"X-Client": {"grapher-test"}}),
	)

	// Act
	ev, markets, err := c.EventMarkets(t.Context(), "https://polymarket.com/event/btc-price?tid=1")

	// Assert
	require.NoError(t, err)
	require.Equal(t, "Bitcoin price", ev.Title)
	require.Len(t, markets, 3)
}

func TestClient_EventBySlugNotFound(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := httpxmock.NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(&http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(bytes.NewBufferString(`{"type":"not found"}`))}, nil).
		Times(1)

	_, err := gamma.NewClient(gamma.WithHTTPClient(httpClient), gamma.WithBaseURL("http://gamma.test")).EventBySlug(t.Context(), "missing")

	var statusErr *httpx.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Code)
}

func TestClient_InvalidLinkMakesNoRequest(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := httpxmock.NewMockHTTPClient(ctrl)
	httpClient.EXPECT().Do(gomock.Any()).Times(0)

	_, _, err := gamma.NewClient(gamma.WithHTTPClient(httpClient), gamma.WithBaseURL("")).EventMarkets(t.Context(), "https://example.com/event/x")
	require.ErrorIs(t, err, gamma.ErrInvalidURL)
}
