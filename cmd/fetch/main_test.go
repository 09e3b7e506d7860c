package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mikpoly2/polymarket-grapher/internal/align"
	"github.com/mikpoly2/polymarket-grapher/internal/grapher"
	"github.com/mikpoly2/polymarket-grapher/internal/polymarket/gamma"
	"github.com/mikpoly2/polymarket-grapher/internal/provider"
)

func TestSelectOutcomes(t *testing.T) {
	t.Parallel()

	all := []gamma.Outcome{
		{Label: "BTC above 100k (Yes)", TokenID: "1"},
		{Label: "BTC above 100k (No)", TokenID: "2"},
		{Label: "BTC above 120k (Yes)", TokenID: "3"},
	}

	require.Len(t, selectOutcomes(all, nil), 3)
	require.Equal(t, []grapher.Selection{
		{Label: "BTC above 100k (Yes)", TokenID: "1"},
		{Label: "BTC above 120k (Yes)", TokenID: "3"},
	}, selectOutcomes(all, []string{"(yes)"}))
	require.Empty(t, selectOutcomes(all, []string{"eth"}))
}

func TestWriteTable(t *testing.T) {
	t.Parallel()

	m := align.Align([]align.Input{
		{Label: "A", Series: provider.Series{{Time: 0, Price: 0.2}, {Time: 10, Price: 0.5}}},
		{Label: "B", Series: provider.Series{{Time: 5, Price: 0.1}}},
	}, true)

	var buf bytes.Buffer
	require.NoError(t, writeTable(&buf, m))

	want := "" +
		"time                  A      B      SUM\n" +
		"1970-01-01T00:00:00Z  20.00  -      -\n" +
		"1970-01-01T00:00:05Z  20.00  10.00  30.00\n" +
		"1970-01-01T00:00:10Z  50.00  10.00  60.00\n"
	require.Equal(t, want, buf.String())
}

func TestSplitCSV(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"a", "b"}, splitCSV(" a, ,b ,"))
	require.Empty(t, splitCSV(""))
}
