package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mikpoly2/polymarket-grapher/internal/align"
	"github.com/mikpoly2/polymarket-grapher/internal/config"
	"github.com/mikpoly2/polymarket-grapher/internal/grapher"
	"github.com/mikpoly2/polymarket-grapher/internal/httpx"
	"github.com/mikpoly2/polymarket-grapher/internal/polymarket/gamma"
)

func main() {
	var link string
	var outcomesCSV string
	var cryptoSym string
	var showSum bool
	var fidelity int
	var list bool
	var asJSON bool
	var timeout int
	var configPath string

	flag.StringVar(&link, "url", getenv("EVENT_URL", ""), "polymarket.com/event/<slug> or /market/<slug> link")
	flag.StringVar(&outcomesCSV, "outcomes", "", "comma-separated substrings selecting outcome labels (default: all)")
	flag.StringVar(&cryptoSym, "crypto", "", "crypto overlay symbol (BTC, ETH, SOL); empty for none")
	flag.BoolVar(&showSum, "sum", true, "add a SUM column when two or more outcomes are selected")
	flag.IntVar(&fidelity, "fidelity", 0, "history fidelity in minutes, 1..60 (default from config)")
	flag.BoolVar(&list, "list", false, "list the event's outcomes and exit")
	flag.BoolVar(&asJSON, "json", false, "print the chart as JSON instead of a table")
	flag.IntVar(&timeout, "timeout", 60, "overall timeout seconds")
	flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.json or config.yaml (optional)")
	flag.Parse()

	if link == "" {
		log.Fatal("missing -url")
	}
	if fidelity != 0 && (fidelity < grapher.MinFidelity || fidelity > grapher.MaxFidelity) {
		log.Fatalf("-fidelity must be %d..%d minutes", grapher.MinFidelity, grapher.MaxFidelity)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	httpClient := httpx.New(cfg.RequestTimeout())
	ev, markets, err := gamma.NewClient(gamma.WithHTTPClient(httpClient), gamma.WithBaseURL(cfg.Polymarket.GammaURL)).EventMarkets(ctx, link)
	if err != nil {
		log.Fatalf("event: %v", err)
	}
	log.Printf("%s: %d markets", ev.Title, len(markets))

	var all []gamma.Outcome
	for _, m := range markets {
		all = append(all, m.Pairs()...)
	}
	if list {
		for _, o := range all {
			fmt.Printf("%s\t%s\n", o.TokenID, o.Label)
		}
		return
	}

	selections := selectOutcomes(all, splitCSV(outcomesCSV))
	if len(selections) == 0 {
		log.Fatal("no outcomes matched -outcomes")
	}

	gc, err := grapher.FromConfig(cfg, httpClient, nil)
	if err != nil {
		log.Fatalf("providers: %v", err)
	}
	chart, err := grapher.NewSession(gc).Refresh(ctx, grapher.Request{
		Event:        ev.Slug,
		Selections:   selections,
		ShowSum:      showSum,
		CryptoSymbol: cryptoSym,
		Fidelity:     fidelity,
	})
	if err != nil {
		log.Fatalf("chart: %v", err)
	}
	for _, w := range chart.Warnings {
		log.Printf("warning: %s", w)
	}
	if chart.Overlay != nil {
		first, last, _ := chart.Overlay.Series.Bounds()
		log.Printf("%s points: %d (%s .. %s) via %s", chart.Overlay.Symbol, len(chart.Overlay.Series),
			time.Unix(first, 0).UTC().Format(time.DateOnly), time.Unix(last, 0).UTC().Format(time.DateOnly), chart.Overlay.Provider)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(chart); err != nil {
			log.Fatalf("encode: %v", err)
		}
		return
	}
	if err := writeTable(os.Stdout, chart.Matrix); err != nil {
		log.Fatalf("write: %v", err)
	}
}

// selectOutcomes keeps outcomes whose label contains any filter, case-insensitively.
// No filters selects every outcome.
func selectOutcomes(all []gamma.Outcome, filters []string) []grapher.Selection {
	out := make([]grapher.Selection, 0, len(all))
	for _, o := range all {
		if len(filters) > 0 && !matchesAny(o.Label, filters) {
			continue
		}
		out = append(out, grapher.Selection{Label: o.Label, TokenID: o.TokenID})
	}
	return out
}

func matchesAny(label string, filters []string) bool {
	l := strings.ToLower(label)
	for _, f := range filters {
		if strings.Contains(l, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

// writeTable prints one row per timestamp with values in percent; absent cells are "-".
func writeTable(w io.Writer, m align.Matrix) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := []string{"time"}
	for _, c := range m.Columns {
		header = append(header, c.Label)
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for i, ts := range m.Index {
		row := []string{time.Unix(ts, 0).UTC().Format(time.RFC3339)}
		for _, c := range m.Columns {
			v := c.Values[i]
			if !v.Valid {
				row = append(row, "-")
				continue
			}
			row = append(row, strconv.FormatFloat(v.Price*100, 'f', 2, 64))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
