package grapher

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mikpoly2/polymarket-grapher/internal/config"
	"github.com/mikpoly2/polymarket-grapher/internal/httpx"
	"github.com/mikpoly2/polymarket-grapher/internal/provider"
	"github.com/mikpoly2/polymarket-grapher/internal/provider/binance"
	"github.com/mikpoly2/polymarket-grapher/internal/provider/coingecko"
	"github.com/mikpoly2/polymarket-grapher/internal/provider/kraken"
	"github.com/mikpoly2/polymarket-grapher/internal/provider/polymarket"
	"github.com/mikpoly2/polymarket-grapher/internal/provider/ratelimit"
)

// FromConfig builds the session config: the Polymarket history connector and
// the single active crypto connector, each behind its configured rate limits.
func FromConfig(cfg config.Config, hc httpx.HTTPClient, logger *slog.Logger) (Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	crypto, err := NewCryptoProvider(cfg, hc, logger)
	if err != nil {
		return Config{}, err
	}
	pm := cfg.Polymarket
	prices := polymarket.New(polymarket.Config{
		BaseURL:  pm.ClobURL,
		Fidelity: pm.FidelityMin,
		Logger:   logger,
	}, hc)
	return Config{
		Prices:         limit(prices, pm.Limits),
		Crypto:         crypto,
		Fidelity:       pm.FidelityMin,
		MaxConcurrency: cfg.Grapher.MaxConcurrency,
		Logger:         logger,
	}, nil
}

// NewCryptoProvider returns the connector named by crypto.provider.
func NewCryptoProvider(cfg config.Config, hc httpx.HTTPClient, logger *slog.Logger) (provider.Provider, error) {
	switch cfg.Crypto.Provider {
	case config.ProviderBinance:
		b := cfg.Binance
		return limit(binance.New(binance.Config{
			BaseURL:  b.Endpoint,
			Interval: b.Interval,
			Limit:    b.Limit,
			MaxPages: b.MaxPages,
			Logger:   logger,
		}, hc), b.Limits), nil
	case config.ProviderCoinGecko:
		c := cfg.CoinGecko
		return limit(coingecko.New(coingecko.Config{
			BaseURL:    c.Endpoint,
			APIKey:     c.APIKey,
			VsCurrency: c.VsCurrency,
			MaxRetries: retries(c.MaxRetries),
			Backoff:    time.Duration(c.BackoffMs) * time.Millisecond,
			Logger:     logger,
		}, hc), c.Limits), nil
	case config.ProviderKraken:
		k := cfg.Kraken
		return limit(kraken.New(kraken.Config{
			BaseURL:    k.Endpoint,
			Interval:   k.Interval,
			MaxPages:   k.MaxPages,
			MaxRetries: retries(k.MaxRetries),
			Backoff:    time.Duration(k.BackoffMs) * time.Millisecond,
			Logger:     logger,
		}, hc), k.Limits), nil
	default:
		return nil, fmt.Errorf("unknown crypto provider %q", cfg.Crypto.Provider)
	}
}

// retries maps a configured 0 to the connectors' "disabled" value.
func retries(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

func limit(p provider.Provider, l config.Limits) provider.Provider {
	return ratelimit.Wrap(p, l.MaxRequestsPerMinute, l.Burst, l.MinInterval())
}
