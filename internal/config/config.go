package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Crypto connector names accepted in crypto.provider.
const (
	ProviderBinance   = "binance"
	ProviderCoinGecko = "coingecko"
	ProviderKraken    = "kraken"
)

type Server struct {
	Port              string `json:"port" yaml:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec" yaml:"request_timeout_sec"`
}

type Log struct {
	Level string `json:"level" yaml:"level"` // debug, info, warn, error
}

// Limits are the client-side rate limits applied around a connector.
type Limits struct {
	MaxRequestsPerMinute  int `json:"max_requests_per_minute" yaml:"max_requests_per_minute"`
	Burst                 int `json:"burst" yaml:"burst"`
	MinRequestIntervalSec int `json:"min_request_interval_sec" yaml:"min_request_interval_sec"`
}

type Polymarket struct {
	ClobURL     string `json:"clob_url" yaml:"clob_url"`
	GammaURL    string `json:"gamma_url" yaml:"gamma_url"`
	FidelityMin int    `json:"fidelity_min" yaml:"fidelity_min"`
	Limits      `yaml:",inline"`
}

type Crypto struct {
	Provider string `json:"provider" yaml:"provider"`
	Symbol   string `json:"symbol" yaml:"symbol"`
}

type Binance struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	Interval string `json:"interval" yaml:"interval"`
	Limit    int    `json:"limit" yaml:"limit"`
	MaxPages int    `json:"max_pages" yaml:"max_pages"`
	Limits   `yaml:",inline"`
}

type CoinGecko struct {
	Endpoint   string `json:"endpoint" yaml:"endpoint"`
	APIKey     string `json:"api_key" yaml:"api_key"`
	VsCurrency string `json:"vs_currency" yaml:"vs_currency"`
	MaxRetries int    `json:"max_retries" yaml:"max_retries"`
	BackoffMs  int    `json:"backoff_ms" yaml:"backoff_ms"`
	Limits     `yaml:",inline"`
}

type Kraken struct {
	Endpoint   string `json:"endpoint" yaml:"endpoint"`
	Interval   int    `json:"interval" yaml:"interval"`
	MaxPages   int    `json:"max_pages" yaml:"max_pages"`
	MaxRetries int    `json:"max_retries" yaml:"max_retries"`
	BackoffMs  int    `json:"backoff_ms" yaml:"backoff_ms"`
	Limits     `yaml:",inline"`
}

type Grapher struct {
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`
	SessionIdleSec int `json:"session_idle_sec" yaml:"session_idle_sec"`
}

type Config struct {
	Server     Server     `json:"server" yaml:"server"`
	Log        Log        `json:"log" yaml:"log"`
	Polymarket Polymarket `json:"polymarket" yaml:"polymarket"`
	Crypto     Crypto     `json:"crypto" yaml:"crypto"`
	Binance    Binance    `json:"binance" yaml:"binance"`
	CoinGecko  CoinGecko  `json:"coingecko" yaml:"coingecko"`
	Kraken     Kraken     `json:"kraken" yaml:"kraken"`
	Grapher    Grapher    `json:"grapher" yaml:"grapher"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 20},
		Log:    Log{Level: "info"},
		Polymarket: Polymarket{
			ClobURL:     "https://clob.polymarket.com",
			GammaURL:    "https://gamma-api.polymarket.com",
			FidelityMin: 10,
			Limits:      Limits{MaxRequestsPerMinute: 120, Burst: 10},
		},
		Crypto: Crypto{Provider: ProviderBinance, Symbol: "BTC"},
		Binance: Binance{
			Endpoint: "https://api.binance.com/api/v3",
			Interval: "1h",
			Limit:    1000,
			MaxPages: 500,
			Limits:   Limits{MaxRequestsPerMinute: 600, Burst: 10},
		},
		CoinGecko: CoinGecko{
			Endpoint:   "https://api.coingecko.com/api/v3",
			VsCurrency: "usd",
			MaxRetries: 3,
			BackoffMs:  500,
			Limits:     Limits{MaxRequestsPerMinute: 30, Burst: 2},
		},
		Kraken: Kraken{
			Endpoint:   "https://api.kraken.com",
			Interval:   60,
			MaxPages:   20,
			MaxRetries: 3,
			BackoffMs:  2000,
			Limits:     Limits{MaxRequestsPerMinute: 60, Burst: 1},
		},
		Grapher: Grapher{MaxConcurrency: 4, SessionIdleSec: 1800},
	}
}

// Load reads config from path (JSON, or YAML for .yaml/.yml). If path is empty
// it tries config.json in the working directory; a missing file yields
// defaults. A .env file next to the working directory is loaded into the
// process environment without overriding variables already set, then
// environment variables override select fields.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := decode(path, b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func decode(path string, b []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, cfg)
	default:
		return json.Unmarshal(b, cfg)
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Crypto.Provider {
	case ProviderBinance, ProviderCoinGecko, ProviderKraken:
	default:
		return fmt.Errorf("crypto.provider: unknown provider %q", c.Crypto.Provider)
	}
	if strings.TrimSpace(c.Crypto.Symbol) == "" {
		return errors.New("crypto.symbol: must not be empty")
	}
	checks := []struct {
		name string
		v    int
	}{
		{"server.request_timeout_sec", c.Server.RequestTimeoutSec},
		{"polymarket.fidelity_min", c.Polymarket.FidelityMin},
		{"binance.limit", c.Binance.Limit},
		{"binance.max_pages", c.Binance.MaxPages},
		{"kraken.interval", c.Kraken.Interval},
		{"kraken.max_pages", c.Kraken.MaxPages},
		{"grapher.max_concurrency", c.Grapher.MaxConcurrency},
		{"grapher.session_idle_sec", c.Grapher.SessionIdleSec},
	}
	for _, ch := range checks {
		if ch.v <= 0 {
			return fmt.Errorf("%s: must be positive, got %d", ch.name, ch.v)
		}
	}
	if c.CoinGecko.MaxRetries < 0 || c.Kraken.MaxRetries < 0 {
		return errors.New("max_retries: must not be negative")
	}
	return nil
}

// RequestTimeout is the per-request HTTP timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSec) * time.Second
}

// SessionIdle is how long an unused chart session is kept.
func (c Config) SessionIdle() time.Duration {
	return time.Duration(c.Grapher.SessionIdleSec) * time.Second
}

// MinInterval converts MinRequestIntervalSec to a duration.
func (l Limits) MinInterval() time.Duration {
	return time.Duration(l.MinRequestIntervalSec) * time.Second
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if x, ok := envInt("REQUEST_TIMEOUT_SEC"); ok && x > 0 {
		cfg.Server.RequestTimeoutSec = x
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}

	if v := os.Getenv("POLYMARKET_CLOB_URL"); v != "" {
		cfg.Polymarket.ClobURL = v
	}
	if v := os.Getenv("POLYMARKET_GAMMA_URL"); v != "" {
		cfg.Polymarket.GammaURL = v
	}
	if x, ok := envInt("POLYMARKET_FIDELITY_MIN"); ok && x > 0 {
		cfg.Polymarket.FidelityMin = x
	}

	if v := os.Getenv("CRYPTO_PROVIDER"); v != "" {
		cfg.Crypto.Provider = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("CRYPTO_SYMBOL"); v != "" {
		cfg.Crypto.Symbol = strings.ToUpper(strings.TrimSpace(v))
	}

	if v := os.Getenv("BINANCE_ENDPOINT"); v != "" {
		cfg.Binance.Endpoint = v
	}
	if v := os.Getenv("COINGECKO_ENDPOINT"); v != "" {
		cfg.CoinGecko.Endpoint = v
	}
	if v := os.Getenv("COINGECKO_API_KEY"); v != "" {
		cfg.CoinGecko.APIKey = v
	}
	if x, ok := envInt("COINGECKO_MAX_RETRIES"); ok && x >= 0 {
		cfg.CoinGecko.MaxRetries = x
	}
	if v := os.Getenv("KRAKEN_ENDPOINT"); v != "" {
		cfg.Kraken.Endpoint = v
	}

	if x, ok := envInt("GRAPHER_MAX_CONCURRENCY"); ok && x > 0 {
		cfg.Grapher.MaxConcurrency = x
	}
	if x, ok := envInt("GRAPHER_SESSION_IDLE_SEC"); ok && x > 0 {
		cfg.Grapher.SessionIdleSec = x
	}
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	x, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return x, true
}
