package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mikpoly2/polymarket-grapher/internal/config"
	"github.com/mikpoly2/polymarket-grapher/internal/grapher"
	"github.com/mikpoly2/polymarket-grapher/internal/httpx"
	"github.com/mikpoly2/polymarket-grapher/internal/polymarket/gamma"
)

func main() {
	cfgPath := os.Getenv("CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	if cfg.Crypto.Provider == config.ProviderCoinGecko && cfg.CoinGecko.APIKey == "" {
		log.Println("warning: crypto.provider=coingecko but COINGECKO_API_KEY not set; public limits apply")
	}

	httpClient := httpx.New(cfg.RequestTimeout())
	gc, err := grapher.FromConfig(cfg, httpClient, logger)
	if err != nil {
		log.Fatalf("providers: %v", err)
	}
	sessions := grapher.NewSessions(gc, cfg.SessionIdle())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go sessions.Run(ctx, time.Minute)

	s := &server{
		events:        gamma.NewClient(gamma.WithHTTPClient(httpClient), gamma.WithBaseURL(cfg.Polymarket.GammaURL)),
		sessions:      sessions,
		defaultSymbol: cfg.Crypto.Symbol,
		timeout:       2 * cfg.RequestTimeout(),
		logger:        logger,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(withGzip(recoverPanic(logger, limitBody(s.routes())))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2*cfg.RequestTimeout() + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("server listening on :%s (crypto=%s %s)", cfg.Server.Port, cfg.Crypto.Provider, cfg.Crypto.Symbol)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
