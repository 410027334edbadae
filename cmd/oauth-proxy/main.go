package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cinnamon-msft/tangled/internal/config"
	"github.com/cinnamon-msft/tangled/internal/metrics"
	"github.com/cinnamon-msft/tangled/internal/oauthproxy"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.LoadProxy()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if strings.EqualFold(cfg.Environment, "development") {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	proxy, err := oauthproxy.New(oauthproxy.Config{
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		AllowedOrigin: cfg.AllowedOrigin,
		AuthorizeURL:  cfg.AuthorizeURL,
		TokenURL:      cfg.TokenURL,
		RedirectURL:   cfg.RedirectURL,
		Scope:         cfg.OAuthScope,
		StateSecret:   cfg.StateSecret,
		StateTTL:      cfg.StateTTL,
	}, metrics.New(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init oauth proxy")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- proxy.Listen(cfg.ListenAddr) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	case err := <-errCh:
		logger.Error().Err(err).Msg("oauth proxy stopped")
	}

	done := make(chan struct{})
	go func() {
		if err := proxy.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}
}
