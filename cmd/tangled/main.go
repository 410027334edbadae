package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cinnamon-msft/tangled/internal/auth"
	"github.com/cinnamon-msft/tangled/internal/collection"
	"github.com/cinnamon-msft/tangled/internal/config"
	"github.com/cinnamon-msft/tangled/internal/crafts"
	ghclient "github.com/cinnamon-msft/tangled/internal/github"
	"github.com/cinnamon-msft/tangled/internal/health"
	"github.com/cinnamon-msft/tangled/internal/metrics"
	"github.com/cinnamon-msft/tangled/internal/projectorder"
	"github.com/cinnamon-msft/tangled/internal/reconcile"
	"github.com/cinnamon-msft/tangled/internal/server"
	"github.com/cinnamon-msft/tangled/internal/snapshot"
	"github.com/cinnamon-msft/tangled/internal/store"
	"github.com/cinnamon-msft/tangled/internal/syncstate"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	strategy, err := auth.ParseStrategy(cfg.AuthStrategy)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Str("repo", cfg.RepoOwner+"/"+cfg.RepoName).
		Str("branch", cfg.Branch).
		Str("auth_strategy", string(strategy)).
		Msg("starting tangled sync daemon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	db, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	m := metrics.New()

	ghCfg := ghclient.Config{
		BaseURL: cfg.GitHubAPIURL,
		Owner:   cfg.RepoOwner,
		Repo:    cfg.RepoName,
		Branch:  cfg.Branch,
		Timeout: cfg.HTTPTimeout,
	}
	// Identity lookups carry their own token, so this client needs no session.
	identity, err := ghclient.NewClient(ghCfg, nil, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init GitHub client")
	}

	mgr := auth.NewManager(db, identity, m, logger)
	if err := mgr.Init(ctx); err != nil {
		logger.Warn().Err(err).Msg("could not restore session (non-fatal)")
	}

	repo, err := ghclient.NewClient(ghCfg, mgr, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init GitHub client")
	}
	repo.OnAuthRejected(mgr.HandleAuthRejected)

	tracker := syncstate.NewTracker()
	svc := crafts.New(collection.Options{
		DataPath:   cfg.DataPath,
		Version:    cfg.DocumentVersion,
		Remote:     repo,
		Snapshot:   snapshot.NewFetcher(cfg.SnapshotBaseURL, cfg.HTTPTimeout, logger),
		Session:    mgr,
		Tracker:    tracker,
		Metrics:    m,
		Reconciler: reconcile.New(logger),
		Logger:     logger,
	})

	deps := server.Deps{
		Crafts:   svc,
		Order:    projectorder.NewService(db, logger),
		Auth:     mgr,
		Strategy: strategy,
		Tracker:  tracker,
		Metrics:  m,
	}
	switch strategy {
	case auth.StrategyDevice:
		deps.Device = auth.NewDeviceFlow(auth.DeviceFlowConfig{
			ClientID:      cfg.ClientID,
			Scope:         cfg.OAuthScope,
			DeviceCodeURL: cfg.DeviceCodeURL,
			TokenURL:      cfg.TokenURL,
		}, mgr, logger)
	case auth.StrategyProxy:
		deps.Proxy = auth.NewProxyExchanger(cfg.OAuthProxyURL, cfg.HTTPTimeout, mgr, logger)
	}

	checker := health.NewChecker(logger)
	checker.Register("store", health.FromError(health.StatusDown, db.Ping))
	checker.Register("github", health.FromError(health.StatusDegraded, repo.Ping))
	deps.Checker = checker

	srv := server.NewServer(server.ServerConfig{
		ListenAddr: cfg.ListenAddr,
		APIKey:     cfg.APIKey,
		RateLimit: server.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		CORSOrigins: strings.Join(cfg.CORSOriginList(), ","),
	}, deps, logger)

	var wg sync.WaitGroup

	// Sync state transitions are logged as they happen.
	states, unsubscribe := tracker.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for st := range states {
			level := zerolog.DebugLevel
			if st.Status == syncstate.StatusError {
				level = zerolog.WarnLevel
			}
			ev := logger.WithLevel(level).
				Str("status", string(st.Status)).
				Int("pending", st.PendingOperations)
			if st.Error != nil {
				ev = ev.Str("error", *st.Error)
			}
			ev.Msg("sync state changed")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("API server error")
		}
	}()

	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	cancel()

	if deps.Device != nil {
		deps.Device.Cancel()
	}
	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("API server shutdown error")
	}
	unsubscribe()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("tangled sync daemon stopped")
}
