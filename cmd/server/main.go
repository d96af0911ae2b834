package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fenixbot/internal/cache"
	"fenixbot/internal/config"
	apphttp "fenixbot/internal/http"
	"fenixbot/internal/integrations/listingstore"
	"fenixbot/internal/integrations/telegram"
	"fenixbot/internal/logger"
	"fenixbot/internal/metrics"
	"fenixbot/internal/platform"
	"fenixbot/internal/service/fulfil"
	"fenixbot/internal/service/offer"
	"fenixbot/internal/service/session"
	storepkg "fenixbot/internal/store"
	"fenixbot/internal/store/memory"
	"fenixbot/internal/store/postgres"
)

// backend is satisfied by both store implementations.
type backend interface {
	storepkg.Store
	storepkg.ListingWriter
}

func main() {
	dotEnvErr := config.LoadDotEnv(".env")
	cfg := config.Load()
	log := logger.NewForEnvironment(cfg.AppEnv, cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()
	if dotEnvErr != nil {
		log.Warn("failed to load .env", zap.Error(dotEnvErr))
	}

	st := openStore(cfg, log)
	listings := listingWriter(cfg, st, log)

	identities, err := cfg.BotIdentities()
	if err != nil {
		log.Fatal("invalid bot accounts", zap.Error(err))
	}
	clients := make(map[string]*platform.Client, len(identities))
	for _, id := range identities {
		clients[id.ID] = platform.NewClient(platform.Config{
			BaseURL:        cfg.PlatformBaseURL,
			InspectBaseURL: cfg.InspectBaseURL,
			Timeout:        cfg.PlatformTimeout,
			RatePerSec:     cfg.PlatformRate,
			AppID:          cfg.PlatformAppID,
			ContextID:      cfg.PlatformContextID,
		})
	}

	reg := metrics.New()
	notifier := telegram.NewNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
	sessions, err := session.NewManager(identities, clients, cfg.LoginCooldown, log,
		session.WithAlerter(notifier),
		session.WithStateHook(reg.SessionState),
	)
	if err != nil {
		log.Fatal("session manager", zap.Error(err))
	}
	if len(identities) == 0 {
		log.Warn("no bot accounts configured, sell requests will be rejected")
	}

	dedup := cache.NewDedupStore(cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, log)
	defer func() { _ = dedup.Close() }()

	engine := fulfil.NewEngine(fulfil.EngineConfig{
		DispatchInterval: cfg.DispatchInterval,
		SweepInterval:    cfg.SweepInterval,
		OfferDeadline:    cfg.OfferDeadline,
		PollInterval:     cfg.OfferPollInterval,
		DeclineIncoming:  cfg.DeclineIncoming,
		Inbox: fulfil.InboxConfig{
			RetryDelay:  cfg.EventRetryDelay,
			MaxAttempts: cfg.EventMaxAttempts,
			DedupTTL:    cfg.EventDedupTTL,
		},
	}, st, listings, offer.NewBinder(sessions, cfg.OfferMessage, log), sessions.BotIDs(), dedup, reg, log)
	engine.Inbox.OnEvent(reg.InboxEvent)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	engine.Start(rootCtx)

	srv := apphttp.NewServer(cfg, engine.Service, sessions, engine.Inbox, reg.Handler(), log)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("fenixbot API listening", zap.String("addr", cfg.ListenAddr), zap.Int("bots", len(identities)))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := engine.Stop(ctx); err != nil {
		log.Error("engine shutdown incomplete", zap.Error(err))
	}
	if closer, ok := st.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

func openStore(cfg config.Config, log *zap.Logger) backend {
	if cfg.StoreMode == "postgres" && cfg.DatabaseURL != "" {
		pgStore, err := postgres.NewStore(cfg.DatabaseURL)
		if err == nil {
			return pgStore
		}
		log.Warn("postgres store unavailable, falling back to memory store", zap.Error(err))
	}
	return memory.NewStore()
}

func listingWriter(cfg config.Config, st backend, log *zap.Logger) storepkg.ListingWriter {
	if cfg.ListingStoreMode == "http" {
		if cfg.ListingStoreURL == "" {
			log.Warn("LISTING_STORE_URL not set, listings are written to the local store")
			return st
		}
		return listingstore.NewClient(
			cfg.ListingStoreURL,
			cfg.ListingTimeout,
			cfg.ListingMaxRetries,
			cfg.ListingRetryBase,
			cfg.ListingRetryMax,
		)
	}
	return st
}
