package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"gigchat/internal/adapter/repository"
	"gigchat/internal/infrastructure/auth"
	"gigchat/internal/infrastructure/metrics"
	"gigchat/internal/infrastructure/ratelimit"
	ws "gigchat/internal/infrastructure/websocket"
	"gigchat/internal/usecase"
	"gigchat/pkg/config"
	"gigchat/pkg/logger"
)

// engine is the fully wired sync client shared by serve and tail.
type engine struct {
	cfg       *config.Config
	identity  *auth.Identity
	registry  *prometheus.Registry
	limiter   *ratelimit.RateLimiter
	session   *ws.Session
	hub       *usecase.StateHub
	profiles  *usecase.ProfileUseCase
	directory *usecase.ConversationUseCase
	chat      *usecase.ChatUseCase
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func rateLimits(cfg config.Sync) map[string]ratelimit.Limit {
	limits := ratelimit.DefaultLimits()
	if cfg.SendInterval > 0 && cfg.SendBurst > 0 {
		limits[ratelimit.ActionSendMessage] = ratelimit.Limit{Every: cfg.SendInterval, Burst: cfg.SendBurst}
	}
	if cfg.TypingRefresh > 0 {
		limits[ratelimit.ActionTyping] = ratelimit.Limit{Every: cfg.TypingRefresh, Burst: 1}
	}
	return limits
}

func newEngine(cfg *config.Config) (*engine, error) {
	identity, err := auth.ResolveIdentity(cfg.Auth.Token, cfg.Auth.UserID, time.Now())
	if err != nil {
		return nil, err
	}

	client := repository.NewClient(cfg.API.BaseURL,
		repository.WithToken(cfg.Auth.Token),
		repository.WithCurrentUser(identity.UserID),
		repository.WithTimeout(cfg.API.RequestTimeout),
	)
	chatRepo := repository.NewRestChatRepository(client)
	userRepo := repository.NewRestUserRepository(client)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	limiter := ratelimit.NewRateLimiter(rateLimits(cfg.Sync))
	session := ws.NewSession(cfg.Transport, cfg.Auth.Token, ws.WithMetrics(m))
	hub := usecase.NewStateHub()

	profiles := usecase.NewProfileUseCase(userRepo, hub, m, cfg.API.RequestTimeout)
	directory := usecase.NewConversationUseCase(chatRepo, profiles, hub, m, identity.UserID)
	bootstrap := usecase.NewBootstrapUseCase(chatRepo, directory, limiter, m, identity.UserID, cfg.Sync.CreateGrace)
	chat := usecase.NewChatUseCase(chatRepo, session, directory, profiles, bootstrap, limiter, hub, cfg.Sync, identity.UserID,
		usecase.WithChatMetrics(m),
		usecase.WithHistoryPageSize(cfg.API.HistoryPageSize),
	)

	return &engine{
		cfg:       cfg,
		identity:  identity,
		registry:  registry,
		limiter:   limiter,
		session:   session,
		hub:       hub,
		profiles:  profiles,
		directory: directory,
		chat:      chat,
	}, nil
}

// run connects the transport and applies its events until ctx ends.
func (en *engine) run(ctx context.Context) error {
	en.limiter.StartCleanupRoutine(ctx, 10*time.Minute)
	en.profiles.Prefetch(ctx, en.identity.UserID)

	if err := en.directory.Refresh(ctx); err != nil {
		logger.Warn("Initial conversation load failed: %v", err)
	}

	// An auth rejection ends the session but not the engine, so the bridge
	// can still report it.
	go func() {
		if err := en.session.Run(ctx); err != nil {
			logger.Error("Transport Error: %v", err)
		}
	}()
	return en.chat.Run(ctx)
}
