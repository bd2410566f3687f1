package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-bots/internal/archive"
	"github.com/vovakirdan/wirechat-bots/internal/auth"
	"github.com/vovakirdan/wirechat-bots/internal/bus"
	"github.com/vovakirdan/wirechat-bots/internal/config"
	"github.com/vovakirdan/wirechat-bots/internal/core"
	"github.com/vovakirdan/wirechat-bots/internal/directory"
	"github.com/vovakirdan/wirechat-bots/internal/log"
	"github.com/vovakirdan/wirechat-bots/internal/manager"
	"github.com/vovakirdan/wirechat-bots/internal/remote/pubsub"
	"github.com/vovakirdan/wirechat-bots/internal/remote/wirechat"
	"github.com/vovakirdan/wirechat-bots/internal/responder"
	"github.com/vovakirdan/wirechat-bots/internal/session"
	"github.com/vovakirdan/wirechat-bots/internal/store"
	"github.com/vovakirdan/wirechat-bots/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirechat-bots/internal/transport/http"
)

// App wires storage, the bot engine and the control API together.
type App struct {
	cfg     *config.Config
	server  *stdhttp.Server
	store   store.Store
	bus     *bus.Bus
	manager *manager.Manager
	backend pubsub.Backend
	log     *zerolog.Logger

	unsubscribeArchive func()
}

// NewJWTConfig converts configuration into auth settings.
func NewJWTConfig(cfg *config.Config) *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(cfg.JWT.Secret),
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		TTL:      cfg.JWT.TTL,
	}
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	a := &App{cfg: cfg, store: st, log: logger}
	if err := a.build(ctx); err != nil {
		a.cleanup()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.cfg, a.log

	authService := auth.NewService(a.store, NewJWTConfig(cfg))

	a.bus = bus.New(logger, bus.WithHistoryCap(cfg.Bus.HistoryCap))
	arch := archive.New(a.store, logger)
	a.unsubscribeArchive = a.bus.Subscribe("archive", arch)

	replies, err := a.buildResponder(ctx)
	if err != nil {
		return err
	}

	deps := session.Deps{Bus: a.bus, Log: logger}
	switch cfg.Remote.Mode {
	case config.RemoteWirechat:
		client := wirechat.New(wirechat.Config{
			BaseURL:     cfg.Remote.BaseURL,
			WSURL:       cfg.Remote.WSURL,
			HTTPTimeout: cfg.Remote.HTTPTimeout,
		}, logger)
		deps.Auth, deps.Transport, deps.Directory = client, client, client
		logger.Info().Str("base_url", cfg.Remote.BaseURL).Msg("bots connect to remote wirechat server")
	default:
		backend, err := a.buildBackend()
		if err != nil {
			return err
		}
		a.backend = backend
		deps.Auth = authService
		deps.Directory = directory.New(a.store)
		deps.Transport = pubsub.NewTransport(backend, logger,
			pubsub.WithTokenValidator(authService.AccountIDFromToken),
			pubsub.WithHealthInterval(cfg.Broker.HealthInterval),
		)
		logger.Info().Str("broker", cfg.Broker.Kind).Msg("bots connect to local broker")
	}

	a.manager = manager.New(manager.Config{
		Deps: deps,
		Session: session.Config{
			ConnectTimeout: cfg.Session.ConnectTimeout,
			ReconnectMin:   cfg.Session.ReconnectMin,
			ReconnectMax:   cfg.Session.ReconnectMax,
		},
		Responder:       replies,
		Profiles:        a.store,
		DefaultProvider: core.Provider(cfg.Responder.DefaultProvider),
		SchedulerOpts:   []responder.Option{responder.WithHistoryLimit(cfg.Responder.HistoryLimit)},
	})

	a.server = transporthttp.NewServer(transporthttp.Deps{
		Manager:   a.manager,
		Bus:       a.bus,
		Archive:   arch,
		Operators: authService,
	}, cfg, logger)
	return nil
}

func (a *App) buildBackend() (pubsub.Backend, error) {
	wmLogger := log.NewWatermillAdapter(a.log)
	if a.cfg.Broker.Kind == config.BrokerRedis {
		backend, err := pubsub.NewRedis(pubsub.RedisConfig{
			Addr:     a.cfg.Broker.RedisAddr,
			Password: a.cfg.Broker.RedisPassword,
			DB:       a.cfg.Broker.RedisDB,
		}, wmLogger, a.log)
		if err != nil {
			return nil, fmt.Errorf("init redis broker: %w", err)
		}
		return backend, nil
	}
	return pubsub.NewMemory(wmLogger), nil
}

// buildResponder registers every provider that can be built from configuration.
func (a *App) buildResponder(ctx context.Context) (*responder.Router, error) {
	rc := a.cfg.Responder
	router := responder.NewRouter(core.Provider(rc.DefaultProvider))
	router.Register(core.ProviderMock, responder.NewCanned())

	arkCfg := responder.ArkConfig{
		APIKey:    rc.Ark.APIKey,
		AccessKey: rc.Ark.AccessKey,
		SecretKey: rc.Ark.SecretKey,
		Model:     rc.Ark.Model,
		BaseURL:   rc.Ark.BaseURL,
		Region:    rc.Ark.Region,
	}
	if rc.Ark.Temperature > 0 {
		arkCfg.Temperature = &rc.Ark.Temperature
	}
	if rc.Ark.MaxTokens > 0 {
		arkCfg.MaxTokens = &rc.Ark.MaxTokens
	}

	if !arkCfg.Enabled() {
		if core.Provider(rc.DefaultProvider) == core.ProviderArk {
			a.log.Warn().Msg("ark is the default provider but has no credentials; replies will fail")
		}
		return router, nil
	}

	chatModel, err := responder.NewArkModel(ctx, arkCfg)
	if err != nil {
		return nil, fmt.Errorf("init ark model: %w", err)
	}
	llm, err := responder.NewLLM(ctx, chatModel, responder.LLMConfig{
		Timeout:      rc.Timeout,
		HistoryLimit: rc.HistoryLimit,
	}, a.log)
	if err != nil {
		return nil, fmt.Errorf("init llm responder: %w", err)
	}
	router.Register(core.ProviderArk, llm)
	a.log.Info().Str("model", rc.Ark.Model).Msg("ark responder enabled")
	return router, nil
}

// Manager exposes the bot manager, mainly for tests and embedding.
func (a *App) Manager() *manager.Manager { return a.manager }

// Handler exposes the control API handler.
func (a *App) Handler() stdhttp.Handler { return a.server.Handler }

// Run serves the control API and starts configured bots, blocking until ctx is
// cancelled or the server fails. Every bot is logged out before it returns.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info().Str("addr", a.cfg.HTTP.Addr).Msg("control api listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	started := make(chan struct{})
	g.Go(func() error {
		defer close(started)
		a.autostart(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		err := a.server.Shutdown(shutdownCtx)
		<-started
		if cerr := a.manager.Close(shutdownCtx); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return err
	})

	return g.Wait()
}

// autostart logs configured bots in and joins their rooms. Failures are
// logged and do not stop the service.
func (a *App) autostart(ctx context.Context) {
	for _, bot := range a.cfg.Bots {
		if ctx.Err() != nil {
			return
		}
		s, err := a.manager.Create(ctx, bot.Username, bot.Password, bot.Profile)
		if err != nil {
			a.log.Error().Err(err).Str("bot", bot.Username).Msg("autostart login failed")
			continue
		}
		for _, room := range bot.Rooms {
			joinCtx, cancel := context.WithTimeout(ctx, a.cfg.Session.ConnectTimeout)
			if _, err := s.JoinByIdentifier(joinCtx, room); err != nil {
				a.log.Error().Err(err).Str("bot", bot.Username).Str("room", room).Msg("autostart join failed")
			}
			cancel()
		}
	}
}

// cleanup closes the bus, broker and database.
func (a *App) cleanup() {
	if a.unsubscribeArchive != nil {
		a.unsubscribeArchive()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close broker")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
