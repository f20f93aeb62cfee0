package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/greenroom-app/greenroom-server/internal/auth"
	"github.com/greenroom-app/greenroom-server/internal/config"
	"github.com/greenroom-app/greenroom-server/internal/core"
	"github.com/greenroom-app/greenroom-server/internal/hub"
	"github.com/greenroom-app/greenroom-server/internal/notify"
	"github.com/greenroom-app/greenroom-server/internal/presence"
	"github.com/greenroom-app/greenroom-server/internal/store"
	"github.com/greenroom-app/greenroom-server/internal/store/sqlite"
	transporthttp "github.com/greenroom-app/greenroom-server/internal/transport/http"
)

// App wires together storage, services, and the transport layer.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *hub.Hub
	bus             notify.Bus
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	// Initialize database store
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	// Change notifier: in-process by default, redis pub/sub when configured.
	var bus notify.Bus
	if cfg.RedisAddr != "" {
		bus, err = notify.NewRedisBus(ctx, cfg.RedisAddr, cfg.RedisDB, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("init redis bus: %w", err)
		}
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("redis change feed enabled")
	} else {
		bus = notify.NewLocalBus()
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
	authService := auth.NewService(st, jwtConfig)

	tracker := presence.NewTracker(cfg.PresenceTTL)
	h := hub.NewHub(bus, tracker, logger)

	directory := core.NewDirectory(st, bus, logger, cfg.RoomCodeLength)
	rooms := core.NewRooms(st, bus, logger)

	server := transporthttp.NewServer(transporthttp.Deps{
		Auth:      authService,
		Directory: directory,
		Rooms:     rooms,
		Bus:       bus,
		Hub:       h,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             h,
		bus:             bus,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.hub.Run(ctx)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the bus, database, and other resources.
func (a *App) cleanup() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close change feed")
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
