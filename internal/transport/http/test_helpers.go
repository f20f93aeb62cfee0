package http

import (
	"context"
	stdhttp "net/http"
	"testing"
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
)

// createTestStore creates an in-memory SQLite store with schema applied.
func createTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return st
}

// createTestAuthService creates an auth service for testing.
func createTestAuthService(t *testing.T, st store.Store, jwtSecret string) *auth.Service {
	t.Helper()

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(jwtSecret),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}

	return auth.NewService(st, jwtConfig)
}

// createTestServer wires a full server over an in-memory store and local bus.
func createTestServer(t *testing.T, st store.Store, authService *auth.Service) *stdhttp.Server {
	t.Helper()

	disabledLogger := zerolog.New(nil)
	bus := notify.NewLocalBus()
	t.Cleanup(func() { _ = bus.Close() })

	tracker := presence.NewTracker(presence.DefaultTTL)
	h := hub.NewHub(bus, tracker, &disabledLogger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	directory := core.NewDirectory(st, bus, &disabledLogger, 5)
	rooms := core.NewRooms(st, bus, &disabledLogger)

	cfg := config.Default()
	cfg.Addr = ":0"

	return NewServer(Deps{
		Auth:      authService,
		Directory: directory,
		Rooms:     rooms,
		Bus:       bus,
		Hub:       h,
	}, &cfg, &disabledLogger)
}
