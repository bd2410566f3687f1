package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-bots/internal/archive"
	"github.com/vovakirdan/wirechat-bots/internal/auth"
	"github.com/vovakirdan/wirechat-bots/internal/bus"
	"github.com/vovakirdan/wirechat-bots/internal/config"
	"github.com/vovakirdan/wirechat-bots/internal/core"
	"github.com/vovakirdan/wirechat-bots/internal/directory"
	"github.com/vovakirdan/wirechat-bots/internal/log"
	"github.com/vovakirdan/wirechat-bots/internal/manager"
	"github.com/vovakirdan/wirechat-bots/internal/remote/pubsub"
	"github.com/vovakirdan/wirechat-bots/internal/session"
	"github.com/vovakirdan/wirechat-bots/internal/store/sqlite"
)

type testEnv struct {
	server *http.Server
	ts     *httptest.Server
	store  *sqlite.SQLiteStore
	auth   *auth.Service
	bus    *bus.Bus
}

// newTestEnv wires the full local stack behind the control API.
func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.HTTP.Addr = ":0"
	cfg.HTTP.ReadHeaderTimeout = time.Second
	cfg.JWT.Secret = "test-secret"
	if mutate != nil {
		mutate(&cfg)
	}

	logger := log.Nop()
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWT.Secret),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	})
	if _, err := authService.Register(context.Background(), "Bot_Alpha", "password123"); err != nil {
		t.Fatalf("failed to register bot: %v", err)
	}
	if _, err := st.CreateRoom(context.Background(), "lobby", "main room", "public"); err != nil {
		t.Fatalf("failed to create room: %v", err)
	}

	b := bus.New(logger)
	arch := archive.New(st, logger)
	unsubscribeArchive := b.Subscribe("archive", arch)

	backend := pubsub.NewMemory(log.NewWatermillAdapter(logger))
	transport := pubsub.NewTransport(backend, logger, pubsub.WithTokenValidator(authService.AccountIDFromToken))

	m := manager.New(manager.Config{
		Deps: session.Deps{
			Auth:      authService,
			Transport: transport,
			Directory: directory.New(st),
			Bus:       b,
			Log:       logger,
		},
		Session: session.DefaultConfig(),
		Responder: core.ResponderFunc(func(context.Context, core.ReplyRequest) (string, error) {
			return "hey!", nil
		}),
		Profiles: st,
	})

	server := NewServer(Deps{Manager: m, Bus: b, Archive: arch, Operators: authService}, &cfg, logger)
	ts := httptest.NewServer(server.Handler)

	t.Cleanup(func() {
		ts.Close()
		_ = m.Close(context.Background())
		unsubscribeArchive()
		b.Close()
		_ = backend.Close()
		_ = st.Close()
	})

	return &testEnv{server: server, ts: ts, store: st, auth: authService, bus: b}
}

// do sends a request to the API and decodes a JSON response into out when non-nil.
func (e *testEnv) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

// createBot logs Bot_Alpha in with auto-reply off and returns its session id.
func (e *testEnv) createBot(t *testing.T, token string) string {
	t.Helper()
	var status session.Status
	code := e.do(t, http.MethodPost, "/api/bots", token, CreateBotRequest{
		Username: "Bot_Alpha",
		Password: "password123",
		Profile:  &core.Profile{Name: "Alpha", Personality: core.DefaultPersonality(), Provider: core.ProviderMock},
	}, &status)
	if code != http.StatusCreated {
		t.Fatalf("expected 201 creating bot, got %d", code)
	}
	return status.ID
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
