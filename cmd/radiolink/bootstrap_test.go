package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/radiolink/internal/app"
	"github.com/charlesng35/radiolink/internal/database"
	"github.com/charlesng35/radiolink/internal/database/testutil"
	"github.com/charlesng35/radiolink/internal/gateway"
	"github.com/charlesng35/radiolink/internal/history"
	"github.com/charlesng35/radiolink/internal/radio"
	"github.com/charlesng35/radiolink/internal/realtime"
)

// fakeGatewayServer accepts one link and announces a single local radio.
func fakeGatewayServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		payload, err := gateway.Encode(gateway.Frame{
			Type: gateway.FrameCatalog,
			Endpoints: []radio.Endpoint{{
				Serial:          "1234-5678",
				Nickname:        "Shack",
				Model:           "FLEX-6600",
				FirmwareVersion: "3.2.31",
				Status:          radio.StatusAvailable,
			}},
		})
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, payload)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testRuntimeConfig(t *testing.T, gatewayURL string) *app.Config {
	t.Helper()
	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)

	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	cfg.Database.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", name)
	cfg.Gateway.URL = gatewayURL
	cfg.Gateway.ReconnectInterval = 50 * time.Millisecond
	return cfg
}

func TestBootstrapRuntimeWiresCatalogIntoSession(t *testing.T) {
	cfg := testRuntimeConfig(t, fakeGatewayServer(t))

	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Vault.EncryptionKey)

	ctx, cancel := context.WithCancel(context.Background())
	stack.Start(ctx)

	require.Eventually(t, func() bool {
		return stack.Gateway.Connected() && len(stack.Manager.Snapshot().Rows) == 1
	}, 3*time.Second, 20*time.Millisecond)

	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "1234-5678")

	w = httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"component":"gateway"`)

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
	defer done()
	require.NoError(t, stack.Shutdown(shutdownCtx, zap.NewNop()))
}

func TestBootstrapRuntimeReusesStoredVaultKey(t *testing.T) {
	cfg := testRuntimeConfig(t, "ws://127.0.0.1:1/gateway")

	first, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	key := cfg.Vault.EncryptionKey

	stored, err := database.GetSetting(context.Background(), first.DB, database.VaultKeySetting)
	require.NoError(t, err)
	require.Equal(t, key, stored)

	again := &app.Config{}
	_, err = app.ApplyRuntimeDefaults(context.Background(), again, first.DB)
	require.NoError(t, err)
	require.Equal(t, key, again.Vault.EncryptionKey)
	require.NoError(t, first.Shutdown(context.Background(), zap.NewNop()))
}

func TestBootstrapRuntimeRejectsUnknownDriver(t *testing.T) {
	cfg := testRuntimeConfig(t, "ws://127.0.0.1:1/gateway")
	cfg.Database.Driver = "oracle"

	_, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
}

func TestStreamingRecorderBroadcastsEntries(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	svc, err := history.NewService(db)
	require.NoError(t, err)

	hub := realtime.NewHub()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, []string{realtime.StreamHistory})
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers(realtime.StreamHistory) == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := &streamingRecorder{next: svc, hub: hub}
	require.NoError(t, rec.Record(context.Background(), history.Entry{
		Action: history.ActionConnect,
		Serial: "1234-5678",
		Result: history.ResultSuccess,
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg realtime.Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, realtime.StreamHistory, msg.Stream)
	require.Equal(t, realtime.EventRecorded, msg.Event)
	require.Equal(t, "1234-5678", msg.Data.(map[string]any)["serial"])

	events, total, err := svc.List(context.Background(), history.ListOptions{})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, history.ActionConnect, events[0].Action)

	require.Error(t, rec.Record(context.Background(), history.Entry{}))
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig("/definitely/not/here")
	require.Error(t, err)
}
