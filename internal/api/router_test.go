package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/radiolink/internal/app"
	"github.com/charlesng35/radiolink/internal/history"
	"github.com/charlesng35/radiolink/internal/models"
	"github.com/charlesng35/radiolink/internal/monitoring"
	"github.com/charlesng35/radiolink/internal/realtime"
	"github.com/charlesng35/radiolink/internal/session"
)

type stubSessions struct {
	mu    sync.Mutex
	calls []string
}

func (s *stubSessions) note(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *stubSessions) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubSessions) Snapshot() session.Snapshot   { return session.Snapshot{State: session.StateIdle} }
func (s *stubSessions) Sync(context.Context) error   { return nil }
func (s *stubSessions) Connect()                     { s.note("connect") }
func (s *stubSessions) ConnectTo(string)             { s.note("connect_to") }
func (s *stubSessions) ConnectRow(int)               { s.note("connect_row") }
func (s *stubSessions) Choose(int)                   { s.note("choose") }
func (s *stubSessions) Disconnect(string)            { s.note("disconnect") }
func (s *stubSessions) DisconnectOccupant(uint32)    { s.note("drop") }
func (s *stubSessions) SendCommand(string)           { s.note("command") }
func (s *stubSessions) SetDefault(*int)              { s.note("set_default") }
func (s *stubSessions) ClearDefault()                { s.note("clear_default") }
func (s *stubSessions) DismissNotice()               { s.note("dismiss") }
func (s *stubSessions) ToggleRelay()                 { s.note("toggle") }
func (s *stubSessions) EnableRelay(bool)             { s.note("enable") }
func (s *stubSessions) Login(bool)                   { s.note("login") }
func (s *stubSessions) ForceLogin()                  { s.note("force_login") }
func (s *stubSessions) Logout()                      { s.note("logout") }
func (s *stubSessions) CompleteRedirect(string)      { s.note("redirect") }
func (s *stubSessions) CompleteLogin(string, string) { s.note("tokens") }
func (s *stubSessions) TestRelay(int)                { s.note("test") }

type stubHistory struct{}

func (stubHistory) List(context.Context, history.ListOptions) ([]models.ConnectionEvent, int64, error) {
	return []models.ConnectionEvent{{Action: history.ActionConnect, Result: history.ResultSuccess}}, 1, nil
}

type gatewayUp struct{}

func (gatewayUp) Connected() bool { return true }

func testChecker() *monitoring.Checker {
	checker := monitoring.NewChecker(0)
	checker.Register(monitoring.Link("gateway", gatewayUp{}))
	return checker
}

func testConfig() *app.Config {
	cfg := &app.Config{}
	cfg.Monitoring.Health.Enabled = true
	cfg.Monitoring.Prometheus.Enabled = true
	cfg.Monitoring.Prometheus.Endpoint = "/metrics"
	return cfg
}

func newTestRouter(t *testing.T, cfg *app.Config) (*gin.Engine, *stubSessions) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sessions := &stubSessions{}
	router, err := NewRouter(Services{
		Sessions: sessions,
		History:  stubHistory{},
		Hub:      realtime.NewHub(),
		Health:   testChecker(),
	}, cfg)
	require.NoError(t, err)
	return router, sessions
}

func serve(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouterRegistersSessionAndRelayRoutes(t *testing.T) {
	router, sessions := newTestRouter(t, testConfig())

	routes := []struct {
		method, path string
		body         any
		status       int
	}{
		{http.MethodGet, "/api/session", nil, http.StatusOK},
		{http.MethodPost, "/api/session/connect", nil, http.StatusAccepted},
		{http.MethodPost, "/api/session/choice", gin.H{"index": 0}, http.StatusAccepted},
		{http.MethodPost, "/api/session/disconnect", nil, http.StatusAccepted},
		{http.MethodPut, "/api/session/default", gin.H{"row": 1}, http.StatusAccepted},
		{http.MethodDelete, "/api/session/default", nil, http.StatusAccepted},
		{http.MethodPost, "/api/session/command", gin.H{"text": "ping"}, http.StatusAccepted},
		{http.MethodPost, "/api/session/occupants/disconnect", gin.H{"handle": 3}, http.StatusAccepted},
		{http.MethodPost, "/api/session/notice/dismiss", nil, http.StatusAccepted},
		{http.MethodPost, "/api/relay/toggle", nil, http.StatusAccepted},
		{http.MethodPost, "/api/relay/login", nil, http.StatusAccepted},
		{http.MethodPost, "/api/relay/force-login", nil, http.StatusAccepted},
		{http.MethodPost, "/api/relay/logout", nil, http.StatusAccepted},
		{http.MethodPost, "/api/relay/test", gin.H{"row": 0}, http.StatusAccepted},
		{http.MethodPost, "/api/relay/redirect", gin.H{"url": "https://relay.example.test/cb#id_token=x"}, http.StatusAccepted},
		{http.MethodPost, "/api/relay/tokens", gin.H{"id_token": "x", "refresh_token": "y"}, http.StatusAccepted},
		{http.MethodGet, "/auth/callback?id_token=x&state=y", nil, http.StatusAccepted},
		{http.MethodGet, "/api/relay/authorize.png", nil, http.StatusNotFound},
		{http.MethodGet, "/api/history", nil, http.StatusOK},
	}
	for _, route := range routes {
		w := serve(router, route.method, route.path, route.body)
		require.Equal(t, route.status, w.Code, "%s %s: %s", route.method, route.path, w.Body.String())
	}

	require.Equal(t, []string{
		"connect", "choose", "disconnect", "set_default", "clear_default", "command", "drop", "dismiss",
		"toggle", "login", "force_login", "logout", "test", "redirect", "tokens", "redirect",
	}, sessions.Calls())
}

func TestRouterHealthMetricsAndFallback(t *testing.T) {
	router, _ := newTestRouter(t, testConfig())

	w := serve(router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"component":"gateway"`)
	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/health/live", nil).Code)
	require.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	w = serve(router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "radiolink_api_latency_seconds")

	w = serve(router, http.MethodGet, "/api/unknown", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestRouterHonoursDisabledMonitoring(t *testing.T) {
	router, _ := newTestRouter(t, &app.Config{})

	require.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/health", nil).Code)
	require.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/metrics", nil).Code)
}

func TestNewRouterValidatesServices(t *testing.T) {
	_, err := NewRouter(Services{}, testConfig())
	require.Error(t, err)
	_, err = NewRouter(Services{Sessions: &stubSessions{}, History: stubHistory{}, Hub: realtime.NewHub()}, nil)
	require.Error(t, err)
}
