package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/radiolink/internal/session"
	"github.com/charlesng35/radiolink/pkg/response"
)

// fakeManager records every call as a short string.
type fakeManager struct {
	mu      sync.Mutex
	calls   []string
	snap    session.Snapshot
	syncErr error
}

func (f *fakeManager) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	f.snap.Version++
}

func (f *fakeManager) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeManager) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeManager) Sync(ctx context.Context) error {
	if f.syncErr != nil {
		return f.syncErr
	}
	return ctx.Err()
}

func (f *fakeManager) Connect()                         { f.record("connect") }
func (f *fakeManager) ConnectTo(target string)          { f.record("connect_to:%s", target) }
func (f *fakeManager) ConnectRow(index int)             { f.record("connect_row:%d", index) }
func (f *fakeManager) Choose(index int)                 { f.record("choose:%d", index) }
func (f *fakeManager) Disconnect(reason string)         { f.record("disconnect:%s", reason) }
func (f *fakeManager) DisconnectOccupant(handle uint32) { f.record("drop:%d", handle) }
func (f *fakeManager) SendCommand(text string)          { f.record("command:%s", text) }
func (f *fakeManager) SetDefault(row *int)              { f.record("default:%d", *row) }
func (f *fakeManager) ClearDefault()                    { f.record("clear_default") }
func (f *fakeManager) DismissNotice()                   { f.record("dismiss") }
func (f *fakeManager) ToggleRelay()                     { f.record("toggle") }
func (f *fakeManager) EnableRelay(enabled bool)         { f.record("enable:%t", enabled) }
func (f *fakeManager) Login(showPicker bool)            { f.record("login:%t", showPicker) }
func (f *fakeManager) ForceLogin()                      { f.record("force_login") }
func (f *fakeManager) Logout()                          { f.record("logout") }
func (f *fakeManager) CompleteRedirect(url string)      { f.record("redirect:%s", url) }
func (f *fakeManager) TestRelay(row int)                { f.record("test:%d", row) }

func (f *fakeManager) CompleteLogin(idToken, refreshToken string) {
	f.record("tokens:%s:%s", idToken, refreshToken)
}

func init() {
	gin.SetMode(gin.TestMode)
}

func perform(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		payload, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp response.Response
	if w.Header().Get("Content-Type") != "image/png" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}
