package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/radiolink/internal/auth"
	"github.com/charlesng35/radiolink/internal/catalog"
	"github.com/charlesng35/radiolink/internal/history"
	"github.com/charlesng35/radiolink/internal/preferences"
	"github.com/charlesng35/radiolink/internal/radio"
)

type connectCall struct {
	Serial string
	Req    ConnectRequest
}

type bindCall struct {
	Serial   string
	Identity string
}

type transportCalls struct {
	connects     []connectCall
	disconnects  []string
	binds        []bindCall
	commands     []string
	occupantDrop []uint32
}

type fakeTransport struct {
	mu           sync.Mutex
	calls        transportCalls
	connectErr   error
	onDisconnect func()
}

func (f *fakeTransport) Connect(_ context.Context, ep radio.Endpoint, req ConnectRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.connects = append(f.calls.connects, connectCall{Serial: ep.Serial, Req: req})
	return f.connectErr
}

func (f *fakeTransport) Disconnect(_ context.Context, reason string) error {
	f.mu.Lock()
	hook := f.onDisconnect
	f.calls.disconnects = append(f.calls.disconnects, reason)
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeTransport) BindIdentity(_ context.Context, ep radio.Endpoint, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.binds = append(f.calls.binds, bindCall{Serial: ep.Serial, Identity: identity})
	return nil
}

func (f *fakeTransport) SendCommand(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.commands = append(f.calls.commands, text)
	return nil
}

func (f *fakeTransport) DisconnectOccupant(_ context.Context, handle uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.occupantDrop = append(f.calls.occupantDrop, handle)
	return nil
}

func (f *fakeTransport) snapshot() transportCalls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return transportCalls{
		connects:     append([]connectCall(nil), f.calls.connects...),
		disconnects:  append([]string(nil), f.calls.disconnects...),
		binds:        append([]bindCall(nil), f.calls.binds...),
		commands:     append([]string(nil), f.calls.commands...),
		occupantDrop: append([]uint32(nil), f.calls.occupantDrop...),
	}
}

type fakeRelay struct {
	mu        sync.Mutex
	validated []string
	tests     []string
	removals  int
}

func (f *fakeRelay) ValidateRelayEndpoint(_ context.Context, ep radio.Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validated = append(f.validated, ep.Serial)
	return nil
}

func (f *fakeRelay) SendTestConnection(_ context.Context, serial string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tests = append(f.tests, serial)
	return nil
}

func (f *fakeRelay) RemoveRelayEndpoints(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removals++
	return nil
}

func (f *fakeRelay) counts() (validated, tests []string, removals int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.validated...), append([]string(nil), f.tests...), f.removals
}

type fakeAuth struct {
	mu          sync.Mutex
	state       auth.State
	silent      bool
	hints       []string
	logouts     int
	forgotten   int
	completeErr error
	gate        chan struct{}
	entered     chan struct{}
}

// hold makes the next BeginLogin or Refresh block until release is closed.
func (f *fakeAuth) hold() (entered <-chan struct{}, release chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.entered = make(chan struct{})
	return f.entered, f.gate
}

func (f *fakeAuth) wait() {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.gate, f.entered = nil, nil
	f.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}
}

var loggedInState = auth.State{
	Phase:           auth.PhaseLoggedIn,
	LoggedIn:        true,
	ProfileName:     "Ada Lovelace",
	ProfileCallsign: "K1ADA",
	ProfileEmail:    "op@example.com",
}

func (f *fakeAuth) State() auth.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeAuth) BeginLogin(_ context.Context, hint string) (auth.LoginOutcome, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hints = append(f.hints, hint)
	if f.silent && hint != "" {
		f.state = loggedInState
		return auth.LoginOutcome{Silent: true, State: f.state}, nil
	}
	return f.interactiveLocked(), nil
}

func (f *fakeAuth) Restart() (auth.LoginOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interactiveLocked(), nil
}

func (f *fakeAuth) interactiveLocked() auth.LoginOutcome {
	f.state = auth.State{Phase: auth.PhaseAuthorizing, PendingAuthorizationURL: "https://auth.example.test/authorize?state=abc"}
	return auth.LoginOutcome{State: f.state, AuthorizationURL: f.state.PendingAuthorizationURL}
}

func (f *fakeAuth) CompleteRedirect(ctx context.Context, _ string) (auth.State, error) {
	return f.CompleteInteractiveLogin(ctx, "id", "refresh")
}

func (f *fakeAuth) CompleteInteractiveLogin(context.Context, string, string) (auth.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return f.state, f.completeErr
	}
	f.state = loggedInState
	return f.state, nil
}

func (f *fakeAuth) Refresh(context.Context) (auth.State, error) {
	state := f.State()
	f.wait()
	return state, nil
}

func (f *fakeAuth) ForgetPreviousToken() {
	f.mu.Lock()
	f.forgotten++
	f.mu.Unlock()
}

func (f *fakeAuth) Logout(context.Context) auth.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	f.state = auth.LoggedOutState()
	return f.state
}

type memoryRecorder struct {
	mu      sync.Mutex
	entries []history.Entry
	gate    chan struct{}
}

// hold makes Record block until the returned channel is closed.
func (r *memoryRecorder) hold() chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = make(chan struct{})
	return r.gate
}

func (r *memoryRecorder) Record(_ context.Context, entry history.Entry) error {
	r.mu.Lock()
	gate := r.gate
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memoryRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action+":"+e.Result)
	}
	return out
}

type harness struct {
	m         *Manager
	catalog   *catalog.Catalog
	transport *fakeTransport
	relay     *fakeRelay
	auth      *fakeAuth
	prefs     *preferences.MemoryStore
	recorder  *memoryRecorder
	events    chan Event
}

func newHarness(t *testing.T, cfg Config, prefs preferences.Preferences, endpoints ...radio.Endpoint) *harness {
	t.Helper()

	h := &harness{
		catalog:   catalog.New(),
		transport: &fakeTransport{},
		relay:     &fakeRelay{},
		auth:      &fakeAuth{state: auth.LoggedOutState()},
		prefs:     preferences.NewMemoryStore(prefs),
		recorder:  &memoryRecorder{},
		events:    make(chan Event),
	}
	h.catalog.Replace(endpoints)

	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = 20 * time.Millisecond
	}
	m, err := New(Dependencies{
		Transport:   h.transport,
		Relay:       h.relay,
		Catalog:     h.catalog,
		Auth:        h.auth,
		Preferences: h.prefs,
		Recorder:    h.recorder,
		Events:      h.events,
	}, cfg)
	require.NoError(t, err)
	h.m = m

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	h.sync(t)
	return h
}

func (h *harness) sync(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.m.Sync(ctx))
}

// emit delivers ev through the events channel; the unbuffered send returns once
// the manager has taken it, so a following sync observes its effect.
func (h *harness) emit(t *testing.T, ev Event) {
	t.Helper()
	select {
	case h.events <- ev:
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not accept event")
	}
	h.sync(t)
}

func localRadio(serial, nickname, firmware string, status radio.Status, occupants ...radio.Occupant) radio.Endpoint {
	return radio.Endpoint{
		Serial:          serial,
		Nickname:        nickname,
		FirmwareVersion: firmware,
		Status:          status,
		Occupants:       occupants,
	}
}

func relayRadio(serial, nickname string) radio.Endpoint {
	ep := localRadio(serial, nickname, "3.4.1.0", radio.StatusAvailable)
	ep.Remote = true
	return ep
}

var errRefused = errors.New("connection refused")

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for collaborator")
	}
}
