package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/radiolink/internal/auth"
	"github.com/charlesng35/radiolink/internal/catalog"
	"github.com/charlesng35/radiolink/internal/conflict"
	"github.com/charlesng35/radiolink/internal/preferences"
	"github.com/charlesng35/radiolink/internal/radio"
	apperrors "github.com/charlesng35/radiolink/pkg/errors"
)

const (
	newFirmware = "3.4.35.141"
	oldFirmware = "2.10.1.0"
)

func TestConnectWithEmptyCatalogShowsNoRadios(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{})

	h.m.Connect()
	h.sync(t)

	snap := h.m.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.True(t, snap.PickerVisible)
	require.Empty(t, snap.Rows)
	require.Equal(t, HeadingRadios, snap.Heading)
	require.Equal(t, []string{NoRadiosFound}, snap.Messages)
	require.Empty(t, h.transport.snapshot().connects)
}

func TestConnectUsesSavedDefault(t *testing.T) {
	h := newHarness(t,
		Config{Mode: radio.ModeGui, StationName: "Shack"},
		preferences.Preferences{DefaultGuiConnection: "local.0700-1111", ClientID: "CLIENT-1"},
		localRadio("0600-0000", "Spare", newFirmware, radio.StatusAvailable),
		localRadio("0700-1111", "Main", newFirmware, radio.StatusAvailable),
	)

	h.m.Connect()
	h.sync(t)

	calls := h.transport.snapshot()
	require.Len(t, calls.connects, 1)
	require.Equal(t, connectCall{
		Serial: "0700-1111",
		Req: ConnectRequest{
			Station:           "Shack",
			ClientID:          "CLIENT-1",
			IsGui:             true,
			PendingDisconnect: radio.NoDisconnect(),
		},
	}, calls.connects[0])
	require.Equal(t, StateConnecting, h.m.Snapshot().State)

	h.emit(t, PeerConnected{Kind: radio.KindLocal, Serial: "0700-1111"})

	snap := h.m.Snapshot()
	require.Equal(t, StateConnected, snap.State)
	require.True(t, snap.Connected)
	require.NotNil(t, snap.ActiveEndpoint)
	require.Equal(t, "Main", snap.ActiveEndpoint.Nickname)
	require.False(t, snap.PickerVisible)
	require.Equal(t, []string{"connect:requested", "connect:success"}, h.recorder.actions())
}

func TestSlowHistoryDoesNotStallOperations(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{},
		localRadio("0700-1111", "Main", newFirmware, radio.StatusAvailable),
	)
	release := h.recorder.hold()

	h.m.ConnectRow(0)
	h.m.Disconnect(radio.UserInitiated)
	require.Eventually(t, func() bool {
		return h.m.Snapshot().State == StateIdle && len(h.transport.snapshot().disconnects) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Empty(t, h.recorder.actions())

	close(release)
	h.sync(t)
	actions := h.recorder.actions()
	require.NotEmpty(t, actions)
	require.Equal(t, "connect:requested", actions[0])
}

func TestConnectToReportsBadTargets(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{},
		localRadio("0700-1111", "Main", newFirmware, radio.StatusAvailable),
	)

	h.m.ConnectTo("a.b.c.d")
	h.sync(t)
	snap := h.m.Snapshot()
	require.True(t, snap.PickerVisible)
	require.Equal(t, []string{"a.b.c.d is an invalid connection"}, snap.Messages)
	require.Equal(t, apperrors.ErrMalformedConnectionString.Code, snap.Issue)

	h.m.ConnectTo("wan.0700-1111")
	h.sync(t)
	snap = h.m.Snapshot()
	require.Equal(t, []string{"No match found for: wan.0700-1111"}, snap.Messages)
	require.Equal(t, apperrors.ErrNoMatchingEndpoint.Code, snap.Issue)
	require.Len(t, snap.Rows, 1)

	h.m.ConnectTo("0700-1111")
	h.sync(t)
	require.Len(t, h.transport.snapshot().connects, 1)
	require.Empty(t, h.m.Snapshot().Issue)
}

func TestConnectRowWhileConnectedDisconnects(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{},
		localRadio("0700-1111", "Main", newFirmware, radio.StatusAvailable),
	)
	h.m.ConnectRow(0)
	h.sync(t)
	h.emit(t, PeerConnected{Kind: radio.KindLocal, Serial: "0700-1111"})

	h.m.ConnectRow(0)
	h.sync(t)

	calls := h.transport.snapshot()
	require.Len(t, calls.connects, 1)
	require.Equal(t, []string{radio.UserInitiated}, calls.disconnects)
	require.False(t, h.m.Snapshot().Connected)
	require.Nil(t, h.m.Snapshot().Notice)
}

func TestDisconnectClearsStateBeforeTransport(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{},
		localRadio("0700-1111", "Main", newFirmware, radio.StatusAvailable),
	)
	h.m.ConnectRow(0)
	h.sync(t)
	h.emit(t, PeerConnected{Kind: radio.KindLocal, Serial: "0700-1111"})
	require.True(t, h.m.Snapshot().Connected)

	var seen Snapshot
	h.transport.mu.Lock()
	h.transport.onDisconnect = func() { seen = h.m.Snapshot() }
	h.transport.mu.Unlock()

	h.m.Disconnect(radio.UserInitiated)
	h.m.Disconnect(radio.UserInitiated)
	h.sync(t)

	require.False(t, seen.Connected)
	require.Nil(t, seen.ActiveEndpoint)
	require.Equal(t, StateDisconnecting, seen.State)

	snap := h.m.Snapshot()
	require.False(t, snap.Connected)
	require.Nil(t, snap.ActiveEndpoint)
	require.Equal(t, StateIdle, snap.State)
	require.Nil(t, snap.Notice)
	require.Len(t, h.transport.snapshot().disconnects, 1)
}

func TestPeerDisconnectRaisesNotice(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{},
		localRadio("0700-1111", "Main", newFirmware, radio.StatusAvailable),
	)
	h.m.ConnectRow(0)
	h.sync(t)
	h.emit(t, PeerConnected{Kind: radio.KindLocal, Serial: "0700-1111"})

	h.emit(t, PeerDisconnected{Reason: "Radio closed the connection"})

	snap := h.m.Snapshot()
	require.False(t, snap.Connected)
	require.True(t, snap.PickerVisible)
	require.NotNil(t, snap.Notice)
	require.Equal(t, apperrors.ErrUnexpectedDisconnect.Code, snap.Notice.Code)
	require.Equal(t, "Radio was disconnected", snap.Notice.Message)
	require.Equal(t, "Radio closed the connection", snap.Notice.Detail)

	h.m.DismissNotice()
	h.sync(t)
	require.Nil(t, h.m.Snapshot().Notice)
	require.Empty(t, h.m.Snapshot().Issue)

	// a late disconnect for a connection already gone is not surfaced again
	h.emit(t, PeerDisconnected{Reason: "socket closed"})
	require.Nil(t, h.m.Snapshot().Notice)
}

func TestOccupiedNewRadioPromptsForChoice(t *testing.T) {
	occupied := localRadio("0700-1111", "Main", newFirmware, radio.StatusAvailable,
		radio.Occupant{Station: "Kitchen", Handle: 0x7},
	)

	t.Run("close occupant", func(t *testing.T) {
		h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{}, occupied)
		h.m.ConnectRow(0)
		h.sync(t)

		snap := h.m.Snapshot()
		require.Equal(t, StateAwaitingChoice, snap.State)
		require.NotNil(t, snap.Prompt)
		require.Equal(t, "Radio is connected to Station", snap.Prompt.Title)
		require.Equal(t, "Kitchen", snap.Prompt.Message)
		require.Len(t, snap.Prompt.Choices, 3)
		require.Empty(t, h.transport.snapshot().connects)

		h.m.Choose(0)
		h.sync(t)
		calls := h.transport.snapshot()
		require.Len(t, calls.connects, 1)
		require.Equal(t, radio.CurrentAPIDisconnect(0x7), calls.connects[0].Req.PendingDisconnect)
		require.Nil(t, h.m.Snapshot().Prompt)
	})

	t.Run("multiflex", func(t *testing.T) {
		h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{}, occupied)
		h.m.ConnectRow(0)
		h.m.Choose(1)
		h.sync(t)
		calls := h.transport.snapshot()
		require.Len(t, calls.connects, 1)
		require.Equal(t, radio.NoDisconnect(), calls.connects[0].Req.PendingDisconnect)
	})

	t.Run("cancel", func(t *testing.T) {
		h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{}, occupied)
		h.m.ConnectRow(0)
		h.m.Choose(2)
		h.sync(t)
		require.Empty(t, h.transport.snapshot().connects)
		require.Equal(t, StateIdle, h.m.Snapshot().State)
		require.Contains(t, h.recorder.actions(), "conflict:cancelled")
	})
}

func TestTwoStationPromptTargetsEachOccupant(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{},
		localRadio("0700-1111", "Main", newFirmware, radio.StatusInUse,
			radio.Occupant{Station: "Kitchen", Handle: 0x10},
			radio.Occupant{Station: "Garage", Handle: 0x20},
		),
	)

	h.m.ConnectRow(0)
	h.sync(t)
	prompt := h.m.Snapshot().Prompt
	require.NotNil(t, prompt)
	require.Equal(t, "Radio is connected to multiple Stations", prompt.Title)
	require.Equal(t, "Close Garage", prompt.Choices[1].Label)
	require.Equal(t, conflict.ChoiceCloseOccupant, prompt.Choices[1].Kind)

	h.m.Choose(1)
	h.sync(t)
	calls := h.transport.snapshot()
	require.Len(t, calls.connects, 1)
	require.Equal(t, radio.CurrentAPIDisconnect(0x20), calls.connects[0].Req.PendingDisconnect)
}

func TestUndefinedOccupancyDoesNothing(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{},
		localRadio("0700-1111", "Main", newFirmware, radio.StatusInUse,
			radio.Occupant{Station: "Kitchen", Handle: 0x10},
		),
	)

	h.m.ConnectRow(0)
	h.sync(t)

	snap := h.m.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.Nil(t, snap.Prompt)
	require.Equal(t, apperrors.ErrUndefinedConflictState.Code, snap.Issue)
	require.Empty(t, h.transport.snapshot().connects)
}

func TestOldRadioTakeOverReconnectsThroughPicker(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui, SettleDelay: 10 * time.Millisecond}, preferences.Preferences{},
		localRadio("0500-2222", "Legacy", oldFirmware, radio.StatusInUse),
	)

	h.m.ConnectRow(0)
	h.sync(t)
	prompt := h.m.Snapshot().Prompt
	require.NotNil(t, prompt)
	require.Equal(t, "Radio is connected to another Client", prompt.Title)
	require.Equal(t, []string{"Close this client", "Cancel"}, []string{prompt.Choices[0].Label, prompt.Choices[1].Label})

	h.m.Choose(0)
	h.sync(t)
	require.Equal(t, radio.PriorAPIDisconnect(), h.transport.snapshot().connects[0].Req.PendingDisconnect)

	require.Eventually(t, func() bool {
		snap := h.m.Snapshot()
		return !snap.Connected && snap.PickerVisible && len(h.transport.snapshot().disconnects) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Nil(t, h.m.Snapshot().Notice)
}

func TestStaleTakeOverTimerLeavesNewConnection(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui, SettleDelay: 30 * time.Millisecond}, preferences.Preferences{},
		localRadio("0500-2222", "Legacy", oldFirmware, radio.StatusInUse),
		localRadio("0700-1111", "Main", newFirmware, radio.StatusAvailable),
	)

	h.m.ConnectRow(0)
	h.sync(t)
	h.m.Choose(0)

	// Hold the actor so the timer fires while the user's disconnect and
	// reconnect are still queued ahead of its callback.
	blocked := make(chan struct{})
	unblock := make(chan struct{})
	h.m.post(func(context.Context) {
		close(blocked)
		<-unblock
	})
	waitFor(t, blocked)
	h.m.Disconnect(radio.UserInitiated)
	h.m.ConnectRow(1)
	time.Sleep(120 * time.Millisecond)
	close(unblock)
	h.sync(t)

	h.emit(t, PeerConnected{Kind: radio.KindLocal, Serial: "0700-1111"})

	snap := h.m.Snapshot()
	require.True(t, snap.Connected)
	require.NotNil(t, snap.ActiveEndpoint)
	require.Equal(t, "0700-1111", snap.ActiveEndpoint.Serial)
	require.False(t, snap.PickerVisible)
	require.Len(t, h.transport.snapshot().disconnects, 1)
}

func TestOldRadioAvailableConnectsDirectly(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{},
		localRadio("0500-2222", "Legacy", oldFirmware, radio.StatusAvailable),
	)
	h.m.ConnectRow(0)
	h.sync(t)

	calls := h.transport.snapshot()
	require.Len(t, calls.connects, 1)
	require.Equal(t, radio.NoDisconnect(), calls.connects[0].Req.PendingDisconnect)
	require.Equal(t, DefaultStationName, calls.connects[0].Req.Station)
}

func TestMultiStationBindsWhenIdentityArrives(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeMultiStation, StationName: "Remote"}, preferences.Preferences{},
		localRadio("0700-1111", "Main", newFirmware, radio.StatusInUse,
			radio.Occupant{Station: "Shack", Handle: 0x1},
			radio.Occupant{Station: "", Handle: 0x2},
		),
	)

	stored, err := h.prefs.Load(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, stored.ClientID)

	snap := h.m.Snapshot()
	require.Len(t, snap.Rows, 1)
	require.Equal(t, "Shack", snap.Rows[0].Stations)

	h.m.ConnectRow(0)
	h.sync(t)
	calls := h.transport.snapshot()
	require.Len(t, calls.connects, 1)
	require.False(t, calls.connects[0].Req.IsGui)
	require.Empty(t, calls.connects[0].Req.ClientID)
	require.Equal(t, "Remote", calls.connects[0].Req.Station)

	h.emit(t, RosterChanged{Kind: radio.KindLocal, Serial: "0700-1111", Occupant: radio.Occupant{Station: "Other", BoundIdentity: "GUI-9"}})
	require.Empty(t, h.transport.snapshot().binds)

	updated := radio.Occupant{Station: "Shack", Handle: 0x1, BoundIdentity: "GUI-1"}
	h.catalog.UpdateOccupant(radio.KindLocal, "0700-1111", updated)
	h.emit(t, RosterChanged{Kind: radio.KindLocal, Serial: "0700-1111", Occupant: updated})
	h.emit(t, RosterChanged{Kind: radio.KindLocal, Serial: "0700-1111", Occupant: updated})

	require.Equal(t, []bindCall{{Serial: "0700-1111", Identity: "GUI-1"}}, h.transport.snapshot().binds)
	require.Equal(t, "GUI-1", h.m.Snapshot().Stations[0].BoundIdentity)
}

func TestRelayRadioIsValidatedBeforeOpening(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{},
		relayRadio("0900-3333", "Remote Rig"),
	)

	h.m.ConnectRow(0)
	h.sync(t)
	validated, _, _ := h.relay.counts()
	require.Equal(t, []string{"0900-3333"}, validated)
	require.Empty(t, h.transport.snapshot().connects)
	require.Equal(t, StateConnecting, h.m.Snapshot().State)

	h.emit(t, RelayValidated{Serial: "0000-0000"})
	require.Empty(t, h.transport.snapshot().connects)

	h.emit(t, RelayValidated{Serial: "0900-3333"})
	calls := h.transport.snapshot()
	require.Len(t, calls.connects, 1)
	require.Equal(t, "0900-3333", calls.connects[0].Serial)
}

func TestConnectFailureSurfacesNotice(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{},
		localRadio("0700-1111", "Main", newFirmware, radio.StatusAvailable),
	)
	h.transport.mu.Lock()
	h.transport.connectErr = errRefused
	h.transport.mu.Unlock()

	h.m.ConnectRow(0)
	h.sync(t)

	snap := h.m.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.NotNil(t, snap.Notice)
	require.Equal(t, "connection refused", snap.Notice.Detail)
	require.Contains(t, h.recorder.actions(), "connect:failure")
}

func TestSetAndClearDefault(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{},
		localRadio("0600-0000", "Spare", newFirmware, radio.StatusAvailable),
		relayRadio("0900-3333", "Remote Rig"),
	)

	row := 1
	h.m.SetDefault(&row)
	h.sync(t)

	stored, err := h.prefs.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "wan.0900-3333", stored.DefaultGuiConnection)

	snap := h.m.Snapshot()
	require.False(t, snap.Rows[0].IsDefault)
	require.True(t, snap.Rows[1].IsDefault)
	require.Equal(t, DefaultOption{RowID: 1, Label: "Remote Rig - Relay", Value: "wan.0900-3333", Selected: true}, snap.Defaults[1])

	outOfRange := 5
	h.m.SetDefault(&outOfRange)
	h.m.ClearDefault()
	h.sync(t)

	stored, _ = h.prefs.Load(context.Background())
	require.Empty(t, stored.DefaultGuiConnection)
	require.False(t, h.m.Snapshot().Rows[1].IsDefault)
}

func TestCatalogChangeRebuildsSelection(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{})
	require.Empty(t, h.m.Snapshot().Rows)

	h.catalog.Upsert(localRadio("0700-1111", "Main", newFirmware, radio.StatusAvailable))
	h.emit(t, CatalogChanged{})
	require.Len(t, h.m.Snapshot().Rows, 1)

	h.catalog.Remove(radio.KindLocal, "0700-1111")
	h.m.Notify(CatalogChanged{})
	h.sync(t)
	require.Empty(t, h.m.Snapshot().Rows)
}

func TestRelayToggleLogsInAndOut(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{RelayEmail: "op@example.com"},
		localRadio("0700-1111", "Main", newFirmware, radio.StatusAvailable),
		relayRadio("0900-3333", "Remote Rig"),
	)
	h.auth.mu.Lock()
	h.auth.silent = true
	h.auth.mu.Unlock()

	h.m.ToggleRelay()
	require.Eventually(t, func() bool {
		snap := h.m.Snapshot()
		return snap.RelayEnabled && snap.Auth.LoggedIn
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "Ada Lovelace", h.m.Snapshot().Auth.ProfileName)

	stored, _ := h.prefs.Load(context.Background())
	require.True(t, stored.RelayEnabled)

	h.m.Logout()
	h.m.Logout()
	h.sync(t)

	snap := h.m.Snapshot()
	require.False(t, snap.Auth.LoggedIn)
	require.Equal(t, auth.PhaseLoggedOut, snap.Auth.Phase)
	require.Len(t, snap.Rows, 1)
	require.Equal(t, radio.KindLocal, snap.Rows[0].Kind)
	_, _, removals := h.relay.counts()
	require.Equal(t, 2, removals)

	h.m.ToggleRelay()
	h.sync(t)
	require.False(t, h.m.Snapshot().RelayEnabled)
}

func TestRelayEnabledAtStartLogsInSilently(t *testing.T) {
	authorizer := &fakeAuth{state: auth.LoggedOutState(), silent: true}
	m, err := New(Dependencies{
		Transport:   &fakeTransport{},
		Relay:       &fakeRelay{},
		Catalog:     catalog.New(),
		Auth:        authorizer,
		Preferences: preferences.NewMemoryStore(preferences.Preferences{RelayEnabled: true, RelayEmail: "op@example.com"}),
	}, Config{})
	require.NoError(t, err)
	require.False(t, m.Snapshot().Auth.LoggedIn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.Snapshot().Auth.LoggedIn }, 2*time.Second, 5*time.Millisecond)

	authorizer.mu.Lock()
	defer authorizer.mu.Unlock()
	require.Equal(t, []string{"op@example.com"}, authorizer.hints)
}

func TestForceLoginStartsInteractiveAuthorization(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{RelayEmail: "op@example.com"})
	h.auth.mu.Lock()
	h.auth.silent = true
	h.auth.mu.Unlock()

	h.m.EnableRelay(true)
	require.Eventually(t, func() bool { return h.m.Snapshot().Auth.LoggedIn }, 2*time.Second, 5*time.Millisecond)

	h.m.ForceLogin()
	require.Eventually(t, func() bool {
		return h.m.Snapshot().Auth.Phase == auth.PhaseAuthorizing
	}, 2*time.Second, 5*time.Millisecond)

	snap := h.m.Snapshot()
	require.NotEmpty(t, snap.Auth.PendingAuthorizationURL)
	stored, _ := h.prefs.Load(context.Background())
	require.Empty(t, stored.RelayEmail)

	h.auth.mu.Lock()
	require.Equal(t, 1, h.auth.forgotten)
	require.Equal(t, 1, h.auth.logouts)
	require.Equal(t, []string{"op@example.com", ""}, h.auth.hints)
	h.auth.mu.Unlock()

	h.m.CompleteRedirect("radiolink://callback#id_token=x&refresh_token=y")
	require.Eventually(t, func() bool {
		stored, _ := h.prefs.Load(context.Background())
		return h.m.Snapshot().Auth.LoggedIn && stored.RelayEmail == "op@example.com"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLogoutWinsOverInFlightLogin(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{RelayEmail: "op@example.com"})
	h.auth.mu.Lock()
	h.auth.silent = true
	h.auth.mu.Unlock()

	entered, release := h.auth.hold()
	h.m.Login(false)
	waitFor(t, entered)

	h.m.Logout()
	h.sync(t)
	require.False(t, h.m.Snapshot().Auth.LoggedIn)

	close(release)
	require.Never(t, func() bool { return h.m.Snapshot().Auth.LoggedIn }, 150*time.Millisecond, 10*time.Millisecond)
	h.sync(t)
	require.Equal(t, auth.PhaseLoggedOut, h.m.Snapshot().Auth.Phase)
	require.False(t, h.m.Snapshot().Auth.LoggedIn)
	require.NotContains(t, h.recorder.actions(), "relay_login:success")

	h.m.Login(false)
	require.Eventually(t, func() bool { return h.m.Snapshot().Auth.LoggedIn }, 2*time.Second, 5*time.Millisecond)
}

func TestLogoutWinsOverInFlightRefresh(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{})
	h.m.CompleteLogin("id", "refresh")
	require.Eventually(t, func() bool { return h.m.Snapshot().Auth.LoggedIn }, 2*time.Second, 5*time.Millisecond)

	entered, release := h.auth.hold()
	h.m.RefreshLogin()
	waitFor(t, entered)

	h.m.Logout()
	h.sync(t)
	close(release)
	require.Never(t, func() bool { return h.m.Snapshot().Auth.LoggedIn }, 150*time.Millisecond, 10*time.Millisecond)
	h.sync(t)
}

func TestFailedLoginRestartsAuthorization(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{})
	h.auth.mu.Lock()
	h.auth.completeErr = apperrors.ErrTokenExchangeFailed
	h.auth.mu.Unlock()

	h.m.CompleteLogin("bad", "tokens")
	require.Eventually(t, func() bool {
		snap := h.m.Snapshot()
		return snap.Issue == apperrors.ErrTokenExchangeFailed.Code && snap.Auth.Phase == auth.PhaseAuthorizing
	}, 2*time.Second, 5*time.Millisecond)
	h.sync(t)
	require.Contains(t, h.recorder.actions(), "relay_login:failure")
}

func TestRelayTestTracksResult(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{},
		localRadio("0700-1111", "Main", newFirmware, radio.StatusAvailable),
		relayRadio("0900-3333", "Remote Rig"),
	)

	h.m.TestRelay(0)
	h.sync(t)
	require.Nil(t, h.m.Snapshot().RelayTest)

	h.m.TestRelay(1)
	h.sync(t)
	require.Equal(t, &RelayTest{Serial: "0900-3333", Pending: true}, h.m.Snapshot().RelayTest)
	_, tests, _ := h.relay.counts()
	require.Equal(t, []string{"0900-3333"}, tests)

	h.emit(t, RelayTestResult{Serial: "0900-3333", Passed: true, Message: "UPnP ports open"})
	require.Equal(t, &RelayTest{Serial: "0900-3333", Passed: true, Message: "UPnP ports open"}, h.m.Snapshot().RelayTest)
}

func TestCommandsRequireConnection(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{},
		localRadio("0700-1111", "Main", newFirmware, radio.StatusAvailable),
	)

	h.m.SendCommand("info")
	h.m.DisconnectOccupant(3)
	h.sync(t)
	require.Empty(t, h.transport.snapshot().commands)
	require.Empty(t, h.transport.snapshot().occupantDrop)

	h.m.ConnectRow(0)
	h.sync(t)
	h.emit(t, PeerConnected{Kind: radio.KindLocal, Serial: "0700-1111"})

	h.m.SendCommand("")
	h.m.SendCommand("info")
	h.m.DisconnectOccupant(3)
	h.sync(t)

	calls := h.transport.snapshot()
	require.Equal(t, []string{"info"}, calls.commands)
	require.Equal(t, []uint32{3}, calls.occupantDrop)
}

func TestSubscribeDeliversLatestSnapshot(t *testing.T) {
	h := newHarness(t, Config{Mode: radio.ModeGui}, preferences.Preferences{},
		localRadio("0700-1111", "Main", newFirmware, radio.StatusAvailable),
	)

	updates, cancel := h.m.Subscribe()
	first := <-updates
	require.Equal(t, h.m.Snapshot().Version, first.Version)

	h.m.ShowPicker("pick one")
	h.sync(t)

	select {
	case snap := <-updates:
		require.Greater(t, snap.Version, first.Version)
		require.True(t, snap.PickerVisible)
		require.Equal(t, []string{"pick one"}, snap.Messages)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
	}

	cancel()
	cancel()
	for range updates {
	}
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(Dependencies{}, Config{})
	require.Error(t, err)

	_, err = New(Dependencies{
		Transport: &fakeTransport{},
		Relay:     &fakeRelay{},
		Catalog:   catalog.New(),
		Auth:      &fakeAuth{},
	}, Config{})
	require.Error(t, err)
}
