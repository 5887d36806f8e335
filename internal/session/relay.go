package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/charlesng35/radiolink/internal/auth"
	"github.com/charlesng35/radiolink/internal/history"
	"github.com/charlesng35/radiolink/internal/radio"
	apperrors "github.com/charlesng35/radiolink/pkg/errors"
)

// ToggleRelay flips relay use; see EnableRelay.
func (m *Manager) ToggleRelay() {
	m.post(func(ctx context.Context) { m.enableRelay(ctx, !m.prefs.RelayEnabled) })
}

// EnableRelay persists the relay switch. Enabling starts a login, silent when
// possible; disabling logs out.
func (m *Manager) EnableRelay(enabled bool) {
	m.post(func(ctx context.Context) { m.enableRelay(ctx, enabled) })
}

// Login starts a relay login and optionally shows the picker once it completes.
func (m *Manager) Login(showPicker bool) {
	m.post(func(context.Context) { m.login(showPicker) })
}

// ForceLogin forgets the remembered account and token, logs out, and starts an
// interactive login when the relay is enabled.
func (m *Manager) ForceLogin() {
	m.post(func(ctx context.Context) {
		m.prefs.RelayEmail = ""
		m.savePrefs(ctx)
		m.auth.ForgetPreviousToken()
		m.logout(ctx)
		if m.prefs.RelayEnabled {
			m.login(false)
		}
	})
}

// Logout ends the relay session and drops relay endpoints.
func (m *Manager) Logout() {
	m.post(func(ctx context.Context) { m.logout(ctx) })
}

// CompleteRedirect finishes an interactive login from the provider redirect URL.
func (m *Manager) CompleteRedirect(redirectURL string) {
	m.post(func(context.Context) {
		m.goAuth(func(ctx context.Context) func(context.Context) {
			state, err := m.auth.CompleteRedirect(ctx, redirectURL)
			return func(ctx context.Context) { m.loginCompleted(ctx, state, err) }
		})
	})
}

// CompleteLogin finishes an interactive login from already extracted tokens.
func (m *Manager) CompleteLogin(idToken, refreshToken string) {
	m.post(func(context.Context) {
		m.goAuth(func(ctx context.Context) func(context.Context) {
			state, err := m.auth.CompleteInteractiveLogin(ctx, idToken, refreshToken)
			return func(ctx context.Context) { m.loginCompleted(ctx, state, err) }
		})
	})
}

// RefreshLogin renews the relay identity token while logged in.
func (m *Manager) RefreshLogin() {
	m.post(func(context.Context) {
		if !m.authState.LoggedIn {
			return
		}
		m.goAuth(func(ctx context.Context) func(context.Context) {
			state, err := m.auth.Refresh(ctx)
			return func(context.Context) {
				if err != nil {
					m.log.Warn("relay refresh failed", zap.Error(err))
					m.issue = apperrors.Code(err)
					return
				}
				m.authState = state
			}
		})
	})
}

// TestRelay asks the relay to test connectivity to the radio of a relay row.
func (m *Manager) TestRelay(row int) {
	m.post(func(ctx context.Context) {
		if row < 0 || row >= len(m.selection.Rows) {
			m.log.Warn("relay test row out of range", zap.Int("row", row))
			return
		}
		selected := m.selection.Rows[row]
		if selected.Kind != radio.KindRelay {
			m.log.Warn("relay test requested for local radio", zap.String("serial", selected.Serial))
			return
		}

		m.relayTest = &RelayTest{Serial: selected.Serial, Pending: true}
		if err := m.relay.SendTestConnection(ctx, selected.Serial); err != nil {
			m.relayTest = &RelayTest{Serial: selected.Serial, Message: err.Error()}
		}
	})
}

func (m *Manager) enableRelay(ctx context.Context, enabled bool) {
	if m.prefs.RelayEnabled != enabled {
		m.prefs.RelayEnabled = enabled
		m.savePrefs(ctx)
	}
	if enabled {
		m.login(false)
		return
	}
	m.logout(ctx)
}

func (m *Manager) login(showPicker bool) {
	email := m.prefs.RelayEmail
	m.goAuth(func(ctx context.Context) func(context.Context) {
		outcome, err := m.auth.BeginLogin(ctx, email)
		return func(ctx context.Context) {
			if err != nil {
				m.log.Error("relay login failed", zap.Error(err))
				m.issue = apperrors.Code(err)
				m.authState = m.auth.State()
				return
			}
			m.authState = outcome.State
			if outcome.Silent {
				m.rememberAccount(ctx, outcome.State)
				m.record(ctx, history.Entry{Action: history.ActionRelayLogin, Result: history.ResultSuccess, Details: map[string]any{"silent": true}})
			}
			if showPicker {
				m.showPicker(nil)
			}
		}
	})
}

func (m *Manager) loginCompleted(ctx context.Context, state auth.State, err error) {
	if err != nil {
		m.log.Warn("relay authorization failed", zap.Error(err))
		m.issue = apperrors.Code(err)
		m.record(ctx, history.Entry{Action: history.ActionRelayLogin, Result: history.ResultFailure, Reason: err.Error()})

		outcome, restartErr := m.auth.Restart()
		if restartErr != nil {
			m.log.Error("restart relay authorization failed", zap.Error(restartErr))
			m.authState = m.auth.State()
			return
		}
		m.authState = outcome.State
		return
	}

	m.issue = ""
	m.authState = state
	m.rememberAccount(ctx, state)
	m.record(ctx, history.Entry{Action: history.ActionRelayLogin, Result: history.ResultSuccess})
}

func (m *Manager) rememberAccount(ctx context.Context, state auth.State) {
	if state.ProfileEmail == "" || state.ProfileEmail == m.prefs.RelayEmail {
		return
	}
	m.prefs.RelayEmail = state.ProfileEmail
	m.savePrefs(ctx)
}

func (m *Manager) logout(ctx context.Context) {
	if m.active != nil && m.active.Kind() == radio.KindRelay {
		m.disconnect(ctx, radio.UserInitiated)
	}

	m.loginGen++
	m.authState = m.auth.Logout(ctx)
	m.relayTest = nil
	if removed := m.catalog.RemoveRelay(); removed > 0 {
		m.log.Info("removed relay radios", zap.Int("count", removed))
	}
	if err := m.relay.RemoveRelayEndpoints(ctx); err != nil {
		m.log.Warn("remove relay radios failed", zap.Error(err))
	}
	m.rebuild()
}

// goAuth runs relay authorization work off the actor. Its continuation is
// dropped when a logout was applied in the meantime.
func (m *Manager) goAuth(work func(ctx context.Context) func(ctx context.Context)) {
	gen := m.loginGen
	m.goAsync(func(ctx context.Context) func(context.Context) {
		next := work(ctx)
		if next == nil {
			return nil
		}
		return func(ctx context.Context) {
			if gen != m.loginGen {
				m.log.Debug("discarding relay result from before logout")
				return
			}
			next(ctx)
		}
	})
}
