package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/radiolink/internal/catalog"
	"github.com/charlesng35/radiolink/internal/conflict"
	"github.com/charlesng35/radiolink/internal/connstring"
	"github.com/charlesng35/radiolink/internal/history"
	"github.com/charlesng35/radiolink/internal/radio"
	apperrors "github.com/charlesng35/radiolink/pkg/errors"
	"github.com/charlesng35/radiolink/pkg/metrics"
)

type pendingPrompt struct {
	endpoint radio.Endpoint
	decision conflict.Decision
}

func (p *pendingPrompt) view() Prompt {
	return Prompt{
		Serial:  p.endpoint.Serial,
		Title:   p.decision.Title,
		Message: p.decision.Message,
		Choices: append([]conflict.Choice(nil), p.decision.Choices...),
	}
}

// bindTarget is the station a multi-station connection should bind to once the
// radio reports that station's client identity.
type bindTarget struct {
	kind    radio.Kind
	serial  string
	station string
}

type relayTarget struct {
	serial string
}

// Connect uses the saved default for the current mode, or shows the picker
// when there is none.
func (m *Manager) Connect() {
	m.post(func(ctx context.Context) {
		target := m.prefs.DefaultGuiConnection
		if !m.cfg.Mode.IsGui() {
			target = m.prefs.DefaultConnection
		}
		if target == "" {
			m.showPicker(nil)
			return
		}
		m.connectTo(ctx, target)
	})
}

// ConnectTo connects to the row matching a connection string. A malformed or
// unmatched string shows the picker with an explanation.
func (m *Manager) ConnectTo(target string) {
	m.post(func(ctx context.Context) { m.connectTo(ctx, target) })
}

// ConnectRow connects to a row of the current selection. When a radio is
// already connected it disconnects instead.
func (m *Manager) ConnectRow(index int) {
	m.post(func(ctx context.Context) { m.connectRow(ctx, index) })
}

// Choose answers the outstanding occupancy prompt.
func (m *Manager) Choose(index int) {
	m.post(func(ctx context.Context) { m.choose(ctx, index) })
}

// Disconnect drops the connection. Any reason other than radio.UserInitiated
// raises a notice.
func (m *Manager) Disconnect(reason string) {
	m.post(func(ctx context.Context) { m.disconnect(ctx, reason) })
}

// DisconnectOccupant asks the connected radio to drop another client.
func (m *Manager) DisconnectOccupant(handle uint32) {
	m.post(func(ctx context.Context) {
		if !m.connected {
			m.log.Debug("ignoring occupant disconnect while not connected", zap.Uint32("handle", handle))
			return
		}
		if err := m.transport.DisconnectOccupant(ctx, handle); err != nil {
			m.log.Warn("occupant disconnect failed", zap.Uint32("handle", handle), zap.Error(err))
		}
	})
}

// SendCommand forwards raw text to the connected radio. Empty text is ignored.
func (m *Manager) SendCommand(text string) {
	if text == "" {
		return
	}
	m.post(func(ctx context.Context) {
		if !m.connected {
			return
		}
		if err := m.transport.SendCommand(ctx, text); err != nil {
			m.log.Warn("send command failed", zap.Error(err))
		}
	})
}

// SetDefault makes the row the default for the current mode; nil clears it.
func (m *Manager) SetDefault(row *int) {
	m.post(func(ctx context.Context) {
		value := ""
		if row != nil {
			if *row < 0 || *row >= len(m.selection.Rows) {
				m.log.Warn("default row out of range", zap.Int("row", *row))
				return
			}
			value = m.selection.Rows[*row].DefaultString(m.cfg.Mode)
		}

		if m.cfg.Mode.IsGui() {
			m.prefs.DefaultGuiConnection = value
		} else {
			m.prefs.DefaultConnection = value
		}
		m.savePrefs(ctx)
		m.rebuild()
	})
}

// ClearDefault removes the default for the current mode.
func (m *Manager) ClearDefault() {
	m.SetDefault(nil)
}

// ShowPicker rebuilds the selection and shows it with optional messages.
func (m *Manager) ShowPicker(messages ...string) {
	m.post(func(context.Context) { m.showPicker(messages) })
}

// DismissNotice clears the current notice and issue.
func (m *Manager) DismissNotice() {
	m.post(func(context.Context) {
		m.notice = nil
		m.issue = ""
	})
}

func (m *Manager) showPicker(messages []string) {
	m.rebuild()
	m.pickerVisible = true
	m.messages = append([]string(nil), messages...)
	if len(m.selection.Rows) == 0 {
		m.messages = append(m.messages, NoRadiosFound)
	}
}

func (m *Manager) connectTo(ctx context.Context, raw string) {
	target, err := connstring.Parse(raw)
	if err != nil {
		m.issue = apperrors.Code(err)
		m.showPicker([]string{err.Error()})
		return
	}

	m.rebuild()
	index, ok := catalog.FindMatch(target, m.selection.Rows, m.cfg.Mode)
	if !ok {
		m.issue = apperrors.ErrNoMatchingEndpoint.Code
		m.showPicker([]string{"No match found for: " + raw})
		return
	}
	m.connectRow(ctx, index)
}

func (m *Manager) connectRow(ctx context.Context, index int) {
	switch m.state {
	case StateConnected:
		m.disconnect(ctx, radio.UserInitiated)
		return
	case StateConnecting, StateDisconnecting:
		m.log.Warn("connect ignored while busy", zap.String("state", string(m.state)))
		return
	}

	if index < 0 || index >= len(m.selection.Rows) {
		m.issue = apperrors.ErrNoMatchingEndpoint.Code
		m.showPicker([]string{fmt.Sprintf("No match found for: row %d", index)})
		return
	}
	row := m.selection.Rows[index]
	if row.CatalogIndex < 0 || row.CatalogIndex >= len(m.endpoints) {
		m.issue = apperrors.ErrNoMatchingEndpoint.Code
		m.showPicker(nil)
		return
	}
	ep := m.endpoints[row.CatalogIndex].Clone()

	m.prompt = nil
	m.issue = ""
	m.pickerVisible = false
	m.messages = nil
	m.pendingBind = nil
	if !m.cfg.Mode.IsGui() {
		m.pendingBind = &bindTarget{kind: ep.Kind(), serial: ep.Serial, station: row.Stations}
	}

	m.record(ctx, history.Entry{
		Action:  history.ActionConnect,
		Serial:  ep.Serial,
		Kind:    string(ep.Kind()),
		Station: row.Stations,
		Result:  history.ResultRequested,
	})

	if ep.Kind() == radio.KindRelay {
		m.state = StateConnecting
		m.pendingRelay = &relayTarget{serial: ep.Serial}
		if err := m.relay.ValidateRelayEndpoint(ctx, ep); err != nil {
			m.log.Warn("relay validation request failed", zap.String("serial", ep.Serial), zap.Error(err))
			m.failConnect(ctx, ep, err)
		}
		return
	}

	m.openEndpoint(ctx, ep)
}

func (m *Manager) openEndpoint(ctx context.Context, ep radio.Endpoint) {
	decision := conflict.Resolve(ep, conflict.Options{
		Mode:        m.cfg.Mode,
		Station:     m.stationName(),
		NewAPIMajor: m.cfg.NewAPIMajor,
	})

	switch decision.Action {
	case conflict.ActionDirect:
		m.startConnect(ctx, ep, *decision.Connect, false)

	case conflict.ActionPrompt:
		m.state = StateAwaitingChoice
		m.prompt = &pendingPrompt{endpoint: ep, decision: decision}
		metrics.ConnectAttempts.WithLabelValues(string(ep.Kind()), "prompted").Inc()

	default:
		m.log.Warn("no defined action for occupancy",
			zap.String("serial", ep.Serial),
			zap.String("status", string(ep.Status)),
			zap.Int("occupants", len(ep.Occupants)),
		)
		metrics.ConflictPrompts.WithLabelValues("undefined").Inc()
		m.state = StateIdle
		m.pendingBind = nil
		m.issue = apperrors.ErrUndefinedConflictState.Code
		m.record(ctx, history.Entry{
			Action: history.ActionConflict,
			Serial: ep.Serial,
			Kind:   string(ep.Kind()),
			Reason: decision.Message,
			Result: history.ResultFailure,
		})
	}
}

func (m *Manager) choose(ctx context.Context, index int) {
	if m.prompt == nil || m.state != StateAwaitingChoice {
		return
	}
	choices := m.prompt.decision.Choices
	if index < 0 || index >= len(choices) {
		m.log.Warn("choice out of range", zap.Int("index", index))
		return
	}

	choice := choices[index]
	ep := m.prompt.endpoint
	m.prompt = nil
	metrics.ConflictPrompts.WithLabelValues(string(choice.Kind)).Inc()

	if choice.Kind == conflict.ChoiceCancel || choice.Connect == nil {
		m.state = StateIdle
		m.pendingBind = nil
		m.record(ctx, history.Entry{
			Action: history.ActionConflict,
			Serial: ep.Serial,
			Kind:   string(ep.Kind()),
			Result: history.ResultCancelled,
		})
		return
	}

	m.record(ctx, history.Entry{
		Action:  history.ActionConflict,
		Serial:  ep.Serial,
		Kind:    string(ep.Kind()),
		Result:  history.ResultSuccess,
		Details: map[string]any{"choice": string(choice.Kind), "label": choice.Label},
	})
	m.startConnect(ctx, ep, *choice.Connect, choice.Restart)
}

func (m *Manager) startConnect(ctx context.Context, ep radio.Endpoint, params conflict.ConnectParams, restart bool) {
	req := ConnectRequest{
		Station:           params.Station,
		IsGui:             params.IsGui,
		PendingDisconnect: params.PendingDisconnect,
	}
	if req.Station == "" {
		req.Station = m.stationName()
	}
	if params.IsGui {
		req.ClientID = m.prefs.ClientID
	}

	m.state = StateConnecting
	m.connecting = &ep
	if err := m.transport.Connect(ctx, ep, req); err != nil {
		m.failConnect(ctx, ep, err)
		return
	}
	metrics.ConnectAttempts.WithLabelValues(string(ep.Kind()), "requested").Inc()
	m.log.Info("connect requested",
		zap.String("serial", ep.Serial),
		zap.String("kind", string(ep.Kind())),
		zap.Bool("gui", req.IsGui),
		zap.String("pending_disconnect", string(req.PendingDisconnect.Kind)),
	)

	if restart {
		m.stopSettleTimer()
		gen := m.settleGen
		m.settleTimer = time.AfterFunc(m.cfg.SettleDelay, func() {
			m.post(func(ctx context.Context) {
				if gen != m.settleGen {
					return
				}
				m.settleTimer = nil
				m.disconnect(ctx, radio.UserInitiated)
				m.showPicker(nil)
			})
		})
	}
}

func (m *Manager) failConnect(ctx context.Context, ep radio.Endpoint, err error) {
	metrics.ConnectAttempts.WithLabelValues(string(ep.Kind()), "rejected").Inc()
	m.state = StateIdle
	m.connecting = nil
	m.pendingRelay = nil
	m.pendingBind = nil
	m.issue = apperrors.Code(err)
	if m.issue == "" {
		m.issue = apperrors.ErrServiceUnavailable.Code
	}
	m.notice = &Notice{Code: m.issue, Message: "Unable to connect to " + ep.Nickname, Detail: err.Error()}
	m.record(ctx, history.Entry{
		Action: history.ActionConnect,
		Serial: ep.Serial,
		Kind:   string(ep.Kind()),
		Reason: err.Error(),
		Result: history.ResultFailure,
	})
}

// disconnect clears local connection state and publishes it before the
// transport is told, so observers never see a stale connection.
func (m *Manager) disconnect(ctx context.Context, reason string) {
	wasActive := m.connected || m.connecting != nil
	serial := ""
	if m.active != nil {
		serial = m.active.Serial
	} else if m.connecting != nil {
		serial = m.connecting.Serial
	}

	m.connected = false
	m.active = nil
	m.connecting = nil
	m.pendingBind = nil
	m.pendingRelay = nil
	m.prompt = nil
	m.stopSettleTimer()
	m.state = StateDisconnecting
	m.publish()

	if wasActive {
		if err := m.transport.Disconnect(ctx, reason); err != nil {
			m.log.Warn("transport disconnect failed", zap.Error(err))
		}
	}

	m.state = StateIdle
	m.rebuild()

	cause := "user"
	if reason != radio.UserInitiated {
		cause = "unexpected"
		unexpected := apperrors.ErrUnexpectedDisconnect
		m.issue = unexpected.Code
		m.notice = &Notice{Code: unexpected.Code, Message: unexpected.Message, Detail: reason}
		m.showPicker(nil)
		m.log.Warn("radio disconnected", zap.String("serial", serial), zap.String("reason", reason))
	}
	if wasActive {
		metrics.Disconnects.WithLabelValues(cause).Inc()
		m.record(ctx, history.Entry{
			Action: history.ActionDisconnect,
			Serial: serial,
			Reason: reason,
			Result: history.ResultSuccess,
		})
	}
}
