package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/charlesng35/radiolink/internal/history"
	"github.com/charlesng35/radiolink/internal/radio"
	"github.com/charlesng35/radiolink/pkg/metrics"
)

// Notify applies an event without going through the Events channel.
func (m *Manager) Notify(ev Event) {
	m.post(func(ctx context.Context) { m.apply(ctx, ev) })
}

func (m *Manager) apply(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case CatalogChanged:
		m.refreshActive()
		m.rebuild()

	case RosterChanged:
		m.refreshActive()
		m.rebuild()
		m.tryBind(ctx, e.Kind, e.Serial, e.Occupant)

	case PeerConnected:
		m.peerConnected(ctx, e)

	case PeerDisconnected:
		if !m.connected && m.connecting == nil {
			m.log.Debug("peer disconnect with no active connection", zap.String("reason", e.Reason))
			return
		}
		m.disconnect(ctx, e.Reason)

	case RelayValidated:
		m.relayValidated(ctx, e)

	case RelayTestResult:
		if m.relayTest == nil || m.relayTest.Serial != e.Serial {
			m.log.Debug("unsolicited relay test result", zap.String("serial", e.Serial))
			return
		}
		m.relayTest = &RelayTest{Serial: e.Serial, Passed: e.Passed, Message: e.Message}

	default:
		m.log.Warn("unknown session event", zap.Any("event", ev))
	}
}

func (m *Manager) peerConnected(ctx context.Context, e PeerConnected) {
	ep, ok := m.catalog.Find(e.Kind, e.Serial)
	if !ok && m.connecting != nil && m.connecting.Serial == e.Serial {
		ep, ok = *m.connecting, true
	}
	if !ok {
		ep = radio.Endpoint{Serial: e.Serial, Remote: e.Kind == radio.KindRelay}
	}

	m.connected = true
	m.active = &ep
	m.connecting = nil
	m.pendingRelay = nil
	m.state = StateConnected
	m.pickerVisible = false
	m.messages = nil
	m.rebuild()

	metrics.ConnectAttempts.WithLabelValues(string(ep.Kind()), "connected").Inc()
	m.log.Info("radio connected", zap.String("serial", ep.Serial), zap.String("kind", string(ep.Kind())))
	m.record(ctx, history.Entry{
		Action: history.ActionConnect,
		Serial: ep.Serial,
		Kind:   string(ep.Kind()),
		Result: history.ResultSuccess,
	})

	// The roster may already carry the identity the pending bind is waiting for.
	if m.pendingBind != nil {
		for _, occ := range ep.Occupants {
			if m.tryBind(ctx, ep.Kind(), ep.Serial, occ) {
				break
			}
		}
	}
}

// tryBind issues the bind for a pending multi-station connection when occ is
// the awaited station and carries an identity. It reports whether it bound.
func (m *Manager) tryBind(ctx context.Context, kind radio.Kind, serial string, occ radio.Occupant) bool {
	target := m.pendingBind
	if target == nil || target.serial != serial || target.kind != kind {
		return false
	}
	if occ.Station != target.station || occ.BoundIdentity == "" {
		return false
	}

	ep, ok := m.catalog.Find(kind, serial)
	if !ok {
		ep = radio.Endpoint{Serial: serial, Remote: kind == radio.KindRelay}
	}

	m.pendingBind = nil
	if err := m.transport.BindIdentity(ctx, ep, occ.BoundIdentity); err != nil {
		m.log.Warn("bind failed", zap.String("station", occ.Station), zap.Error(err))
		return false
	}
	m.log.Info("bound to station", zap.String("station", occ.Station), zap.String("identity", occ.BoundIdentity))
	return true
}

func (m *Manager) relayValidated(ctx context.Context, e RelayValidated) {
	if m.pendingRelay == nil || m.pendingRelay.serial != e.Serial {
		m.log.Debug("relay validation without pending connection", zap.String("serial", e.Serial))
		return
	}
	m.pendingRelay = nil

	ep, ok := m.catalog.Find(radio.KindRelay, e.Serial)
	if !ok {
		m.state = StateIdle
		m.pendingBind = nil
		m.showPicker([]string{"No match found for: " + e.Serial})
		return
	}
	m.state = StateIdle
	m.openEndpoint(ctx, ep)
}

// refreshActive replaces the active endpoint with its current catalog entry.
func (m *Manager) refreshActive() {
	if m.active == nil {
		return
	}
	if ep, ok := m.catalog.Find(m.active.Kind(), m.active.Serial); ok {
		m.active = &ep
	}
}
