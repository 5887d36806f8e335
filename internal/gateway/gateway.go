package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/radiolink/internal/catalog"
	"github.com/charlesng35/radiolink/internal/radio"
	"github.com/charlesng35/radiolink/internal/session"
	apperrors "github.com/charlesng35/radiolink/pkg/errors"
	"github.com/charlesng35/radiolink/pkg/logger"
	"github.com/charlesng35/radiolink/pkg/metrics"
)

const (
	defaultRetryInterval = 5 * time.Second
	defaultOutboundSize  = 64
	defaultEventsSize    = 64

	// LinkLostReason is reported when the gateway link drops with a radio attached.
	LinkLostReason = "Radio gateway connection lost"
)

// ErrUnavailable is returned when no gateway link is established.
var ErrUnavailable = apperrors.ErrServiceUnavailable.WithMessage("Radio gateway unavailable")

// Options tunes a Gateway.
type Options struct {
	RetryInterval time.Duration
	OutboundSize  int
	EventsSize    int
}

// Gateway applies inbound frames to the catalog, turns them into session
// events, and carries session requests to the gateway. It implements
// session.Transport and session.Relay.
type Gateway struct {
	dial    Dialer
	catalog *catalog.Catalog
	opts    Options
	events  chan session.Event
	log     *zap.Logger

	mu       sync.Mutex
	outbound chan Frame
	attached bool
}

// New constructs a Gateway. Run must be called to establish the link.
func New(cat *catalog.Catalog, dial Dialer, opts Options) (*Gateway, error) {
	if cat == nil {
		return nil, errors.New("gateway: catalog is required")
	}
	if dial == nil {
		return nil, errors.New("gateway: dialer is required")
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	if opts.OutboundSize <= 0 {
		opts.OutboundSize = defaultOutboundSize
	}
	if opts.EventsSize <= 0 {
		opts.EventsSize = defaultEventsSize
	}
	return &Gateway{
		dial:    dial,
		catalog: cat,
		opts:    opts,
		events:  make(chan session.Event, opts.EventsSize),
		log:     logger.WithModule("gateway"),
	}, nil
}

// Events is the stream consumed by the session manager.
func (g *Gateway) Events() <-chan session.Event {
	return g.events
}

// Connected reports whether a link is currently established.
func (g *Gateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outbound != nil
}

// Run dials the gateway and serves the link, redialling after failures until
// ctx ends.
func (g *Gateway) Run(ctx context.Context) error {
	for {
		link, err := g.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			g.log.Warn("gateway dial failed", zap.Error(err), zap.Duration("retry_in", g.opts.RetryInterval))
		} else {
			g.log.Info("gateway link established")
			err = g.serve(ctx, link)
			_ = link.Close()
			if ctx.Err() != nil {
				return nil
			}
			g.log.Warn("gateway link lost", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(g.opts.RetryInterval):
		}
	}
}

func (g *Gateway) serve(ctx context.Context, link Link) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan Frame, g.opts.OutboundSize)
	g.mu.Lock()
	g.outbound = out
	g.mu.Unlock()
	metrics.GatewayLinkUp.Set(1)

	defer func() {
		g.mu.Lock()
		g.outbound = nil
		wasAttached := g.attached
		g.attached = false
		g.mu.Unlock()
		metrics.GatewayLinkUp.Set(0)

		if wasAttached {
			g.emit(context.Background(), session.PeerDisconnected{Reason: LinkLostReason})
		}
	}()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- g.writeLoop(ctx, link, out)
	}()

	for {
		payload, err := link.Receive(ctx)
		if err != nil {
			return err
		}
		frame, err := Decode(payload)
		if err != nil {
			g.log.Warn("dropping gateway frame", zap.Error(err))
			continue
		}
		metrics.GatewayFrames.WithLabelValues("in", string(frame.Type)).Inc()
		g.apply(ctx, frame)

		select {
		case err := <-writeErr:
			return err
		default:
		}
	}
}

func (g *Gateway) writeLoop(ctx context.Context, link Link, out <-chan Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-out:
			payload, err := Encode(frame)
			if err != nil {
				g.log.Error("encode gateway frame failed", zap.String("type", string(frame.Type)), zap.Error(err))
				continue
			}
			if err := link.Send(ctx, payload); err != nil {
				return err
			}
			metrics.GatewayFrames.WithLabelValues("out", string(frame.Type)).Inc()
		}
	}
}

func (g *Gateway) apply(ctx context.Context, f Frame) {
	switch f.Type {
	case FrameCatalog:
		g.catalog.Replace(f.Endpoints)
		g.emit(ctx, session.CatalogChanged{})
	case FrameEndpoint:
		if f.Endpoint == nil {
			return
		}
		g.catalog.Upsert(*f.Endpoint)
		g.emit(ctx, session.CatalogChanged{})
	case FrameEndpointRemoved:
		if g.catalog.Remove(f.KindOrLocal(), f.Serial) {
			g.emit(ctx, session.CatalogChanged{})
		}
	case FrameRoster:
		if f.Occupant == nil {
			return
		}
		if g.catalog.UpdateOccupant(f.KindOrLocal(), f.Serial, *f.Occupant) {
			g.emit(ctx, session.RosterChanged{Kind: f.KindOrLocal(), Serial: f.Serial, Occupant: *f.Occupant})
		}
	case FrameRosterRemoved:
		if g.catalog.RemoveOccupant(f.KindOrLocal(), f.Serial, f.Handle) {
			g.emit(ctx, session.CatalogChanged{})
		}
	case FrameConnected:
		g.setAttached(true)
		g.emit(ctx, session.PeerConnected{Kind: f.KindOrLocal(), Serial: f.Serial})
	case FrameDisconnected:
		g.setAttached(false)
		g.emit(ctx, session.PeerDisconnected{Reason: f.Reason})
	case FrameRelayValidated:
		g.emit(ctx, session.RelayValidated{Serial: f.Serial})
	case FrameTestResult:
		g.emit(ctx, session.RelayTestResult{Serial: f.Serial, Passed: f.Passed, Message: f.Message})
	default:
		g.log.Debug("ignoring gateway frame", zap.String("type", string(f.Type)))
	}
}

func (g *Gateway) setAttached(v bool) {
	g.mu.Lock()
	g.attached = v
	g.mu.Unlock()
}

func (g *Gateway) emit(ctx context.Context, ev session.Event) {
	select {
	case g.events <- ev:
	case <-ctx.Done():
	}
}

func (g *Gateway) send(ctx context.Context, f Frame) error {
	g.mu.Lock()
	out := g.outbound
	g.mu.Unlock()
	if out == nil {
		return ErrUnavailable
	}

	select {
	case out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return apperrors.ErrServiceUnavailable.WithMessage("Radio gateway is busy")
	}
}

// Connect asks the gateway to attach to ep.
func (g *Gateway) Connect(ctx context.Context, ep radio.Endpoint, req session.ConnectRequest) error {
	return g.send(ctx, Frame{Type: FrameConnect, Kind: ep.Kind(), Serial: ep.Serial, Connect: &req})
}

// Disconnect detaches from the current endpoint.
func (g *Gateway) Disconnect(ctx context.Context, reason string) error {
	g.setAttached(false)
	return g.send(ctx, Frame{Type: FrameDisconnect, Reason: reason})
}

// BindIdentity binds the attached client to an existing occupant identity.
func (g *Gateway) BindIdentity(ctx context.Context, ep radio.Endpoint, identity string) error {
	return g.send(ctx, Frame{Type: FrameBind, Kind: ep.Kind(), Serial: ep.Serial, Identity: identity})
}

// SendCommand forwards a raw radio command.
func (g *Gateway) SendCommand(ctx context.Context, text string) error {
	return g.send(ctx, Frame{Type: FrameCommand, Text: text})
}

// DisconnectOccupant asks the radio to drop another client by handle.
func (g *Gateway) DisconnectOccupant(ctx context.Context, handle uint32) error {
	return g.send(ctx, Frame{Type: FrameClientDisconnect, Handle: handle})
}

// ValidateRelayEndpoint asks the relay to admit a connection to ep.
func (g *Gateway) ValidateRelayEndpoint(ctx context.Context, ep radio.Endpoint) error {
	return g.send(ctx, Frame{Type: FrameValidateRelay, Kind: radio.KindRelay, Serial: ep.Serial, Endpoint: &ep})
}

// SendTestConnection asks the relay to probe reachability of serial.
func (g *Gateway) SendTestConnection(ctx context.Context, serial string) error {
	return g.send(ctx, Frame{Type: FrameTestConnection, Kind: radio.KindRelay, Serial: serial})
}

// RemoveRelayEndpoints tells the gateway to forget relay-reached endpoints.
func (g *Gateway) RemoveRelayEndpoints(ctx context.Context) error {
	return g.send(ctx, Frame{Type: FrameRemoveRelay, Kind: radio.KindRelay})
}

var (
	_ session.Transport = (*Gateway)(nil)
	_ session.Relay     = (*Gateway)(nil)
)
