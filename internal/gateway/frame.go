// Package gateway bridges the session manager to a radio gateway process over a
// message link. Discovery and roster updates flow in; connection commands flow out.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charlesng35/radiolink/internal/radio"
	"github.com/charlesng35/radiolink/internal/session"
)

// FrameType names a gateway message.
type FrameType string

// Inbound frames.
const (
	FrameCatalog         FrameType = "catalog"
	FrameEndpoint        FrameType = "endpoint"
	FrameEndpointRemoved FrameType = "endpoint_removed"
	FrameRoster          FrameType = "roster"
	FrameRosterRemoved   FrameType = "roster_removed"
	FrameConnected       FrameType = "connected"
	FrameDisconnected    FrameType = "disconnected"
	FrameRelayValidated  FrameType = "relay_validated"
	FrameTestResult      FrameType = "test_result"
)

// Outbound frames.
const (
	FrameConnect          FrameType = "connect"
	FrameDisconnect       FrameType = "disconnect"
	FrameBind             FrameType = "bind"
	FrameCommand          FrameType = "command"
	FrameClientDisconnect FrameType = "client_disconnect"
	FrameValidateRelay    FrameType = "validate_relay"
	FrameTestConnection   FrameType = "test_connection"
	FrameRemoveRelay      FrameType = "remove_relay"
)

// Frame is the JSON envelope exchanged with the gateway.
type Frame struct {
	Type      FrameType               `json:"type"`
	Kind      radio.Kind              `json:"kind,omitempty"`
	Serial    string                  `json:"serial,omitempty"`
	Endpoint  *radio.Endpoint         `json:"endpoint,omitempty"`
	Endpoints []radio.Endpoint        `json:"endpoints,omitempty"`
	Occupant  *radio.Occupant         `json:"occupant,omitempty"`
	Handle    uint32                  `json:"handle,omitempty"`
	Connect   *session.ConnectRequest `json:"connect,omitempty"`
	Identity  string                  `json:"identity,omitempty"`
	Text      string                  `json:"text,omitempty"`
	Reason    string                  `json:"reason,omitempty"`
	Passed    bool                    `json:"passed,omitempty"`
	Message   string                  `json:"message,omitempty"`
}

// KindOrLocal returns the frame kind, defaulting to local.
func (f Frame) KindOrLocal() radio.Kind {
	if f.Kind == "" {
		return radio.KindLocal
	}
	return f.Kind
}

// Encode marshals f.
func Encode(f Frame) ([]byte, error) {
	if f.Type == "" {
		return nil, errors.New("gateway: frame type is required")
	}
	return json.Marshal(f)
}

// Decode unmarshals a frame and normalises endpoint status values.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("gateway: decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, errors.New("gateway: frame without type")
	}

	if f.Endpoint != nil {
		f.Endpoint.Status = radio.ParseStatus(string(f.Endpoint.Status))
	}
	for i := range f.Endpoints {
		f.Endpoints[i].Status = radio.ParseStatus(string(f.Endpoints[i].Status))
	}
	return f, nil
}
