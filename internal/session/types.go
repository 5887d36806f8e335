package session

import (
	"context"
	"time"

	"github.com/charlesng35/radiolink/internal/auth"
	"github.com/charlesng35/radiolink/internal/catalog"
	"github.com/charlesng35/radiolink/internal/conflict"
	"github.com/charlesng35/radiolink/internal/history"
	"github.com/charlesng35/radiolink/internal/radio"
)

// State is the connection lifecycle position.
type State string

const (
	StateIdle           State = "idle"
	StateAwaitingChoice State = "awaiting_choice"
	StateConnecting     State = "connecting"
	StateConnected      State = "connected"
	StateDisconnecting  State = "disconnecting"
)

// Picker headings.
const (
	HeadingRadios   = "Select a Radio and click Connect"
	HeadingStations = "Select a Station and click Connect"
	NoRadiosFound   = "No radios found"
)

// DefaultStationName is used when no station name is configured.
const DefaultStationName = "Station"

// ConnectRequest is what the transport needs to attach to an endpoint.
type ConnectRequest struct {
	Station           string                  `json:"station"`
	ClientID          string                  `json:"client_id,omitempty"`
	IsGui             bool                    `json:"is_gui"`
	PendingDisconnect radio.PendingDisconnect `json:"pending_disconnect"`
}

// Transport carries commands to the connected radio. Outcomes arrive later as events.
type Transport interface {
	Connect(ctx context.Context, ep radio.Endpoint, req ConnectRequest) error
	Disconnect(ctx context.Context, reason string) error
	BindIdentity(ctx context.Context, ep radio.Endpoint, identity string) error
	SendCommand(ctx context.Context, text string) error
	DisconnectOccupant(ctx context.Context, handle uint32) error
}

// Relay carries the relay-side requests.
type Relay interface {
	ValidateRelayEndpoint(ctx context.Context, ep radio.Endpoint) error
	SendTestConnection(ctx context.Context, serial string) error
	RemoveRelayEndpoints(ctx context.Context) error
}

// Recorder persists connection history.
type Recorder interface {
	Record(ctx context.Context, entry history.Entry) error
}

// Authorizer is the relay login state machine.
type Authorizer interface {
	State() auth.State
	BeginLogin(ctx context.Context, emailHint string) (auth.LoginOutcome, error)
	Restart() (auth.LoginOutcome, error)
	CompleteRedirect(ctx context.Context, redirectURL string) (auth.State, error)
	CompleteInteractiveLogin(ctx context.Context, idToken, refreshToken string) (auth.State, error)
	Refresh(ctx context.Context) (auth.State, error)
	ForgetPreviousToken()
	Logout(ctx context.Context) auth.State
}

// Event is a notification from the transport or relay, applied on the manager's goroutine.
type Event interface {
	event()
}

// CatalogChanged reports that the endpoint set changed.
type CatalogChanged struct{}

// RosterChanged reports an occupant added or updated on an endpoint.
type RosterChanged struct {
	Kind     radio.Kind
	Serial   string
	Occupant radio.Occupant
}

// PeerConnected reports the transport attached to the endpoint.
type PeerConnected struct {
	Kind   radio.Kind
	Serial string
}

// PeerDisconnected reports the transport lost the radio.
type PeerDisconnected struct {
	Reason string
}

// RelayValidated reports that the relay accepted a connection to serial.
type RelayValidated struct {
	Serial string
}

// RelayTestResult carries the outcome of a relay test connection.
type RelayTestResult struct {
	Serial  string
	Passed  bool
	Message string
}

func (CatalogChanged) event()   {}
func (RosterChanged) event()    {}
func (PeerConnected) event()    {}
func (PeerDisconnected) event() {}
func (RelayValidated) event()   {}
func (RelayTestResult) event()  {}

// Prompt is an outstanding occupancy question.
type Prompt struct {
	Serial  string            `json:"serial"`
	Title   string            `json:"title"`
	Message string            `json:"message,omitempty"`
	Choices []conflict.Choice `json:"choices"`
}

// Notice is a dismissible message.
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// RelayTest is the status of the last relay test connection.
type RelayTest struct {
	Serial  string `json:"serial"`
	Pending bool   `json:"pending"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// DefaultOption is one line of the default chooser.
type DefaultOption struct {
	RowID    int    `json:"row_id"`
	Label    string `json:"label"`
	Value    string `json:"value"`
	Selected bool   `json:"selected"`
}

// Snapshot is an immutable copy of the observable state. Version increases with every publish.
type Snapshot struct {
	Version        uint64            `json:"version"`
	State          State             `json:"state"`
	Connected      bool              `json:"connected"`
	Mode           radio.Mode        `json:"mode"`
	ActiveEndpoint *radio.Endpoint   `json:"active_endpoint,omitempty"`
	Rows           []catalog.Row     `json:"rows"`
	Stations       []catalog.Station `json:"stations"`
	PickerVisible  bool              `json:"picker_visible"`
	Heading        string            `json:"heading,omitempty"`
	Messages       []string          `json:"messages,omitempty"`
	Issue          string            `json:"issue,omitempty"`
	Prompt         *Prompt           `json:"prompt,omitempty"`
	Notice         *Notice           `json:"notice,omitempty"`
	Auth           auth.State        `json:"auth"`
	RelayEnabled   bool              `json:"relay_enabled"`
	RelayTest      *RelayTest        `json:"relay_test,omitempty"`
	Defaults       []DefaultOption   `json:"defaults"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
