// Package radio holds the value types shared by discovery, selection and the
// session manager. The session core only reads these values; discovery owns them.
package radio

import (
	"strconv"
	"strings"
)

// Kind names the transport used to reach an endpoint. The string form is the
// first segment of a connection string.
type Kind string

const (
	KindLocal Kind = "local"
	KindRelay Kind = "wan"
)

// Status is the occupancy reported by the endpoint itself.
type Status string

const (
	StatusAvailable Status = "available"
	StatusInUse     Status = "in_use"
	StatusUnknown   Status = "unknown"
)

// ParseStatus maps a reported status string case-insensitively.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(StatusAvailable):
		return StatusAvailable
	case string(StatusInUse):
		return StatusInUse
	default:
		return StatusUnknown
	}
}

// Display is the status shown in selection rows; unrecognised values read as in use.
func (s Status) Display() Status {
	if s == StatusAvailable {
		return StatusAvailable
	}
	return StatusInUse
}

// Occupant is an operator program currently attached to an endpoint.
type Occupant struct {
	Station       string `json:"station"`
	Handle        uint32 `json:"handle"`
	BoundIdentity string `json:"bound_identity,omitempty"`
	Program       string `json:"program,omitempty"`
}

// Endpoint is a discovered radio, reachable locally or through the relay.
type Endpoint struct {
	Serial          string     `json:"serial"`
	Remote          bool       `json:"remote"`
	Nickname        string     `json:"nickname"`
	Model           string     `json:"model,omitempty"`
	FirmwareVersion string     `json:"firmware_version"`
	Status          Status     `json:"status"`
	Occupants       []Occupant `json:"occupants,omitempty"`
	RelayHandle     string     `json:"relay_handle,omitempty"`
}

// Kind reports how the endpoint is reached.
func (e Endpoint) Kind() Kind {
	if e.Remote {
		return KindRelay
	}
	return KindLocal
}

// Stations joins the occupant station names for display.
func (e Endpoint) Stations() string {
	names := make([]string, 0, len(e.Occupants))
	for _, occ := range e.Occupants {
		if occ.Station != "" {
			names = append(names, occ.Station)
		}
	}
	return strings.Join(names, ", ")
}

// Clone returns a copy that shares no slices with e.
func (e Endpoint) Clone() Endpoint {
	if e.Occupants != nil {
		e.Occupants = append([]Occupant(nil), e.Occupants...)
	}
	return e
}

// Version is a dotted firmware version such as 3.2.34.3456.
type Version struct {
	Major, Minor, Patch, Build int
}

// ParseVersion reads up to four dotted numeric components; trailing
// non-numeric text in a component (e.g. "34-beta") is ignored.
func ParseVersion(raw string) (Version, bool) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "v")
	if raw == "" {
		return Version{}, false
	}

	parts := strings.SplitN(raw, ".", 4)
	values := make([]int, 4)
	for i, part := range parts {
		end := 0
		for end < len(part) && part[end] >= '0' && part[end] <= '9' {
			end++
		}
		if end == 0 {
			return Version{}, false
		}
		n, err := strconv.Atoi(part[:end])
		if err != nil {
			return Version{}, false
		}
		values[i] = n
	}
	return Version{Major: values[0], Minor: values[1], Patch: values[2], Build: values[3]}, true
}

// DefaultNewAPIMajor is the first firmware major version speaking the multi-client API.
const DefaultNewAPIMajor = 3

// IsNewAPI reports whether firmware at or above newAPIMajor. Unparseable versions are old API.
func IsNewAPI(firmware string, newAPIMajor int) bool {
	if newAPIMajor <= 0 {
		newAPIMajor = DefaultNewAPIMajor
	}
	v, ok := ParseVersion(firmware)
	return ok && v.Major >= newAPIMajor
}

// DisconnectKind selects what a transport does about existing occupants when connecting.
type DisconnectKind string

const (
	DisconnectNone       DisconnectKind = "none"
	DisconnectPriorAPI   DisconnectKind = "prior_api"
	DisconnectCurrentAPI DisconnectKind = "current_api"
)

// PendingDisconnect travels with a connect request. Handle is only meaningful for DisconnectCurrentAPI.
type PendingDisconnect struct {
	Kind   DisconnectKind `json:"kind"`
	Handle uint32         `json:"handle,omitempty"`
}

// NoDisconnect leaves other occupants attached.
func NoDisconnect() PendingDisconnect { return PendingDisconnect{Kind: DisconnectNone} }

// PriorAPIDisconnect forces the single occupant of old-API firmware off.
func PriorAPIDisconnect() PendingDisconnect { return PendingDisconnect{Kind: DisconnectPriorAPI} }

// CurrentAPIDisconnect closes the occupant with the given handle.
func CurrentAPIDisconnect(handle uint32) PendingDisconnect {
	return PendingDisconnect{Kind: DisconnectCurrentAPI, Handle: handle}
}

// Mode selects how the application attaches to radios.
type Mode string

const (
	// ModeGui is a full operator program: one selection row per endpoint, occupancy conflicts prompt.
	ModeGui Mode = "gui"
	// ModeMultiStation attaches to an existing station: one row per (endpoint, station).
	ModeMultiStation Mode = "multistation"
)

// ParseMode reads a configured mode, defaulting to ModeGui.
func ParseMode(raw string) Mode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeMultiStation), "multi", "non-gui", "nongui":
		return ModeMultiStation
	default:
		return ModeGui
	}
}

// IsGui reports whether m is the single-operator mode.
func (m Mode) IsGui() bool { return m != ModeMultiStation }

// UserInitiated is the disconnect reason that does not raise an alert.
const UserInitiated = "User initiated"
