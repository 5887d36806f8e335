// Package conflict decides how a single-operator connection treats programs
// already attached to the target radio.
package conflict

import (
	"fmt"

	"github.com/charlesng35/radiolink/internal/radio"
)

// Action is the outcome class of a decision.
type Action string

const (
	// ActionDirect connects immediately with Decision.Connect.
	ActionDirect Action = "direct"
	// ActionPrompt asks the operator to pick one of Decision.Choices.
	ActionPrompt Action = "prompt"
	// ActionUndefined means the occupancy combination has no defined behaviour.
	ActionUndefined Action = "undefined"
)

// ChoiceKind classifies an offered choice.
type ChoiceKind string

const (
	ChoiceCloseOccupant ChoiceKind = "close_occupant"
	ChoiceTakeOver      ChoiceKind = "take_over"
	ChoiceMultiplex     ChoiceKind = "multiplex"
	ChoiceCancel        ChoiceKind = "cancel"
)

// ConnectParams are the arguments a chosen path passes to the transport.
type ConnectParams struct {
	IsGui             bool                    `json:"is_gui"`
	PendingDisconnect radio.PendingDisconnect `json:"pending_disconnect"`
	Station           string                  `json:"station"`
}

// Choice is one operator-selectable option. Connect is nil for ChoiceCancel.
type Choice struct {
	Label   string         `json:"label"`
	Kind    ChoiceKind     `json:"kind"`
	Connect *ConnectParams `json:"connect,omitempty"`
	// Restart asks the caller to drop the new connection after it is made and
	// return to the selection; old-API radios only release their prior client that way.
	Restart bool `json:"restart,omitempty"`
}

// Decision is the resolver output.
type Decision struct {
	Action  Action         `json:"action"`
	Title   string         `json:"title,omitempty"`
	Message string         `json:"message,omitempty"`
	Choices []Choice       `json:"choices,omitempty"`
	Connect *ConnectParams `json:"connect,omitempty"`
}

// Options carry the application-level inputs of a decision.
type Options struct {
	Mode        radio.Mode
	Station     string
	NewAPIMajor int
}

// Resolve maps (firmware generation, reported status, occupant count) to a decision.
// Multi-station mode bypasses the table and always connects directly.
func Resolve(ep radio.Endpoint, opts Options) Decision {
	if !opts.Mode.IsGui() {
		return direct(ConnectParams{IsGui: false, PendingDisconnect: radio.NoDisconnect(), Station: opts.Station})
	}

	newAPI := radio.IsNewAPI(ep.FirmwareVersion, opts.NewAPIMajor)
	occupants := ep.Occupants
	connectWith := func(pd radio.PendingDisconnect) *ConnectParams {
		return &ConnectParams{IsGui: true, PendingDisconnect: pd, Station: opts.Station}
	}

	switch {
	case !newAPI && ep.Status == radio.StatusAvailable:
		return direct(*connectWith(radio.NoDisconnect()))

	case !newAPI && ep.Status == radio.StatusInUse:
		return Decision{
			Action: ActionPrompt,
			Title:  "Radio is connected to another Client",
			Choices: []Choice{
				{Label: "Close this client", Kind: ChoiceTakeOver, Connect: connectWith(radio.PriorAPIDisconnect()), Restart: true},
				cancel(),
			},
		}

	case newAPI && ep.Status == radio.StatusAvailable && len(occupants) == 0:
		return direct(*connectWith(radio.NoDisconnect()))

	case newAPI && ep.Status == radio.StatusAvailable:
		first := occupants[0]
		return Decision{
			Action:  ActionPrompt,
			Title:   "Radio is connected to Station",
			Message: first.Station,
			Choices: []Choice{
				{Label: closeLabel(first), Kind: ChoiceCloseOccupant, Connect: connectWith(radio.CurrentAPIDisconnect(first.Handle))},
				{Label: "Multiflex Connect", Kind: ChoiceMultiplex, Connect: connectWith(radio.NoDisconnect())},
				cancel(),
			},
		}

	case newAPI && ep.Status == radio.StatusInUse && len(occupants) == 2:
		return Decision{
			Action: ActionPrompt,
			Title:  "Radio is connected to multiple Stations",
			Choices: []Choice{
				{Label: closeLabel(occupants[0]), Kind: ChoiceCloseOccupant, Connect: connectWith(radio.CurrentAPIDisconnect(occupants[0].Handle))},
				{Label: closeLabel(occupants[1]), Kind: ChoiceCloseOccupant, Connect: connectWith(radio.CurrentAPIDisconnect(occupants[1].Handle))},
				cancel(),
			},
		}

	default:
		return Decision{
			Action:  ActionUndefined,
			Message: fmt.Sprintf("status %q with %d occupant(s)", ep.Status, len(occupants)),
		}
	}
}

func direct(params ConnectParams) Decision {
	return Decision{Action: ActionDirect, Connect: &params}
}

func cancel() Choice {
	return Choice{Label: "Cancel", Kind: ChoiceCancel}
}

func closeLabel(occ radio.Occupant) string {
	return "Close " + occ.Station
}
