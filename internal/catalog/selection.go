package catalog

import (
	"github.com/charlesng35/radiolink/internal/connstring"
	"github.com/charlesng35/radiolink/internal/radio"
)

// Options parameterise a selection rebuild.
type Options struct {
	Mode         radio.Mode
	DefaultLocal string // multi-station default, "<kind>.<serial>.<station>"
	DefaultGui   string // single-operator default, "<kind>.<serial>"
	// ActiveKind limits the single-operator station list to endpoints of the
	// active connection's kind. Empty means no station list.
	ActiveKind radio.Kind
}

// Row is one selectable entry. CatalogIndex indexes the endpoint slice the
// selection was built from.
type Row struct {
	ID           int          `json:"id"`
	CatalogIndex int          `json:"catalog_index"`
	Kind         radio.Kind   `json:"kind"`
	Nickname     string       `json:"nickname"`
	Status       radio.Status `json:"status"`
	Stations     string       `json:"stations"`
	Serial       string       `json:"serial"`
	IsDefault    bool         `json:"is_default"`
}

// Station is a distinct operator station visible in the selection.
type Station struct {
	Name          string     `json:"name"`
	Serial        string     `json:"serial"`
	Kind          radio.Kind `json:"kind"`
	Handle        uint32     `json:"handle"`
	BoundIdentity string     `json:"bound_identity,omitempty"`
}

// Selection is the derived, index-addressable view of the catalog.
type Selection struct {
	Rows     []Row     `json:"rows"`
	Stations []Station `json:"stations"`
}

// ConnectionString is the two-segment address of the row's endpoint.
func (r Row) ConnectionString() string {
	return connstring.For(r.Kind, r.Serial)
}

// DefaultString is the value persisted when the row becomes the default for mode.
func (r Row) DefaultString(mode radio.Mode) string {
	if mode.IsGui() {
		return r.ConnectionString()
	}
	return connstring.WithStation(r.ConnectionString(), r.Stations)
}

// Label is the default-chooser line "nickname - kind[ - stations]".
func (r Row) Label(mode radio.Mode) string {
	label := r.Nickname + " - " + KindLabel(r.Kind)
	if !mode.IsGui() {
		label += " - " + r.Stations
	}
	return label
}

// KindLabel is the display name of a transport kind.
func KindLabel(kind radio.Kind) string {
	switch kind {
	case radio.KindRelay:
		return "Relay"
	case radio.KindLocal:
		return "Local"
	default:
		return string(kind)
	}
}

// Build derives the selection from endpoints. It never patches a previous
// selection: rows and indices always correspond to this endpoint slice.
func Build(endpoints []radio.Endpoint, opts Options) Selection {
	if opts.Mode.IsGui() {
		return buildGui(endpoints, opts)
	}
	return buildMultiStation(endpoints, opts)
}

func buildGui(endpoints []radio.Endpoint, opts Options) Selection {
	sel := Selection{Rows: make([]Row, 0, len(endpoints)), Stations: []Station{}}
	seen := map[string]struct{}{}

	for i, ep := range endpoints {
		row := Row{
			ID:           i,
			CatalogIndex: i,
			Kind:         ep.Kind(),
			Nickname:     ep.Nickname,
			Status:       ep.Status.Display(),
			Stations:     ep.Stations(),
			Serial:       ep.Serial,
		}
		row.IsDefault = opts.DefaultGui != "" && row.ConnectionString() == opts.DefaultGui
		sel.Rows = append(sel.Rows, row)

		if opts.ActiveKind == "" || ep.Kind() != opts.ActiveKind {
			continue
		}
		for _, occ := range ep.Occupants {
			sel.Stations = appendStation(sel.Stations, seen, ep, occ)
		}
	}
	return sel
}

func buildMultiStation(endpoints []radio.Endpoint, opts Options) Selection {
	sel := Selection{Rows: []Row{}, Stations: []Station{}}
	seen := map[string]struct{}{}

	for i, ep := range endpoints {
		for _, occ := range ep.Occupants {
			if occ.Station == "" {
				continue
			}
			row := Row{
				ID:           len(sel.Rows),
				CatalogIndex: i,
				Kind:         ep.Kind(),
				Nickname:     ep.Nickname,
				Status:       ep.Status.Display(),
				Stations:     occ.Station,
				Serial:       ep.Serial,
			}
			row.IsDefault = opts.DefaultLocal != "" && row.DefaultString(radio.ModeMultiStation) == opts.DefaultLocal
			sel.Rows = append(sel.Rows, row)
			sel.Stations = appendStation(sel.Stations, seen, ep, occ)
		}
	}
	return sel
}

func appendStation(list []Station, seen map[string]struct{}, ep radio.Endpoint, occ radio.Occupant) []Station {
	if occ.Station == "" {
		return list
	}
	if _, ok := seen[occ.Station]; ok {
		return list
	}
	seen[occ.Station] = struct{}{}
	return append(list, Station{
		Name:          occ.Station,
		Serial:        ep.Serial,
		Kind:          ep.Kind(),
		Handle:        occ.Handle,
		BoundIdentity: occ.BoundIdentity,
	})
}

// FindMatch returns the first row whose serial and kind equal target's; in
// multi-station mode the station label must also match.
func FindMatch(target connstring.Target, rows []Row, mode radio.Mode) (int, bool) {
	for i, row := range rows {
		if row.Serial != target.Serial || row.Kind != target.Kind {
			continue
		}
		if mode.IsGui() || row.Stations == target.Station {
			return i, true
		}
	}
	return -1, false
}
