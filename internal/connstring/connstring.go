// Package connstring parses and formats the textual radio address
// "<kind>.<serial>[.<station>]".
package connstring

import (
	"fmt"
	"strings"

	"github.com/charlesng35/radiolink/internal/radio"
	apperrors "github.com/charlesng35/radiolink/pkg/errors"
)

const separator = "."

// Target is a parsed connection string.
type Target struct {
	Kind    radio.Kind `json:"kind"`
	Serial  string     `json:"serial"`
	Station string     `json:"station,omitempty"`
}

// Parse accepts one to three dot-separated segments: "serial", "kind.serial" or
// "kind.serial.station". A bare serial is a local endpoint.
func Parse(s string) (Target, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Target{}, malformed(s)
	}

	parts := strings.Split(trimmed, separator)
	var target Target
	switch len(parts) {
	case 1:
		target = Target{Kind: radio.KindLocal, Serial: parts[0]}
	case 2:
		target = Target{Kind: radio.Kind(parts[0]), Serial: parts[1]}
	case 3:
		target = Target{Kind: radio.Kind(parts[0]), Serial: parts[1], Station: parts[2]}
	default:
		return Target{}, malformed(s)
	}

	if target.Kind == "" || target.Serial == "" {
		return Target{}, malformed(s)
	}
	return target, nil
}

// Format always emits the two- or three-segment form.
func Format(t Target) string {
	out := string(t.Kind) + separator + t.Serial
	if t.Station != "" {
		out += separator + t.Station
	}
	return out
}

// For returns the two-segment string for an endpoint of the given kind.
func For(kind radio.Kind, serial string) string {
	return Format(Target{Kind: kind, Serial: serial})
}

// WithStation appends a station segment to a two-segment string.
func WithStation(base, station string) string {
	return base + separator + station
}

// Normalize rewrites s into canonical form, so "1234-5678" becomes "local.1234-5678".
func Normalize(s string) (string, error) {
	t, err := Parse(s)
	if err != nil {
		return "", err
	}
	return Format(t), nil
}

// String implements fmt.Stringer.
func (t Target) String() string {
	return Format(t)
}

func malformed(s string) error {
	return apperrors.ErrMalformedConnectionString.
		WithMessage(fmt.Sprintf("%s is an invalid connection", s))
}
