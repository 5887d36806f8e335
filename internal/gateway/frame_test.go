package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/radiolink/internal/radio"
)

func TestDecodeNormalisesStatus(t *testing.T) {
	f, err := Decode([]byte(`{"type":"endpoint","endpoint":{"serial":"A1","status":"BUSY"}}`))
	require.NoError(t, err)
	require.Equal(t, FrameEndpoint, f.Type)
	require.Equal(t, radio.StatusUnknown, f.Endpoint.Status)
	require.Equal(t, radio.KindLocal, f.KindOrLocal())
}

func TestDecodeRejectsUntypedFrames(t *testing.T) {
	_, err := Decode([]byte(`{"serial":"A1"}`))
	require.Error(t, err)
	_, err = Decode([]byte(`{`))
	require.Error(t, err)
	_, err = Encode(Frame{})
	require.Error(t, err)
}

func TestTopicsFor(t *testing.T) {
	require.Equal(t, Topics{
		Events:   "shack/radio/events",
		Commands: "shack/radio/commands",
		State:    "shack/radio/client/state",
	}, TopicsFor(" shack/radio/ "))
	require.Equal(t, "radiolink/events", TopicsFor("").Events)
}
