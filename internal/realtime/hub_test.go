package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub, greeting ...Message) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, []string{StreamSession, "bogus"}, greeting...)
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubGreetsAndBroadcasts(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, Message{Stream: StreamSession, Event: EventSnapshot, Data: "initial"})

	greeting := readMessage(t, conn)
	require.Equal(t, EventSnapshot, greeting.Event)
	require.Equal(t, "initial", greeting.Data)

	require.Eventually(t, func() bool { return hub.Subscribers(StreamSession) == 1 }, time.Second, 5*time.Millisecond)
	require.Zero(t, hub.Subscribers("bogus"))

	hub.Broadcast(" Session ", Message{Event: EventSnapshot, Data: "next"})
	msg := readMessage(t, conn)
	require.Equal(t, StreamSession, msg.Stream)
	require.Equal(t, "next", msg.Data)
}

func TestHubControlMessages(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)
	require.Eventually(t, func() bool { return hub.Subscribers(StreamSession) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(controlMessage{Action: "subscribe", Streams: []string{StreamHistory}}))
	require.Eventually(t, func() bool { return hub.Subscribers(StreamHistory) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(controlMessage{Action: "ping"}))
	require.Equal(t, EventPong, readMessage(t, conn).Event)

	require.NoError(t, conn.WriteJSON(controlMessage{Action: "unsubscribe", Streams: []string{StreamSession, StreamHistory}}))
	require.Eventually(t, func() bool {
		return hub.Subscribers(StreamSession) == 0 && hub.Subscribers(StreamHistory) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)
	require.Eventually(t, func() bool { return hub.Subscribers(StreamSession) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Subscribers(StreamSession) == 0 }, time.Second, 5*time.Millisecond)
}

func TestForwardStopsWhenUpdatesClose(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)
	require.Eventually(t, func() bool { return hub.Subscribers(StreamSession) == 1 }, time.Second, 5*time.Millisecond)

	updates := make(chan int, 2)
	updates <- 1
	updates <- 2
	close(updates)

	done := make(chan struct{})
	go func() {
		Forward(context.Background(), hub, StreamSession, EventSnapshot, updates)
		close(done)
	}()

	require.EqualValues(t, 1, readMessage(t, conn).Data)
	require.EqualValues(t, 2, readMessage(t, conn).Data)
	<-done
}

func TestOriginHelpers(t *testing.T) {
	require.Equal(t, "radio.local", hostWithoutPort("http://radio.local:8080"))
	require.Equal(t, "10.0.0.2", hostWithoutPort("10.0.0.2:80"))
	require.True(t, isLoopback("127.0.0.1"))
	require.True(t, isLoopback("LOCALHOST"))
	require.False(t, isLoopback("radio.local"))
	require.Equal(t, []string{"session", "history"}, uniqueStreams([]string{"Session", " session", "history", ""}))
}
