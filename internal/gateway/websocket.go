package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB
)

// WebsocketLink is a Link over a gorilla websocket connection.
type WebsocketLink struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	incoming chan []byte
	failed   chan struct{}
	closed   chan struct{}
	errMu    sync.Mutex
	err      error
	once     sync.Once
}

// DialWebsocket connects to the gateway websocket endpoint at url.
func DialWebsocket(ctx context.Context, url string, header http.Header) (*WebsocketLink, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: writeWait,
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("gateway: dial %s: %w", url, err)
	}
	return NewWebsocketLink(conn), nil
}

// NewWebsocketLink takes ownership of conn and starts its read and ping loops.
func NewWebsocketLink(conn *websocket.Conn) *WebsocketLink {
	l := &WebsocketLink{
		conn:     conn,
		incoming: make(chan []byte, 64),
		failed:   make(chan struct{}),
		closed:   make(chan struct{}),
	}
	go l.readLoop()
	go l.pingLoop()
	return l
}

// Send writes one text message.
func (l *WebsocketLink) Send(ctx context.Context, payload []byte) error {
	select {
	case <-l.closed:
		return ErrLinkClosed
	case <-l.failed:
		return l.failure()
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(deadline)
	return l.conn.WriteMessage(websocket.TextMessage, payload)
}

// Receive returns the next text message.
func (l *WebsocketLink) Receive(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-l.incoming:
		return payload, nil
	case <-l.failed:
		return nil, l.failure()
	case <-l.closed:
		return nil, ErrLinkClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close sends a close frame and releases the connection.
func (l *WebsocketLink) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closed)
		l.writeMu.Lock()
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		l.writeMu.Unlock()
		err = l.conn.Close()
	})
	return err
}

func (l *WebsocketLink) readLoop() {
	l.conn.SetReadLimit(maxMessageSize)
	_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := l.conn.ReadMessage()
		if err != nil {
			l.fail(err)
			return
		}
		_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
		select {
		case l.incoming <- payload:
		case <-l.closed:
			return
		}
	}
}

func (l *WebsocketLink) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.writeMu.Lock()
			err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			l.writeMu.Unlock()
			if err != nil {
				l.fail(err)
				return
			}
		case <-l.failed:
			return
		case <-l.closed:
			return
		}
	}
}

func (l *WebsocketLink) fail(err error) {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	if l.err != nil {
		return
	}
	l.err = err
	close(l.failed)
}

func (l *WebsocketLink) failure() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return fmt.Errorf("gateway: websocket: %w", l.err)
}
