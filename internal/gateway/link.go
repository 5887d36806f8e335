package gateway

import (
	"context"
	"errors"
)

// ErrLinkClosed is returned by a Link after Close.
var ErrLinkClosed = errors.New("gateway: link closed")

// Link carries encoded frames to and from the gateway. Receive blocks until a
// payload arrives, the link fails, or ctx ends.
type Link interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a new Link.
type Dialer func(ctx context.Context) (Link, error)
