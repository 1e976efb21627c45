package sse

import (
	"sync"

	"github.com/jota2rz/dualdeck/internal/link"
)

// LinkEvent is the SSE event name carrying sync channel messages.
const LinkEvent = "link"

// Transport carries sync channel messages to browser peers over the hub.
// Outbound messages are broadcast as "link" events; inbound messages arrive
// through Deliver, typically from an HTTP POST handler.
type Transport struct {
	hub  *Hub
	subs link.Subscribers

	mu     sync.Mutex
	closed bool
}

// NewTransport binds a transport to hub.
func NewTransport(hub *Hub) *Transport {
	return &Transport{hub: hub}
}

func (t *Transport) Send(m link.Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return link.ErrClosed
	}
	data, err := link.Encode(m)
	if err != nil {
		return err
	}
	t.hub.Broadcast(LinkEvent, data)
	return nil
}

// Deliver decodes a raw inbound message and dispatches it to subscribers.
func (t *Transport) Deliver(raw []byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return link.ErrClosed
	}
	m, err := link.Decode(raw)
	if err != nil {
		return err
	}
	t.subs.Dispatch(m)
	return nil
}

func (t *Transport) Subscribe(h link.Handler) func() { return t.subs.Add(h) }

// Close stops the transport. The hub itself stays open.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}
