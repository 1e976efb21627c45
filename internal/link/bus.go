package link

import (
	"encoding/json"
	"sync"
)

// Bus is an in-process broadcast medium. Ports attached to the same bus
// see each other's messages, never their own. Delivery is synchronous and
// ordered: a message sent from inside a handler is queued and delivered
// after the current one, so handlers are never re-entered.
//
// Messages cross the bus as JSON, the same as on a real wire.
type Bus struct {
	mu         sync.Mutex
	ports      []*Port
	queue      []delivery
	delivering bool
	drop       func(Message) bool
}

type delivery struct {
	to   *Port
	data []byte
}

// NewBus creates an empty bus.
func NewBus() *Bus { return &Bus{} }

// SetDrop installs a loss filter: messages for which drop returns true are
// discarded at send time. Pass nil to deliver everything.
func (b *Bus) SetDrop(drop func(Message) bool) {
	b.mu.Lock()
	b.drop = drop
	b.mu.Unlock()
}

// Port attaches a new transport to the bus.
func (b *Bus) Port() *Port {
	p := &Port{bus: b}
	b.mu.Lock()
	b.ports = append(b.ports, p)
	b.mu.Unlock()
	return p
}

func (b *Bus) send(from *Port, m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	b.mu.Lock()
	if b.drop != nil && b.drop(m) {
		b.mu.Unlock()
		return nil
	}
	for _, p := range b.ports {
		if p != from && !p.closed {
			b.queue = append(b.queue, delivery{to: p, data: data})
		}
	}
	if b.delivering {
		b.mu.Unlock()
		return nil
	}
	b.delivering = true
	for len(b.queue) > 0 {
		d := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()
		var in Message
		if json.Unmarshal(d.data, &in) == nil {
			d.to.subs.Dispatch(in)
		}
		b.mu.Lock()
	}
	b.delivering = false
	b.mu.Unlock()
	return nil
}

// Port is one attachment to a Bus.
type Port struct {
	bus    *Bus
	subs   Subscribers
	closed bool // guarded by bus.mu
}

func (p *Port) Send(m Message) error {
	p.bus.mu.Lock()
	closed := p.closed
	p.bus.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return p.bus.send(p, m)
}

func (p *Port) Subscribe(h Handler) func() { return p.subs.Add(h) }

// Close detaches the port; queued deliveries to it are discarded.
func (p *Port) Close() error {
	p.bus.mu.Lock()
	p.closed = true
	kept := p.bus.queue[:0]
	for _, d := range p.bus.queue {
		if d.to != p {
			kept = append(kept, d)
		}
	}
	p.bus.queue = kept
	p.bus.mu.Unlock()
	return nil
}
