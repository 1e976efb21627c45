package link

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handler receives inbound messages. Transports call it from their own
// goroutine; owners of loop-bound state must hop onto their loop.
type Handler func(Message)

// Transport is a broadcast, best-effort message link. Send never blocks on
// a slow peer and never retries.
type Transport interface {
	Send(m Message) error
	Subscribe(h Handler) (cancel func())
	Close() error
}

// Subscribers is a concurrency-safe handler list for Transport
// implementations.
type Subscribers struct {
	mu   sync.RWMutex
	next int
	m    map[int]Handler
}

// Add registers h and returns a function that removes it.
func (s *Subscribers) Add(h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[int]Handler)
	}
	id := s.next
	s.next++
	s.m[id] = h
	return func() {
		s.mu.Lock()
		delete(s.m, id)
		s.mu.Unlock()
	}
}

// Dispatch calls every registered handler with m.
func (s *Subscribers) Dispatch(m Message) {
	s.mu.RLock()
	hs := make([]Handler, 0, len(s.m))
	for _, h := range s.m {
		hs = append(hs, h)
	}
	s.mu.RUnlock()
	for _, h := range hs {
		h(m)
	}
}

// Endpoint stamps outbound messages with a per-process sender id and a
// monotonic sequence number, and filters inbound traffic: its own echoes,
// invalid messages, and anything not newer than the last message seen from
// the same sender (duplicates and late arrivals) are dropped. Unstamped
// messages are accepted as-is.
type Endpoint struct {
	t      Transport
	sender string
	seq    atomic.Uint64
	subs   Subscribers
	cancel func()

	mu   sync.Mutex
	last map[string]uint64
}

// NewEndpoint wraps t.
func NewEndpoint(t Transport) *Endpoint {
	e := &Endpoint{
		t:      t,
		sender: uuid.NewString(),
		last:   make(map[string]uint64),
	}
	e.cancel = t.Subscribe(e.receive)
	return e
}

// Sender returns this endpoint's sender id.
func (e *Endpoint) Sender() string { return e.sender }

// Send stamps and transmits m.
func (e *Endpoint) Send(m Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	m.ID = uuid.NewString()
	m.Sender = e.sender
	m.Seq = e.seq.Add(1)
	return e.t.Send(m)
}

// Subscribe registers h for accepted inbound messages.
func (e *Endpoint) Subscribe(h Handler) func() { return e.subs.Add(h) }

// Close detaches from and closes the underlying transport.
func (e *Endpoint) Close() error {
	e.cancel()
	return e.t.Close()
}

func (e *Endpoint) receive(m Message) {
	if m.Sender == e.sender {
		return
	}
	if err := m.Validate(); err != nil {
		slog.Debug("link: dropping invalid message", "error", err)
		return
	}
	if m.Sender != "" {
		e.mu.Lock()
		if m.Seq <= e.last[m.Sender] {
			e.mu.Unlock()
			slog.Debug("link: dropping stale message", "type", m.Type, "sender", m.Sender, "seq", m.Seq)
			return
		}
		e.last[m.Sender] = m.Seq
		e.mu.Unlock()
	}
	e.subs.Dispatch(m)
}

// Fanout sends every message on all of its transports and merges their
// inbound traffic.
type Fanout []Transport

func (f Fanout) Send(m Message) error {
	var errs []error
	for _, t := range f {
		if err := t.Send(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Subscribe(h Handler) func() {
	cancels := make([]func(), 0, len(f))
	for _, t := range f {
		cancels = append(cancels, t.Subscribe(h))
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

func (f Fanout) Close() error {
	var errs []error
	for _, t := range f {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
