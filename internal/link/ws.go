package link

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 5 * time.Second
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // LAN peers only
	},
}

// WSServer is the console side of a WebSocket link. Every connected peer
// receives every sent message; a message from one peer is dispatched locally
// and relayed to the others. When a peer connection drops without saying
// goodbye, subscribers see a synthesized "closed" message.
type WSServer struct {
	subs Subscribers

	mu      sync.Mutex
	clients map[*wsClient]bool
	closed  bool
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	gone bool // peer sent "closed"
}

// NewWSServer creates a server with no peers.
func NewWSServer() *WSServer {
	return &WSServer{clients: make(map[*wsClient]bool)}
}

// Peers returns the number of connected peers.
func (s *WSServer) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("link: websocket upgrade failed", "error", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = true
	s.mu.Unlock()
	slog.Info("link: peer connected", "remote", r.RemoteAddr)

	go c.writePump()
	s.readPump(c)
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (s *WSServer) readPump(c *wsClient) {
	defer func() {
		s.mu.Lock()
		_, ok := s.clients[c]
		if ok {
			delete(s.clients, c)
			close(c.send)
		}
		s.mu.Unlock()
		c.conn.Close()
		slog.Info("link: peer disconnected")
		if ok && !c.gone {
			s.subs.Dispatch(Closed())
		}
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("link: websocket read failed", "error", err)
			}
			return
		}
		m, err := Decode(data)
		if err != nil {
			slog.Debug("link: dropping undecodable frame", "error", err)
			continue
		}
		if m.Type == KindClosed {
			c.gone = true
		}
		s.broadcast(data, c)
		s.subs.Dispatch(m)
	}
}

// broadcast queues data for every peer except skip. Slow peers lose the
// message rather than block the sender.
func (s *WSServer) broadcast(data []byte, skip *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if c == skip {
			continue
		}
		select {
		case c.send <- data:
		default:
			slog.Debug("link: peer buffer full, dropping message")
		}
	}
}

func (s *WSServer) Send(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	s.broadcast(data, nil)
	return nil
}

func (s *WSServer) Subscribe(h Handler) func() { return s.subs.Add(h) }

// Close disconnects every peer.
func (s *WSServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
	return nil
}

// WSClient is the peer side of a WebSocket link. When the connection is
// lost, subscribers see a synthesized "close" message.
type WSClient struct {
	conn *websocket.Conn
	subs Subscribers
	done chan struct{}

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// DialWS connects to a WSServer at url (ws:// or wss://).
func DialWS(ctx context.Context, url string) (*WSClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("link: dial %s: %w", url, err)
	}
	c := &WSClient{conn: conn, done: make(chan struct{})}
	go c.readPump()
	return c, nil
}

// Done is closed once the connection has terminated.
func (c *WSClient) Done() <-chan struct{} { return c.done }

func (c *WSClient) readPump() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.closeMu.Lock()
			local := c.closed
			c.closeMu.Unlock()
			if !local {
				slog.Warn("link: connection lost", "error", err)
				c.subs.Dispatch(Close())
			}
			return
		}
		m, err := Decode(data)
		if err != nil {
			slog.Debug("link: dropping undecodable frame", "error", err)
			continue
		}
		c.subs.Dispatch(m)
	}
}

func (c *WSClient) Send(m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	c.closeMu.Lock()
	closed := c.closed
	c.closeMu.Unlock()
	if closed {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("link: write %s: %w", m.Type, err)
	}
	return nil
}

func (c *WSClient) Subscribe(h Handler) func() { return c.subs.Add(h) }

func (c *WSClient) Close() error {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return nil
	}
	c.closed = true
	c.closeMu.Unlock()

	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteWait))
	c.writeMu.Unlock()
	return c.conn.Close()
}
