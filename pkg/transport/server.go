package transport

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/relay-chat/pkg/logging"
)

// EventKind distinguishes connection lifecycle events.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
)

// Event is a connection lifecycle change observed by the server during Update.
type Event struct {
	Kind   EventKind
	Addr   string
	Reason DisconnectReason // set for EventDisconnected
}

// Server accepts many peers on one socket. All state changes happen inside Update;
// no other method may be called concurrently with it.
type Server struct {
	conn    net.PacketConn
	cfg     Config
	clients map[string]*connection
	events  []Event

	incoming  chan datagram
	done      chan struct{}
	closeOnce sync.Once
}

// NewServer starts reading from conn. The caller hands ownership of conn to the server.
func NewServer(conn net.PacketConn, cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}
	s := &Server{
		conn:     conn,
		cfg:      cfg,
		clients:  make(map[string]*connection),
		incoming: make(chan datagram, incomingQueueSize),
		done:     make(chan struct{}),
	}
	go readLoop(conn, cfg.MaxPacketSize, s.incoming, s.done)
	return s, nil
}

// Listen opens a UDP socket on bindAddr and starts a server on it.
func Listen(bindAddr string, cfg Config) (*Server, error) {
	conn, err := net.ListenPacket("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", bindAddr, err)
	}
	s, err := NewServer(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// LocalAddr returns the socket address.
func (s *Server) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Update processes everything received since the last call, expires silent peers
// and writes pending messages, resends, acks and keep-alives.
func (s *Server) Update(now time.Time) {
	for {
		select {
		case d := <-s.incoming:
			s.handleDatagram(d, now)
			continue
		default:
		}
		break
	}

	for key, c := range s.clients {
		if now.Sub(c.lastRecv) > s.cfg.ConnectionTimeout {
			logging.Logf("[transport] peer timed out (remote=%s silent=%v)", key, now.Sub(c.lastRecv))
			s.drop(key, Timeout, false)
		}
	}

	for _, c := range s.clients {
		writeAll(s.conn, c.addr, c.flush(now, s.cfg))
	}
}

func (s *Server) handleDatagram(d datagram, now time.Time) {
	p, err := decodePacket(d.data)
	if err != nil {
		logging.Debugf("[transport] dropping packet (remote=%s err=%v)", d.addr, err)
		return
	}
	if p.protocolID != s.cfg.ProtocolID {
		logging.Debugf("[transport] dropping packet with foreign protocol id (remote=%s id=%x)", d.addr, p.protocolID)
		return
	}
	key := d.addr.String()
	c := s.clients[key]

	switch p.kind {
	case packetConnectionRequest:
		if c != nil {
			if c.session == p.session {
				c.lastRecv = now
				writeAll(s.conn, c.addr, [][]byte{c.control(packetConnectionAccepted, s.cfg, 0)})
				return
			}
			logging.Logf("[transport] new session replaces old one (remote=%s old=%s new=%s)", key, c.session, p.session)
			s.drop(key, SessionReplaced, true)
		}
		nc := newConnection(d.addr, p.session, s.cfg, now)
		if len(s.clients) >= s.cfg.MaxClients {
			logging.Logf("[transport] connection denied (remote=%s reason=%s)", key, ServerFull)
			writeAll(s.conn, d.addr, [][]byte{nc.control(packetConnectionDenied, s.cfg, ServerFull)})
			return
		}
		s.clients[key] = nc
		s.events = append(s.events, Event{Kind: EventConnected, Addr: key})
		logging.Debugf("[transport] connection accepted (remote=%s session=%s)", key, p.session)
		writeAll(s.conn, d.addr, [][]byte{nc.control(packetConnectionAccepted, s.cfg, 0)})

	case packetPayload:
		if c == nil || c.session != p.session {
			return
		}
		if err := c.process(p, now); err != nil {
			logging.Logf("[transport] channel error (remote=%s err=%v)", key, err)
			s.drop(key, ChannelError, true)
		}

	case packetDisconnect:
		if c == nil || c.session != p.session {
			return
		}
		s.drop(key, DisconnectedByClient, false)

	default:
		logging.Debugf("[transport] unexpected packet type from client (remote=%s type=%d)", key, p.kind)
	}
}

// drop removes a peer, discarding its queued traffic, and records the disconnect event.
func (s *Server) drop(key string, reason DisconnectReason, notify bool) {
	c, ok := s.clients[key]
	if !ok {
		return
	}
	if notify {
		notice := c.control(packetDisconnect, s.cfg, reason)
		for i := 0; i < disconnectPacketCopies; i++ {
			writeAll(s.conn, c.addr, [][]byte{notice})
		}
	}
	delete(s.clients, key)
	s.events = append(s.events, Event{Kind: EventDisconnected, Addr: key, Reason: reason})
}

// PollEvent returns the oldest unread lifecycle event.
func (s *Server) PollEvent() (Event, bool) {
	if len(s.events) == 0 {
		return Event{}, false
	}
	e := s.events[0]
	s.events = s.events[1:]
	return e, true
}

// ConnectedClients returns the addresses of connected peers, sorted.
func (s *Server) ConnectedClients() []string {
	out := make([]string, 0, len(s.clients))
	for key := range s.clients {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// IsConnected reports whether addr has a live connection.
func (s *Server) IsConnected(addr string) bool {
	_, ok := s.clients[addr]
	return ok
}

// Unacked returns the number of messages to addr still waiting for an ack.
func (s *Server) Unacked(addr string) int {
	if c, ok := s.clients[addr]; ok {
		return c.unacked()
	}
	return 0
}

// ReceiveMessage returns the next in-order message from addr on channel.
func (s *Server) ReceiveMessage(addr string, channel uint8) ([]byte, bool) {
	c, ok := s.clients[addr]
	if !ok {
		return nil, false
	}
	ch, err := c.channel(channel)
	if err != nil {
		return nil, false
	}
	return ch.pop()
}

// SendMessage queues data for addr. It is written on the next Update and resent until acked.
// Overflowing the channel disconnects the peer.
func (s *Server) SendMessage(addr string, channel uint8, data []byte) error {
	c, ok := s.clients[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, addr)
	}
	ch, err := c.channel(channel)
	if err != nil {
		return err
	}
	if err := ch.send(data); err != nil {
		if isOverflow(err) {
			logging.Logf("[transport] send queue overflow (remote=%s channel=%d)", addr, channel)
			s.drop(addr, ChannelError, true)
		}
		return err
	}
	return nil
}

// BroadcastMessage queues data for every connected peer.
func (s *Server) BroadcastMessage(channel uint8, data []byte) error {
	return s.BroadcastMessageExcept("", channel, data)
}

// BroadcastMessageExcept queues data for every connected peer but except.
// The first error is returned after every peer was attempted.
func (s *Server) BroadcastMessageExcept(except string, channel uint8, data []byte) error {
	var firstErr error
	for _, addr := range s.ConnectedClients() {
		if addr == except {
			continue
		}
		if err := s.SendMessage(addr, channel, data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Disconnect closes the connection to addr and notifies the peer.
func (s *Server) Disconnect(addr string) {
	s.drop(addr, DisconnectedByServer, true)
}

// DisconnectAll closes every connection.
func (s *Server) DisconnectAll() {
	for _, addr := range s.ConnectedClients() {
		s.Disconnect(addr)
	}
}

// Close disconnects every peer and releases the socket.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.DisconnectAll()
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
