package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/relay-chat/pkg/logging"
)

type clientState int

const (
	clientConnecting clientState = iota
	clientConnected
	clientDisconnected
)

// Client is one connection to a Server. Like Server, it is driven by Update and is not safe
// for concurrent use.
type Client struct {
	conn   net.PacketConn
	server net.Addr
	cfg    Config
	link   *connection

	state       clientState
	reason      DisconnectReason
	startedAt   time.Time
	lastRequest time.Time

	incoming  chan datagram
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient starts connecting to server over conn with a fresh session id.
func NewClient(conn net.PacketConn, server net.Addr, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}
	c := &Client{
		conn:     conn,
		server:   server,
		cfg:      cfg,
		link:     newConnection(server, uuid.New(), cfg, time.Time{}),
		state:    clientConnecting,
		incoming: make(chan datagram, incomingQueueSize),
		done:     make(chan struct{}),
	}
	go readLoop(conn, cfg.MaxPacketSize, c.incoming, c.done)
	return c, nil
}

// Dial opens an ephemeral UDP socket and starts connecting to serverAddr.
func Dial(serverAddr string, cfg Config) (*Client, error) {
	addr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", serverAddr, err)
	}
	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("failed to open socket: %w", err)
	}
	c, err := NewClient(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// Session returns the session id sent with every packet.
func (c *Client) Session() uuid.UUID {
	return c.link.session
}

// LocalAddr returns the socket address.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// IsConnecting reports whether the handshake is still in progress.
func (c *Client) IsConnecting() bool {
	return c.state == clientConnecting
}

// IsConnected reports whether the server accepted the connection and it is still alive.
func (c *Client) IsConnected() bool {
	return c.state == clientConnected
}

// DisconnectReason returns why the connection ended, if it has.
func (c *Client) DisconnectReason() (DisconnectReason, bool) {
	if c.state != clientDisconnected {
		return 0, false
	}
	return c.reason, true
}

// Update processes received packets, drives the handshake and timeouts, and writes
// pending messages, resends, acks and keep-alives.
func (c *Client) Update(now time.Time) {
	if c.startedAt.IsZero() {
		c.startedAt = now
	}
	for {
		select {
		case d := <-c.incoming:
			if c.state != clientDisconnected {
				c.handleDatagram(d, now)
			}
			continue
		default:
		}
		break
	}

	switch c.state {
	case clientConnecting:
		if now.Sub(c.startedAt) > c.cfg.ConnectionTimeout {
			logging.Logf("[transport] connection attempt timed out (server=%s)", c.server)
			c.disconnect(Timeout, false)
			return
		}
		if c.lastRequest.IsZero() || now.Sub(c.lastRequest) >= c.cfg.ConnectRetryInterval {
			c.lastRequest = now
			writeAll(c.conn, c.server, [][]byte{c.link.control(packetConnectionRequest, c.cfg, 0)})
		}
	case clientConnected:
		if now.Sub(c.link.lastRecv) > c.cfg.ConnectionTimeout {
			logging.Logf("[transport] server timed out (server=%s silent=%v)", c.server, now.Sub(c.link.lastRecv))
			c.disconnect(Timeout, false)
			return
		}
		writeAll(c.conn, c.server, c.link.flush(now, c.cfg))
	}
}

func (c *Client) handleDatagram(d datagram, now time.Time) {
	if d.addr.String() != c.server.String() {
		return
	}
	p, err := decodePacket(d.data)
	if err != nil {
		logging.Debugf("[transport] dropping packet (server=%s err=%v)", c.server, err)
		return
	}
	if p.protocolID != c.cfg.ProtocolID || p.session != c.link.session {
		return
	}

	switch p.kind {
	case packetConnectionAccepted:
		if c.state == clientConnecting {
			c.accept(now)
		}
	case packetConnectionDenied:
		if c.state == clientConnecting {
			logging.Logf("[transport] connection denied (server=%s reason=%s)", c.server, p.reason)
			c.disconnect(p.reason, false)
		}
	case packetPayload:
		// A payload proves acceptance even if the accept packet was lost.
		if c.state == clientConnecting {
			c.accept(now)
		}
		if err := c.link.process(p, now); err != nil {
			logging.Logf("[transport] channel error (server=%s err=%v)", c.server, err)
			c.disconnect(ChannelError, true)
		}
	case packetDisconnect:
		logging.Logf("[transport] disconnected by server (server=%s reason=%s)", c.server, p.reason)
		c.disconnect(p.reason, false)
	}
}

func (c *Client) accept(now time.Time) {
	c.state = clientConnected
	c.link.lastRecv = now
	c.link.lastSend = now
	logging.Debugf("[transport] connected (server=%s session=%s)", c.server, c.link.session)
}

func (c *Client) disconnect(reason DisconnectReason, notify bool) {
	if c.state == clientDisconnected {
		return
	}
	if notify {
		notice := c.link.control(packetDisconnect, c.cfg, reason)
		for i := 0; i < disconnectPacketCopies; i++ {
			writeAll(c.conn, c.server, [][]byte{notice})
		}
	}
	c.state = clientDisconnected
	c.reason = reason
	for _, ch := range c.link.channels {
		ch.pending = nil
		ch.ready = nil
		ch.received = make(map[uint64]slice)
	}
}

// SendMessage queues data on channel. Overflowing the channel ends the connection.
func (c *Client) SendMessage(channel uint8, data []byte) error {
	if c.state != clientConnected {
		return ErrNotConnected
	}
	ch, err := c.link.channel(channel)
	if err != nil {
		return err
	}
	if err := ch.send(data); err != nil {
		if isOverflow(err) {
			c.disconnect(ChannelError, true)
		}
		return err
	}
	return nil
}

// ReceiveMessage returns the next in-order message on channel.
func (c *Client) ReceiveMessage(channel uint8) ([]byte, bool) {
	if c.state != clientConnected {
		return nil, false
	}
	ch, err := c.link.channel(channel)
	if err != nil {
		return nil, false
	}
	return ch.pop()
}

// Disconnect ends the connection and notifies the server.
func (c *Client) Disconnect() {
	c.disconnect(DisconnectedByClient, c.state != clientDisconnected)
}

// Close disconnects and releases the socket.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.Disconnect()
		close(c.done)
		err = c.conn.Close()
	})
	return err
}
