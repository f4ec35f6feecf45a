// Package transporttest provides an in-memory datagram network for exercising
// the transport without sockets.
package transporttest

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Addr is an in-memory network address.
type Addr string

func (a Addr) Network() string { return "mem" }
func (a Addr) String() string  { return string(a) }

// DropFunc decides whether a datagram from -> to is lost.
type DropFunc func(from, to string, data []byte) bool

// Network routes datagrams between PacketConns created by Listen.
type Network struct {
	mu    sync.Mutex
	conns map[string]*PacketConn
	drop  DropFunc
}

// NewNetwork returns an empty lossless network.
func NewNetwork() *Network {
	return &Network{conns: make(map[string]*PacketConn)}
}

// SetDrop installs a loss filter. nil restores lossless delivery.
func (n *Network) SetDrop(drop DropFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drop = drop
}

// Listen binds a PacketConn to addr. An address can be reused once its previous conn is closed.
func (n *Network) Listen(addr string) (*PacketConn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.conns[addr]; exists {
		return nil, fmt.Errorf("address %s already in use", addr)
	}
	c := &PacketConn{
		net:    n,
		addr:   Addr(addr),
		inbox:  make(chan packet, 4096),
		closed: make(chan struct{}),
	}
	n.conns[addr] = c
	return c, nil
}

func (n *Network) deliver(from, to string, data []byte) {
	n.mu.Lock()
	dst := n.conns[to]
	drop := n.drop
	n.mu.Unlock()
	if dst == nil {
		return
	}
	if drop != nil && drop(from, to, data) {
		return
	}
	select {
	case dst.inbox <- packet{data: append([]byte(nil), data...), from: Addr(from)}:
	case <-dst.closed:
	default:
	}
}

type packet struct {
	data []byte
	from Addr
}

// PacketConn implements net.PacketConn over a Network.
type PacketConn struct {
	net       *Network
	addr      Addr
	inbox     chan packet
	closed    chan struct{}
	closeOnce sync.Once
}

var _ net.PacketConn = (*PacketConn)(nil)

func (c *PacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case p := <-c.inbox:
		n := copy(b, p.data)
		return n, p.from, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *PacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	c.net.deliver(string(c.addr), addr.String(), b)
	return len(b), nil
}

func (c *PacketConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.net.mu.Lock()
		if c.net.conns[string(c.addr)] == c {
			delete(c.net.conns, string(c.addr))
		}
		c.net.mu.Unlock()
	})
	return nil
}

func (c *PacketConn) LocalAddr() net.Addr              { return c.addr }
func (c *PacketConn) SetDeadline(time.Time) error      { return nil }
func (c *PacketConn) SetReadDeadline(time.Time) error  { return nil }
func (c *PacketConn) SetWriteDeadline(time.Time) error { return nil }
