package transport

import (
	"errors"
	"net"

	"github.com/relay-chat/pkg/logging"
)

// incomingQueueSize bounds datagrams waiting for the next Update. Overflow is dropped like any lost datagram.
const incomingQueueSize = 1024

type datagram struct {
	data []byte
	addr net.Addr
}

// readLoop moves datagrams off the socket so Update never blocks on it.
func readLoop(conn net.PacketConn, maxPacketSize int, incoming chan<- datagram, done <-chan struct{}) {
	buf := make([]byte, maxPacketSize+1)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Debugf("[transport] read error (local=%s err=%v)", conn.LocalAddr(), err)
			continue
		}
		if n > maxPacketSize {
			logging.Debugf("[transport] oversized datagram dropped (remote=%s bytes=%d)", addr, n)
			continue
		}
		d := datagram{data: append([]byte(nil), buf[:n]...), addr: addr}
		select {
		case incoming <- d:
		case <-done:
			return
		default:
			logging.Debugf("[transport] incoming queue full, datagram dropped (remote=%s)", addr)
		}
	}
}

func writeAll(conn net.PacketConn, addr net.Addr, packets [][]byte) {
	for _, p := range packets {
		if _, err := conn.WriteTo(p, addr); err != nil {
			logging.Debugf("[transport] write error (remote=%s err=%v)", addr, err)
		}
	}
}
