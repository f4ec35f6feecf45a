package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// disconnectPacketCopies is how many times a disconnect notice is written, since it is never acked.
const disconnectPacketCopies = 3

// connection is the per-peer state shared by the server and client sides.
type connection struct {
	addr     net.Addr
	session  uuid.UUID
	channels []*reliableChannel
	lastRecv time.Time
	lastSend time.Time
}

func newConnection(addr net.Addr, session uuid.UUID, cfg Config, now time.Time) *connection {
	c := &connection{
		addr:     addr,
		session:  session,
		lastRecv: now,
		lastSend: now,
	}
	c.channels = make([]*reliableChannel, len(cfg.Channels))
	for i, chCfg := range cfg.Channels {
		c.channels[i] = newReliableChannel(uint8(i), chCfg, cfg.sliceSize())
	}
	return c
}

func (c *connection) channel(index uint8) (*reliableChannel, error) {
	if int(index) >= len(c.channels) {
		return nil, fmt.Errorf("%w: %d (declared %d)", ErrInvalidChannel, index, len(c.channels))
	}
	return c.channels[index], nil
}

// process applies an inbound payload. An undeclared channel index is a channel error.
func (c *connection) process(p *packet, now time.Time) error {
	c.lastRecv = now
	for _, a := range p.acks {
		ch, err := c.channel(a.channel)
		if err != nil {
			return err
		}
		ch.ack(a.seq)
	}
	for _, m := range p.messages {
		ch, err := c.channel(m.channel)
		if err != nil {
			return err
		}
		if err := ch.receive(m.seq, m.data, m.last); err != nil {
			return err
		}
	}
	return nil
}

// flush packs pending acks and due messages into as few payload packets as fit,
// falling back to an empty keep-alive when nothing was sent for a heartbeat interval.
func (c *connection) flush(now time.Time, cfg Config) [][]byte {
	var (
		out       [][]byte
		cur       = c.newPayload(cfg)
		curSize   = payloadSize(0, 0)
		maxPacket = cfg.MaxPacketSize
	)
	emit := func() {
		if len(cur.acks) == 0 && len(cur.messages) == 0 {
			return
		}
		out = append(out, cur.encode())
		cur = c.newPayload(cfg)
		curSize = payloadSize(0, 0)
	}

	for _, ch := range c.channels {
		for _, seq := range ch.acks {
			if curSize+ackSize > maxPacket || len(cur.acks) == 0xFFFF {
				emit()
			}
			cur.acks = append(cur.acks, ack{channel: ch.index, seq: seq})
			curSize += ackSize
		}
		ch.acks = ch.acks[:0]
	}

	for _, ch := range c.channels {
		for _, m := range ch.due(now) {
			size := messageOverhead + len(m.data)
			if curSize+size > maxPacket || len(cur.messages) == 0xFFFF {
				emit()
			}
			cur.messages = append(cur.messages, channelMessage{channel: ch.index, seq: m.seq, data: m.data, last: m.last})
			curSize += size
			m.sent = true
			m.lastSent = now
		}
	}
	emit()

	if len(out) == 0 && now.Sub(c.lastSend) >= cfg.HeartbeatInterval {
		out = append(out, c.newPayload(cfg).encode())
	}
	if len(out) > 0 {
		c.lastSend = now
	}
	return out
}

func (c *connection) newPayload(cfg Config) *packet {
	return &packet{kind: packetPayload, protocolID: cfg.ProtocolID, session: c.session}
}

func (c *connection) control(kind packetType, cfg Config, reason DisconnectReason) []byte {
	p := &packet{kind: kind, protocolID: cfg.ProtocolID, session: c.session, reason: reason}
	return p.encode()
}

func (c *connection) unacked() int {
	n := 0
	for _, ch := range c.channels {
		n += ch.unacked()
	}
	return n
}
