package transport

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotConnected    = errors.New("not connected")
	ErrInvalidChannel  = errors.New("invalid channel")
	ErrMessageTooLarge = errors.New("message too large")
	ErrChannelOverflow = errors.New("channel send queue full")
)

// pendingMessage is one sequenced slice. last marks the final slice of a message.
type pendingMessage struct {
	seq      uint64
	data     []byte
	last     bool
	sent     bool
	lastSent time.Time
}

type slice struct {
	data []byte
	last bool
}

// reliableChannel keeps the send and receive state of one channel for one peer.
// Every message is one or more slices, each with its own sequence number; in-order
// delivery of slices is what lets the receiver reassemble without slice indexes.
// Sequence numbers are 64 bit and never wrap in practice.
type reliableChannel struct {
	index     uint8
	cfg       ReliableChannelConfig
	sliceSize int

	nextSendSeq uint64
	pending     []*pendingMessage

	nextRecvSeq uint64
	received    map[uint64]slice
	partial     []byte
	ready       [][]byte
	acks        []uint64
}

func newReliableChannel(index uint8, cfg ReliableChannelConfig, sliceSize int) *reliableChannel {
	return &reliableChannel{
		index:     index,
		cfg:       cfg,
		sliceSize: sliceSize,
		received:  make(map[uint64]slice),
	}
}

// send queues data as ceil(len/sliceSize) slices. Either every slice is queued or none is.
func (c *reliableChannel) send(data []byte) error {
	if len(data) > c.cfg.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes on channel %d (max %d)", ErrMessageTooLarge, len(data), c.index, c.cfg.MaxMessageSize)
	}
	n := sliceCount(len(data), c.sliceSize)
	if len(c.pending)+n > c.cfg.MaxPendingMessages {
		return fmt.Errorf("%w: channel %d has %d unacknowledged slices, message needs %d", ErrChannelOverflow, c.index, len(c.pending), n)
	}
	data = append([]byte(nil), data...)
	for i := 0; i < n; i++ {
		end := (i + 1) * c.sliceSize
		if end > len(data) {
			end = len(data)
		}
		c.pending = append(c.pending, &pendingMessage{
			seq:  c.nextSendSeq,
			data: data[i*c.sliceSize : end],
			last: i == n-1,
		})
		c.nextSendSeq++
	}
	return nil
}

// due returns the messages that were never sent or whose resend time has elapsed, in sequence order.
func (c *reliableChannel) due(now time.Time) []*pendingMessage {
	var out []*pendingMessage
	for _, m := range c.pending {
		if !m.sent || now.Sub(m.lastSent) >= c.cfg.MessageResendTime {
			out = append(out, m)
		}
	}
	return out
}

func (c *reliableChannel) ack(seq uint64) {
	for i, m := range c.pending {
		if m.seq == seq {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
		if m.seq > seq {
			return
		}
	}
}

// receive records an incoming slice. Anything inside the window is acked, including duplicates,
// so a lost ack is repaired by the next resend. A reassembled message above MaxMessageSize
// is an error.
func (c *reliableChannel) receive(seq uint64, data []byte, last bool) error {
	if seq < c.nextRecvSeq {
		c.acks = append(c.acks, seq)
		return nil
	}
	if seq >= c.nextRecvSeq+uint64(c.cfg.ReceiveWindow) {
		return nil
	}
	c.acks = append(c.acks, seq)
	if _, dup := c.received[seq]; dup {
		return nil
	}
	c.received[seq] = slice{data: data, last: last}
	for {
		next, ok := c.received[c.nextRecvSeq]
		if !ok {
			return nil
		}
		delete(c.received, c.nextRecvSeq)
		c.nextRecvSeq++

		if len(c.partial)+len(next.data) > c.cfg.MaxMessageSize {
			c.partial = nil
			return fmt.Errorf("%w: reassembled message on channel %d exceeds %d bytes", ErrMessageTooLarge, c.index, c.cfg.MaxMessageSize)
		}
		if !next.last {
			c.partial = append(c.partial, next.data...)
			continue
		}
		if c.partial == nil {
			c.ready = append(c.ready, next.data)
			continue
		}
		c.ready = append(c.ready, append(c.partial, next.data...))
		c.partial = nil
	}
}

func (c *reliableChannel) pop() ([]byte, bool) {
	if len(c.ready) == 0 {
		return nil, false
	}
	data := c.ready[0]
	c.ready[0] = nil
	c.ready = c.ready[1:]
	return data, true
}

func (c *reliableChannel) unacked() int {
	return len(c.pending)
}

func isOverflow(err error) bool {
	return errors.Is(err, ErrChannelOverflow)
}
