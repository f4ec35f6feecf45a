package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type packetType uint8

const (
	packetConnectionRequest packetType = iota + 1
	packetConnectionAccepted
	packetConnectionDenied
	packetPayload
	packetDisconnect
)

var errMalformedPacket = errors.New("malformed packet")

type ack struct {
	channel uint8
	seq     uint64
}

// sliceLast is the flags bit marking the final slice of a message.
const sliceLast = 0x01

type channelMessage struct {
	channel uint8
	seq     uint64
	last    bool
	data    []byte
}

type packet struct {
	kind       packetType
	protocolID uint64
	session    uuid.UUID
	reason     DisconnectReason
	acks       []ack
	messages   []channelMessage
}

// payloadSize is the encoded size of a payload packet with the given content.
func payloadSize(acks, messageBytes int) int {
	return headerSize + payloadCounts + acks*ackSize + messageBytes
}

func (p *packet) encode() []byte {
	size := headerSize
	switch p.kind {
	case packetConnectionDenied, packetDisconnect:
		size++
	case packetPayload:
		size += payloadCounts + len(p.acks)*ackSize
		for _, m := range p.messages {
			size += messageOverhead + len(m.data)
		}
	}

	buf := make([]byte, 0, size)
	buf = append(buf, byte(p.kind))
	buf = binary.BigEndian.AppendUint64(buf, p.protocolID)
	buf = append(buf, p.session[:]...)

	switch p.kind {
	case packetConnectionDenied, packetDisconnect:
		buf = append(buf, byte(p.reason))
	case packetPayload:
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.acks)))
		for _, a := range p.acks {
			buf = append(buf, a.channel)
			buf = binary.BigEndian.AppendUint64(buf, a.seq)
		}
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(p.messages)))
		for _, m := range p.messages {
			buf = append(buf, m.channel)
			buf = binary.BigEndian.AppendUint64(buf, m.seq)
			var flags byte
			if m.last {
				flags |= sliceLast
			}
			buf = append(buf, flags)
			buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.data)))
			buf = append(buf, m.data...)
		}
	}
	return buf
}

func decodePacket(data []byte) (*packet, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: short header (%d bytes)", errMalformedPacket, len(data))
	}
	p := &packet{
		kind:       packetType(data[0]),
		protocolID: binary.BigEndian.Uint64(data[1:9]),
	}
	copy(p.session[:], data[9:headerSize])
	body := data[headerSize:]

	switch p.kind {
	case packetConnectionRequest, packetConnectionAccepted:
		if len(body) != 0 {
			return nil, fmt.Errorf("%w: unexpected body", errMalformedPacket)
		}
	case packetConnectionDenied, packetDisconnect:
		if len(body) != 1 {
			return nil, fmt.Errorf("%w: missing reason", errMalformedPacket)
		}
		p.reason = DisconnectReason(body[0])
		if !p.reason.Valid() {
			return nil, fmt.Errorf("%w: unknown reason %d", errMalformedPacket, body[0])
		}
	case packetPayload:
		if err := p.decodePayload(body); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %d", errMalformedPacket, data[0])
	}
	return p, nil
}

func (p *packet) decodePayload(body []byte) error {
	if len(body) < 2 {
		return fmt.Errorf("%w: missing ack count", errMalformedPacket)
	}
	n := int(binary.BigEndian.Uint16(body))
	body = body[2:]
	if len(body) < n*ackSize {
		return fmt.Errorf("%w: truncated acks", errMalformedPacket)
	}
	p.acks = make([]ack, n)
	for i := range p.acks {
		p.acks[i] = ack{channel: body[0], seq: binary.BigEndian.Uint64(body[1:9])}
		body = body[ackSize:]
	}

	if len(body) < 2 {
		return fmt.Errorf("%w: missing message count", errMalformedPacket)
	}
	n = int(binary.BigEndian.Uint16(body))
	body = body[2:]
	p.messages = make([]channelMessage, 0, n)
	for i := 0; i < n; i++ {
		if len(body) < messageOverhead {
			return fmt.Errorf("%w: truncated message header", errMalformedPacket)
		}
		m := channelMessage{channel: body[0], seq: binary.BigEndian.Uint64(body[1:9])}
		flags := body[9]
		if flags&^sliceLast != 0 {
			return fmt.Errorf("%w: unknown message flags %#x", errMalformedPacket, flags)
		}
		m.last = flags&sliceLast != 0
		size := int(binary.BigEndian.Uint16(body[10:12]))
		body = body[messageOverhead:]
		if len(body) < size {
			return fmt.Errorf("%w: truncated message body", errMalformedPacket)
		}
		m.data = append([]byte(nil), body[:size]...)
		body = body[size:]
		p.messages = append(p.messages, m)
	}
	if len(body) != 0 {
		return fmt.Errorf("%w: %d trailing bytes", errMalformedPacket, len(body))
	}
	return nil
}
