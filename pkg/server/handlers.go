package server

import (
	"errors"
	"fmt"

	"github.com/relay-chat/pkg/logging"
	"github.com/relay-chat/pkg/protocol"
	"github.com/relay-chat/pkg/transport"
)

// Protocol violation kinds used as metric labels
const (
	violationMalformed     = "malformed"
	violationUnknownPeer   = "unknown_peer"
	violationDuplicateInit = "duplicate_init"
	violationNotJoined     = "not_joined"
	violationOversized     = "oversized"
)

// OnConnect records a pending peer. Nothing is broadcast until it sends Init.
func (s *ChatServer) OnConnect(addr string) {
	s.clients.Connect(addr, s.timestamp())
	logging.Debugf("[registry] peer connected, awaiting init (remote=%s)", addr)
}

// OnInit registers nick for addr, sends addr the full snapshot including itself and then
// announces it to every other joined peer. The registry is updated before either send.
// A second Init from a joined peer is ignored. An oversized nick, or a snapshot the channel
// refuses, leaves addr pending and disconnects it.
func (s *ChatServer) OnInit(addr, nick string) error {
	if err := protocol.ValidateNick(nick); err != nil {
		s.collector.RecordViolation(violationOversized)
		logging.Logf("[registry] init dropped (remote=%s bytes=%d reason=%s)", addr, len(nick), violationOversized)
		s.transport.Disconnect(addr)
		return err
	}
	if err := s.clients.Init(addr, nick, s.timestamp()); err != nil {
		kind := violationUnknownPeer
		if errors.Is(err, ErrAlreadyJoined) {
			kind = violationDuplicateInit
		}
		s.collector.RecordViolation(kind)
		logging.Logf("[registry] init dropped (remote=%s nick=%q reason=%s)", addr, nick, kind)
		return err
	}
	if err := s.send(addr, protocol.InitClient{Clients: s.clients.Snapshot()}); err != nil {
		s.clients.Unjoin(addr)
		logging.Logf("[registry] join rolled back, snapshot not queued (remote=%s nick=%q)", addr, nick)
		s.transport.Disconnect(addr)
		return err
	}
	s.collector.RecordJoin()
	logging.Logf("[registry] client joined (remote=%s nick=%q)", addr, nick)

	s.broadcast(protocol.ClientConnected{Addr: addr, Nick: nick}, addr)
	s.LogClientsTable()
	return nil
}

// OnMessage broadcasts text from a joined peer to every joined peer, the sender included.
func (s *ChatServer) OnMessage(addr, text string) error {
	if err := protocol.ValidateText(text); err != nil {
		s.collector.RecordViolation(violationOversized)
		logging.Logf("[registry] text dropped (remote=%s bytes=%d reason=%s)", addr, len(text), violationOversized)
		return err
	}
	if err := s.clients.CountMessage(addr); err != nil {
		kind := violationUnknownPeer
		if errors.Is(err, ErrNotJoined) {
			kind = violationNotJoined
		}
		s.collector.RecordViolation(kind)
		logging.Logf("[registry] text dropped (remote=%s reason=%s)", addr, kind)
		return err
	}
	s.collector.RecordBroadcast()
	logging.Debugf("[server] broadcasting message (remote=%s bytes=%d)", addr, len(text))
	s.broadcast(protocol.ClientMessage{Addr: addr, Body: text}, "")
	return nil
}

// OnDisconnect removes addr and tells the remaining joined peers. It is idempotent, and a peer
// that never joined leaves silently since nobody was told about it.
func (s *ChatServer) OnDisconnect(addr string, reason transport.DisconnectReason) {
	info, ok := s.clients.Remove(addr)
	if !ok {
		return
	}
	s.collector.RecordDisconnect(reason.String())
	if !info.Joined() {
		logging.Debugf("[registry] pending peer left (remote=%s reason=%s)", addr, reason)
		return
	}
	logging.Logf("[registry] client left (remote=%s nick=%q reason=%s messages=%d)", addr, info.Nick, reason, info.Messages)
	s.broadcast(protocol.ClientDisconnected{Addr: addr, Reason: reason}, addr)
	s.LogClientsTable()
}

// handlePayload decodes one inbound message and dispatches it. Failures end here.
func (s *ChatServer) handlePayload(addr string, data []byte) {
	cmd, err := protocol.DecodeClient(data)
	if err != nil {
		s.collector.RecordViolation(violationMalformed)
		logging.Logf("[server] dropping undecodable message (remote=%s err=%v)", addr, err)
		return
	}
	switch m := cmd.(type) {
	case protocol.Init:
		_ = s.OnInit(addr, m.Nick)
	case protocol.Text:
		_ = s.OnMessage(addr, m.Body)
	default:
		s.collector.RecordViolation(violationMalformed)
		logging.Logf("[server] unhandled client command (remote=%s type=%T)", addr, cmd)
	}
}

// broadcast queues ev for every joined peer except except. Sends are fire-and-forget:
// delivery is the channel's job and one failing peer does not stop the others.
func (s *ChatServer) broadcast(ev protocol.ServerEvent, except string) {
	data, err := protocol.EncodeServer(ev)
	if err != nil {
		s.collector.RecordSendError()
		logging.Logf("[server] failed to encode event (type=%s err=%v)", eventType(ev), err)
		return
	}
	for _, addr := range s.clients.Joined() {
		if addr == except {
			continue
		}
		_ = s.sendRaw(addr, eventType(ev), data)
	}
}

func (s *ChatServer) send(addr string, ev protocol.ServerEvent) error {
	data, err := protocol.EncodeServer(ev)
	if err != nil {
		s.collector.RecordSendError()
		logging.Logf("[server] failed to encode event (remote=%s type=%s err=%v)", addr, eventType(ev), err)
		return err
	}
	return s.sendRaw(addr, eventType(ev), data)
}

func (s *ChatServer) sendRaw(addr, kind string, data []byte) error {
	if err := s.transport.SendMessage(addr, protocol.ReliableChannel, data); err != nil {
		s.collector.RecordSendError()
		logging.Logf("[server] send failed (remote=%s type=%s err=%v)", addr, kind, err)
		return err
	}
	s.collector.RecordEventSent(kind)
	return nil
}

func eventType(ev protocol.ServerEvent) string {
	switch ev.(type) {
	case protocol.ClientConnected:
		return "client_connected"
	case protocol.ClientDisconnected:
		return "client_disconnected"
	case protocol.ClientMessage:
		return "client_message"
	case protocol.InitClient:
		return "init_client"
	default:
		return fmt.Sprintf("%T", ev)
	}
}
