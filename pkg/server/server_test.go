package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/relay-chat/pkg/protocol"
	"github.com/relay-chat/pkg/transport"
)

// fakeTransport records what the chat server sends, decoded, per recipient.
type fakeTransport struct {
	connected  map[string]bool
	events     []transport.Event
	inbox      map[string][][]byte
	sent       map[string][]protocol.ServerEvent
	failFor    map[string]bool
	kicked     []string
	maxMessage int // 0 means unlimited
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		connected: make(map[string]bool),
		inbox:     make(map[string][][]byte),
		sent:      make(map[string][]protocol.ServerEvent),
		failFor:   make(map[string]bool),
	}
}

func (f *fakeTransport) Update(time.Time) {}

func (f *fakeTransport) PollEvent() (transport.Event, bool) {
	if len(f.events) == 0 {
		return transport.Event{}, false
	}
	ev := f.events[0]
	f.events = f.events[1:]
	return ev, true
}

func (f *fakeTransport) ConnectedClients() []string {
	out := make([]string, 0, len(f.connected))
	for addr := range f.connected {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

func (f *fakeTransport) ReceiveMessage(addr string, channel uint8) ([]byte, bool) {
	q := f.inbox[addr]
	if len(q) == 0 {
		return nil, false
	}
	f.inbox[addr] = q[1:]
	return q[0], true
}

func (f *fakeTransport) SendMessage(addr string, channel uint8, data []byte) error {
	if channel != protocol.ReliableChannel {
		return transport.ErrInvalidChannel
	}
	if !f.connected[addr] || f.failFor[addr] {
		return fmt.Errorf("%w: %s", transport.ErrNotConnected, addr)
	}
	if f.maxMessage > 0 && len(data) > f.maxMessage {
		return fmt.Errorf("%w: %d bytes", transport.ErrMessageTooLarge, len(data))
	}
	ev, err := protocol.DecodeServer(data)
	if err != nil {
		return err
	}
	f.sent[addr] = append(f.sent[addr], ev)
	return nil
}

func (f *fakeTransport) Disconnect(addr string) {
	if !f.connected[addr] {
		return
	}
	f.kicked = append(f.kicked, addr)
	f.drop(addr, transport.DisconnectedByServer)
}

func (f *fakeTransport) connect(addr string) {
	f.connected[addr] = true
	f.events = append(f.events, transport.Event{Kind: transport.EventConnected, Addr: addr})
}

func (f *fakeTransport) drop(addr string, reason transport.DisconnectReason) {
	delete(f.connected, addr)
	delete(f.inbox, addr)
	f.events = append(f.events, transport.Event{Kind: transport.EventDisconnected, Addr: addr, Reason: reason})
}

func (f *fakeTransport) push(t *testing.T, addr string, cmd protocol.ClientCommand) {
	t.Helper()
	data, err := protocol.EncodeClient(cmd)
	if err != nil {
		t.Fatalf("encode %T: %v", cmd, err)
	}
	f.inbox[addr] = append(f.inbox[addr], data)
}

// take returns and clears everything sent to addr.
func (f *fakeTransport) take(addr string) []protocol.ServerEvent {
	out := f.sent[addr]
	delete(f.sent, addr)
	return out
}

func (f *fakeTransport) totalSent() int {
	n := 0
	for _, evs := range f.sent {
		n += len(evs)
	}
	return n
}

func newTestServer(t *testing.T) (*ChatServer, *fakeTransport) {
	t.Helper()
	t.Setenv("NODE_NAME", "n1")
	t.Setenv("POD_NAME", "p1")
	ft := newFakeTransport()
	return NewChatServer(ft), ft
}

// join connects addr and completes Init in one tick.
func join(t *testing.T, s *ChatServer, ft *fakeTransport, addr, nick string) {
	t.Helper()
	ft.connect(addr)
	ft.push(t, addr, protocol.Init{Nick: nick})
	s.Update(time.Now())
	if !s.Registry().IsJoined(addr) {
		t.Fatalf("%s did not join", addr)
	}
}

func wantEvents(t *testing.T, who string, got []protocol.ServerEvent, want ...protocol.ServerEvent) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s received %d events %+v, want %d %+v", who, len(got), got, len(want), want)
	}
	for i := range want {
		if fmt.Sprintf("%#v", got[i]) != fmt.Sprintf("%#v", want[i]) {
			t.Errorf("%s event %d = %#v, want %#v", who, i, got[i], want[i])
		}
	}
}

func TestJoinAnnouncesAndSnapshots(t *testing.T) {
	s, ft := newTestServer(t)

	join(t, s, ft, "A", "alice")
	wantEvents(t, "A", ft.take("A"), protocol.InitClient{Clients: map[string]string{"A": "alice"}})

	join(t, s, ft, "B", "bob")
	wantEvents(t, "A", ft.take("A"), protocol.ClientConnected{Addr: "B", Nick: "bob"})
	wantEvents(t, "B", ft.take("B"), protocol.InitClient{Clients: map[string]string{"A": "alice", "B": "bob"}})
}

func TestMessageBroadcastIncludesSender(t *testing.T) {
	s, ft := newTestServer(t)
	join(t, s, ft, "A", "alice")
	join(t, s, ft, "B", "bob")
	ft.take("A")
	ft.take("B")

	ft.push(t, "A", protocol.Text{Body: "hi"})
	s.Update(time.Now())

	want := protocol.ClientMessage{Addr: "A", Body: "hi"}
	wantEvents(t, "A", ft.take("A"), want)
	wantEvents(t, "B", ft.take("B"), want)

	if info, _ := s.Registry().Info("A"); info.Messages != 1 {
		t.Errorf("A message count = %d, want 1", info.Messages)
	}
}

func TestDisconnectAnnouncedToRemaining(t *testing.T) {
	s, ft := newTestServer(t)
	join(t, s, ft, "A", "alice")
	join(t, s, ft, "B", "bob")
	ft.take("A")
	ft.take("B")

	ft.drop("B", transport.Timeout)
	s.Update(time.Now())

	wantEvents(t, "A", ft.take("A"), protocol.ClientDisconnected{Addr: "B", Reason: transport.Timeout})
	if s.Registry().IsKnown("B") {
		t.Error("B still in registry")
	}
	if got := s.Registry().Snapshot(); len(got) != 1 || got["A"] != "alice" {
		t.Errorf("snapshot = %v", got)
	}
}

func TestReconnectAtReusedAddressIsNewSession(t *testing.T) {
	s, ft := newTestServer(t)
	join(t, s, ft, "A", "alice")
	join(t, s, ft, "B", "bob")
	ft.take("A")
	ft.take("B")

	// the transport reports the replaced session and the new one in the same tick
	ft.drop("A", transport.SessionReplaced)
	ft.connect("A")
	s.Update(time.Now())

	wantEvents(t, "B", ft.take("B"), protocol.ClientDisconnected{Addr: "A", Reason: transport.SessionReplaced})
	if !s.Registry().IsKnown("A") || s.Registry().IsJoined("A") {
		t.Fatal("reconnected peer should be pending")
	}

	ft.push(t, "A", protocol.Init{Nick: "alice2"})
	s.Update(time.Now())
	wantEvents(t, "B", ft.take("B"), protocol.ClientConnected{Addr: "A", Nick: "alice2"})
	wantEvents(t, "A", ft.take("A"), protocol.InitClient{Clients: map[string]string{"A": "alice2", "B": "bob"}})
}

func TestMessagesFromNonMembersAreDropped(t *testing.T) {
	s, ft := newTestServer(t)
	join(t, s, ft, "A", "alice")
	ft.take("A")

	if err := s.OnMessage("ghost", "boo"); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("OnMessage(ghost) err = %v, want ErrUnknownPeer", err)
	}

	ft.connect("P")
	ft.push(t, "P", protocol.Text{Body: "too early"})
	s.Update(time.Now())
	if err := s.OnMessage("P", "again"); !errors.Is(err, ErrNotJoined) {
		t.Errorf("OnMessage(pending) err = %v, want ErrNotJoined", err)
	}

	if n := ft.totalSent(); n != 0 {
		t.Errorf("%d events sent for dropped messages", n)
	}

	expected := `
# HELP relay_chat_protocol_violations_total Total number of dropped client messages by kind
# TYPE relay_chat_protocol_violations_total counter
relay_chat_protocol_violations_total{kind="not_joined",node="n1",pod="p1"} 2
relay_chat_protocol_violations_total{kind="unknown_peer",node="n1",pod="p1"} 1
`
	if err := testutil.GatherAndCompare(s.registry, strings.NewReader(expected), "relay_chat_protocol_violations_total"); err != nil {
		t.Error(err)
	}
}

func TestMessageOrderPreserved(t *testing.T) {
	s, ft := newTestServer(t)
	join(t, s, ft, "A", "alice")
	join(t, s, ft, "B", "bob")
	ft.take("A")
	ft.take("B")

	for _, body := range []string{"one", "two", "three"} {
		ft.push(t, "A", protocol.Text{Body: body})
	}
	s.Update(time.Now())

	wantEvents(t, "B", ft.take("B"),
		protocol.ClientMessage{Addr: "A", Body: "one"},
		protocol.ClientMessage{Addr: "A", Body: "two"},
		protocol.ClientMessage{Addr: "A", Body: "three"},
	)
}

func TestDuplicateInitIgnored(t *testing.T) {
	s, ft := newTestServer(t)
	join(t, s, ft, "A", "alice")
	join(t, s, ft, "B", "bob")
	ft.take("A")
	ft.take("B")

	ft.push(t, "B", protocol.Init{Nick: "bobby"})
	s.Update(time.Now())

	if n := ft.totalSent(); n != 0 {
		t.Errorf("duplicate init produced %d events", n)
	}
	if nick, _ := s.Registry().Nick("B"); nick != "bob" {
		t.Errorf("nick = %q, want bob", nick)
	}
	if err := s.OnInit("B", "x"); !errors.Is(err, ErrAlreadyJoined) {
		t.Errorf("OnInit err = %v, want ErrAlreadyJoined", err)
	}
}

func TestPendingPeerLeavesSilently(t *testing.T) {
	s, ft := newTestServer(t)
	join(t, s, ft, "A", "alice")
	ft.take("A")

	ft.connect("P")
	s.Update(time.Now())
	ft.drop("P", transport.Timeout)
	s.Update(time.Now())

	if n := ft.totalSent(); n != 0 {
		t.Errorf("pending peer departure produced %d events", n)
	}

	// a second disconnect for the same address is a no-op
	s.OnDisconnect("P", transport.Timeout)
	s.OnDisconnect("A", transport.DisconnectedByClient)
	s.OnDisconnect("A", transport.DisconnectedByClient)
	if s.Registry().Len() != 0 {
		t.Errorf("registry not empty: %v", s.Registry().Snapshot())
	}

	expected := `
# HELP relay_chat_disconnects_total Total number of client disconnections by reason
# TYPE relay_chat_disconnects_total counter
relay_chat_disconnects_total{node="n1",pod="p1",reason="disconnected_by_client"} 1
relay_chat_disconnects_total{node="n1",pod="p1",reason="timeout"} 1
`
	if err := testutil.GatherAndCompare(s.registry, strings.NewReader(expected), "relay_chat_disconnects_total"); err != nil {
		t.Error(err)
	}
}

func TestMalformedPayloadDropped(t *testing.T) {
	s, ft := newTestServer(t)
	join(t, s, ft, "A", "alice")
	ft.take("A")

	ft.inbox["A"] = append(ft.inbox["A"], []byte("not json"), []byte(`{"type":"client_message","data":{"addr":"A","body":"x"}}`))
	ft.push(t, "A", protocol.Text{Body: "still works"})
	s.Update(time.Now())

	wantEvents(t, "A", ft.take("A"), protocol.ClientMessage{Addr: "A", Body: "still works"})
}

func TestSendFailureDoesNotStopBroadcast(t *testing.T) {
	s, ft := newTestServer(t)
	join(t, s, ft, "A", "alice")
	join(t, s, ft, "B", "bob")
	join(t, s, ft, "C", "carol")
	for _, addr := range []string{"A", "B", "C"} {
		ft.take(addr)
	}

	ft.failFor["B"] = true
	ft.push(t, "A", protocol.Text{Body: "hello"})
	s.Update(time.Now())

	want := protocol.ClientMessage{Addr: "A", Body: "hello"}
	wantEvents(t, "A", ft.take("A"), want)
	wantEvents(t, "C", ft.take("C"), want)

	expected := `
# HELP relay_chat_send_errors_total Total number of events that could not be queued for a recipient
# TYPE relay_chat_send_errors_total counter
relay_chat_send_errors_total{node="n1",pod="p1"} 1
`
	if err := testutil.GatherAndCompare(s.registry, strings.NewReader(expected), "relay_chat_send_errors_total"); err != nil {
		t.Error(err)
	}
}

func TestClientGauges(t *testing.T) {
	s, ft := newTestServer(t)
	join(t, s, ft, "A", "alice")
	ft.connect("P")
	s.Update(time.Now())

	expected := `
# HELP relay_chat_clients_joined Number of connected clients that completed Init
# TYPE relay_chat_clients_joined gauge
relay_chat_clients_joined{node="n1",pod="p1"} 1
# HELP relay_chat_clients_pending Number of connected clients that have not sent Init yet
# TYPE relay_chat_clients_pending gauge
relay_chat_clients_pending{node="n1",pod="p1"} 1
`
	if err := testutil.GatherAndCompare(s.registry, strings.NewReader(expected),
		"relay_chat_clients_joined", "relay_chat_clients_pending"); err != nil {
		t.Error(err)
	}
}

func TestOversizedNickRejected(t *testing.T) {
	s, ft := newTestServer(t)
	join(t, s, ft, "A", "alice")
	ft.take("A")

	ft.connect("P")
	ft.push(t, "P", protocol.Init{Nick: strings.Repeat("x", protocol.MaxNickLength+1)})
	s.Update(time.Now())

	if s.Registry().IsKnown("P") {
		t.Error("peer with oversized nick still registered")
	}
	if n := ft.totalSent(); n != 0 {
		t.Errorf("oversized nick produced %d events", n)
	}
	if len(ft.kicked) != 1 || ft.kicked[0] != "P" {
		t.Errorf("kicked = %v, want [P]", ft.kicked)
	}

	// the longest allowed nick still joins
	join(t, s, ft, "B", strings.Repeat("y", protocol.MaxNickLength))

	expected := `
# HELP relay_chat_protocol_violations_total Total number of dropped client messages by kind
# TYPE relay_chat_protocol_violations_total counter
relay_chat_protocol_violations_total{kind="oversized",node="n1",pod="p1"} 1
`
	if err := testutil.GatherAndCompare(s.registry, strings.NewReader(expected), "relay_chat_protocol_violations_total"); err != nil {
		t.Error(err)
	}
}

func TestOversizedTextDropped(t *testing.T) {
	s, ft := newTestServer(t)
	join(t, s, ft, "A", "alice")
	ft.take("A")

	if err := s.OnMessage("A", strings.Repeat("z", protocol.MaxTextLength+1)); !errors.Is(err, protocol.ErrTextTooLong) {
		t.Errorf("OnMessage err = %v, want ErrTextTooLong", err)
	}
	if n := ft.totalSent(); n != 0 {
		t.Errorf("oversized text produced %d events", n)
	}
	if info, _ := s.Registry().Info("A"); info.Messages != 0 {
		t.Errorf("oversized text counted: %d", info.Messages)
	}
}

func TestJoinRolledBackWhenSnapshotNotQueued(t *testing.T) {
	tests := []struct {
		name   string
		refuse func(ft *fakeTransport)
	}{
		{"send refused", func(ft *fakeTransport) { ft.failFor["B"] = true }},
		{"snapshot too large", func(ft *fakeTransport) {
			alone, _ := protocol.EncodeServer(protocol.InitClient{Clients: map[string]string{"A": "alice"}})
			ft.maxMessage = len(alone) + 1
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, ft := newTestServer(t)
			join(t, s, ft, "A", "alice")
			ft.take("A")

			tt.refuse(ft)
			ft.connect("B")
			ft.push(t, "B", protocol.Init{Nick: "bob"})
			s.Update(time.Now())

			if s.Registry().IsJoined("B") {
				t.Error("B joined without its snapshot")
			}
			if got := ft.take("A"); len(got) != 0 {
				t.Errorf("A was told about B: %+v", got)
			}
			if len(ft.kicked) != 1 || ft.kicked[0] != "B" {
				t.Errorf("kicked = %v, want [B]", ft.kicked)
			}

			// the kick surfaces as a disconnect of a pending peer, which is silent
			s.Update(time.Now())
			if s.Registry().IsKnown("B") {
				t.Error("B still known after disconnect")
			}
			if got := ft.take("A"); len(got) != 0 {
				t.Errorf("A received %+v for a peer it never saw join", got)
			}
			if got := s.Registry().Snapshot(); len(got) != 1 || got["A"] != "alice" {
				t.Errorf("snapshot = %v", got)
			}
		})
	}
}
