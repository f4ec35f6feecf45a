package client

import (
	"fmt"
	"time"

	"github.com/relay-chat/pkg/transport"
)

// State is the session state of a ChatClient.
type State int

const (
	Disconnected State = iota
	Connecting
	AwaitingInit
	Joined
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingInit:
		return "awaiting_init"
	case Joined:
		return "joined"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event is something the presentation layer should render. The set is closed.
type Event interface {
	clientEvent()
}

// SessionJoined is emitted when the server's snapshot arrives.
type SessionJoined struct {
	Clients map[string]string
}

// PeerJoined is emitted when another client completes Init.
type PeerJoined struct {
	Addr string
	Nick string
}

// PeerLeft is emitted when a known client disconnects.
type PeerLeft struct {
	Addr   string
	Nick   string
	Reason transport.DisconnectReason
}

// Message is a chat line from Addr.
type Message struct {
	Addr string
	Nick string
	Body string
}

// SessionEnded is emitted when the connection to the server is lost.
type SessionEnded struct {
	Reason transport.DisconnectReason
}

func (SessionJoined) clientEvent() {}
func (PeerJoined) clientEvent()    {}
func (PeerLeft) clientEvent()      {}
func (Message) clientEvent()       {}
func (SessionEnded) clientEvent()  {}

// LineKind classifies a history line.
type LineKind int

const (
	LineMessage LineKind = iota
	LineJoin
	LineLeave
	LineStatus
)

// Line is one rendered entry of the chat history.
type Line struct {
	Time time.Time
	Kind LineKind
	Addr string
	Nick string
	Text string
}

func (l Line) String() string {
	ts := l.Time.Format("15:04:05")
	switch l.Kind {
	case LineMessage:
		return fmt.Sprintf("[%s] <%s> %s", ts, l.Nick, l.Text)
	case LineJoin:
		return fmt.Sprintf("[%s] * %s joined", ts, l.Nick)
	case LineLeave:
		return fmt.Sprintf("[%s] * %s left (%s)", ts, l.Nick, l.Text)
	default:
		return fmt.Sprintf("[%s] -- %s", ts, l.Text)
	}
}
