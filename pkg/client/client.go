package client

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relay-chat/pkg/config"
	"github.com/relay-chat/pkg/logging"
	"github.com/relay-chat/pkg/protocol"
	"github.com/relay-chat/pkg/transport"
)

var (
	ErrNotJoined       = errors.New("not joined")
	ErrEmptyMessage    = errors.New("empty message")
	ErrNotDisconnected = errors.New("session already active")
)

// Link is the part of *transport.Client the chat client drives.
type Link interface {
	Update(now time.Time)
	IsConnected() bool
	DisconnectReason() (transport.DisconnectReason, bool)
	SendMessage(channel uint8, data []byte) error
	ReceiveMessage(channel uint8) ([]byte, bool)
	Disconnect()
	Close() error
}

// Dialer opens a new link to the server. Each call starts a brand-new session.
type Dialer func() (Link, error)

// Options tune a ChatClient.
type Options struct {
	Nick              string
	MaxHistory        int
	ReconnectInterval time.Duration // <= 0 disables automatic reconnects
	MaxReconnect      int           // 0 means unlimited
}

// OptionsFromConfig reads the client section of cfg
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Nick:              cfg.Client.Nick,
		MaxHistory:        cfg.Client.MaxHistory,
		ReconnectInterval: cfg.GetReconnectInterval(),
		MaxReconnect:      cfg.Client.MaxReconnect,
	}
}

// ChatClient is the client session state machine and local mirror of the server registry.
// It is driven by Update from one goroutine.
type ChatClient struct {
	dial  Dialer
	opts  Options
	link  Link
	state State

	mirror  map[string]string
	history []Line

	autoReconnect bool
	attempts      int
	nextAttempt   time.Time
}

// New creates a disconnected client
func New(dial Dialer, opts Options) *ChatClient {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 500
	}
	return &ChatClient{
		dial:   dial,
		opts:   opts,
		state:  Disconnected,
		mirror: make(map[string]string),
	}
}

// State returns the current session state
func (c *ChatClient) State() State {
	return c.state
}

// Nick returns the nickname sent on Init
func (c *ChatClient) Nick() string {
	return c.opts.Nick
}

// Clients returns a copy of the local mirror
func (c *ChatClient) Clients() map[string]string {
	out := make(map[string]string, len(c.mirror))
	for addr, nick := range c.mirror {
		out[addr] = nick
	}
	return out
}

// History returns a copy of the chat history, oldest first
func (c *ChatClient) History() []Line {
	return append([]Line(nil), c.history...)
}

// Connect starts a new session. Automatic reconnects stay enabled until Disconnect.
func (c *ChatClient) Connect(now time.Time) error {
	if c.state != Disconnected {
		return ErrNotDisconnected
	}
	if err := protocol.ValidateNick(c.opts.Nick); err != nil {
		return err
	}
	c.autoReconnect = true
	c.attempts = 0
	c.nextAttempt = time.Time{}
	if err := c.open(now); err != nil {
		c.scheduleReconnect(now)
		return err
	}
	return nil
}

func (c *ChatClient) open(now time.Time) error {
	link, err := c.dial()
	if err != nil {
		c.addLine(now, LineStatus, "", "", fmt.Sprintf("connect failed: %v", err))
		return fmt.Errorf("failed to open link: %w", err)
	}
	c.link = link
	c.state = Connecting
	c.addLine(now, LineStatus, "", "", "connecting...")
	logging.Logf("[client] connecting (nick=%q)", c.opts.Nick)
	return nil
}

// Disconnect ends the session on user request; no reconnect follows.
func (c *ChatClient) Disconnect(now time.Time) {
	c.autoReconnect = false
	if c.link == nil {
		return
	}
	c.link.Disconnect()
	_ = c.link.Close()
	c.link = nil
	c.state = Disconnected
	c.mirror = make(map[string]string)
	c.addLine(now, LineStatus, "", "", "disconnected")
	recordSessionEnd(transport.DisconnectedByClient.String())
	logging.Logf("[client] disconnected by user")
}

// SubmitText sends a chat line. Only allowed once joined, and the trimmed body
// must fit protocol.MaxTextLength.
func (c *ChatClient) SubmitText(body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return ErrEmptyMessage
	}
	if err := protocol.ValidateText(body); err != nil {
		return err
	}
	if c.state != Joined {
		return fmt.Errorf("%w: state is %s", ErrNotJoined, c.state)
	}
	if err := c.sendCommand(protocol.Text{Body: body}); err != nil {
		return err
	}
	recordMessageSent()
	return nil
}

func (c *ChatClient) sendCommand(cmd protocol.ClientCommand) error {
	data, err := protocol.EncodeClient(cmd)
	if err != nil {
		return err
	}
	if err := c.link.SendMessage(protocol.ReliableChannel, data); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	return nil
}

// Update runs one tick and returns what changed, in arrival order.
func (c *ChatClient) Update(now time.Time) []Event {
	if c.link == nil {
		c.maybeReconnect(now)
		if c.link == nil {
			return nil
		}
	}

	c.link.Update(now)
	if reason, gone := c.link.DisconnectReason(); gone {
		return []Event{c.endSession(now, reason)}
	}

	if c.state == Connecting && c.link.IsConnected() {
		if err := c.sendCommand(protocol.Init{Nick: c.opts.Nick}); err != nil {
			logging.Logf("[client] failed to send init (err=%v)", err)
			return nil
		}
		c.state = AwaitingInit
		logging.Debugf("[client] init sent (nick=%q)", c.opts.Nick)
	}

	var events []Event
	for {
		data, ok := c.link.ReceiveMessage(protocol.ReliableChannel)
		if !ok {
			break
		}
		ev, err := protocol.DecodeServer(data)
		if err != nil {
			logging.Logf("[client] dropping undecodable message (err=%v)", err)
			continue
		}
		if out := c.apply(now, ev); out != nil {
			events = append(events, out)
		}
	}
	return events
}

// apply mutates the mirror for one server event. Events that arrive outside the state
// they belong to are dropped.
func (c *ChatClient) apply(now time.Time, ev protocol.ServerEvent) Event {
	switch m := ev.(type) {
	case protocol.InitClient:
		if c.state != AwaitingInit {
			logging.Debugf("[client] ignoring snapshot (state=%s)", c.state)
			return nil
		}
		recordEventReceived("init_client")
		c.mirror = make(map[string]string, len(m.Clients))
		for addr, nick := range m.Clients {
			c.mirror[addr] = nick
		}
		c.state = Joined
		c.attempts = 0
		recordSessionJoined()
		c.addLine(now, LineStatus, "", "", fmt.Sprintf("joined as %s (%d online)", c.opts.Nick, len(c.mirror)))
		logging.Logf("[client] joined (nick=%q clients=%d)", c.opts.Nick, len(c.mirror))
		return SessionJoined{Clients: c.Clients()}

	case protocol.ClientConnected:
		if c.state != Joined {
			return nil
		}
		recordEventReceived("client_connected")
		c.mirror[m.Addr] = m.Nick
		c.addLine(now, LineJoin, m.Addr, m.Nick, "")
		return PeerJoined{Addr: m.Addr, Nick: m.Nick}

	case protocol.ClientDisconnected:
		if c.state != Joined {
			return nil
		}
		recordEventReceived("client_disconnected")
		nick := c.nickOf(m.Addr)
		delete(c.mirror, m.Addr)
		c.addLine(now, LineLeave, m.Addr, nick, m.Reason.String())
		return PeerLeft{Addr: m.Addr, Nick: nick, Reason: m.Reason}

	case protocol.ClientMessage:
		if c.state != Joined {
			return nil
		}
		recordEventReceived("client_message")
		nick := c.nickOf(m.Addr)
		c.addLine(now, LineMessage, m.Addr, nick, m.Body)
		return Message{Addr: m.Addr, Nick: nick, Body: m.Body}

	default:
		logging.Logf("[client] unhandled server event (type=%T)", ev)
		return nil
	}
}

func (c *ChatClient) nickOf(addr string) string {
	if nick, ok := c.mirror[addr]; ok {
		return nick
	}
	return addr
}

func (c *ChatClient) endSession(now time.Time, reason transport.DisconnectReason) Event {
	_ = c.link.Close()
	c.link = nil
	c.state = Disconnected
	c.mirror = make(map[string]string)
	c.addLine(now, LineStatus, "", "", fmt.Sprintf("connection lost (%s)", reason))
	recordSessionEnd(reason.String())
	logging.Logf("[client] session ended (reason=%s)", reason)
	c.scheduleReconnect(now)
	return SessionEnded{Reason: reason}
}

func (c *ChatClient) addLine(now time.Time, kind LineKind, addr, nick, text string) {
	c.history = append(c.history, Line{Time: now, Kind: kind, Addr: addr, Nick: nick, Text: text})
	if len(c.history) > c.opts.MaxHistory {
		c.history = c.history[len(c.history)-c.opts.MaxHistory:]
	}
}
