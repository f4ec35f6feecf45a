package protocol

import "github.com/relay-chat/pkg/transport"

// ClientCommand is a message a client sends to the server.
// The set is closed: Text and Init are the only implementations.
type ClientCommand interface {
	clientCommand()
}

// Text is a chat line. Valid only after Init.
type Text struct {
	Body string
}

// Init is the first message of a session and carries the chosen nickname.
type Init struct {
	Nick string
}

func (Text) clientCommand() {}
func (Init) clientCommand() {}

// ServerEvent is a message the server sends to clients.
// The set is closed: ClientConnected, ClientDisconnected, ClientMessage and InitClient.
type ServerEvent interface {
	serverEvent()
}

// ClientConnected announces a peer that completed Init.
type ClientConnected struct {
	Addr string
	Nick string
}

// ClientDisconnected announces a peer whose connection ended.
type ClientDisconnected struct {
	Addr   string
	Reason transport.DisconnectReason
}

// ClientMessage carries a chat line from Addr.
type ClientMessage struct {
	Addr string
	Body string
}

// InitClient is the registry snapshot sent privately to a client that just joined.
// It always includes the joining client itself.
type InitClient struct {
	Clients map[string]string
}

func (ClientConnected) serverEvent()    {}
func (ClientDisconnected) serverEvent() {}
func (ClientMessage) serverEvent()      {}
func (InitClient) serverEvent()         {}
