package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/relay-chat/pkg/transport"
)

// ErrMalformedMessage is wrapped by every decode failure.
var ErrMalformedMessage = errors.New("malformed message")

const (
	typeText               = "text"
	typeInit               = "init"
	typeClientConnected    = "client_connected"
	typeClientDisconnected = "client_disconnected"
	typeClientMessage      = "client_message"
	typeInitClient         = "init_client"
)

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type textData struct {
	Body string `json:"body"`
}

type initData struct {
	Nick string `json:"nick"`
}

type connectedData struct {
	Addr string `json:"addr"`
	Nick string `json:"nick"`
}

type disconnectedData struct {
	Addr   string                     `json:"addr"`
	Reason transport.DisconnectReason `json:"reason"`
}

type messageData struct {
	Addr string `json:"addr"`
	Body string `json:"body"`
}

type initClientData struct {
	Clients map[string]string `json:"clients"`
}

func wrap(kind string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", kind, err)
	}
	return json.Marshal(envelope{Type: kind, Data: raw})
}

func unwrap(b []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" || len(env.Data) == 0 {
		return env, fmt.Errorf("%w: missing type or data", ErrMalformedMessage)
	}
	return env, nil
}

func decodeData(env envelope, dst interface{}) error {
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedMessage, env.Type, err)
	}
	return nil
}

// EncodeClient serializes a client command.
func EncodeClient(cmd ClientCommand) ([]byte, error) {
	switch m := cmd.(type) {
	case Text:
		return wrap(typeText, textData{Body: m.Body})
	case Init:
		return wrap(typeInit, initData{Nick: m.Nick})
	default:
		return nil, fmt.Errorf("unhandled client command %T", cmd)
	}
}

// DecodeClient parses a client command.
func DecodeClient(b []byte) (ClientCommand, error) {
	env, err := unwrap(b)
	if err != nil {
		return nil, err
	}
	switch env.Type {
	case typeText:
		var d textData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		return Text{Body: d.Body}, nil
	case typeInit:
		var d initData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		return Init{Nick: d.Nick}, nil
	default:
		return nil, fmt.Errorf("%w: unknown client command %q", ErrMalformedMessage, env.Type)
	}
}

// EncodeServer serializes a server event.
func EncodeServer(ev ServerEvent) ([]byte, error) {
	switch m := ev.(type) {
	case ClientConnected:
		return wrap(typeClientConnected, connectedData{Addr: m.Addr, Nick: m.Nick})
	case ClientDisconnected:
		return wrap(typeClientDisconnected, disconnectedData{Addr: m.Addr, Reason: m.Reason})
	case ClientMessage:
		return wrap(typeClientMessage, messageData{Addr: m.Addr, Body: m.Body})
	case InitClient:
		clients := m.Clients
		if clients == nil {
			clients = map[string]string{}
		}
		return wrap(typeInitClient, initClientData{Clients: clients})
	default:
		return nil, fmt.Errorf("unhandled server event %T", ev)
	}
}

// DecodeServer parses a server event.
func DecodeServer(b []byte) (ServerEvent, error) {
	env, err := unwrap(b)
	if err != nil {
		return nil, err
	}
	switch env.Type {
	case typeClientConnected:
		var d connectedData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		if d.Addr == "" {
			return nil, fmt.Errorf("%w: %s without addr", ErrMalformedMessage, env.Type)
		}
		return ClientConnected{Addr: d.Addr, Nick: d.Nick}, nil
	case typeClientDisconnected:
		var d disconnectedData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		if d.Addr == "" || !d.Reason.Valid() {
			return nil, fmt.Errorf("%w: %s without addr or reason", ErrMalformedMessage, env.Type)
		}
		return ClientDisconnected{Addr: d.Addr, Reason: d.Reason}, nil
	case typeClientMessage:
		var d messageData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		if d.Addr == "" {
			return nil, fmt.Errorf("%w: %s without addr", ErrMalformedMessage, env.Type)
		}
		return ClientMessage{Addr: d.Addr, Body: d.Body}, nil
	case typeInitClient:
		var d initClientData
		if err := decodeData(env, &d); err != nil {
			return nil, err
		}
		if d.Clients == nil {
			d.Clients = map[string]string{}
		}
		return InitClient{Clients: d.Clients}, nil
	default:
		return nil, fmt.Errorf("%w: unknown server event %q", ErrMalformedMessage, env.Type)
	}
}
