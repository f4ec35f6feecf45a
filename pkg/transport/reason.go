package transport

import "fmt"

// DisconnectReason explains why a connection ended.
type DisconnectReason uint8

const (
	Timeout DisconnectReason = iota + 1
	DisconnectedByClient
	DisconnectedByServer
	ServerFull
	ChannelError
	SessionReplaced
)

var reasonNames = map[DisconnectReason]string{
	Timeout:              "timeout",
	DisconnectedByClient: "disconnected_by_client",
	DisconnectedByServer: "disconnected_by_server",
	ServerFull:           "server_full",
	ChannelError:         "channel_error",
	SessionReplaced:      "session_replaced",
}

// Valid reports whether r is one of the declared reasons.
func (r DisconnectReason) Valid() bool {
	_, ok := reasonNames[r]
	return ok
}

func (r DisconnectReason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// MarshalText implements encoding.TextMarshaler
func (r DisconnectReason) MarshalText() ([]byte, error) {
	name, ok := reasonNames[r]
	if !ok {
		return nil, fmt.Errorf("unknown disconnect reason %d", uint8(r))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *DisconnectReason) UnmarshalText(text []byte) error {
	s := string(text)
	for reason, name := range reasonNames {
		if name == s {
			*r = reason
			return nil
		}
	}
	return fmt.Errorf("unknown disconnect reason %q", s)
}
