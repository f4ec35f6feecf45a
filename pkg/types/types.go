package types

import "time"

// ClientInfo is what the server knows about one connected peer
type ClientInfo struct {
	Addr        string    // Transport address, the peer's identity for this session
	Nick        string    // Nickname from Init, empty while pending
	ConnectedAt time.Time // When the transport connection was established
	JoinedAt    time.Time // When Init was accepted, zero while pending
	Messages    int       // Text messages accepted from this peer
}

// Joined reports whether the peer has completed Init
func (c *ClientInfo) Joined() bool {
	return !c.JoinedAt.IsZero()
}
