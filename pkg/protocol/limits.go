package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/relay-chat/pkg/transport"
)

const (
	// MaxNickLength bounds an Init nickname in bytes.
	MaxNickLength = 64
	// MaxTextLength bounds a Text body in bytes. The ClientMessage the server builds from it
	// must still fit in one channel message, so it is well below the channel limit.
	MaxTextLength = 4096

	// maxAddrLength bounds a textual transport address (bracketed IPv6 with zone and port).
	maxAddrLength = 64
)

var (
	ErrNickTooLong = errors.New("nickname too long")
	ErrTextTooLong = errors.New("message body too long")
)

// ValidateNick checks nick against MaxNickLength.
func ValidateNick(nick string) error {
	if len(nick) > MaxNickLength {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrNickTooLong, len(nick), MaxNickLength)
	}
	return nil
}

// ValidateText checks body against MaxTextLength.
func ValidateText(body string) error {
	if len(body) > MaxTextLength {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrTextTooLong, len(body), MaxTextLength)
	}
	return nil
}

// CheckLimits verifies that the largest events the nick and text limits allow still fit in one
// message on the reliable channel: a full InitClient snapshot of MaxClients peers and a
// ClientMessage carrying a MaxTextLength body. Every byte is chosen to need JSON escaping.
func CheckLimits(tc transport.Config) error {
	if int(ReliableChannel) >= len(tc.Channels) {
		return fmt.Errorf("reliable channel %d not declared", ReliableChannel)
	}
	limit := tc.Channels[ReliableChannel].MaxMessageSize

	worstNick := strings.Repeat("<", MaxNickLength)
	clients := make(map[string]string, tc.MaxClients)
	for i := 0; i < tc.MaxClients; i++ {
		clients[fmt.Sprintf("%0*d", maxAddrLength, i)] = worstNick
	}
	snapshot, err := EncodeServer(InitClient{Clients: clients})
	if err != nil {
		return err
	}
	if len(snapshot) > limit {
		return fmt.Errorf("a snapshot of %d clients can take %d bytes, above max message size %d", tc.MaxClients, len(snapshot), limit)
	}

	msg, err := EncodeServer(ClientMessage{
		Addr: strings.Repeat("0", maxAddrLength),
		Body: strings.Repeat("<", MaxTextLength),
	})
	if err != nil {
		return err
	}
	if len(msg) > limit {
		return fmt.Errorf("a %d byte text can take %d bytes, above max message size %d", MaxTextLength, len(msg), limit)
	}
	return nil
}
