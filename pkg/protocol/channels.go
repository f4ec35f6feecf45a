package protocol

import (
	"time"

	"github.com/relay-chat/pkg/config"
	"github.com/relay-chat/pkg/transport"
)

// ReliableChannel is the index every chat message travels on.
const ReliableChannel uint8 = 0

// DefaultMessageResendTime is the resend interval both ends use unless configured otherwise.
const DefaultMessageResendTime = 500 * time.Millisecond

// ChannelsConfig declares the single reliable channel. Server and client build their channel
// list from this function so count and index always agree; nothing is negotiated on the wire.
func ChannelsConfig(resend time.Duration) []transport.ReliableChannelConfig {
	ch := transport.DefaultReliableChannelConfig()
	ch.MessageResendTime = DefaultMessageResendTime
	if resend > 0 {
		ch.MessageResendTime = resend
	}
	return []transport.ReliableChannelConfig{ch}
}

// TransportConfig assembles the transport settings shared by server and client.
func TransportConfig(cfg *config.Config) transport.Config {
	tc := transport.DefaultConfig()
	tc.Channels = ChannelsConfig(0)
	if cfg == nil {
		return tc
	}

	tc.Channels = ChannelsConfig(cfg.GetMessageResendTime())
	if cfg.Channel.MaxMessageSize > 0 {
		tc.Channels[ReliableChannel].MaxMessageSize = cfg.Channel.MaxMessageSize
	}
	if cfg.Channel.MaxPendingMessages > 0 {
		tc.Channels[ReliableChannel].MaxPendingMessages = cfg.Channel.MaxPendingMessages
	}
	if cfg.Transport.ProtocolID != 0 {
		tc.ProtocolID = cfg.Transport.ProtocolID
	}
	if cfg.Server.MaxClients > 0 {
		tc.MaxClients = cfg.Server.MaxClients
	}
	if cfg.Transport.ConnectionTimeout > 0 {
		tc.ConnectionTimeout = cfg.GetConnectionTimeout()
	}
	if cfg.Transport.HeartbeatInterval > 0 {
		tc.HeartbeatInterval = cfg.GetHeartbeatInterval()
	}
	if cfg.Transport.ConnectRetryInterval > 0 {
		tc.ConnectRetryInterval = cfg.GetConnectRetryInterval()
	}
	return tc
}
