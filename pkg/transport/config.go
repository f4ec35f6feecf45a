package transport

import (
	"errors"
	"fmt"
	"time"
)

const (
	// headerSize is type (1) + protocol id (8) + session (16)
	headerSize = 1 + 8 + 16
	// messageOverhead is channel (1) + seq (8) + flags (1) + length (2)
	messageOverhead = 1 + 8 + 1 + 2
	// ackSize is channel (1) + seq (8)
	ackSize = 1 + 8
	// payloadCounts is ack count (2) + message count (2)
	payloadCounts = 2 + 2

	DefaultMaxPacketSize = 1200
	// MaxMessageSizeLimit caps ReliableChannelConfig.MaxMessageSize.
	MaxMessageSizeLimit = 1 << 20
)

// ReliableChannelConfig describes one ordered, resend-on-loss channel.
type ReliableChannelConfig struct {
	// MessageResendTime is how long an unacknowledged message waits before it is sent again.
	MessageResendTime time.Duration
	// MaxMessageSize bounds a single message payload in bytes. Messages that do not fit in
	// one packet are split into slices and reassembled by the receiver.
	MaxMessageSize int
	// MaxPendingMessages bounds the unacknowledged send queue, counted in slices.
	// Overflow disconnects the peer.
	MaxPendingMessages int
	// ReceiveWindow bounds how far ahead of the next expected sequence a message is buffered.
	ReceiveWindow int
}

// DefaultReliableChannelConfig returns the default channel behavior.
func DefaultReliableChannelConfig() ReliableChannelConfig {
	return ReliableChannelConfig{
		MessageResendTime:  500 * time.Millisecond,
		MaxMessageSize:     64 * 1024,
		MaxPendingMessages: 1024,
		ReceiveWindow:      1024,
	}
}

// Config is shared by both ends of a connection. Channels must match on both sides.
type Config struct {
	ProtocolID           uint64
	MaxClients           int
	ConnectionTimeout    time.Duration
	HeartbeatInterval    time.Duration
	ConnectRetryInterval time.Duration
	MaxPacketSize        int
	Channels             []ReliableChannelConfig
}

// DefaultConfig returns a config with one default reliable channel.
func DefaultConfig() Config {
	return Config{
		ProtocolID:           0x7265_6c61_7963_6874,
		MaxClients:           64,
		ConnectionTimeout:    10 * time.Second,
		HeartbeatInterval:    200 * time.Millisecond,
		ConnectRetryInterval: 100 * time.Millisecond,
		MaxPacketSize:        DefaultMaxPacketSize,
		Channels:             []ReliableChannelConfig{DefaultReliableChannelConfig()},
	}
}

// Validate checks the config is usable.
func (c Config) Validate() error {
	if len(c.Channels) == 0 {
		return errors.New("at least one channel is required")
	}
	if len(c.Channels) > 256 {
		return fmt.Errorf("too many channels: %d", len(c.Channels))
	}
	if c.MaxClients <= 0 {
		return fmt.Errorf("max clients must be positive, got %d", c.MaxClients)
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive, got %v", c.ConnectionTimeout)
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.ConnectionTimeout {
		return fmt.Errorf("heartbeat interval %v must be positive and below connection timeout %v", c.HeartbeatInterval, c.ConnectionTimeout)
	}
	if c.sliceSize() < 64 {
		return fmt.Errorf("max packet size %d leaves no room for messages", c.MaxPacketSize)
	}
	if c.ConnectRetryInterval <= 0 {
		return fmt.Errorf("connect retry interval must be positive, got %v", c.ConnectRetryInterval)
	}
	for i, ch := range c.Channels {
		if ch.MessageResendTime <= 0 {
			return fmt.Errorf("channel %d: message resend time must be positive", i)
		}
		if ch.MaxPendingMessages <= 0 || ch.ReceiveWindow <= 0 {
			return fmt.Errorf("channel %d: pending and window sizes must be positive", i)
		}
		if ch.MaxMessageSize <= 0 || ch.MaxMessageSize > MaxMessageSizeLimit {
			return fmt.Errorf("channel %d: max message size %d outside (0, %d]", i, ch.MaxMessageSize, MaxMessageSizeLimit)
		}
		if n := sliceCount(ch.MaxMessageSize, c.sliceSize()); n > ch.MaxPendingMessages {
			return fmt.Errorf("channel %d: a %d byte message needs %d slices, above max pending %d", i, ch.MaxMessageSize, n, ch.MaxPendingMessages)
		}
	}
	return nil
}

// sliceSize is the largest message fragment that fits in one payload packet.
func (c Config) sliceSize() int {
	size := c.MaxPacketSize - headerSize - payloadCounts - messageOverhead
	if size > 0xFFFF {
		size = 0xFFFF
	}
	return size
}

func sliceCount(size, sliceSize int) int {
	if size <= sliceSize {
		return 1
	}
	return (size + sliceSize - 1) / sliceSize
}
