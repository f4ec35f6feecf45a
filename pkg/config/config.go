package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Client    ClientConfig    `yaml:"client"`
	Channel   ChannelConfig   `yaml:"channel"`
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig chat server configuration
type ServerConfig struct {
	BindAddr      string `yaml:"bind_addr"`      // UDP listen address (format: ip:port or :port)
	ListenAddress string `yaml:"listen_address"` // Metrics listener address
	TelemetryPath string `yaml:"telemetry_path"` // Metrics path
	MaxClients    int    `yaml:"max_clients"`    // Connections beyond this are denied with server_full
	TickInterval  int    `yaml:"tick_interval"`  // Update cadence in milliseconds
}

// ClientConfig chat client configuration
type ClientConfig struct {
	ServerAddr        string `yaml:"server_addr"`        // Server UDP address (host:port)
	Nick              string `yaml:"nick"`               // Nickname sent in Init (defaults to USER)
	ListenAddress     string `yaml:"listen_address"`     // Optional metrics listener address, empty disables
	TelemetryPath     string `yaml:"telemetry_path"`     // Metrics path
	TickInterval      int    `yaml:"tick_interval"`      // Update cadence in milliseconds
	ReconnectInterval int    `yaml:"reconnect_interval"` // Reconnect interval in seconds (negative disables reconnect)
	MaxReconnect      int    `yaml:"max_reconnect"`      // Max reconnect attempts (0 means infinite)
	MaxHistory        int    `yaml:"max_history"`        // Chat lines kept for rendering
	MaxLogLines       int    `yaml:"max_log_lines"`      // Log lines kept in the log view
}

// ChannelConfig reliable channel configuration. Server and client must agree.
type ChannelConfig struct {
	MessageResendTime  int `yaml:"message_resend_time"` // Milliseconds before an unacked message is resent
	MaxMessageSize     int `yaml:"max_message_size"`
	MaxPendingMessages int `yaml:"max_pending_messages"`
}

// TransportConfig connection level configuration
type TransportConfig struct {
	ProtocolID           uint64 `yaml:"protocol_id"`
	ConnectionTimeout    int    `yaml:"connection_timeout"`     // Seconds of silence before a peer is dropped
	HeartbeatInterval    int    `yaml:"heartbeat_interval"`     // Keep-alive interval in milliseconds
	ConnectRetryInterval int    `yaml:"connect_retry_interval"` // Connection request retry in milliseconds
}

// LogConfig log configuration
type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig loads configuration from file
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.SetDefaults()
	config.ApplyEnvOverrides()

	return &config, nil
}

// Default returns a config with defaults and environment overrides applied
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	c.ApplyEnvOverrides()
	return c
}

// SetDefaults sets default values
func (c *Config) SetDefaults() {
	if c.Server.BindAddr == "" {
		c.Server.BindAddr = ":5000"
	}
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":9090"
	}
	if c.Server.TelemetryPath == "" {
		c.Server.TelemetryPath = "/metrics"
	}
	if c.Server.MaxClients == 0 {
		c.Server.MaxClients = 64
	}
	if c.Server.TickInterval == 0 {
		c.Server.TickInterval = 16
	}

	if c.Client.ServerAddr == "" {
		c.Client.ServerAddr = "127.0.0.1:5000"
	}
	if c.Client.Nick == "" {
		c.Client.Nick = os.Getenv("USER")
		if c.Client.Nick == "" {
			c.Client.Nick = "anonymous"
		}
	}
	if c.Client.TelemetryPath == "" {
		c.Client.TelemetryPath = "/metrics"
	}
	if c.Client.TickInterval == 0 {
		c.Client.TickInterval = 16
	}
	if c.Client.ReconnectInterval == 0 {
		c.Client.ReconnectInterval = 5
	}
	if c.Client.MaxHistory == 0 {
		c.Client.MaxHistory = 500
	}
	if c.Client.MaxLogLines == 0 {
		c.Client.MaxLogLines = 100
	}

	if c.Channel.MessageResendTime == 0 {
		c.Channel.MessageResendTime = 500
	}
	if c.Channel.MaxMessageSize == 0 {
		c.Channel.MaxMessageSize = 64 * 1024
	}
	if c.Channel.MaxPendingMessages == 0 {
		c.Channel.MaxPendingMessages = 1024
	}

	if c.Transport.ProtocolID == 0 {
		c.Transport.ProtocolID = 0x7265_6c61_7963_6874
	}
	if c.Transport.ConnectionTimeout == 0 {
		c.Transport.ConnectionTimeout = 10
	}
	if c.Transport.HeartbeatInterval == 0 {
		c.Transport.HeartbeatInterval = 200
	}
	if c.Transport.ConnectRetryInterval == 0 {
		c.Transport.ConnectRetryInterval = 100
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// GetServerTickInterval gets the server update cadence
func (c *Config) GetServerTickInterval() time.Duration {
	return time.Duration(c.Server.TickInterval) * time.Millisecond
}

// GetClientTickInterval gets the client update cadence
func (c *Config) GetClientTickInterval() time.Duration {
	return time.Duration(c.Client.TickInterval) * time.Millisecond
}

// GetReconnectInterval gets reconnect interval
func (c *Config) GetReconnectInterval() time.Duration {
	return time.Duration(c.Client.ReconnectInterval) * time.Second
}

// GetMessageResendTime gets the reliable channel resend interval
func (c *Config) GetMessageResendTime() time.Duration {
	return time.Duration(c.Channel.MessageResendTime) * time.Millisecond
}

// GetConnectionTimeout gets connection timeout
func (c *Config) GetConnectionTimeout() time.Duration {
	return time.Duration(c.Transport.ConnectionTimeout) * time.Second
}

// GetHeartbeatInterval gets keep-alive interval
func (c *Config) GetHeartbeatInterval() time.Duration {
	return time.Duration(c.Transport.HeartbeatInterval) * time.Millisecond
}

// GetConnectRetryInterval gets connection request retry interval
func (c *Config) GetConnectRetryInterval() time.Duration {
	return time.Duration(c.Transport.ConnectRetryInterval) * time.Millisecond
}

// ApplyEnvOverrides applies environment variable overrides
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("CHAT_BIND_ADDR"); val != "" {
		c.Server.BindAddr = val
	}
	if val := os.Getenv("CHAT_LISTEN_ADDRESS"); val != "" {
		c.Server.ListenAddress = val
	}
	if val := os.Getenv("CHAT_TELEMETRY_PATH"); val != "" {
		c.Server.TelemetryPath = val
	}
	envInt("CHAT_MAX_CLIENTS", &c.Server.MaxClients)
	if envInt("CHAT_TICK_MS", &c.Server.TickInterval) {
		c.Client.TickInterval = c.Server.TickInterval
	}

	if val := os.Getenv("CHAT_SERVER_ADDR"); val != "" {
		c.Client.ServerAddr = val
	}
	if val := os.Getenv("CHAT_NICK"); val != "" {
		c.Client.Nick = val
	}
	envInt("CHAT_RECONNECT_INTERVAL_SECONDS", &c.Client.ReconnectInterval)
	envInt("CHAT_MAX_RECONNECT", &c.Client.MaxReconnect)

	envInt("CHAT_RESEND_MS", &c.Channel.MessageResendTime)
	envInt("CHAT_CONNECTION_TIMEOUT_SECONDS", &c.Transport.ConnectionTimeout)
	envInt("CHAT_HEARTBEAT_MS", &c.Transport.HeartbeatInterval)

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
}

// envInt overwrites dst when name holds a valid integer
func envInt(name string, dst *int) bool {
	val := os.Getenv(name)
	if val == "" {
		return false
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return false
	}
	*dst = i
	return true
}
