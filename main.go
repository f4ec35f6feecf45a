package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relay-chat/pkg/client"
	"github.com/relay-chat/pkg/config"
	"github.com/relay-chat/pkg/logging"
	"github.com/relay-chat/pkg/protocol"
	"github.com/relay-chat/pkg/server"
	"github.com/relay-chat/pkg/transport"
	"github.com/relay-chat/pkg/tui"
	"gopkg.in/alecthomas/kingpin.v2"
)

const defaultPort = "5000"

var (
	configFile    = kingpin.Flag("config.file", "Path to configuration file.").Default("config.yaml").String()
	listenAddress = kingpin.Flag("web.listen-address", "Address to listen on for web interface and telemetry.").String()
	telemetryPath = kingpin.Flag("web.telemetry-path", "Path under which to expose metrics.").String()
	logLevel      = kingpin.Flag("log.level", "Log level (info or debug).").String()

	serverCmd = kingpin.Command("server", "Run the chat server.")
	bindAddr  = serverCmd.Flag("bind-addr", "UDP address to bind for chat traffic").String()

	clientCmd  = kingpin.Command("client", "Run the terminal chat client.")
	serverAddr = clientCmd.Flag("server-addr", "Chat server UDP address").String()
	nick       = clientCmd.Flag("nick", "Nickname announced to other clients").String()

	// Global config
	appConfig *config.Config
)

func main() {
	command := kingpin.Parse()

	// Load configuration
	var err error
	appConfig, err = config.LoadConfig(*configFile)
	if err != nil {
		// If config file doesn't exist, continue with defaults
		logging.Logf("Warning: Failed to load config file: %v, using defaults", err)
		appConfig = config.Default()
	}
	applyFlags(command)
	logging.SetLevel(appConfig.Log.Level)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logging.Log("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	switch command {
	case serverCmd.FullCommand():
		err = runServer(ctx)
	case clientCmd.FullCommand():
		err = runClient(ctx)
	}
	if err != nil {
		logging.Fatalf("%s error: %v", command, err)
	}
	logging.Flush()
}

// applyFlags lets command line flags win over file and environment
func applyFlags(command string) {
	if *logLevel != "" {
		appConfig.Log.Level = *logLevel
	}
	switch command {
	case serverCmd.FullCommand():
		if *bindAddr != "" {
			appConfig.Server.BindAddr = *bindAddr
		}
		if *listenAddress != "" {
			appConfig.Server.ListenAddress = *listenAddress
		}
		if *telemetryPath != "" {
			appConfig.Server.TelemetryPath = *telemetryPath
		}
	case clientCmd.FullCommand():
		if *serverAddr != "" {
			appConfig.Client.ServerAddr = *serverAddr
		}
		if *nick != "" {
			appConfig.Client.Nick = *nick
		}
		if *listenAddress != "" {
			appConfig.Client.ListenAddress = *listenAddress
		}
		if *telemetryPath != "" {
			appConfig.Client.TelemetryPath = *telemetryPath
		}
	}
}

func runServer(ctx context.Context) error {
	bind := config.NormalizeAddr(appConfig.Server.BindAddr, "0.0.0.0", defaultPort)
	tc := protocol.TransportConfig(appConfig)
	if err := protocol.CheckLimits(tc); err != nil {
		return fmt.Errorf("invalid channel config: %w", err)
	}
	ts, err := transport.Listen(bind, tc)
	if err != nil {
		return err
	}
	defer ts.Close()
	logging.Logf("[listen] chat addr=%s max_clients=%d resend=%v", ts.LocalAddr(), appConfig.Server.MaxClients, appConfig.GetMessageResendTime())

	chat := server.NewChatServer(ts)

	go func() {
		if err := chat.StartMetricsServer(appConfig.Server.ListenAddress, appConfig.Server.TelemetryPath); err != nil {
			logging.Fatalf("Metrics server error: %v", err)
		}
	}()

	chat.Run(ctx, appConfig.GetServerTickInterval())
	return nil
}

func runClient(ctx context.Context) error {
	addr := config.NormalizeAddr(appConfig.Client.ServerAddr, "127.0.0.1", defaultPort)
	tc := protocol.TransportConfig(appConfig)
	if err := protocol.CheckLimits(tc); err != nil {
		return fmt.Errorf("invalid channel config: %w", err)
	}
	dial := func() (client.Link, error) {
		return transport.Dial(addr, tc)
	}

	chat := client.New(dial, client.OptionsFromConfig(appConfig))
	program, writer := tui.Start(chat, tui.Options{
		ServerAddr:   addr,
		TickInterval: appConfig.GetClientTickInterval(),
		MaxLogLines:  appConfig.Client.MaxLogLines,
	})
	logging.SetOutput(writer)
	defer logging.SetOutput(os.Stderr)

	if appConfig.Client.ListenAddress != "" {
		go func() {
			if err := client.StartMetricsServer(appConfig.Client.ListenAddress, appConfig.Client.TelemetryPath); err != nil {
				logging.Logf("Client metrics server error: %v", err)
			}
		}()
	}

	if err := chat.Connect(time.Now()); err != nil {
		logging.Logf("[client] initial connect failed (addr=%s err=%v)", addr, err)
	}

	go func() {
		<-ctx.Done()
		program.Quit()
	}()

	_, err := program.Run()
	chat.Disconnect(time.Now())
	return err
}
