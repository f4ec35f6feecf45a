package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/relay-chat/pkg/logging"
	"github.com/relay-chat/pkg/metrics"
	"github.com/relay-chat/pkg/protocol"
	"github.com/relay-chat/pkg/transport"
)

// Transport is the part of *transport.Server the chat server drives.
type Transport interface {
	Update(now time.Time)
	PollEvent() (transport.Event, bool)
	ConnectedClients() []string
	ReceiveMessage(addr string, channel uint8) ([]byte, bool)
	SendMessage(addr string, channel uint8, data []byte) error
	Disconnect(addr string)
}

// ChatServer owns the session registry and turns transport traffic into chat events.
// Update must be called from a single goroutine; it is the registry's only writer.
type ChatServer struct {
	transport Transport
	clients   *Registry
	registry  *prometheus.Registry
	collector *metrics.Collector
	now       time.Time // time of the tick in progress
}

// NewChatServer creates a chat server on top of t
func NewChatServer(t Transport) *ChatServer {
	registry := prometheus.NewRegistry()

	s := &ChatServer{
		transport: t,
		clients:   NewRegistry(),
		registry:  registry,
	}

	// Create collector with a callback that reads this server's registry
	s.collector = metrics.NewCollector(s.clients.Status)
	registry.MustRegister(s.collector)

	return s
}

// Registry returns the session registry
func (s *ChatServer) Registry() *Registry {
	return s.clients
}

// Collector returns the metrics collector
func (s *ChatServer) Collector() *metrics.Collector {
	return s.collector
}

// Update runs one tick: transport I/O, lifecycle events in arrival order, then every
// connected peer's queued messages. Nothing here blocks.
func (s *ChatServer) Update(now time.Time) {
	s.now = now
	s.transport.Update(now)

	for {
		ev, ok := s.transport.PollEvent()
		if !ok {
			break
		}
		switch ev.Kind {
		case transport.EventConnected:
			s.OnConnect(ev.Addr)
		case transport.EventDisconnected:
			s.OnDisconnect(ev.Addr, ev.Reason)
		default:
			logging.Logf("[server] unhandled transport event (kind=%d remote=%s)", ev.Kind, ev.Addr)
		}
	}

	for _, addr := range s.transport.ConnectedClients() {
		for {
			data, ok := s.transport.ReceiveMessage(addr, protocol.ReliableChannel)
			if !ok {
				break
			}
			s.handlePayload(addr, data)
		}
	}
}

func (s *ChatServer) timestamp() time.Time {
	if s.now.IsZero() {
		return time.Now()
	}
	return s.now
}

// Run calls Update every interval until ctx is cancelled, then disconnects every peer.
func (s *ChatServer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logging.Logf("[server] running (tick=%v)", interval)
	for {
		select {
		case <-ctx.Done():
			if all, ok := s.transport.(interface{ DisconnectAll() }); ok {
				all.DisconnectAll()
			}
			s.LogClientsTable()
			logging.Log("[server] stopped")
			return
		case now := <-ticker.C:
			s.Update(now)
		}
	}
}

// LogClientsTable prints the joined peers in one line
func (s *ChatServer) LogClientsTable() {
	logging.Logf("[registry] instance=%s %s", logging.GetInstanceID(), s.clients.tableLine())
}

// StartMetricsServer starts the metrics server
func (s *ChatServer) StartMetricsServer(metricsAddr, metricsPath string) error {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
<head><title>Relay Chat Exporter</title></head>
<body>
<h1>Relay Chat Exporter</h1>
<p><a href="` + metricsPath + `">Metrics</a></p>
</body>
</html>`))
	})

	logging.Logf("[listen] metrics addr=%s path=%s health=/healthz", metricsAddr, metricsPath)
	return http.ListenAndServe(metricsAddr, mux)
}
