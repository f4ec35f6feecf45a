package client

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/relay-chat/pkg/logging"
	"github.com/relay-chat/pkg/metrics"
)

// metricsCollector exports client-side chat metrics.
// This is separate from server-side relay_chat_* metrics.
type metricsCollector struct {
	info                   *prometheus.Desc
	messagesSentTotal      *prometheus.Desc
	eventsReceivedTotal    *prometheus.Desc
	sessionsTotal          *prometheus.Desc
	sessionEndsTotal       *prometheus.Desc
	reconnectAttemptsTotal *prometheus.Desc

	// state
	mu         sync.RWMutex
	sent       float64
	received   map[string]float64 // event type -> count
	sessions   float64
	ends       map[string]float64 // reason -> count
	reconnects float64
}

var (
	clientMetricsOnce sync.Once
	clientMetrics     *metricsCollector
)

// NewMetricsCollector returns a singleton prometheus.Collector for client-side metrics.
func NewMetricsCollector() prometheus.Collector {
	clientMetricsOnce.Do(func() {
		clientMetrics = &metricsCollector{
			info: prometheus.NewDesc(
				"relay_chat_client_info",
				"Client process info metric (always 1)",
				[]string{"node", "pod"},
				nil,
			),
			messagesSentTotal: prometheus.NewDesc(
				"relay_chat_client_messages_sent_total",
				"Total number of chat lines submitted by this client",
				[]string{"node", "pod"},
				nil,
			),
			eventsReceivedTotal: prometheus.NewDesc(
				"relay_chat_client_events_received_total",
				"Total number of server events applied by this client (by type)",
				[]string{"type", "node", "pod"},
				nil,
			),
			sessionsTotal: prometheus.NewDesc(
				"relay_chat_client_sessions_total",
				"Total number of sessions that reached the joined state",
				[]string{"node", "pod"},
				nil,
			),
			sessionEndsTotal: prometheus.NewDesc(
				"relay_chat_client_session_ends_total",
				"Total number of sessions that ended (by reason)",
				[]string{"reason", "node", "pod"},
				nil,
			),
			reconnectAttemptsTotal: prometheus.NewDesc(
				"relay_chat_client_reconnect_attempts_total",
				"Total number of automatic reconnect attempts",
				[]string{"node", "pod"},
				nil,
			),
			received: make(map[string]float64),
			ends:     make(map[string]float64),
		}
	})
	return clientMetrics
}

func (m *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.info
	ch <- m.messagesSentTotal
	ch <- m.eventsReceivedTotal
	ch <- m.sessionsTotal
	ch <- m.sessionEndsTotal
	ch <- m.reconnectAttemptsTotal
}

func (m *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	node, pod := metrics.NodeAndPod()

	ch <- prometheus.MustNewConstMetric(m.info, prometheus.GaugeValue, 1, node, pod)

	m.mu.RLock()
	defer m.mu.RUnlock()

	ch <- prometheus.MustNewConstMetric(m.messagesSentTotal, prometheus.CounterValue, m.sent, node, pod)
	for eventType, v := range m.received {
		ch <- prometheus.MustNewConstMetric(m.eventsReceivedTotal, prometheus.CounterValue, v, eventType, node, pod)
	}
	ch <- prometheus.MustNewConstMetric(m.sessionsTotal, prometheus.CounterValue, m.sessions, node, pod)
	for reason, v := range m.ends {
		ch <- prometheus.MustNewConstMetric(m.sessionEndsTotal, prometheus.CounterValue, v, reason, node, pod)
	}
	ch <- prometheus.MustNewConstMetric(m.reconnectAttemptsTotal, prometheus.CounterValue, m.reconnects, node, pod)
}

func recordMessageSent() {
	if clientMetrics == nil {
		return
	}
	clientMetrics.mu.Lock()
	defer clientMetrics.mu.Unlock()
	clientMetrics.sent++
}

func recordEventReceived(eventType string) {
	if clientMetrics == nil {
		return
	}
	clientMetrics.mu.Lock()
	defer clientMetrics.mu.Unlock()
	clientMetrics.received[eventType]++
}

func recordSessionJoined() {
	if clientMetrics == nil {
		return
	}
	clientMetrics.mu.Lock()
	defer clientMetrics.mu.Unlock()
	clientMetrics.sessions++
}

func recordSessionEnd(reason string) {
	if clientMetrics == nil {
		return
	}
	clientMetrics.mu.Lock()
	defer clientMetrics.mu.Unlock()
	clientMetrics.ends[reason]++
}

func recordReconnectAttempt() {
	if clientMetrics == nil {
		return
	}
	clientMetrics.mu.Lock()
	defer clientMetrics.mu.Unlock()
	clientMetrics.reconnects++
}

// StartMetricsServer exposes the client collector on its own registry. It blocks.
func StartMetricsServer(metricsAddr, metricsPath string) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(NewMetricsCollector())

	mux := http.NewServeMux()
	mux.Handle(metricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	logging.Logf("[listen] client metrics addr=%s path=%s", metricsAddr, metricsPath)
	return http.ListenAndServe(metricsAddr, mux)
}
