package metrics

import (
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector Prometheus metrics collector for the chat server
type Collector struct {
	// GetClients returns every connected peer keyed by address; the value reports whether it joined
	GetClients func() map[string]bool

	// Info metric (always 1)
	serverInfo *prometheus.Desc

	// Registry metrics
	clientsJoined    *prometheus.Desc
	clientsPending   *prometheus.Desc
	joinsTotal       *prometheus.Desc
	disconnectsTotal *prometheus.Desc

	// Traffic metrics
	messagesBroadcastTotal *prometheus.Desc
	eventsSentTotal        *prometheus.Desc
	sendErrorsTotal        *prometheus.Desc

	// Error metrics (low cardinality)
	protocolViolationsTotal *prometheus.Desc

	// Metrics counters (protected by mutex)
	metricsLock         sync.RWMutex
	joins               float64
	disconnectsByReason map[string]float64
	messagesBroadcast   float64
	eventsSentByType    map[string]float64
	sendErrors          float64
	violationsByKind    map[string]float64
}

// NewCollector creates a new metrics collector
func NewCollector(getClients func() map[string]bool) *Collector {
	return &Collector{
		GetClients: getClients,
		serverInfo: prometheus.NewDesc(
			"relay_chat_server_info",
			"Chat server process info metric (always 1)",
			[]string{"node", "pod"},
			nil,
		),
		clientsJoined: prometheus.NewDesc(
			"relay_chat_clients_joined",
			"Number of connected clients that completed Init",
			[]string{"node", "pod"},
			nil,
		),
		clientsPending: prometheus.NewDesc(
			"relay_chat_clients_pending",
			"Number of connected clients that have not sent Init yet",
			[]string{"node", "pod"},
			nil,
		),
		joinsTotal: prometheus.NewDesc(
			"relay_chat_joins_total",
			"Total number of accepted Init messages",
			[]string{"node", "pod"},
			nil,
		),
		disconnectsTotal: prometheus.NewDesc(
			"relay_chat_disconnects_total",
			"Total number of client disconnections by reason",
			[]string{"reason", "node", "pod"},
			nil,
		),
		messagesBroadcastTotal: prometheus.NewDesc(
			"relay_chat_messages_broadcast_total",
			"Total number of chat lines broadcast to joined clients",
			[]string{"node", "pod"},
			nil,
		),
		eventsSentTotal: prometheus.NewDesc(
			"relay_chat_events_sent_total",
			"Total number of server events queued per recipient, by event type",
			[]string{"type", "node", "pod"},
			nil,
		),
		sendErrorsTotal: prometheus.NewDesc(
			"relay_chat_send_errors_total",
			"Total number of events that could not be queued for a recipient",
			[]string{"node", "pod"},
			nil,
		),
		protocolViolationsTotal: prometheus.NewDesc(
			"relay_chat_protocol_violations_total",
			"Total number of dropped client messages by kind",
			[]string{"kind", "node", "pod"},
			nil,
		),
		disconnectsByReason: make(map[string]float64),
		eventsSentByType:    make(map[string]float64),
		violationsByKind:    make(map[string]float64),
	}
}

// RecordJoin records an accepted Init
func (c *Collector) RecordJoin() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.joins++
}

// RecordDisconnect records a client disconnection
func (c *Collector) RecordDisconnect(reason string) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.disconnectsByReason[reason]++
}

// RecordBroadcast records one chat line fanned out to the registry
func (c *Collector) RecordBroadcast() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.messagesBroadcast++
}

// RecordEventSent records one event queued for one recipient
func (c *Collector) RecordEventSent(eventType string) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.eventsSentByType[eventType]++
}

// RecordSendError records an event that could not be queued
func (c *Collector) RecordSendError() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.sendErrors++
}

// RecordViolation records a dropped client message
func (c *Collector) RecordViolation(kind string) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.violationsByKind[kind]++
}

// Describe implements prometheus.Collector interface
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.serverInfo
	ch <- c.clientsJoined
	ch <- c.clientsPending
	ch <- c.joinsTotal
	ch <- c.disconnectsTotal
	ch <- c.messagesBroadcastTotal
	ch <- c.eventsSentTotal
	ch <- c.sendErrorsTotal
	ch <- c.protocolViolationsTotal
}

// Collect implements prometheus.Collector interface
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	nodeName, podName := NodeAndPod()

	ch <- prometheus.MustNewConstMetric(c.serverInfo, prometheus.GaugeValue, 1, nodeName, podName)

	joined, pending := 0, 0
	if c.GetClients != nil {
		for _, ok := range c.GetClients() {
			if ok {
				joined++
			} else {
				pending++
			}
		}
	}
	ch <- prometheus.MustNewConstMetric(c.clientsJoined, prometheus.GaugeValue, float64(joined), nodeName, podName)
	ch <- prometheus.MustNewConstMetric(c.clientsPending, prometheus.GaugeValue, float64(pending), nodeName, podName)

	c.metricsLock.RLock()
	defer c.metricsLock.RUnlock()

	ch <- prometheus.MustNewConstMetric(c.joinsTotal, prometheus.CounterValue, c.joins, nodeName, podName)
	for reason, value := range c.disconnectsByReason {
		ch <- prometheus.MustNewConstMetric(c.disconnectsTotal, prometheus.CounterValue, value, reason, nodeName, podName)
	}
	ch <- prometheus.MustNewConstMetric(c.messagesBroadcastTotal, prometheus.CounterValue, c.messagesBroadcast, nodeName, podName)
	for eventType, value := range c.eventsSentByType {
		ch <- prometheus.MustNewConstMetric(c.eventsSentTotal, prometheus.CounterValue, value, eventType, nodeName, podName)
	}
	ch <- prometheus.MustNewConstMetric(c.sendErrorsTotal, prometheus.CounterValue, c.sendErrors, nodeName, podName)
	for kind, value := range c.violationsByKind {
		ch <- prometheus.MustNewConstMetric(c.protocolViolationsTotal, prometheus.CounterValue, value, kind, nodeName, podName)
	}
}

// NodeAndPod returns the node and pod labels from the environment
func NodeAndPod() (string, string) {
	nodeName := os.Getenv("NODE_NAME")
	if nodeName == "" {
		nodeName = "unknown"
	}
	podName := os.Getenv("POD_NAME")
	if podName == "" {
		podName = os.Getenv("HOSTNAME")
		if podName == "" {
			podName = "unknown"
		}
	}
	return nodeName, podName
}
