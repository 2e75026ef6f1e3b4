package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks daemon lifecycle, tool proxy traffic, and kernel channel
// activity. All methods are safe to call on a nil receiver, so callers never
// need to guard for disabled metrics.
type Metrics struct {
	// DaemonsStarted counts daemons accepted for execution.
	DaemonsStarted prometheus.Counter

	// DaemonsRunning tracks the number of currently running daemons.
	DaemonsRunning prometheus.Gauge

	// DaemonOutcomes counts finished daemons by terminal status.
	// Labels: status (completed|error|stopped)
	DaemonOutcomes *prometheus.CounterVec

	// DaemonEvents counts events emitted to the event sink.
	// Labels: type (output|status)
	DaemonEvents *prometheus.CounterVec

	// ToolCalls counts tool invocations through the proxy.
	// Labels: tool, status (success|error)
	ToolCalls *prometheus.CounterVec

	// KernelFrames counts frames received on kernel channels.
	// Labels: msg_type
	KernelFrames *prometheus.CounterVec

	// SessionsActive tracks the number of registered code mode sessions.
	SessionsActive prometheus.Gauge
}

// NewMetrics creates and registers all codemode metrics with the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DaemonsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "codemode_daemons_started_total",
			Help: "Total number of daemons accepted for execution",
		}),
		DaemonsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "codemode_daemons_running",
			Help: "Current number of running daemons",
		}),
		DaemonOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codemode_daemon_outcomes_total",
			Help: "Total number of finished daemons by terminal status",
		}, []string{"status"}),
		DaemonEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codemode_daemon_events_total",
			Help: "Total number of daemon events emitted to the event sink",
		}, []string{"type"}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codemode_tool_calls_total",
			Help: "Total number of tool invocations through the proxy",
		}, []string{"tool", "status"}),
		KernelFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codemode_kernel_frames_total",
			Help: "Total number of frames received on kernel channels",
		}, []string{"msg_type"}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "codemode_sessions_active",
			Help: "Current number of registered code mode sessions",
		}),
	}
}

// DaemonStarted records a daemon entering the running state.
func (m *Metrics) DaemonStarted() {
	if m == nil {
		return
	}
	m.DaemonsStarted.Inc()
	m.DaemonsRunning.Inc()
}

// DaemonFinished records a daemon reaching a terminal status.
func (m *Metrics) DaemonFinished(status string) {
	if m == nil {
		return
	}
	m.DaemonsRunning.Dec()
	m.DaemonOutcomes.WithLabelValues(status).Inc()
}

// EventEmitted records an event handed to the sink.
func (m *Metrics) EventEmitted(eventType string) {
	if m == nil {
		return
	}
	m.DaemonEvents.WithLabelValues(eventType).Inc()
}

// ToolCalled records a tool invocation and its outcome.
func (m *Metrics) ToolCalled(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
}

// FrameReceived records a kernel channel frame by message type.
func (m *Metrics) FrameReceived(msgType string) {
	if m == nil {
		return
	}
	m.KernelFrames.WithLabelValues(msgType).Inc()
}

// SessionRegistered records a session entering the registry.
func (m *Metrics) SessionRegistered() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// SessionUnregistered records a session leaving the registry.
func (m *Metrics) SessionUnregistered() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}
