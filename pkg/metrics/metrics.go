// Package metrics holds the Prometheus collectors for the hotspot daemon.
// A nil *Metrics is valid and records nothing, so components can take one
// optionally.
package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hotspot"

// States lists every session state label, so the state gauge always
// exports a complete one-hot vector.
var States = []string{"idle", "probing", "starting", "running", "recovering", "stopping", "error"}

// Metrics holds all Prometheus metrics for the hotspot daemon
type Metrics struct {
	SessionState     *prometheus.GaugeVec
	Transitions      *prometheus.CounterVec
	UplinkConnected  prometheus.Gauge
	ConnectedDevices prometheus.Gauge
	LinkPollErrors   prometheus.Counter
	StartupDuration  prometheus.Histogram
	Recoveries       *prometheus.CounterVec
	TeardownErrors   *prometheus.CounterVec
	APIRequests      *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A
// *prometheus.Registry is also used as the gatherer for Handler.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "Current session state (1 for the active state)",
		}, []string{"state"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Session state transitions",
		}, []string{"from", "to"}),
		UplinkConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uplink_connected",
			Help:      "Whether the shared WiFi uplink is connected",
		}),
		ConnectedDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_devices",
			Help:      "Devices seen on the access point at the last status query",
		}),
		LinkPollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_poll_errors_total",
			Help:      "Uplink status queries that failed",
		}),
		StartupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "startup_duration_seconds",
			Help:      "Time from start request to Running",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 13, 20},
		}),
		Recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Uplink recovery attempts by result",
		}, []string{"result"}),
		TeardownErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_errors_total",
			Help:      "Resources that could not be released",
		}, []string{"component"}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_requests_total",
			Help:      "Control API requests",
		}, []string{"method", "endpoint", "status"}),
	}

	reg.MustRegister(
		m.SessionState, m.Transitions, m.UplinkConnected, m.ConnectedDevices,
		m.LinkPollErrors, m.StartupDuration, m.Recoveries, m.TeardownErrors,
		m.APIRequests,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	m.SetState("idle")
	return m
}

// SetState marks state as the only active session state.
func (m *Metrics) SetState(state string) {
	if m == nil {
		return
	}
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		m.SessionState.WithLabelValues(s).Set(v)
	}
}

// Transition records a state change.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
	m.SetState(to)
}

// Uplink records the uplink connectivity.
func (m *Metrics) Uplink(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.UplinkConnected.Set(1)
	} else {
		m.UplinkConnected.Set(0)
	}
}

// Devices records the connected device count.
func (m *Metrics) Devices(n int) {
	if m == nil {
		return
	}
	m.ConnectedDevices.Set(float64(n))
}

// PollError counts a failed uplink query.
func (m *Metrics) PollError() {
	if m == nil {
		return
	}
	m.LinkPollErrors.Inc()
}

// Started observes the time a session took to reach Running.
func (m *Metrics) Started(d time.Duration) {
	if m == nil {
		return
	}
	m.StartupDuration.Observe(d.Seconds())
}

// Recovery counts a recovery outcome ("resumed", "retry", "expired").
func (m *Metrics) Recovery(result string) {
	if m == nil {
		return
	}
	m.Recoveries.WithLabelValues(result).Inc()
}

// TeardownError counts a release failure in component ("ap", "nat").
func (m *Metrics) TeardownError(component string) {
	if m == nil {
		return
	}
	m.TeardownErrors.WithLabelValues(component).Inc()
}

// Middleware returns gin middleware that counts control API requests.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if m == nil {
			return
		}
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		m.APIRequests.WithLabelValues(c.Request.Method, endpoint, statusClass(c.Writer.Status())).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() gin.HandlerFunc {
	handler := promhttp.Handler()
	if m != nil && m.gatherer != nil {
		handler = promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	}
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
