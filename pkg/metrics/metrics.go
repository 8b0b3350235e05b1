package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Attribute aggregator metrics.
	AttributesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "attrd_attributes_total",
			Help: "Number of tracked attributes by dampening state",
		},
		[]string{"state"},
	)

	AttributeCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attrd_attribute_commits_total",
			Help: "Total configuration-store commits by outcome",
		},
		[]string{"outcome"},
	)

	AttributeDampenDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "attrd_attribute_dampen_seconds",
			Help: "Time an attribute spent armed before its commit fired",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Action executor metrics.
	ActionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "attrd_actions_total",
			Help: "Number of tracked resource actions by state",
		},
		[]string{"state"},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "attrd_action_duration_seconds",
			Help: "Resource action execution duration by class",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"class"},
	)

	ActionsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attrd_actions_failed_total",
			Help: "Total resource actions completed with a non-success status",
		},
		[]string{"status"},
	)

	AlertDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attrd_alert_dispatch_total",
			Help: "Total alert dispatch rounds by aggregate outcome",
		},
		[]string{"outcome"},
	)

	// IPC proxy metrics.
	ProxySessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "attrd_proxy_sessions_active",
			Help: "Number of open proxy sessions",
		},
	)

	ProxyMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attrd_proxy_messages_total",
			Help: "Total tunneled proxy messages by op",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		AttributesTotal,
		AttributeCommitsTotal,
		AttributeDampenDuration,
		ActionsTotal,
		ActionDuration,
		ActionsFailedTotal,
		AlertDispatchTotal,
		ProxySessionsActive,
		ProxyMessagesTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an elapsed duration for recording against a histogram once
// an operation (a commit, an action run) finishes.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer at the current instant.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time against h.
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time against hv's label series.
func (t *Timer) ObserveDurationVec(hv *prometheus.HistogramVec, label string) {
	hv.WithLabelValues(label).Observe(t.Duration().Seconds())
}
