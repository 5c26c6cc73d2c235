package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics exports consumer counters labelled by binding.
type PrometheusMetrics struct {
	messages        *prometheus.CounterVec
	publishes       *prometheus.CounterVec
	recoveries      *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
}

func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consumer_messages_total",
			Help: "Messages seen by the consumption pipeline, by result",
		}, []string{"binding", "result"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consumer_publish_total",
			Help: "Republish attempts to retry and dead-letter destinations",
		}, []string{"binding", "status"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consumer_recoveries_total",
			Help: "Transport faults handled by the recovery loop",
		}, []string{"binding"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consumer_handler_duration_seconds",
			Help:    "Histogram of handler latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"binding"}),
	}
	reg.MustRegister(m.messages, m.publishes, m.recoveries, m.handlerDuration)
	return m
}

// Binding returns a collector that records under the given binding label.
func (m *PrometheusMetrics) Binding(name string) MetricsCollector {
	return &bindingMetrics{parent: m, binding: name}
}

type bindingMetrics struct {
	parent  *PrometheusMetrics
	binding string
}

func (b *bindingMetrics) message(result string) {
	b.parent.messages.WithLabelValues(b.binding, result).Inc()
}

func (b *bindingMetrics) IncPublished() {
	b.parent.publishes.WithLabelValues(b.binding, "ok").Inc()
}

func (b *bindingMetrics) IncPublishFailed() {
	b.parent.publishes.WithLabelValues(b.binding, "failed").Inc()
}

func (b *bindingMetrics) IncReceived()  { b.message("received") }
func (b *bindingMetrics) IncProcessed() { b.message("processed") }
func (b *bindingMetrics) IncFailed()    { b.message("failed") }
func (b *bindingMetrics) IncRetried()   { b.message("retried") }
func (b *bindingMetrics) IncSentToDLQ() { b.message("dead_lettered") }
func (b *bindingMetrics) IncDropped()   { b.message("dropped") }
func (b *bindingMetrics) IncDeferred()  { b.message("deferred") }
func (b *bindingMetrics) IncDuplicate() { b.message("duplicate") }

func (b *bindingMetrics) IncRecovery() {
	b.parent.recoveries.WithLabelValues(b.binding).Inc()
}

func (b *bindingMetrics) ObserveHandlerDuration(d time.Duration) {
	b.parent.handlerDuration.WithLabelValues(b.binding).Observe(d.Seconds())
}
