package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the worker's Prometheus instruments. It satisfies queue.Observer.
type Metrics struct {
	SentTotal         *prometheus.CounterVec
	RetriedTotal      *prometheus.CounterVec
	DeadLetteredTotal *prometheus.CounterVec
	BrokerErrorsTotal prometheus.Counter
	ClaimedTotal      prometheus.Counter
	SendLatency       *prometheus.HistogramVec
}

// New registers all instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "email_worker_sent_total",
			Help: "Emails accepted by the provider.",
		}, []string{"email_type"}),

		RetriedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "email_worker_retried_total",
			Help: "Jobs requeued after a provider failure.",
		}, []string{"email_type"}),

		DeadLetteredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "email_worker_dead_lettered_total",
			Help: "Entries moved to the dead-letter stream.",
		}, []string{"reason"}),

		BrokerErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "email_worker_broker_errors_total",
			Help: "Poll cycles aborted by a broker connection error.",
		}),

		ClaimedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "email_worker_claimed_total",
			Help: "Pending entries taken over by this worker.",
		}),

		SendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "email_worker_send_seconds",
			Help:    "Time from render start to provider acceptance.",
			Buckets: prometheus.DefBuckets,
		}, []string{"email_type"}),
	}

	reg.MustRegister(
		m.SentTotal,
		m.RetriedTotal,
		m.DeadLetteredTotal,
		m.BrokerErrorsTotal,
		m.ClaimedTotal,
		m.SendLatency,
	)

	return m
}

func (m *Metrics) Sent(emailType string, elapsed time.Duration) {
	m.SentTotal.WithLabelValues(emailType).Inc()
	m.SendLatency.WithLabelValues(emailType).Observe(elapsed.Seconds())
}

func (m *Metrics) Retried(emailType string) {
	m.RetriedTotal.WithLabelValues(emailType).Inc()
}

func (m *Metrics) DeadLettered(reason string) {
	m.DeadLetteredTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) BrokerError() {
	m.BrokerErrorsTotal.Inc()
}

func (m *Metrics) Claimed(n int) {
	m.ClaimedTotal.Add(float64(n))
}
