// Package metrics Prometheus-метрики обработки сообщений.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы обработки сообщения.
const (
	OutcomeOK         = "ok"
	OutcomeDenied     = "denied"
	OutcomeAIError    = "ai_error"
	OutcomeError      = "error"
	OutcomeRefundFail = "refund_failed"
)

// Metrics хранит коллекторы сервиса. Методы безопасны для nil-получателя.
type Metrics struct {
	fulfillment *prometheus.CounterVec
	aiDuration  *prometheus.HistogramVec
	sweep       prometheus.Counter
}

// New создаёт коллекторы и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fulfillment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_fulfillment_total",
			Help: "Processed user messages by outcome.",
		}, []string{"outcome"}),
		aiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_ai_request_duration_seconds",
			Help:    "Latency of AI provider calls.",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"provider"}),
		sweep: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_vip_expired_total",
			Help: "Accounts whose VIP flag was cleared by the expiry sweep.",
		}),
	}
	reg.MustRegister(m.fulfillment, m.aiDuration, m.sweep)
	return m
}

// Outcome увеличивает счётчик исхода обработки.
func (m *Metrics) Outcome(outcome string) {
	if m == nil {
		return
	}
	m.fulfillment.WithLabelValues(outcome).Inc()
}

// ObserveAI фиксирует длительность вызова провайдера.
func (m *Metrics) ObserveAI(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.aiDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// Expired добавляет количество аккаунтов, потерявших VIP.
func (m *Metrics) Expired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweep.Add(float64(n))
}
