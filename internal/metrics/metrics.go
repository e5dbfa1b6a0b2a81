// Package metrics expone contadores Prometheus del flujo de login.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder es lo que el servicio de auth necesita para registrar el flujo.
type Recorder interface {
	RecordLogin(outcome string)
	RecordStepFailure(step string)
	RecordExchangeLatency(duration time.Duration)
}

// Collector implementa Recorder sobre Prometheus.
type Collector struct {
	logins          *prometheus.CounterVec
	stepFailures    *prometheus.CounterVec
	exchangeLatency prometheus.Histogram
}

// NewCollector crea los colectores y los registra en reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fastbot_login_attempts_total",
			Help: "Login callbacks by outcome.",
		}, []string{"outcome"}),
		stepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fastbot_login_step_failures_total",
			Help: "Login failures by flow step.",
		}, []string{"step"}),
		exchangeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fastbot_oauth_exchange_seconds",
			Help:    "Duration of the provider code exchange.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(c.logins, c.stepFailures, c.exchangeLatency)
	return c
}

func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordStepFailure(step string) {
	c.stepFailures.WithLabelValues(step).Inc()
}

func (c *Collector) RecordExchangeLatency(duration time.Duration) {
	c.exchangeLatency.Observe(duration.Seconds())
}

// Handler devuelve el handler de scrape para gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop descarta todo; lo usan los tests y los binarios sin registro.
type Nop struct{}

func (Nop) RecordLogin(string)                  {}
func (Nop) RecordStepFailure(string)            {}
func (Nop) RecordExchangeLatency(time.Duration) {}
