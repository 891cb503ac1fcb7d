package authn

import (
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailed  = "failed"
	outcomeLocked  = "locked"
	outcomeError   = "error"
)

type Metrics struct {
	Attempts *prometheus.CounterVec
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_attempts_total",
				Help: "Authentication attempts by method and outcome.",
			},
			[]string{"auth_type", "outcome"},
		),
	}
	registry.MustRegister(m.Attempts)
	return m
}

func (m *Metrics) attempt(t storage.AuthType, outcome string) {
	if m != nil {
		m.Attempts.WithLabelValues(string(t), outcome).Inc()
	}
}
