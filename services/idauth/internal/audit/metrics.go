package audit

import (
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Recorded        *prometheus.CounterVec
	WriteFailures   prometheus.Counter
	PublishFailures prometheus.Counter
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Recorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_logs_recorded_total",
				Help: "Audit entries written by auth type and status.",
			},
			[]string{"auth_type", "status"},
		),
		WriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "auth_log_write_failures_total",
				Help: "Audit entries that could not be written.",
			},
		),
		PublishFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "auth_event_publish_failures_total",
				Help: "Auth events that could not be published.",
			},
		),
	}

	registry.MustRegister(m.Recorded, m.WriteFailures, m.PublishFailures)
	return m
}

func (m *Metrics) recorded(t storage.AuthType, s storage.AuthStatus) {
	if m != nil {
		m.Recorded.WithLabelValues(string(t), string(s)).Inc()
	}
}

func (m *Metrics) writeFailed() {
	if m != nil {
		m.WriteFailures.Inc()
	}
}

func (m *Metrics) publishFailed() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}
