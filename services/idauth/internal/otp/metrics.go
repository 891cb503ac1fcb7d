package otp

import (
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Generated     *prometheus.CounterVec
	Verifications *prometheus.CounterVec
	Dispatches    *prometheus.CounterVec
	RateLimited   prometheus.Counter
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Generated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otp_generated_total",
				Help: "OTP codes generated by channel.",
			},
			[]string{"type"},
		),
		Verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otp_verifications_total",
				Help: "OTP verification outcomes.",
			},
			[]string{"result"},
		),
		Dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "otp_dispatch_total",
				Help: "OTP dispatch attempts by channel and status.",
			},
			[]string{"type", "status"},
		),
		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "otp_requests_rate_limited_total",
				Help: "OTP requests rejected by the rate limiter.",
			},
		),
	}

	registry.MustRegister(m.Generated, m.Verifications, m.Dispatches, m.RateLimited)
	return m
}

func (m *Metrics) generated(t storage.OTPType) {
	if m != nil {
		m.Generated.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) verified(result string) {
	if m != nil {
		m.Verifications.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) dispatched(t storage.OTPType, ok bool) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	m.Dispatches.WithLabelValues(string(t), status).Inc()
}

func (m *Metrics) rateLimited() {
	if m != nil {
		m.RateLimited.Inc()
	}
}
