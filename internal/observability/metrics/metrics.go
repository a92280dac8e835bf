package metrics

import "github.com/prometheus/client_golang/prometheus"

// AuthMetrics exposes counters/histograms for authentication flows.
type AuthMetrics struct {
	loginTotal     *prometheus.CounterVec
	otpIssuedTotal *prometheus.CounterVec
	otpVerifyTotal *prometheus.CounterVec
	guardDenied    *prometheus.CounterVec
	flowLatency    *prometheus.HistogramVec
}

func NewAuthMetrics(reg prometheus.Registerer) *AuthMetrics {
	m := &AuthMetrics{
		loginTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "careloop",
			Subsystem: "auth",
			Name:      "login_total",
			Help:      "Login attempts by flow and outcome",
		}, []string{"flow", "outcome"}),
		otpIssuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "careloop",
			Subsystem: "auth",
			Name:      "otp_issued_total",
			Help:      "OTP codes issued by purpose",
		}, []string{"purpose"}),
		otpVerifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "careloop",
			Subsystem: "auth",
			Name:      "otp_verify_total",
			Help:      "OTP verification results by purpose and outcome",
		}, []string{"purpose", "outcome"}),
		guardDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "careloop",
			Subsystem: "access",
			Name:      "denied_total",
			Help:      "Access guard denials by resource and reason",
		}, []string{"resource", "reason"}),
		flowLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "careloop",
			Subsystem: "auth",
			Name:      "flow_latency_seconds",
			Help:      "Latency of authentication flows",
			Buckets:   prometheus.DefBuckets,
		}, []string{"flow"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.loginTotal, m.otpIssuedTotal, m.otpVerifyTotal, m.guardDenied, m.flowLatency)
	return m
}

func (m *AuthMetrics) ObserveLogin(flow, outcome string) {
	if m == nil {
		return
	}
	m.loginTotal.WithLabelValues(flow, outcome).Inc()
}

func (m *AuthMetrics) ObserveOTPIssued(purpose string) {
	if m == nil {
		return
	}
	m.otpIssuedTotal.WithLabelValues(purpose).Inc()
}

func (m *AuthMetrics) ObserveOTPVerify(purpose, outcome string) {
	if m == nil {
		return
	}
	m.otpVerifyTotal.WithLabelValues(purpose, outcome).Inc()
}

func (m *AuthMetrics) ObserveGuardDenied(resource, reason string) {
	if m == nil {
		return
	}
	m.guardDenied.WithLabelValues(resource, reason).Inc()
}

func (m *AuthMetrics) ObserveFlowLatency(flow string, seconds float64) {
	if m == nil {
		return
	}
	m.flowLatency.WithLabelValues(flow).Observe(seconds)
}
