package recipeauth

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus collectors for the login flows. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	OTPRequests      *prometheus.CounterVec
	OTPVerifications *prometheus.CounterVec
	OAuthCallbacks   *prometheus.CounterVec
	SessionsIssued   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recipeauth_otp_requests_total",
				Help: "One-time codes issued, by delivery channel",
			},
			[]string{"channel"},
		),
		OTPVerifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recipeauth_otp_verifications_total",
				Help: "One-time code verification attempts, by result",
			},
			[]string{"result"},
		),
		OAuthCallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recipeauth_oauth_callbacks_total",
				Help: "OAuth callbacks handled, by result",
			},
			[]string{"result"},
		),
		SessionsIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recipeauth_sessions_issued_total",
				Help: "Session tokens issued, by login method",
			},
			[]string{"method"},
		),
	}
	reg.MustRegister(m.OTPRequests, m.OTPVerifications, m.OAuthCallbacks, m.SessionsIssued)
	return m
}

func (m *Metrics) otpRequested(channel string) {
	if m != nil {
		m.OTPRequests.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) otpVerified(result string) {
	if m != nil {
		m.OTPVerifications.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) oauthCallback(result string) {
	if m != nil {
		m.OAuthCallbacks.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) sessionIssued(method string) {
	if m != nil {
		m.SessionsIssued.WithLabelValues(method).Inc()
	}
}
