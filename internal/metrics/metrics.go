// Package metrics holds the Prometheus collectors of the auth service.
//
// Collectors are registered on an explicit registry so tests can build a
// fresh set per case. Every method is safe on a nil *Auth, which lets the
// service run without metrics wiring.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "auth"

// Auth groups the counters of the token lifecycle.
type Auth struct {
	Logins          *prometheus.CounterVec // result
	TokensIssued    prometheus.Counter
	Rotations       *prometheus.CounterVec // result
	RefreshReuse    prometheus.Counter
	SessionsRevoked *prometheus.CounterVec // reason
	AccessChecks    *prometheus.CounterVec // result
	OTPRequests     *prometheus.CounterVec // purpose
	OTPVerifies     *prometheus.CounterVec // purpose, result
	OTPPublishFails prometheus.Counter
}

// NewAuth creates the collectors and registers them on reg.
func NewAuth(reg prometheus.Registerer) *Auth {
	m := &Auth{
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		TokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Access/refresh pairs issued at login.",
		}),
		Rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_rotations_total",
			Help:      "Refresh token exchanges by result.",
		}, []string{"result"}),
		RefreshReuse: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_reuse_detected_total",
			Help:      "Rotated refresh tokens presented again.",
		}),
		SessionsRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_revoked_total",
			Help:      "Refresh sessions revoked by reason.",
		}, []string{"reason"}),
		AccessChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_checks_total",
			Help:      "Access token validations by result.",
		}, []string{"result"}),
		OTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_requests_total",
			Help:      "One-time codes generated by purpose.",
		}, []string{"purpose"}),
		OTPVerifies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_verifications_total",
			Help:      "One-time code verifications by purpose and result.",
		}, []string{"purpose", "result"}),
		OTPPublishFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_publish_failures_total",
			Help:      "OTP events that could not be handed to the broker.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Logins, m.TokensIssued, m.Rotations, m.RefreshReuse,
			m.SessionsRevoked, m.AccessChecks, m.OTPRequests, m.OTPVerifies,
			m.OTPPublishFails,
		)
	}
	return m
}

func (m *Auth) Login(result string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(result).Inc()
}

func (m *Auth) Issued() {
	if m == nil {
		return
	}
	m.TokensIssued.Inc()
}

func (m *Auth) Rotation(result string) {
	if m == nil {
		return
	}
	m.Rotations.WithLabelValues(result).Inc()
}

func (m *Auth) Reuse() {
	if m == nil {
		return
	}
	m.RefreshReuse.Inc()
}

// Revoked adds n revoked sessions under reason (logout, logout_all, reuse,
// password, suspended).
func (m *Auth) Revoked(reason string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsRevoked.WithLabelValues(reason).Add(float64(n))
}

func (m *Auth) AccessCheck(result string) {
	if m == nil {
		return
	}
	m.AccessChecks.WithLabelValues(result).Inc()
}

func (m *Auth) OTPRequested(purpose string) {
	if m == nil {
		return
	}
	m.OTPRequests.WithLabelValues(purpose).Inc()
}

func (m *Auth) OTPVerified(purpose, result string) {
	if m == nil {
		return
	}
	m.OTPVerifies.WithLabelValues(purpose, result).Inc()
}

func (m *Auth) PublishFailed() {
	if m == nil {
		return
	}
	m.OTPPublishFails.Inc()
}
