package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Label values used on the session counters.
const (
	KindUser     = "user"
	KindAdmin    = "admin"
	KindIDToken  = "id_token"
	ResultOK     = "success"
	ResultFailed = "failure"
	ResultStub   = "stub"

	ReasonLogout        = "logout"
	ReasonUnauthorized  = "unauthorized"
	ReasonRefreshFailed = "refresh_failed"
	ReasonCorrupt       = "corrupt"
)

// Metrics counts session lifecycle events. A nil *Metrics records nothing.
type Metrics struct {
	LoginsTotal        *prometheus.CounterVec
	RefreshTotal       *prometheus.CounterVec
	InvalidationsTotal *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "storefront_session",
				Name:      "logins_total",
				Help:      "Login attempts by kind and result",
			},
			[]string{"kind", "result"},
		),
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "storefront_session",
				Name:      "refresh_total",
				Help:      "Token refresh cycles by result",
			},
			[]string{"result"},
		),
		InvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "storefront_session",
				Name:      "invalidations_total",
				Help:      "Sessions cleared by reason",
			},
			[]string{"reason"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.LoginsTotal, m.RefreshTotal, m.InvalidationsTotal)
	}
	return m
}

func (m *Metrics) login(kind, result string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) refresh(result string) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) invalidation(reason string) {
	if m == nil {
		return
	}
	m.InvalidationsTotal.WithLabelValues(reason).Inc()
}
