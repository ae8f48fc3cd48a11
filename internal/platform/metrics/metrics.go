package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by the redeem and handshake counters.
const (
	OutcomeSuccess   = "success"
	OutcomeNotFound  = "not_found"
	OutcomeForbidden = "forbidden"
	OutcomeMalformed = "malformed"
	OutcomeError     = "error"
)

// Exchange holds the token exchange metrics of both roles. Callers that
// receive a nil *Exchange skip instrumentation.
type Exchange struct {
	TokensIssued    prometheus.Counter
	TokensRedeemed  *prometheus.CounterVec
	TokensExpired   prometheus.Counter
	HandshakeSteps  *prometheus.CounterVec
	VerifyLatencyMs prometheus.Histogram
}

// New registers all exchange metrics on reg. Pass prometheus.NewRegistry()
// in tests so repeated construction does not collide on the default registry.
func New(reg prometheus.Registerer) *Exchange {
	f := promauto.With(reg)
	return &Exchange{
		TokensIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "ssogate_tokens_issued_total",
			Help: "Total number of exchange tokens minted by /authenticate",
		}),
		TokensRedeemed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ssogate_token_redemptions_total",
			Help: "Verify requests by outcome",
		}, []string{"outcome"}),
		TokensExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "ssogate_tokens_expired_total",
			Help: "Exchange tokens purged before redemption",
		}),
		HandshakeSteps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ssogate_handshake_steps_total",
			Help: "Relying party handshake transitions by step and outcome",
		}, []string{"step", "outcome"}),
		VerifyLatencyMs: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ssogate_verify_call_duration_ms",
			Help:    "Latency of relying party calls to the Authority verify endpoint in milliseconds",
			Buckets: []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
	}
}

// RegisterLiveTokens exposes a store size as a gauge.
func RegisterLiveTokens(reg prometheus.Registerer, live func() int) {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ssogate_tokens_live",
		Help: "Exchange tokens currently awaiting redemption",
	}, func() float64 { return float64(live()) })
}

func (m *Exchange) IncIssued() {
	if m == nil {
		return
	}
	m.TokensIssued.Inc()
}

func (m *Exchange) IncRedeemed(outcome string) {
	if m == nil {
		return
	}
	m.TokensRedeemed.WithLabelValues(outcome).Inc()
}

func (m *Exchange) IncExpired() {
	if m == nil {
		return
	}
	m.TokensExpired.Inc()
}

func (m *Exchange) IncHandshake(step, outcome string) {
	if m == nil {
		return
	}
	m.HandshakeSteps.WithLabelValues(step, outcome).Inc()
}

func (m *Exchange) ObserveVerifyLatency(ms float64) {
	if m == nil {
		return
	}
	m.VerifyLatencyMs.Observe(ms)
}
