package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "madric"

// Outcome labels
const (
	OutcomeSuccess     = "success"
	OutcomeNotFound    = "not_found"
	OutcomeAlreadyUsed = "already_used"
	OutcomeInvalid     = "invalid"
	OutcomeError       = "error"
)

// Metrics holds the server's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	redemptions    *prometheus.CounterVec
	accessChecks   *prometheus.CounterVec
	provisionRuns  *prometheus.CounterVec
	provisionTime  prometheus.Histogram
	devicesLinked  prometheus.Counter
	vouchersIssued prometheus.Counter
}

// New registers the collectors with reg. Passing nil builds unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		redemptions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voucher_redemptions_total",
			Help:      "Voucher redemption attempts by outcome.",
		}, []string{"outcome"}),
		accessChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_checks_total",
			Help:      "Access checks by decision and reason.",
		}, []string{"decision", "reason"}),
		provisionRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_provision_runs_total",
			Help:      "Provisioning script runs against the router by outcome.",
		}, []string{"outcome"}),
		provisionTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "router_provision_duration_seconds",
			Help:      "Wall time of a provisioning script run.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		devicesLinked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "devices_linked_total",
			Help:      "Devices created by link requests.",
		}),
		vouchersIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vouchers_issued_total",
			Help:      "Voucher codes issued.",
		}),
	}
}

func (m *Metrics) Redemption(outcome string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AccessCheck(allow bool, reason string) {
	if m == nil {
		return
	}
	decision := "deny"
	if allow {
		decision = "allow"
	}
	m.accessChecks.WithLabelValues(decision, reason).Inc()
}

func (m *Metrics) Provision(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.provisionRuns.WithLabelValues(outcome).Inc()
	m.provisionTime.Observe(took.Seconds())
}

func (m *Metrics) DeviceLinked() {
	if m == nil {
		return
	}
	m.devicesLinked.Inc()
}

func (m *Metrics) VouchersIssued(n int) {
	if m == nil {
		return
	}
	m.vouchersIssued.Add(float64(n))
}
