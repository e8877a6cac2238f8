package reconcile

import (
	"github.com/30x/k8s-svc-gw-mgr/gateway"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "svcgw"

/*
Metrics are the Prometheus collectors updated by the poller
*/
type Metrics struct {
	reconciles    *prometheus.CounterVec
	diagnostics   *prometheus.CounterVec
	rules         *prometheus.GaugeVec
	lastReconcile prometheus.Gauge
	fetchDuration prometheus.Histogram
}

/*
NewMetrics creates the collectors and registers them with the provided registerer
*/
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reconcile_total",
			Help:      "Reconcile cycles by result.",
		}, []string{"result"}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rule_diagnostics_total",
			Help:      "Rule annotations reported as invalid by reason.",
		}, []string{"reason"}),
		rules: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "rules",
			Help:      "Rules in the last derived snapshot by kind.",
		}, []string{"kind"}),
		lastReconcile: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_reconcile_timestamp_seconds",
			Help:      "Unix time of the last completed reconcile cycle.",
		}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of service registry fetches.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	for _, result := range []Result{NoOp, Applied, Error} {
		m.reconciles.WithLabelValues(result.Label())
	}

	reg.MustRegister(m.reconciles, m.diagnostics, m.rules, m.lastReconcile, m.fetchDuration)

	return m
}

func (m *Metrics) observeOutcome(outcome Outcome) {
	m.reconciles.WithLabelValues(outcome.Result.Label()).Inc()
	m.lastReconcile.Set(float64(outcome.Timestamp.UnixNano()) / 1e9)
}

func (m *Metrics) observeSnapshot(snapshot *gateway.Snapshot) {
	m.rules.WithLabelValues(string(gateway.PathRule)).Set(float64(len(snapshot.PathRules)))
	m.rules.WithLabelValues(string(gateway.HostRule)).Set(float64(len(snapshot.HostRules)))
}
