package telemetry

import "github.com/prometheus/client_golang/prometheus"

// DeploymentsTotal counts pipeline runs by terminal status and project tier.
var DeploymentsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "deployments",
		Name:      "total",
		Help:      "Total number of deployment pipeline runs, by terminal status and tier.",
	},
	[]string{"status", "tier"},
)

// DeploymentDurationSeconds times the sandbox-creation stage of the pipeline.
var DeploymentDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "controlplane",
		Subsystem: "deployment",
		Name:      "duration_seconds",
		Help:      "Duration of the sandbox-creation stage of the deployment pipeline, by tier.",
		Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	},
	[]string{"tier"},
)

// SandboxesActive tracks the number of Deployments currently in status=live.
var SandboxesActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "controlplane",
		Name:      "sandboxes_active",
		Help:      "Number of deployments with an active, running sandbox.",
	},
)

// AutofixAttemptsTotal counts AutoFix invocations by outcome.
var AutofixAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "controlplane",
		Subsystem: "autofix",
		Name:      "attempts_total",
		Help:      "Total number of AutoFix attempts, by outcome.",
	},
	[]string{"outcome"},
)

// AutofixMetrics adapts AutofixAttemptsTotal to autofix.Metrics, keeping
// pkg/autofix free of a direct prometheus dependency.
type AutofixMetrics struct{}

// IncOutcome implements autofix.Metrics.
func (AutofixMetrics) IncOutcome(outcome string) {
	AutofixAttemptsTotal.WithLabelValues(outcome).Inc()
}

// All returns the control-plane domain metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		DeploymentsTotal,
		DeploymentDurationSeconds,
		SandboxesActive,
		AutofixAttemptsTotal,
	}
}

// NewRegistry builds a private Prometheus registry with Go/process
// collectors plus the given domain collectors registered.
func NewRegistry(collectors ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	for _, c := range collectors {
		reg.MustRegister(c)
	}
	return reg
}
