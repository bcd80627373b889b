// Package metrics contains the Prometheus metrics of the filtering engine and
// of the hosts embedding it.
package metrics

import (
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// namespace is the common prefix of all metric names.
const namespace = "reqfilter"

// Verdicts of a check.
const (
	ResultBlocked = "blocked"
	ResultAllowed = "allowed"
)

// Results of an engine build.
const (
	BuildOK    = "ok"
	BuildError = "error"
)

// Components that check requests.
const (
	ComponentCLI    = "cli"
	ComponentClient = "client"
	ComponentDNS    = "dns"
	ComponentProxy  = "proxy"
)

// Interface is the metrics of the engine and its hosts.  All methods must be
// safe for concurrent use.
type Interface interface {
	// ObserveCheck records the verdict of a check made by component and the
	// time it took.
	ObserveCheck(component string, blocked bool, dur time.Duration)

	// ObserveBuild records an engine build.  rulesCount and skipped are only
	// meaningful if err is nil.
	ObserveBuild(rulesCount, skipped int, dur time.Duration, err error)
}

// Empty is an [Interface] implementation that does nothing.
type Empty struct{}

// type check
var _ Interface = Empty{}

// ObserveCheck implements the [Interface] interface for Empty.
func (Empty) ObserveCheck(_ string, _ bool, _ time.Duration) {}

// ObserveBuild implements the [Interface] interface for Empty.
func (Empty) ObserveBuild(_, _ int, _ time.Duration, _ error) {}

// Prometheus is an [Interface] implementation that exposes the metrics to
// Prometheus.
type Prometheus struct {
	checks        *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	builds        *prometheus.CounterVec
	buildDuration prometheus.Histogram
	rules         prometheus.Gauge
	skipped       prometheus.Gauge
}

// type check
var _ Interface = (*Prometheus)(nil)

// NewPrometheus creates the metrics and registers them in reg.
func NewPrometheus(reg prometheus.Registerer) (m *Prometheus, err error) {
	m = &Prometheus{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Total number of checked requests by component and verdict.",
		}, []string{"component", "result"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                   namespace,
			Name:                        "check_duration_seconds",
			Help:                        "Time spent on checking a request.",
			NativeHistogramBucketFactor: 1.1,
		}, []string{"component"}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_builds_total",
			Help:      "Total number of engine builds by result.",
		}, []string{"result"}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_build_duration_seconds",
			Help:      "Time spent on building the engine.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		rules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules",
			Help:      "Number of rules in the current engine.",
		}),
		skipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "skipped_lines",
			Help:      "Number of rejected lines in the lists of the current engine.",
		}),
	}

	collectors := []prometheus.Collector{
		m.checks,
		m.checkDuration,
		m.builds,
		m.buildDuration,
		m.rules,
		m.skipped,
	}

	var errs []error
	for _, c := range collectors {
		if err = reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}

	if err = errors.Join(errs...); err != nil {
		return nil, errors.Annotate(err, "registering metrics: %w")
	}

	return m, nil
}

// ObserveCheck implements the [Interface] interface for *Prometheus.
func (m *Prometheus) ObserveCheck(component string, blocked bool, dur time.Duration) {
	result := ResultAllowed
	if blocked {
		result = ResultBlocked
	}

	m.checks.WithLabelValues(component, result).Inc()
	m.checkDuration.WithLabelValues(component).Observe(dur.Seconds())
}

// ObserveBuild implements the [Interface] interface for *Prometheus.
func (m *Prometheus) ObserveBuild(rulesCount, skipped int, dur time.Duration, err error) {
	if err != nil {
		m.builds.WithLabelValues(BuildError).Inc()

		return
	}

	m.builds.WithLabelValues(BuildOK).Inc()
	m.buildDuration.Observe(dur.Seconds())
	m.rules.Set(float64(rulesCount))
	m.skipped.Set(float64(skipped))
}
