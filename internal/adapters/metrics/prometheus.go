package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/usecase"
)

const namespace = "gbfsvalidator"

// Prometheus implements ports.ValidationObserver on its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	validationsTotal     *prometheus.CounterVec
	fileErrorsTotal      *prometheus.CounterVec
	missingRequiredTotal *prometheus.CounterVec
	ignoredFeedsTotal    *prometheus.CounterVec
	validationDuration   prometheus.Histogram
}

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Prometheus{
		registry: reg,
		validationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Number of feed submissions validated, by resolved version.",
		}, []string{"version"}),
		fileErrorsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_errors_total",
			Help:      "Schema violations found, by version and feed.",
		}, []string{"version", "feed"}),
		missingRequiredTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_required_files_total",
			Help:      "Required feeds absent from a submission, by version and feed.",
		}, []string{"version", "feed"}),
		ignoredFeedsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ignored_feeds_total",
			Help:      "Submitted feeds dropped because the version has no schema for them.",
		}, []string{"version", "feed"}),
		validationDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_duration_seconds",
			Help:      "Time spent validating one submission.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
	}
}

func (p *Prometheus) ObserveReport(report domain.ValidationReport, elapsed time.Duration) {
	version := report.Summary.Version
	p.validationsTotal.WithLabelValues(version).Inc()
	p.validationDuration.Observe(elapsed.Seconds())
	for name, outcome := range report.Files {
		if outcome.ErrorsCount > 0 {
			p.fileErrorsTotal.WithLabelValues(version, name).Add(float64(outcome.ErrorsCount))
		}
		if outcome.Required && !outcome.Exists {
			p.missingRequiredTotal.WithLabelValues(version, name).Inc()
		}
	}
}

func (p *Prometheus) ObserveIgnoredFeed(version, feed string) {
	p.ignoredFeedsTotal.WithLabelValues(version, feed).Inc()
}

type dispatcherSource interface {
	Metrics() usecase.DispatcherMetrics
}

// RegisterDispatcher exposes the dispatcher's delivery counters.
func (p *Prometheus) RegisterDispatcher(d dispatcherSource) {
	counter := func(name, help string, read func(usecase.DispatcherMetrics) int64) {
		promauto.With(p.registry).NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(d.Metrics())) })
	}
	counter("notifications_dispatched_total", "Report notifications delivered.",
		func(m usecase.DispatcherMetrics) int64 { return m.DispatchSuccessTotal })
	counter("notifications_failed_total", "Report notification delivery failures.",
		func(m usecase.DispatcherMetrics) int64 { return m.DispatchFailureTotal })
	counter("notifications_dead_total", "Report notifications abandoned.",
		func(m usecase.DispatcherMetrics) int64 { return m.DispatchDeadTotal })
}

func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
