package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for engine operation counters.
const (
	OutcomeSuccess          = "success"
	OutcomeMatched          = "matched"
	OutcomeNoMatch          = "no_match"
	OutcomeQualityTooLow    = "quality_too_low"
	OutcomeExtractionFailed = "extraction_failed"
	OutcomeError            = "error"
)

// Metrics holds all Prometheus metrics for the matching engine. All methods
// are nil-safe so tests can run without a registry.
type Metrics struct {
	enrollments        *prometheus.CounterVec
	verifications      *prometheus.CounterVec
	identifications    prometheus.Counter
	templatesSearched  prometheus.Histogram
	extractionDuration prometheus.Histogram
	comparisonDuration prometheus.Histogram
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
}

// New creates and registers all matching engine metrics.
func New() *Metrics {
	return &Metrics{
		enrollments: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veribio_enrollments_total",
			Help: "Enrollment attempts by outcome",
		}, []string{"outcome"}),
		verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veribio_verifications_total",
			Help: "1:1 verification attempts by outcome",
		}, []string{"outcome"}),
		identifications: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veribio_identifications_total",
			Help: "1:N identification runs",
		}),
		templatesSearched: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veribio_identification_candidates",
			Help:    "Candidate set size per identification run",
			Buckets: []float64{1, 10, 50, 100, 500, 1000, 5000},
		}),
		extractionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veribio_extraction_duration_seconds",
			Help:    "Latency of encoding engine extractions",
			Buckets: prometheus.DefBuckets,
		}),
		comparisonDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veribio_comparison_duration_seconds",
			Help:    "Latency of encoding engine comparisons",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		cacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veribio_template_cache_hits_total",
			Help: "Template cache hits",
		}),
		cacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veribio_template_cache_misses_total",
			Help: "Template cache misses",
		}),
	}
}

func (m *Metrics) IncEnrollment(outcome string) {
	if m == nil {
		return
	}
	m.enrollments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncVerification(outcome string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveIdentification(candidates int) {
	if m == nil {
		return
	}
	m.identifications.Inc()
	m.templatesSearched.Observe(float64(candidates))
}

func (m *Metrics) ObserveExtraction(d time.Duration) {
	if m == nil {
		return
	}
	m.extractionDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveComparison(d time.Duration) {
	if m == nil {
		return
	}
	m.comparisonDuration.Observe(d.Seconds())
}

func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) IncCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}
