// Package metrics records run counters on a private Prometheus registry and
// writes them in the node-exporter textfile format at the end of a batch run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the run metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	trials          *prometheus.CounterVec
	regularizations prometheus.Counter
	fallbacks       *prometheus.CounterVec
	sanity          *prometheus.CounterVec
	subRuns         *prometheus.CounterVec
	pValue          *prometheus.GaugeVec
	stageDuration   *prometheus.HistogramVec
	verdicts        *prometheus.CounterVec
}

// NewRecorder creates a recorder with its own registry
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		trials: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fingerprint_null_trials_total",
			Help: "Monte Carlo null trials completed",
		}, []string{"method"}),
		regularizations: f.NewCounter(prometheus.CounterOpts{
			Name: "fingerprint_covariance_regularizations_total",
			Help: "Covariances that received a ridge",
		}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fingerprint_whitening_fallbacks_total",
			Help: "Whitening requests that fell back to another mode",
		}, []string{"requested", "applied"}),
		sanity: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fingerprint_sanity_findings_total",
			Help: "Residual sanity findings by severity",
		}, []string{"severity"}),
		subRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fingerprint_ablation_subruns_total",
			Help: "Ablation sub-runs by kind and outcome",
		}, []string{"kind", "outcome"}),
		pValue: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fingerprint_p_value",
			Help: "Look-elsewhere corrected p-value of the last analysis per dataset",
		}, []string{"dataset"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fingerprint_stage_duration_seconds",
			Help:    "Wall time per pipeline stage",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10, 60, 600},
		}, []string{"stage"}),
		verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fingerprint_verdicts_total",
			Help: "Combined verdicts by status",
		}, []string{"status"}),
	}
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) TrialsRun(method string, n int) {
	if r == nil {
		return
	}
	r.trials.WithLabelValues(method).Add(float64(n))
}

func (r *Recorder) Regularized() {
	if r == nil {
		return
	}
	r.regularizations.Inc()
}

func (r *Recorder) FellBack(requested, applied string) {
	if r == nil {
		return
	}
	r.fallbacks.WithLabelValues(requested, applied).Inc()
}

func (r *Recorder) Sanity(severity string) {
	if r == nil {
		return
	}
	r.sanity.WithLabelValues(severity).Inc()
}

func (r *Recorder) SubRun(kind string, ok bool) {
	if r == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	r.subRuns.WithLabelValues(kind, outcome).Inc()
}

func (r *Recorder) PValue(dataset string, p float64) {
	if r == nil {
		return
	}
	r.pValue.WithLabelValues(dataset).Set(p)
}

func (r *Recorder) Verdict(status string) {
	if r == nil {
		return
	}
	r.verdicts.WithLabelValues(status).Inc()
}

// ObserveStage records how long a stage took since start
func (r *Recorder) ObserveStage(stage string, start time.Time) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// WriteTextfile writes all metrics atomically to path
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
