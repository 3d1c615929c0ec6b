package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"TradeFusion/internal/domain/models"
	"TradeFusion/internal/domain/repository"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	signals       *prometheus.CounterVec
	fusedScore    *prometheus.GaugeVec
	dispatches    *prometheus.CounterVec
	suppressions  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
	breaker       prometheus.Gauge
	openPositions prometheus.Gauge
}

var _ repository.Metrics = (*Recorder)(nil)

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// New returns the recorder registered on the default registry. The collectors are
// registered on the first call; later calls share them.
func New() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = NewWithRegistry(prometheus.DefaultRegisterer)
	})
	return defaultRecorder
}

// NewWithRegistry creates a recorder registered on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradefusion_signals_total",
				Help: "Decisions emitted per asset",
			},
			[]string{"asset", "decision"},
		),
		fusedScore: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradefusion_fused_score",
				Help: "Latest fused score per asset",
			},
			[]string{"asset"},
		),
		dispatches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradefusion_dispatch_total",
				Help: "Instruction outcomes by side and status",
			},
			[]string{"side", "status", "reason"},
		),
		suppressions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradefusion_suppressions_total",
				Help: "Instructions or signals suppressed by stage",
			},
			[]string{"stage", "reason"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradefusion_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradefusion_last_price",
				Help: "Last recorded price for an asset",
			},
			[]string{"asset"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradefusion_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		breaker: f.NewGauge(prometheus.GaugeOpts{
			Name: "tradefusion_breaker_tripped",
			Help: "1 while the circuit breaker blocks new entries",
		}),
		openPositions: f.NewGauge(prometheus.GaugeOpts{
			Name: "tradefusion_open_positions",
			Help: "Number of open positions",
		}),
	}
}

// RecordSignal records a per-asset decision and its fused score.
func (r *Recorder) RecordSignal(asset string, decision models.Decision, fused float64) {
	r.signals.WithLabelValues(asset, string(decision)).Inc()
	r.fusedScore.WithLabelValues(asset).Set(fused)
}

func (r *Recorder) RecordDispatch(side models.Side, status models.OutcomeStatus, reason string) {
	r.dispatches.WithLabelValues(string(side), string(status), reason).Inc()
}

func (r *Recorder) RecordSuppression(stage models.Stage, reason string) {
	r.suppressions.WithLabelValues(string(stage), reason).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for an asset.
func (r *Recorder) RecordLastPrice(asset string, price float64) {
	r.lastPrice.WithLabelValues(asset).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) SetBreakerTripped(tripped bool) {
	if tripped {
		r.breaker.Set(1)
		return
	}
	r.breaker.Set(0)
}

func (r *Recorder) SetOpenPositions(n int) {
	r.openPositions.Set(float64(n))
}
