package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Instruments groups the Prometheus instruments shared by every call.
type Instruments struct {
	Calls        *prometheus.CounterVec
	ActiveCalls  prometheus.Gauge
	BargeIns     prometheus.Counter
	ToolLookups  *prometheus.CounterVec
	Tokens       *prometheus.CounterVec
	AudioBytes   *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	CostUSD      prometheus.Counter
	registry     prometheus.Gatherer
}

// NewInstruments registers the instruments on reg. A nil reg uses a fresh
// registry so repeated construction in tests never collides.
func NewInstruments(namespace string, reg *prometheus.Registry) *Instruments {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Instruments{
		Calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Finished calls by outcome.",
		}, []string{"outcome"}),
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of connected realtime sessions.",
		}),
		BargeIns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Assistant replies interrupted by user speech.",
		}),
		ToolLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_lookups_total",
			Help:      "Knowledge lookups by outcome.",
		}, []string{"outcome"}),
		Tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Model tokens by direction.",
		}, []string{"direction"}),
		AudioBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "PCM bytes by direction.",
		}, []string{"direction"}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of call steps.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"step"}),
		CostUSD: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Estimated model cost of finished calls in USD.",
		}),
		registry: reg,
	}
}

func (i *Instruments) Handler() http.Handler {
	return promhttp.HandlerFor(i.registry, promhttp.HandlerOpts{})
}

func (i *Instruments) observeStep(step string, d time.Duration) {
	if i == nil {
		return
	}
	i.StepDuration.WithLabelValues(step).Observe(d.Seconds())
}
