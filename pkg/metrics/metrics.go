// Package metrics records risk and trade-management metrics in Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tradeguard"

// Recorder satisfies risk.DecisionRecorder and manage.Recorder.
type Recorder struct {
	reg          *prometheus.Registry
	decisions    *prometheus.CounterVec
	actions      *prometheus.CounterVec
	activeTrades prometheus.Gauge
	tickLatency  prometheus.Histogram
	results      *prometheus.CounterVec
}

// New registers the collectors on reg; nil creates a private registry.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Risk gate decisions by outcome and trading state.",
			},
			[]string{"outcome", "state"},
		),
		actions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "management_actions_total",
				Help:      "Trade management instructions by kind and status.",
			},
			[]string{"kind", "status"},
		),
		activeTrades: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_trades",
			Help:      "Trades currently under management.",
		}),
		tickLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "monitor_tick_duration_seconds",
			Help:      "Duration of one monitor pass over all trades.",
			Buckets:   prometheus.DefBuckets,
		}),
		results: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trade_results_total",
				Help:      "Closed trades by outcome.",
			},
			[]string{"outcome"},
		),
	}
}

func (r *Recorder) RecordDecision(state string, allowed bool) {
	outcome := "rejected"
	if allowed {
		outcome = "allowed"
	}
	r.decisions.WithLabelValues(outcome, state).Inc()
}

func (r *Recorder) RecordAction(kind string, ok bool) {
	status := "failed"
	if ok {
		status = "ok"
	}
	r.actions.WithLabelValues(kind, status).Inc()
}

func (r *Recorder) SetActiveTrades(n int) {
	r.activeTrades.Set(float64(n))
}

func (r *Recorder) ObserveTick(d time.Duration) {
	r.tickLatency.Observe(d.Seconds())
}

func (r *Recorder) RecordResult(won bool) {
	outcome := "loss"
	if won {
		outcome = "win"
	}
	r.results.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
