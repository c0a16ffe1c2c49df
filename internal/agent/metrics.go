package agent

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics reports pipeline activity. A nil *Metrics records nothing.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	turns         *prometheus.CounterVec
	guidelines    *prometheus.CounterVec
	summaries     *prometheus.CounterVec
}

// MustNewMetrics registers the pipeline collectors with reg and panics on
// a registration conflict. Tests should pass a fresh registry.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sales_agent",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "status"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sales_agent",
			Subsystem: "pipeline",
			Name:      "turns_total",
			Help:      "Completed turns by outcome.",
		}, []string{"status"}),
		guidelines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sales_agent",
			Subsystem: "pipeline",
			Name:      "guidelines_applied_total",
			Help:      "Guidelines injected into prompts, by strength.",
		}, []string{"strength"}),
		summaries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sales_agent",
			Subsystem: "pipeline",
			Name:      "summaries_total",
			Help:      "Summaries written, by source.",
		}, []string{"source"}),
	}
	reg.MustRegister(m.stageDuration, m.turns, m.guidelines, m.summaries)
	return m
}

func (m *Metrics) observeStage(stage Stage, started time.Time, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(stage), status(err)).Observe(time.Since(started).Seconds())
}

func (m *Metrics) observeTurn(err error) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) observeSelection(sel Selection) {
	if m == nil {
		return
	}
	m.guidelines.WithLabelValues("hard").Add(float64(len(sel.Hard)))
	m.guidelines.WithLabelValues("soft").Add(float64(len(sel.Soft)))
}

func (m *Metrics) observeSummary(src SummarySource) {
	if m == nil {
		return
	}
	m.summaries.WithLabelValues(string(src)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
