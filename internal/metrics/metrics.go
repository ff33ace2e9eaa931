// Package metrics holds the Prometheus collectors for the scan pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Enrichment outcomes.
const (
	OutcomeEnriched = "enriched"
	OutcomeDegraded = "degraded"
	OutcomeReused   = "reused"
	OutcomeFailed   = "failed"
)

// Pipeline groups the scan pipeline collectors. A nil *Pipeline is valid and records nothing.
type Pipeline struct {
	scansCreated    prometheus.Counter
	quotaRejections *prometheus.CounterVec
	enrichments     *prometheus.CounterVec
	heuristicScore  prometheus.Histogram
}

// NewPipeline creates the collectors and registers them with reg.
func NewPipeline(reg prometheus.Registerer) (*Pipeline, error) {
	p := &Pipeline{
		scansCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biasaudit_scans_created_total",
			Help: "Total number of scans persisted.",
		}),
		quotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biasaudit_quota_rejections_total",
			Help: "Scan requests rejected because the account plan limit was reached.",
		}, []string{"plan"}),
		enrichments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biasaudit_enrichments_total",
			Help: "AI enrichment attempts by outcome.",
		}, []string{"outcome"}),
		heuristicScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "biasaudit_heuristic_score",
			Help:    "Distribution of heuristic fairness scores.",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
	}
	for _, c := range []prometheus.Collector{p.scansCreated, p.quotaRejections, p.enrichments, p.heuristicScore} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ScanCreated records a persisted scan and its heuristic score.
func (p *Pipeline) ScanCreated(score int) {
	if p == nil {
		return
	}
	p.scansCreated.Inc()
	p.heuristicScore.Observe(float64(score))
}

func (p *Pipeline) QuotaRejected(plan string) {
	if p == nil {
		return
	}
	p.quotaRejections.WithLabelValues(plan).Inc()
}

func (p *Pipeline) Enrichment(outcome string) {
	if p == nil {
		return
	}
	p.enrichments.WithLabelValues(outcome).Inc()
}
