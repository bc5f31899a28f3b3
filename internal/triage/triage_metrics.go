package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	IngestsTotal         *prometheus.CounterVec
	ClassificationsTotal *prometheus.CounterVec
	EmbeddingsTotal      *prometheus.CounterVec
	EnrichmentDuration   prometheus.Histogram
	ReviewDuration       prometheus.Histogram
	ReviewItems          prometheus.Histogram
	SummariesTotal       *prometheus.CounterVec
	SummarizerDuration   prometheus.Histogram
	SummaryMessages      prometheus.Histogram
	FollowupActionsTotal *prometheus.CounterVec
	NotifyTotal          *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_ingests_total",
			Help: "Total message ingestions by result.",
		}, []string{"result"}),
		ClassificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_classifications_total",
			Help: "Total classification calls by outcome.",
		}, []string{"outcome"}),
		EmbeddingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_embeddings_total",
			Help: "Total embedding calls by outcome (rejected = wrong dimension).",
		}, []string{"outcome"}),
		EnrichmentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_enrichment_duration_seconds",
			Help:    "Duration of per-message enrichment (classify + embed + writeback).",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. ~128s
		}),
		ReviewDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_review_duration_seconds",
			Help:    "Duration of review queue builds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms .. ~2.5s
		}),
		ReviewItems: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_review_items",
			Help:    "Items returned per review request.",
			Buckets: prometheus.LinearBuckets(0, 1, 11), // 0 .. 10
		}),
		SummariesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_summaries_total",
			Help: "Total summary requests by cache result.",
		}, []string{"result"}),
		SummarizerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_summarizer_duration_seconds",
			Help:    "Duration of external summarizer calls.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}),
		SummaryMessages: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_summary_messages",
			Help:    "Messages batched per generated summary.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 11), // 1 .. 1024
		}),
		FollowupActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_followup_actions_total",
			Help: "Total follow-up mutations by action.",
		}, []string{"action"}),
		NotifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_notify_total",
			Help: "Total follow-up notifications by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.IngestsTotal,
		m.ClassificationsTotal,
		m.EmbeddingsTotal,
		m.EnrichmentDuration,
		m.ReviewDuration,
		m.ReviewItems,
		m.SummariesTotal,
		m.SummarizerDuration,
		m.SummaryMessages,
		m.FollowupActionsTotal,
		m.NotifyTotal,
	)

	return m
}
