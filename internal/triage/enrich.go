package triage

import (
	"context"

	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"
)

// Enricher turns message text into classification metadata and an
// embedding, tolerating upstream failure. It never returns an error:
// a failed or malformed classification degrades to neutral values and
// a failed or wrong-length embedding degrades to absence. There are no
// retries; a miss means no enrichment this cycle.
type Enricher struct {
	classifier Classifier
	embedder   Embedder
	dimension  int
	logger     log.Logger
	metrics    *Metrics
}

// NewEnricher creates an Enricher. dimension is the required embedding
// vector length; vectors of any other length are discarded.
func NewEnricher(classifier Classifier, embedder Embedder, dimension int, logger log.Logger, m *Metrics) *Enricher {
	if logger == nil {
		logger = log.Nop()
	}
	if m == nil {
		m = NewMetrics(prometheus.NewRegistry())
	}
	return &Enricher{
		classifier: classifier,
		embedder:   embedder,
		dimension:  dimension,
		logger:     logger,
		metrics:    m,
	}
}

// Enrich classifies and embeds one message text. The returned
// classification is never nil; the vector is nil when the embedding is
// absent and must not be persisted in that case.
func (e *Enricher) Enrich(ctx context.Context, text string) (*Classification, []float32) {
	return e.Classify(ctx, text), e.Embed(ctx, text)
}

// Classify invokes the classification capability and validates its
// output per-field. Failure degrades to a neutral Classification.
func (e *Enricher) Classify(ctx context.Context, text string) *Classification {
	if e.classifier == nil {
		return &Classification{}
	}

	raw, err := e.classifier.Classify(ctx, text)
	if err != nil {
		e.logger.Error(ctx, err, "classification failed, using neutral defaults")
		e.metrics.ClassificationsTotal.WithLabelValues("error").Inc()
		return &Classification{}
	}

	e.metrics.ClassificationsTotal.WithLabelValues("ok").Inc()
	return ParseClassification(raw)
}

// Embed invokes the embedding capability. It returns nil when the call
// fails or the vector length does not match the configured dimension;
// a partially-shaped vector must never reach storage.
func (e *Enricher) Embed(ctx context.Context, text string) []float32 {
	if e.embedder == nil {
		return nil
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		e.logger.Error(ctx, err, "embedding failed, skipping")
		e.metrics.EmbeddingsTotal.WithLabelValues("error").Inc()
		return nil
	}
	if len(vec) != e.dimension {
		e.logger.Warn(ctx, "embedding has wrong dimension, rejecting",
			"got", len(vec),
			"want", e.dimension,
		)
		e.metrics.EmbeddingsTotal.WithLabelValues("rejected").Inc()
		return nil
	}

	e.metrics.EmbeddingsTotal.WithLabelValues("ok").Inc()
	return vec
}
