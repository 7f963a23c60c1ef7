// Package metrics exposes Prometheus collectors for ingestion and queries.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector of this service.
var Registry = prometheus.NewRegistry()

var (
	ChunksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "policy_rag",
		Name:      "chunks_processed_total",
		Help:      "Chunks handled by the index builder, by outcome.",
	}, []string{"outcome"})

	Ingestions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "policy_rag",
		Name:      "ingestions_total",
		Help:      "Ingestion runs, by result.",
	}, []string{"result"})

	IngestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "policy_rag",
		Name:      "ingest_duration_seconds",
		Help:      "Wall time of ingestion runs.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	})

	Asks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "policy_rag",
		Name:      "asks_total",
		Help:      "Questions answered, by outcome (answered, no_evidence, model_fallback, error).",
	}, []string{"outcome"})

	RetrievalScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "policy_rag",
		Name:      "retrieval_top_score",
		Help:      "Best similarity score per query before the score gate.",
		Buckets:   prometheus.LinearBuckets(-0.2, 0.1, 13),
	})

	ImagesDescribed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "policy_rag",
		Name:      "images_total",
		Help:      "Embedded images seen by the vision step, by outcome.",
	}, []string{"outcome"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ChunksProcessed, Ingestions, IngestDuration, Asks, RetrievalScore, ImagesDescribed,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
