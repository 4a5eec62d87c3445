package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	guardVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_guard_verdicts_total",
			Help: "Total number of guard verdicts by outcome and rule.",
		},
		[]string{"outcome", "rule"},
	)
	schemaDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "querypilot_schema_documents",
			Help: "Number of table definitions in the active schema index.",
		},
	)
	schemaLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_schema_loads_total",
			Help: "Total number of schema load attempts by outcome.",
		},
		[]string{"outcome"},
	)
	retrievalResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querypilot_retrieval_results",
			Help:    "Number of table definitions returned per retrieval.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)
	translateDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querypilot_translate_duration_seconds",
			Help:    "Latency of natural language to SQL translation.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"outcome"},
	)
	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querypilot_query_duration_seconds",
			Help:    "Latency of guarded query execution.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"engine", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		guardVerdictsTotal,
		schemaDocuments,
		schemaLoadsTotal,
		retrievalResults,
		translateDurationSeconds,
		queryDurationSeconds,
	)
}

func ObserveGuardVerdict(safe bool, rule string) {
	outcome := "safe"
	if !safe {
		outcome = "rejected"
	}
	guardVerdictsTotal.WithLabelValues(outcome, rule).Inc()
}

func ObserveSchemaLoad(err error, documents int) {
	if err != nil {
		schemaLoadsTotal.WithLabelValues("error").Inc()
		return
	}
	schemaLoadsTotal.WithLabelValues("ok").Inc()
	SetSchemaDocuments(documents)
}

func SetSchemaDocuments(documents int) {
	if documents < 0 {
		documents = 0
	}
	schemaDocuments.Set(float64(documents))
}

func ObserveRetrieval(results int) {
	retrievalResults.Observe(float64(results))
}

func ObserveTranslate(err error, elapsed time.Duration) {
	translateDurationSeconds.WithLabelValues(outcomeLabel(err)).Observe(elapsed.Seconds())
}

func ObserveQuery(engine string, err error, elapsed time.Duration) {
	queryDurationSeconds.WithLabelValues(engine, outcomeLabel(err)).Observe(elapsed.Seconds())
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
