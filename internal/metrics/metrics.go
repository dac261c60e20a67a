// Package metrics provides Prometheus metrics collection for the churn engine.
// It defines the training, scoring, explanation and data-quality metrics that are
// exposed via the Prometheus metrics endpoint for monitoring and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the churn engine.
type Metrics struct {
	// Training metrics
	TrainingRuns          *prometheus.CounterVec // Completed training runs by model family
	TrainingFailures      prometheus.Counter     // Training runs that returned an error
	TrainingDuration      prometheus.Histogram   // Wall time of training runs
	ModelTrainedTimestamp prometheus.Gauge       // Unix time the active model was trained
	ModelAUC              prometheus.Gauge       // In-sample AUC of the active model

	// Scoring metrics
	ScoredRecords    prometheus.Counter   // Records scored across all runs
	ScoringDuration  prometheus.Histogram // Wall time of scoring runs
	PredictionScores prometheus.Histogram // Distribution of churn probabilities

	// Explanation metrics
	ExplanationLatency     prometheus.Histogram // Latency of single-record explanations
	UnreliableExplanations prometheus.Counter   // Explanations whose contributions failed to reconcile

	// Data quality metrics
	DriftScore  *prometheus.GaugeVec // Latest drift score per feature
	DriftAlerts prometheus.Counter   // Drift alerts raised
	LoadErrors  prometheus.Counter   // Dataset loads that failed

	// HTTP metrics
	APIRequests *prometheus.CounterVec // Requests by route and status code

	// System metrics
	ErrorsTotal prometheus.Counter // Total number of errors encountered
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
// This allows for isolated metric collection in tests without affecting
// the global Prometheus registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		TrainingRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "churn_training_runs_total",
			Help: "Total number of completed training runs",
		}, []string{"family"}),
		TrainingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "churn_training_failures_total",
			Help: "Total number of failed training runs",
		}),
		TrainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "churn_training_duration_seconds",
			Help:    "Duration of training runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		ModelTrainedTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "churn_model_trained_timestamp_seconds",
			Help: "Unix time at which the active model was trained",
		}),
		ModelAUC: factory.NewGauge(prometheus.GaugeOpts{
			Name: "churn_model_auc",
			Help: "In-sample ROC AUC of the active model",
		}),
		ScoredRecords: factory.NewCounter(prometheus.CounterOpts{
			Name: "churn_scored_records_total",
			Help: "Total number of records scored",
		}),
		ScoringDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "churn_scoring_duration_seconds",
			Help:    "Duration of scoring runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		PredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "churn_prediction_scores",
			Help:    "Distribution of predicted churn probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		ExplanationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "churn_explanation_latency_seconds",
			Help:    "Latency of single-record explanations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		UnreliableExplanations: factory.NewCounter(prometheus.CounterOpts{
			Name: "churn_unreliable_explanations_total",
			Help: "Explanations whose contributions did not reconcile with the prediction",
		}),
		DriftScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "churn_feature_drift_score",
			Help: "Latest drift score of each feature against the training distribution",
		}, []string{"feature"}),
		DriftAlerts: factory.NewCounter(prometheus.CounterOpts{
			Name: "churn_drift_alerts_total",
			Help: "Total number of feature drift alerts raised",
		}),
		LoadErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "churn_load_errors_total",
			Help: "Total number of dataset loads that failed",
		}),
		APIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "churn_api_requests_total",
			Help: "HTTP requests served by route and status code",
		}, []string{"route", "code"}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "churn_errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}
