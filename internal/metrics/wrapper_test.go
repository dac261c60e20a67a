package metrics

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestWrapper(t *testing.T) (*Metrics, *MetricsWrapper, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	metrics := NewWithRegistry(registry)
	return metrics, NewWrapper(metrics), registry
}

func TestNewWrapper(t *testing.T) {
	metrics, wrapper, _ := newTestWrapper(t)

	if wrapper == nil {
		t.Fatal("NewWrapper returned nil")
	}
	if wrapper.m != metrics {
		t.Error("Wrapper does not contain correct metrics instance")
	}
}

func TestNewWithRegistry_Isolated(t *testing.T) {
	// Two independent registries must not collide on metric names.
	_, _, _ = newTestWrapper(t)
	_, _, _ = newTestWrapper(t)
}

func TestMetricsWrapper_Training(t *testing.T) {
	metrics, wrapper, _ := newTestWrapper(t)

	wrapper.TrainingRunsInc("forest")
	wrapper.TrainingRunsInc("forest")
	wrapper.TrainingRunsInc("logistic")
	if got := testutil.ToFloat64(metrics.TrainingRuns.WithLabelValues("forest")); got != 2 {
		t.Errorf("Expected 2 forest runs, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.TrainingRuns.WithLabelValues("logistic")); got != 1 {
		t.Errorf("Expected 1 logistic run, got %f", got)
	}

	wrapper.TrainingFailuresInc()
	if got := testutil.ToFloat64(metrics.TrainingFailures); got != 1 {
		t.Errorf("Expected 1 training failure, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.ErrorsTotal); got != 1 {
		t.Errorf("Expected failures to count as errors, got %f", got)
	}

	wrapper.ModelActivated(1700000000, 0.91)
	if got := testutil.ToFloat64(metrics.ModelTrainedTimestamp); got != 1700000000 {
		t.Errorf("Expected trained timestamp 1700000000, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.ModelAUC); got != 0.91 {
		t.Errorf("Expected AUC 0.91, got %f", got)
	}
}

func TestMetricsWrapper_Scoring(t *testing.T) {
	metrics, wrapper, registry := newTestWrapper(t)

	wrapper.ScoredRecordsAdd(3333)
	if got := testutil.ToFloat64(metrics.ScoredRecords); got != 3333 {
		t.Errorf("Expected 3333 scored records, got %f", got)
	}

	for _, p := range []float64{0.05, 0.5, 0.95} {
		wrapper.PredictionScoresObserve(p)
	}
	wrapper.ScoringDurationObserve(0.2)
	wrapper.ExplanationLatencyObserve(0.01)
	wrapper.TrainingDurationObserve(1.5)

	families, err := registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() != "churn_prediction_scores" {
			continue
		}
		found = true
		h := mf.GetMetric()[0].GetHistogram()
		if h.GetSampleCount() != 3 {
			t.Errorf("Expected 3 prediction scores, got %d", h.GetSampleCount())
		}
		if math.Abs(h.GetSampleSum()-1.5) > 1e-9 {
			t.Errorf("Expected score sum 1.5, got %f", h.GetSampleSum())
		}
	}
	if !found {
		t.Error("churn_prediction_scores not gathered")
	}

	count, err := testutil.GatherAndCount(registry, "churn_scoring_duration_seconds", "churn_explanation_latency_seconds", "churn_training_duration_seconds")
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("Expected 3 histogram series, got %d", count)
	}
}

func TestMetricsWrapper_DataQuality(t *testing.T) {
	metrics, wrapper, _ := newTestWrapper(t)

	wrapper.DriftScoreSet("Total_Day_charge", 0.42)
	wrapper.DriftScoreSet("State", 0.01)
	if got := testutil.ToFloat64(metrics.DriftScore.WithLabelValues("Total_Day_charge")); got != 0.42 {
		t.Errorf("Expected drift 0.42, got %f", got)
	}
	if got := testutil.CollectAndCount(metrics.DriftScore); got != 2 {
		t.Errorf("Expected 2 drift series, got %d", got)
	}

	wrapper.DriftAlertsAdd(2)
	if got := testutil.ToFloat64(metrics.DriftAlerts); got != 2 {
		t.Errorf("Expected 2 drift alerts, got %f", got)
	}

	wrapper.LoadErrorsInc()
	wrapper.UnreliableExplanationsInc()
	if got := testutil.ToFloat64(metrics.LoadErrors); got != 1 {
		t.Errorf("Expected 1 load error, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.UnreliableExplanations); got != 1 {
		t.Errorf("Expected 1 unreliable explanation, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.ErrorsTotal); got != 2 {
		t.Errorf("Expected 2 errors, got %f", got)
	}
}

func TestMetricsWrapper_APIRequests(t *testing.T) {
	metrics, wrapper, _ := newTestWrapper(t)

	wrapper.APIRequestsInc("/predictions", 200)
	wrapper.APIRequestsInc("/predictions", 200)
	wrapper.APIRequestsInc("/predictions", 422)

	if got := testutil.ToFloat64(metrics.APIRequests.WithLabelValues("/predictions", "200")); got != 2 {
		t.Errorf("Expected 2 successful requests, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.APIRequests.WithLabelValues("/predictions", "422")); got != 1 {
		t.Errorf("Expected 1 rejected request, got %f", got)
	}
}
