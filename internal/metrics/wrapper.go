package metrics

import "strconv"

// MetricsWrapper provides a simple method-per-event interface over Metrics so that the
// engine and ml packages do not depend on Prometheus types.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) TrainingRunsInc(family string) {
	w.m.TrainingRuns.WithLabelValues(family).Inc()
}

func (w *MetricsWrapper) TrainingFailuresInc() {
	w.m.TrainingFailures.Inc()
	w.m.ErrorsTotal.Inc()
}

func (w *MetricsWrapper) TrainingDurationObserve(v float64) {
	w.m.TrainingDuration.Observe(v)
}

// ModelActivated records the identity metrics of a newly installed model.
func (w *MetricsWrapper) ModelActivated(trainedUnix, auc float64) {
	w.m.ModelTrainedTimestamp.Set(trainedUnix)
	w.m.ModelAUC.Set(auc)
}

func (w *MetricsWrapper) ScoredRecordsAdd(v float64) {
	w.m.ScoredRecords.Add(v)
}

func (w *MetricsWrapper) ScoringDurationObserve(v float64) {
	w.m.ScoringDuration.Observe(v)
}

func (w *MetricsWrapper) PredictionScoresObserve(v float64) {
	w.m.PredictionScores.Observe(v)
}

func (w *MetricsWrapper) ExplanationLatencyObserve(v float64) {
	w.m.ExplanationLatency.Observe(v)
}

func (w *MetricsWrapper) UnreliableExplanationsInc() {
	w.m.UnreliableExplanations.Inc()
	w.m.ErrorsTotal.Inc()
}

func (w *MetricsWrapper) DriftScoreSet(feature string, v float64) {
	w.m.DriftScore.WithLabelValues(feature).Set(v)
}

func (w *MetricsWrapper) DriftAlertsAdd(v float64) {
	w.m.DriftAlerts.Add(v)
}

func (w *MetricsWrapper) LoadErrorsInc() {
	w.m.LoadErrors.Inc()
	w.m.ErrorsTotal.Inc()
}

func (w *MetricsWrapper) APIRequestsInc(route string, code int) {
	w.m.APIRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
