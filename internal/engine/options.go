package engine

import "churn-engine/internal/ml"

// Option configures optional engine collaborators.
type Option func(*options)

type options struct {
	metrics Metrics
	models  *ml.ModelManager
	runs    RunLog
	events  EventSink
}

// WithMetrics routes engine events to m.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithModelManager persists every trained model and enables Activate, Rollback and Restore.
func WithModelManager(mm *ml.ModelManager) Option {
	return func(o *options) {
		o.models = mm
	}
}

// WithRunLog records every successful Predict.
func WithRunLog(r RunLog) Option {
	return func(o *options) {
		o.runs = r
	}
}

// WithEventSink publishes lifecycle events to s.
func WithEventSink(s EventSink) Option {
	return func(o *options) {
		if s != nil {
			o.events = s
		}
	}
}

func applyOptions(opts []Option) *options {
	o := &options{
		metrics: noopMetrics{},
		events:  noopSink{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type noopMetrics struct{}

func (noopMetrics) ScoredRecordsAdd(float64)          {}
func (noopMetrics) PredictionScoresObserve(float64)   {}
func (noopMetrics) ExplanationLatencyObserve(float64) {}
func (noopMetrics) UnreliableExplanationsInc()        {}
func (noopMetrics) TrainingRunsInc(string)            {}
func (noopMetrics) TrainingFailuresInc()              {}
func (noopMetrics) TrainingDurationObserve(float64)   {}
func (noopMetrics) ModelActivated(float64, float64)   {}
func (noopMetrics) ScoringDurationObserve(float64)    {}
func (noopMetrics) DriftScoreSet(string, float64)     {}
func (noopMetrics) DriftAlertsAdd(float64)            {}
func (noopMetrics) LoadErrorsInc()                    {}
