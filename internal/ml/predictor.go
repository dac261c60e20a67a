package ml

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"churn-engine/internal/common"
	"churn-engine/internal/dataset"

	"github.com/rs/zerolog/log"
)

// MetricsInterface defines metrics methods needed by the predictor
type MetricsInterface interface {
	ScoredRecordsAdd(float64)
	PredictionScoresObserve(float64)
	ExplanationLatencyObserve(float64)
	UnreliableExplanationsInc()
}

type noopMetrics struct{}

func (noopMetrics) ScoredRecordsAdd(float64)          {}
func (noopMetrics) PredictionScoresObserve(float64)   {}
func (noopMetrics) ExplanationLatencyObserve(float64) {}
func (noopMetrics) UnreliableExplanationsInc()        {}

// ScoredRecord is the churn probability of one scoring row.
type ScoredRecord struct {
	Row         int     `json:"row"`
	ID          string  `json:"id,omitempty"`
	Probability float64 `json:"probability"`
}

// Predictor scores populations and explains individual records against a TrainedModel. It
// holds no model state of its own, so one Predictor serves every model lineage.
type Predictor struct {
	workers int
	explain ExplainConfig
	metrics MetricsInterface
}

// NewPredictor creates a predictor. workers <= 0 uses GOMAXPROCS; metrics may be nil.
func NewPredictor(workers int, explain ExplainConfig, metrics MetricsInterface) *Predictor {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Predictor{workers: workers, explain: explain.withDefaults(), metrics: metrics}
}

// ExplainConfig returns the explanation settings in effect.
func (p *Predictor) ExplainConfig() ExplainConfig {
	return p.explain
}

// Score returns one ScoredRecord per row of frame, in row order. The frame is checked against
// the model schema first and a *schema.MismatchError is returned when it does not conform.
func (p *Predictor) Score(ctx context.Context, frame *dataset.Frame, model *TrainedModel) ([]ScoredRecord, error) {
	if p == nil || model == nil {
		return nil, fmt.Errorf("predictor or model not initialized")
	}
	if err := model.schema.CheckScoring(frame); err != nil {
		return nil, err
	}

	start := time.Now()
	X, err := model.prep.Transform(frame)
	if err != nil {
		return nil, fmt.Errorf("encode scoring frame: %w", err)
	}

	idColumn := model.schema.IDColumn
	out := make([]ScoredRecord, len(X))

	workers := p.workers
	rowsPerWorker := (len(X) + workers - 1) / workers

	var cancelled atomic.Bool
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * rowsPerWorker
		hi := lo + rowsPerWorker
		if hi > len(X) {
			hi = len(X)
		}
		if lo >= hi {
			continue
		}

		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				if (i-lo)%256 == 0 && ctx.Err() != nil {
					cancelled.Store(true)
					return
				}
				prob := model.PredictProba(X[i])
				out[i] = ScoredRecord{Row: i, Probability: prob}
				if idColumn != "" {
					out[i].ID = frame.Value(i, idColumn)
				}
				p.metrics.PredictionScoresObserve(prob)
			}
		}(lo, hi)
	}
	wg.Wait()

	if cancelled.Load() {
		return nil, fmt.Errorf("scoring interrupted: %w", ctx.Err())
	}

	p.metrics.ScoredRecordsAdd(float64(len(out)))
	log.Info().
		Str("model_id", model.id).
		Int("rows", len(out)).
		Int("workers", workers).
		Dur("elapsed", time.Since(start)).
		Msg("Scored dataset")

	return out, nil
}

// AppendScores returns a copy of frame with the churn probability appended as the last
// column. An existing probability column is replaced in place.
func AppendScores(frame *dataset.Frame, records []ScoredRecord) (*dataset.Frame, error) {
	if frame.Len() != len(records) {
		return nil, fmt.Errorf("have %d scores for %d rows", len(records), frame.Len())
	}
	values := make([]string, len(records))
	for _, r := range records {
		values[r.Row] = strconv.FormatFloat(r.Probability, 'f', 6, 64)
	}
	return frame.WithColumn(common.ProbabilityColumn, values)
}
