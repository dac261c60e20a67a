package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"churn-engine/internal/dataset"
	"churn-engine/internal/ml"
	"churn-engine/internal/schema"
	"churn-engine/internal/storage"

	"github.com/rs/zerolog/log"
)

// BuildModel trains a new model from the data behind source and installs it as the live
// lineage in the Trained state. Scoring data and scored results of the previous lineage are
// discarded. On any failure the previous model stays live.
func (e *Engine) BuildModel(ctx context.Context, source string) error {
	if _, err := e.current(); err != nil {
		return err
	}

	frame, err := e.load(ctx, source)
	if err != nil {
		return err
	}

	s, err := e.cfg.Schema.Validate(frame, schema.RoleTraining)
	if err != nil {
		e.metrics.TrainingFailuresInc()
		return err
	}

	start := time.Now()
	model, err := ml.Train(ctx, frame, s, e.cfg.Train)
	if err != nil {
		e.metrics.TrainingFailuresInc()
		return err
	}
	e.metrics.TrainingDurationObserve(time.Since(start).Seconds())
	e.metrics.TrainingRunsInc(string(model.Family()))

	if e.models != nil {
		if _, err := e.models.Register(model, source); err != nil {
			log.Error().Err(err).Str("model_id", model.ID()).Msg("Failed to persist trained model")
		}
	}

	e.install(model, source)

	m := model.Metrics()
	log.Info().
		Str("model_id", model.ID()).
		Str("source", source).
		Str("family", string(model.Family())).
		Int("samples", m.TrainingSamples).
		Float64("auc", m.AUCScore).
		Dur("elapsed", time.Since(start)).
		Msg("Model installed")

	e.publish(EventModelTrained, model.ID(), map[string]interface{}{
		"source":  source,
		"family":  model.Family(),
		"metrics": m,
	})
	return nil
}

// install replaces the live lineage with model. The newest model always wins.
func (e *Engine) install(model *ml.TrainedModel, source string) {
	next := &session{state: StateTrained, model: model, modelSource: source}
	e.commitMu.Lock()
	e.live.Store(next)
	e.commitMu.Unlock()
	e.metrics.ModelActivated(float64(model.CreatedAt().Unix()), model.Metrics().AUCScore)
}

// SetTestingDataFrame loads the data behind source and stages it for scoring by the live
// model, replacing any earlier scoring data and scored results. Data that does not satisfy
// the model schema is still staged with a warning; Predict rejects it.
func (e *Engine) SetTestingDataFrame(ctx context.Context, source string) error {
	cur, err := e.current()
	if err != nil {
		return err
	}
	if cur.model == nil {
		return ErrNotTrained
	}

	frame, err := e.load(ctx, source)
	if err != nil {
		return err
	}

	if err := cur.model.Schema().CheckScoring(frame); err != nil {
		log.Warn().Err(err).Str("source", source).Msg("Scoring data does not match the model schema")
	}

	report, err := ml.DetectDrift(cur.model.Preprocessor(), frame, e.cfg.DriftThreshold)
	if err != nil {
		return fmt.Errorf("detect drift: %w", err)
	}
	e.recordDrift(report)

	next := &session{
		state:         StateTrained,
		model:         cur.model,
		modelSource:   cur.modelSource,
		scoring:       frame,
		scoringSource: source,
		drift:         report,
	}
	if err := e.commit(cur, next); err != nil {
		return err
	}

	log.Info().
		Str("model_id", cur.model.ID()).
		Str("source", source).
		Int("rows", frame.Len()).
		Int("drift_alerts", len(report.Alerts)).
		Msg("Scoring data staged")

	e.publish(EventScoringDataLoaded, cur.model.ID(), map[string]interface{}{
		"source":       source,
		"rows":         frame.Len(),
		"drift_alerts": len(report.Alerts),
	})
	return nil
}

func (e *Engine) recordDrift(report *ml.DriftReport) {
	for _, fd := range report.Features {
		e.metrics.DriftScoreSet(fd.FeatureName, fd.DriftScore)
	}
	if len(report.Alerts) == 0 {
		return
	}
	e.metrics.DriftAlertsAdd(float64(len(report.Alerts)))
	for _, a := range report.Alerts {
		log.Warn().
			Str("feature", a.FeatureName).
			Str("method", string(a.Method)).
			Str("severity", a.Severity).
			Float64("score", a.DriftScore).
			Msg(a.Description)
	}
}

// Predict scores the staged data with the live model, persists the augmented dataset to the
// configured output path and moves the engine to Scored. A failure leaves both the live
// state and the persisted file untouched.
func (e *Engine) Predict(ctx context.Context) error {
	cur, err := e.current()
	if err != nil {
		return err
	}
	if cur.model == nil {
		return ErrNotTrained
	}
	if cur.scoring == nil {
		return ErrNoScoringData
	}

	start := time.Now()
	records, err := e.predictor.Score(ctx, cur.scoring, cur.model)
	if err != nil {
		return err
	}
	augmented, err := ml.AppendScores(cur.scoring, records)
	if err != nil {
		return err
	}

	index := make(map[string]int, len(records))
	var total float64
	for _, r := range records {
		if r.ID != "" {
			index[r.ID] = r.Row
		}
		total += r.Probability
	}

	next := &session{
		state:         StateScored,
		model:         cur.model,
		modelSource:   cur.modelSource,
		scoring:       cur.scoring,
		scoringSource: cur.scoringSource,
		drift:         cur.drift,
		scored:        augmented,
		records:       records,
		index:         index,
		scoredAt:      time.Now().UTC(),
	}

	// The file is written inside the commit section so that it always matches the live
	// scored results.
	e.commitMu.Lock()
	live := e.live.Load()
	if live.model != cur.model || live.scoring != cur.scoring {
		e.commitMu.Unlock()
		return ErrModelReplaced
	}
	if err := dataset.WriteFileAtomic(e.cfg.OutputPath, augmented); err != nil {
		e.commitMu.Unlock()
		return fmt.Errorf("persist scored dataset: %w", err)
	}
	e.live.Store(next)
	e.commitMu.Unlock()

	elapsed := time.Since(start)
	e.metrics.ScoringDurationObserve(elapsed.Seconds())

	mean := 0.0
	if len(records) > 0 {
		mean = total / float64(len(records))
	}
	if e.runs != nil {
		run := storage.RunRecord{
			ModelID:         cur.model.ID(),
			Source:          cur.scoringSource,
			OutputPath:      e.cfg.OutputPath,
			Records:         len(records),
			MeanProbability: mean,
			StartedAt:       start.UTC(),
			Duration:        elapsed,
		}
		if err := e.runs.RecordRun(run); err != nil {
			log.Error().Err(err).Str("model_id", cur.model.ID()).Msg("Failed to record scoring run")
		}
	}

	log.Info().
		Str("model_id", cur.model.ID()).
		Str("output", e.cfg.OutputPath).
		Int("records", len(records)).
		Float64("mean_probability", mean).
		Dur("elapsed", elapsed).
		Msg("Predictions persisted")

	e.publish(EventScored, cur.model.ID(), map[string]interface{}{
		"records":          len(records),
		"mean_probability": mean,
		"output":           e.cfg.OutputPath,
	})
	return nil
}

// Activate installs a previously persisted model version as the live lineage.
func (e *Engine) Activate(ctx context.Context, modelID string) (*ml.TrainedModel, error) {
	if _, err := e.current(); err != nil {
		return nil, err
	}
	if e.models == nil {
		return nil, ErrNoRegistry
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model, err := e.models.ActivateVersion(modelID)
	if err != nil {
		return nil, err
	}
	e.activated(model)
	return model, nil
}

// Rollback re-installs the model version created before the active one.
func (e *Engine) Rollback(ctx context.Context) (*ml.TrainedModel, error) {
	if _, err := e.current(); err != nil {
		return nil, err
	}
	if e.models == nil {
		return nil, ErrNoRegistry
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model, err := e.models.Rollback()
	if err != nil {
		return nil, err
	}
	e.activated(model)
	return model, nil
}

// Restore installs the active version from the model store, if there is one. It is meant
// to be called once at startup.
func (e *Engine) Restore() (bool, error) {
	if _, err := e.current(); err != nil {
		return false, err
	}
	if e.models == nil {
		return false, nil
	}

	model, err := e.models.Active()
	if errors.Is(err, ml.ErrModelNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("restore active model: %w", err)
	}
	e.install(model, "registry")
	log.Info().Str("model_id", model.ID()).Msg("Restored active model")
	return true, nil
}

// Versions lists the persisted model versions, newest first.
func (e *Engine) Versions() ([]ml.ModelVersion, error) {
	if _, err := e.current(); err != nil {
		return nil, err
	}
	if e.models == nil {
		return nil, ErrNoRegistry
	}
	return e.models.ListVersions()
}

func (e *Engine) activated(model *ml.TrainedModel) {
	e.install(model, "registry")
	log.Info().Str("model_id", model.ID()).Str("family", string(model.Family())).Msg("Model activated")
	e.publish(EventModelActivated, model.ID(), map[string]interface{}{
		"family": model.Family(),
	})
}

func (e *Engine) load(ctx context.Context, source string) (*dataset.Frame, error) {
	frame, err := e.loader.Load(ctx, source)
	if err != nil {
		e.metrics.LoadErrorsInc()
		var loadErr *dataset.LoadError
		if !errors.As(err, &loadErr) {
			err = &dataset.LoadError{Locator: source, Err: err}
		}
		return nil, err
	}
	return frame, nil
}
