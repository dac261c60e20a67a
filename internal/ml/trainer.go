package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"churn-engine/internal/common"
	"churn-engine/internal/dataset"
	"churn-engine/internal/preprocess"
	"churn-engine/internal/schema"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TrainConfig holds the hyperparameters of a training run.
type TrainConfig struct {
	Family         Family  `json:"family" yaml:"family"`
	Seed           int64   `json:"seed" yaml:"seed"`
	Trees          int     `json:"trees" yaml:"trees"`
	MaxDepth       int     `json:"max_depth" yaml:"maxDepth"`
	MinSamplesLeaf int     `json:"min_samples_leaf" yaml:"minSamplesLeaf"`
	MaxFeatures    int     `json:"max_features" yaml:"maxFeatures"`
	Epochs         int     `json:"epochs" yaml:"epochs"`
	LearningRate   float64 `json:"learning_rate" yaml:"learningRate"`
	L2             float64 `json:"l2" yaml:"l2"`
	MinPositive    int     `json:"min_positive" yaml:"minPositive"`
	MinNegative    int     `json:"min_negative" yaml:"minNegative"`
	BackgroundSize int     `json:"background_size" yaml:"backgroundSize"`
}

// DefaultTrainConfig returns the configuration used when nothing is overridden.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Family:         Family(common.DefaultModelFamily),
		Seed:           common.DefaultModelSeed,
		Trees:          common.DefaultTrees,
		MaxDepth:       common.DefaultMaxDepth,
		MinSamplesLeaf: common.DefaultMinSamplesLeaf,
		Epochs:         common.DefaultEpochs,
		LearningRate:   common.DefaultLearningRate,
		L2:             common.DefaultL2,
		MinPositive:    common.DefaultMinPositive,
		MinNegative:    common.DefaultMinNegative,
		BackgroundSize: common.DefaultBackgroundSize,
	}
}

// InsufficientDataError reports a training set with too few examples of either class.
type InsufficientDataError struct {
	Positives   int
	Negatives   int
	MinPositive int
	MinNegative int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient training data: %d positive (need %d) and %d negative (need %d) examples",
		e.Positives, e.MinPositive, e.Negatives, e.MinNegative)
}

// TrainedModel is an immutable trained classifier together with everything needed to score
// and explain new records: the frozen schema, the fitted preprocessor and the background
// sample that defines the explanation base value. A new training run always yields a new
// TrainedModel with a new ID.
type TrainedModel struct {
	id         string
	createdAt  time.Time
	config     TrainConfig
	schema     *schema.Schema
	prep       *preprocess.Fitted
	classifier Classifier
	background [][]float64
	baseValue  float64
	metrics    ModelMetrics
}

func (m *TrainedModel) ID() string                       { return m.id }
func (m *TrainedModel) CreatedAt() time.Time             { return m.createdAt }
func (m *TrainedModel) Family() Family                   { return m.classifier.Family() }
func (m *TrainedModel) Seed() int64                      { return m.config.Seed }
func (m *TrainedModel) Config() TrainConfig              { return m.config }
func (m *TrainedModel) Schema() *schema.Schema           { return m.schema.Clone() }
func (m *TrainedModel) Preprocessor() *preprocess.Fitted { return m.prep }
func (m *TrainedModel) BaseValue() float64               { return m.baseValue }
func (m *TrainedModel) Metrics() ModelMetrics            { return m.metrics }
func (m *TrainedModel) BackgroundSize() int              { return len(m.background) }

// PredictProba scores one encoded vector.
func (m *TrainedModel) PredictProba(x []float64) float64 {
	return clamp01(m.classifier.PredictProba(x))
}

// Train fits a fresh preprocessor and classifier on frame. The frame must already have been
// validated against s for the training role.
func Train(ctx context.Context, frame *dataset.Frame, s *schema.Schema, cfg TrainConfig) (*TrainedModel, error) {
	if !cfg.Family.Valid() {
		return nil, fmt.Errorf("unknown model family %q", cfg.Family)
	}

	labels, err := frame.Column(s.TargetColumn)
	if err != nil {
		return nil, fmt.Errorf("training frame: %w", err)
	}
	y := make([]int, len(labels))
	positives := 0
	for i, v := range labels {
		if y[i], err = s.Label(v); err != nil {
			return nil, fmt.Errorf("training frame row %d: %w", i, err)
		}
		positives += y[i]
	}
	negatives := len(y) - positives
	if positives < cfg.MinPositive || negatives < cfg.MinNegative {
		return nil, &InsufficientDataError{
			Positives:   positives,
			Negatives:   negatives,
			MinPositive: cfg.MinPositive,
			MinNegative: cfg.MinNegative,
		}
	}

	start := time.Now()

	prep, err := preprocess.Fit(frame, s)
	if err != nil {
		return nil, fmt.Errorf("fit preprocessor: %w", err)
	}
	X, err := prep.Transform(frame)
	if err != nil {
		return nil, fmt.Errorf("encode training frame: %w", err)
	}

	var classifier Classifier
	switch cfg.Family {
	case FamilyForest:
		maxFeatures := cfg.MaxFeatures
		if maxFeatures <= 0 {
			maxFeatures = defaultMaxFeatures(prep.Width)
		}
		classifier, err = fitForest(ctx, X, y, forestParams{
			trees:          cfg.Trees,
			maxDepth:       cfg.MaxDepth,
			minSamplesLeaf: cfg.MinSamplesLeaf,
			maxFeatures:    maxFeatures,
			seed:           cfg.Seed,
		})
	case FamilyLogistic:
		classifier, err = fitLogistic(ctx, X, y, logisticParams{
			epochs:       cfg.Epochs,
			learningRate: cfg.LearningRate,
			l2:           cfg.L2,
		})
	}
	if err != nil {
		return nil, err
	}

	model := &TrainedModel{
		id:         uuid.NewString(),
		createdAt:  time.Now().UTC(),
		config:     cfg,
		schema:     s.Clone(),
		prep:       prep,
		classifier: classifier,
		background: sampleBackground(X, cfg.BackgroundSize, cfg.Seed),
	}

	for _, b := range model.background {
		model.baseValue += model.PredictProba(b)
	}
	model.baseValue /= float64(len(model.background))

	proba := make([]float64, len(X))
	for i, x := range X {
		proba[i] = model.PredictProba(x)
	}
	model.metrics = evaluate(proba, y)

	log.Info().
		Str("model_id", model.id).
		Str("family", string(cfg.Family)).
		Int("rows", len(X)).
		Int("features", len(s.Features)).
		Int("encoded_width", prep.Width).
		Float64("auc", model.metrics.AUCScore).
		Float64("base_value", model.baseValue).
		Dur("elapsed", time.Since(start)).
		Msg("Model trained")

	return model, nil
}

// sampleBackground draws size rows without replacement, preserving their training order.
// All rows are used when size is zero or not smaller than the population.
func sampleBackground(X [][]float64, size int, seed int64) [][]float64 {
	if size <= 0 || size >= len(X) {
		return X
	}
	perm := rand.New(rand.NewSource(seed)).Perm(len(X))[:size]
	chosen := make([]bool, len(X))
	for _, i := range perm {
		chosen[i] = true
	}
	out := make([][]float64, 0, size)
	for i, x := range X {
		if chosen[i] {
			out = append(out, x)
		}
	}
	return out
}

type modelSnapshot struct {
	ID           string             `json:"id"`
	CreatedAt    time.Time          `json:"created_at"`
	Config       TrainConfig        `json:"config"`
	Schema       *schema.Schema     `json:"schema"`
	Preprocessor *preprocess.Fitted `json:"preprocessor"`
	Forest       *Forest            `json:"forest,omitempty"`
	Logistic     *Logistic          `json:"logistic,omitempty"`
	Background   [][]float64        `json:"background"`
	BaseValue    float64            `json:"base_value"`
	Metrics      ModelMetrics       `json:"metrics"`
}

// MarshalJSON serialises the complete model so it can be persisted and reactivated later.
func (m *TrainedModel) MarshalJSON() ([]byte, error) {
	snap := modelSnapshot{
		ID:           m.id,
		CreatedAt:    m.createdAt,
		Config:       m.config,
		Schema:       m.schema,
		Preprocessor: m.prep,
		Background:   m.background,
		BaseValue:    m.baseValue,
		Metrics:      m.metrics,
	}
	switch c := m.classifier.(type) {
	case *Forest:
		snap.Forest = c
	case *Logistic:
		snap.Logistic = c
	default:
		return nil, fmt.Errorf("cannot serialise classifier %T", m.classifier)
	}
	return json.Marshal(snap)
}

// DecodeModel restores a model written by MarshalJSON.
func DecodeModel(data []byte) (*TrainedModel, error) {
	var snap modelSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if snap.Schema == nil || snap.Preprocessor == nil || len(snap.Background) == 0 {
		return nil, fmt.Errorf("decode model %s: incomplete snapshot", snap.ID)
	}

	m := &TrainedModel{
		id:         snap.ID,
		createdAt:  snap.CreatedAt,
		config:     snap.Config,
		schema:     snap.Schema,
		prep:       snap.Preprocessor,
		background: snap.Background,
		baseValue:  snap.BaseValue,
		metrics:    snap.Metrics,
	}
	switch {
	case snap.Forest != nil:
		m.classifier = snap.Forest
	case snap.Logistic != nil:
		m.classifier = snap.Logistic
	default:
		return nil, fmt.Errorf("decode model %s: no classifier", snap.ID)
	}
	return m, nil
}
