// Package engine is the churn prediction and explanation engine owned by a serving layer.
// An Engine holds exactly one live model lineage: the trained model, the scoring data
// staged for it and the scored results. Each lifecycle step builds a new immutable session
// and installs it with an atomic pointer swap, so concurrent readers always observe a
// consistent model, dataset and score set.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"churn-engine/internal/common"
	"churn-engine/internal/dataset"
	"churn-engine/internal/ml"
	"churn-engine/internal/schema"
	"churn-engine/internal/storage"
)

var (
	// ErrNotTrained is returned by operations that need a trained model before one exists.
	ErrNotTrained = errors.New("no trained model")
	// ErrNoScoringData is returned by Predict and Drift before scoring data is staged.
	ErrNoScoringData = errors.New("no scoring data loaded")
	// ErrNotScored is returned by explanation queries before Predict has succeeded for the
	// current model and scoring data.
	ErrNotScored = errors.New("scoring data has not been scored")
	// ErrModelReplaced is returned when the live model changed while an operation was in
	// flight; its results belonged to the old lineage and were discarded.
	ErrModelReplaced = errors.New("model was replaced during the operation")
	// ErrCustomerNotFound is returned by IndexOf for identifiers absent from the scored data.
	ErrCustomerNotFound = errors.New("customer not found in scored data")
	// ErrNoRegistry is returned by model version operations when no model store is configured.
	ErrNoRegistry = errors.New("model registry not configured")
)

// State is the engine lifecycle position.
type State int

const (
	StateUninitialized State = iota
	StateTrained
	StateScored
)

func (s State) String() string {
	switch s {
	case StateTrained:
		return "trained"
	case StateScored:
		return "scored"
	}
	return "uninitialized"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "uninitialized":
		*s = StateUninitialized
	case "trained":
		*s = StateTrained
	case "scored":
		*s = StateScored
	default:
		return fmt.Errorf("unknown engine state %q", string(b))
	}
	return nil
}

// Loader resolves a data locator into a frame. *dataset.Loader satisfies it.
type Loader interface {
	Load(ctx context.Context, locator string) (*dataset.Frame, error)
}

// Metrics receives engine events. *metrics.MetricsWrapper satisfies it.
type Metrics interface {
	ml.MetricsInterface
	TrainingRunsInc(family string)
	TrainingFailuresInc()
	TrainingDurationObserve(v float64)
	ModelActivated(trainedUnix, auc float64)
	ScoringDurationObserve(v float64)
	DriftScoreSet(feature string, v float64)
	DriftAlertsAdd(v float64)
	LoadErrorsInc()
}

// RunLog records completed scoring runs. *storage.Store satisfies it.
type RunLog interface {
	RecordRun(run storage.RunRecord) error
}

// Config holds the settings the engine applies to every lineage.
type Config struct {
	Schema           schema.Spec
	Train            ml.TrainConfig
	Explain          ml.ExplainConfig
	Workers          int
	OutputPath       string
	DriftThreshold   float64
	ImportanceSample int
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Schema:           schema.Spec{IDColumn: common.DefaultIDColumn, TargetColumn: common.DefaultTargetColumn},
		Train:            ml.DefaultTrainConfig(),
		OutputPath:       common.DefaultOutputPath,
		DriftThreshold:   common.DefaultDriftThreshold,
		ImportanceSample: common.DefaultImportanceSample,
	}
}

// session is one immutable snapshot of the live state. A field is never modified after the
// session is installed; every transition builds a new session.
type session struct {
	state         State
	model         *ml.TrainedModel
	modelSource   string
	scoring       *dataset.Frame
	scoringSource string
	drift         *ml.DriftReport
	scored        *dataset.Frame
	records       []ml.ScoredRecord
	index         map[string]int
	scoredAt      time.Time
}

// Engine trains, scores and explains churn models for one serving session.
type Engine struct {
	cfg       Config
	loader    Loader
	predictor *ml.Predictor
	metrics   Metrics
	models    *ml.ModelManager
	runs      RunLog
	events    EventSink

	commitMu sync.Mutex
	live     atomic.Pointer[session]
}

// New creates an engine in the Uninitialized state. A nil loader uses a dataset.Loader with
// the default timeout.
func New(cfg Config, loader Loader, opts ...Option) *Engine {
	o := applyOptions(opts)
	if loader == nil {
		loader = dataset.NewLoader(common.DefaultLoadTimeout)
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = common.DefaultOutputPath
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = common.DefaultDriftThreshold
	}
	if cfg.ImportanceSample <= 0 {
		cfg.ImportanceSample = common.DefaultImportanceSample
	}

	e := &Engine{
		cfg:       cfg,
		loader:    loader,
		predictor: ml.NewPredictor(cfg.Workers, cfg.Explain, o.metrics),
		metrics:   o.metrics,
		models:    o.models,
		runs:      o.runs,
		events:    o.events,
	}
	e.live.Store(&session{state: StateUninitialized})
	return e
}

func (e *Engine) current() (*session, error) {
	if e == nil {
		return nil, errors.New("engine not initialized")
	}
	return e.live.Load(), nil
}

// commit installs next when the live session still belongs to the model base was built
// from.
func (e *Engine) commit(base, next *session) error {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	if e.live.Load().model != base.model {
		return ErrModelReplaced
	}
	e.live.Store(next)
	return nil
}

// State returns the lifecycle position of the live session.
func (e *Engine) State() State {
	cur, err := e.current()
	if err != nil {
		return StateUninitialized
	}
	return cur.state
}

// Model returns the live model, or ErrNotTrained.
func (e *Engine) Model() (*ml.TrainedModel, error) {
	cur, err := e.current()
	if err != nil {
		return nil, err
	}
	if cur.model == nil {
		return nil, ErrNotTrained
	}
	return cur.model, nil
}

// Scored returns the scored records of the live session in input order. The slice is shared
// and must not be modified.
func (e *Engine) Scored() ([]ml.ScoredRecord, error) {
	cur, err := e.scoredSession()
	if err != nil {
		return nil, err
	}
	return cur.records, nil
}

// IndexOf returns the scored row of the customer with the given identifier.
func (e *Engine) IndexOf(customerID string) (int, error) {
	cur, err := e.scoredSession()
	if err != nil {
		return 0, err
	}
	row, ok := cur.index[customerID]
	if !ok {
		return 0, ErrCustomerNotFound
	}
	return row, nil
}

// Drift returns the drift report computed when the scoring data was staged.
func (e *Engine) Drift() (*ml.DriftReport, error) {
	cur, err := e.current()
	if err != nil {
		return nil, err
	}
	if cur.model == nil {
		return nil, ErrNotTrained
	}
	if cur.drift == nil {
		return nil, ErrNoScoringData
	}
	return cur.drift, nil
}

// Status summarises the live session.
type Status struct {
	State         State      `json:"state"`
	ModelID       string     `json:"model_id,omitempty"`
	Family        ml.Family  `json:"family,omitempty"`
	ModelSource   string     `json:"model_source,omitempty"`
	ScoringSource string     `json:"scoring_source,omitempty"`
	ScoringRows   int        `json:"scoring_rows"`
	ScoredRows    int        `json:"scored_rows"`
	ScoredAt      *time.Time `json:"scored_at,omitempty"`
	// Explain is the explanation configuration applied to every request.
	Explain ml.ExplainConfig `json:"explain"`
}

// Status returns a summary of the live session.
func (e *Engine) Status() Status {
	cur, err := e.current()
	if err != nil {
		return Status{}
	}
	st := Status{
		State:         cur.state,
		ModelSource:   cur.modelSource,
		ScoringSource: cur.scoringSource,
		ScoredRows:    len(cur.records),
		Explain:       e.predictor.ExplainConfig(),
	}
	if cur.model != nil {
		st.ModelID = cur.model.ID()
		st.Family = cur.model.Family()
	}
	if cur.scoring != nil {
		st.ScoringRows = cur.scoring.Len()
	}
	if cur.state == StateScored {
		at := cur.scoredAt
		st.ScoredAt = &at
	}
	return st
}

func (e *Engine) scoredSession() (*session, error) {
	cur, err := e.current()
	if err != nil {
		return nil, err
	}
	switch {
	case cur.model == nil:
		return nil, ErrNotTrained
	case cur.state != StateScored:
		return nil, ErrNotScored
	}
	return cur, nil
}
