package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrModelNotFound is returned when a model version does not exist in the store.
var ErrModelNotFound = errors.New("model not found")

// ErrNoPreviousVersion is returned by Rollback when no older version exists.
var ErrNoPreviousVersion = errors.New("no previous model version")

// ModelVersion represents a versioned ML model
type ModelVersion struct {
	ID        string       `json:"id"`
	Family    Family       `json:"family"`
	Source    string       `json:"source"`
	CreatedAt time.Time    `json:"created_at"`
	Metrics   ModelMetrics `json:"metrics"`
	IsActive  bool         `json:"is_active"`
}

// ModelStore persists model snapshots and their version metadata.
type ModelStore interface {
	SaveModel(version ModelVersion, snapshot []byte) error
	LoadModel(id string) ([]byte, error)
	ListVersions() ([]ModelVersion, error)
	SetActive(id string) error
}

// ModelManager handles model versioning and rollback
type ModelManager struct {
	mu    sync.Mutex
	store ModelStore
}

// NewModelManager creates a new model manager
func NewModelManager(store ModelStore) *ModelManager {
	return &ModelManager{store: store}
}

// Register persists model as a new version and marks it active.
func (mm *ModelManager) Register(model *TrainedModel, source string) (ModelVersion, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	snapshot, err := json.Marshal(model)
	if err != nil {
		return ModelVersion{}, fmt.Errorf("encode model %s: %w", model.ID(), err)
	}

	version := ModelVersion{
		ID:        model.ID(),
		Family:    model.Family(),
		Source:    source,
		CreatedAt: model.CreatedAt(),
		Metrics:   model.Metrics(),
		IsActive:  true,
	}
	if err := mm.store.SaveModel(version, snapshot); err != nil {
		return ModelVersion{}, fmt.Errorf("save model %s: %w", model.ID(), err)
	}
	if err := mm.store.SetActive(version.ID); err != nil {
		return ModelVersion{}, fmt.Errorf("activate model %s: %w", model.ID(), err)
	}

	log.Info().Str("model_id", version.ID).Str("source", source).Msg("Registered model version")
	return version, nil
}

// Load restores a stored model without changing which version is active.
func (mm *ModelManager) Load(id string) (*TrainedModel, error) {
	data, err := mm.store.LoadModel(id)
	if err != nil {
		return nil, err
	}
	return DecodeModel(data)
}

// ActivateVersion restores a stored model and marks it as the active version.
func (mm *ModelManager) ActivateVersion(id string) (*TrainedModel, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	return mm.activate(id)
}

func (mm *ModelManager) activate(id string) (*TrainedModel, error) {
	data, err := mm.store.LoadModel(id)
	if err != nil {
		return nil, err
	}
	model, err := DecodeModel(data)
	if err != nil {
		return nil, err
	}
	if err := mm.store.SetActive(id); err != nil {
		return nil, fmt.Errorf("activate model %s: %w", id, err)
	}
	return model, nil
}

// Rollback activates the version created immediately before the active one.
func (mm *ModelManager) Rollback() (*TrainedModel, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	versions, err := mm.sortedVersions()
	if err != nil {
		return nil, err
	}
	if len(versions) < 2 {
		return nil, fmt.Errorf("rollback with %d version(s): %w", len(versions), ErrNoPreviousVersion)
	}

	currentIdx := -1
	for i, v := range versions {
		if v.IsActive {
			currentIdx = i
			break
		}
	}
	if currentIdx == -1 {
		return nil, fmt.Errorf("no active version found")
	}
	if currentIdx+1 >= len(versions) {
		return nil, fmt.Errorf("active version %s is the oldest: %w", versions[currentIdx].ID, ErrNoPreviousVersion)
	}

	return mm.activate(versions[currentIdx+1].ID)
}

// Active returns the currently active model, or ErrModelNotFound when none is marked active.
func (mm *ModelManager) Active() (*TrainedModel, error) {
	versions, err := mm.ListVersions()
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.IsActive {
			return mm.Load(v.ID)
		}
	}
	return nil, ErrModelNotFound
}

// ListVersions returns all model versions, newest first.
func (mm *ModelManager) ListVersions() ([]ModelVersion, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	return mm.sortedVersions()
}

func (mm *ModelManager) sortedVersions() ([]ModelVersion, error) {
	versions, err := mm.store.ListVersions()
	if err != nil {
		return nil, fmt.Errorf("list model versions: %w", err)
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].CreatedAt.After(versions[j].CreatedAt)
	})
	return versions, nil
}
