package ml

import (
	"sync"
	"time"
)

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu                 sync.Mutex
	scoredRecords      float64
	predictionScores   []float64
	explanationLatency []float64
	unreliable         int
}

func (m *MockMetrics) ScoredRecordsAdd(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scoredRecords += v
}

func (m *MockMetrics) PredictionScoresObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictionScores = append(m.predictionScores, v)
}

func (m *MockMetrics) ExplanationLatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.explanationLatency = append(m.explanationLatency, v)
}

func (m *MockMetrics) UnreliableExplanationsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreliable++
}

// MemoryStore is an in-memory ModelStore for tests.
type MemoryStore struct {
	mu        sync.Mutex
	snapshots map[string][]byte
	versions  map[string]ModelVersion
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: map[string][]byte{}, versions: map[string]ModelVersion{}}
}

func (s *MemoryStore) SaveModel(v ModelVersion, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[v.ID] = snapshot
	s.versions[v.ID] = v
	return nil
}

func (s *MemoryStore) LoadModel(id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.snapshots[id]
	if !ok {
		return nil, ErrModelNotFound
	}
	return data, nil
}

func (s *MemoryStore) ListVersions() ([]ModelVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ModelVersion, 0, len(s.versions))
	for _, v := range s.versions {
		out = append(out, v)
	}
	return out, nil
}

func (s *MemoryStore) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[id]; !ok {
		return ErrModelNotFound
	}
	for k, v := range s.versions {
		v.IsActive = k == id
		s.versions[k] = v
	}
	return nil
}

// backdate shifts a stored version's creation time so ordering tests do not depend on clock
// resolution.
func (s *MemoryStore) backdate(id string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.versions[id]
	v.CreatedAt = v.CreatedAt.Add(-d)
	s.versions[id] = v
}
