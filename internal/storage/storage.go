// Package storage provides persistent storage for the churn engine.
// It uses BoltDB as the underlying storage engine to keep trained model snapshots,
// their version metadata, and a log of scoring runs so that a restarted service can
// resume from the last active model.
package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"churn-engine/internal/ml"

	"go.etcd.io/bbolt"
)

const (
	modelsBucket   = "models"   // Bucket name for model snapshots keyed by model id
	versionsBucket = "versions" // Bucket name for ml.ModelVersion metadata keyed by model id
	runsBucket     = "runs"     // Bucket name for scoring run records keyed by start time

	dbFile = "churn-engine.db"
)

// RunRecord describes one completed scoring run.
type RunRecord struct {
	ModelID         string        `json:"model_id"`
	Source          string        `json:"source"`
	OutputPath      string        `json:"output_path"`
	Records         int           `json:"records"`
	MeanProbability float64       `json:"mean_probability"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
}

// Store provides persistent storage for models and scoring runs using BoltDB.
// It implements ml.ModelStore.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

var _ ml.ModelStore = (*Store)(nil)

// New creates a new storage instance with the specified data path.
// It initializes the BoltDB database and creates necessary buckets.
// Returns an error if the database cannot be opened or buckets cannot be created.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, dbFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{modelsBucket, versionsBucket, runsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// SaveModel stores a model snapshot together with its version metadata in one transaction.
func (s *Store) SaveModel(version ml.ModelVersion, snapshot []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta, err := json.Marshal(version)
		if err != nil {
			return fmt.Errorf("marshal version: %w", err)
		}
		if err := tx.Bucket([]byte(modelsBucket)).Put([]byte(version.ID), snapshot); err != nil {
			return fmt.Errorf("put snapshot: %w", err)
		}
		return tx.Bucket([]byte(versionsBucket)).Put([]byte(version.ID), meta)
	})
}

// LoadModel returns the stored snapshot for id, or ml.ErrModelNotFound.
func (s *Store) LoadModel(id string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(modelsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("model %s: %w", id, ml.ErrModelNotFound)
		}
		// bbolt values are only valid for the life of the transaction.
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}

// ListVersions returns the metadata of every stored model in key order.
func (s *Store) ListVersions() ([]ml.ModelVersion, error) {
	var versions []ml.ModelVersion
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(versionsBucket)).ForEach(func(k, v []byte) error {
			var version ml.ModelVersion
			if err := json.Unmarshal(v, &version); err != nil {
				return fmt.Errorf("unmarshal version %s: %w", k, err)
			}
			versions = append(versions, version)
			return nil
		})
	})
	return versions, err
}

// SetActive marks id as the only active version.
func (s *Store) SetActive(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(versionsBucket))
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("model %s: %w", id, ml.ErrModelNotFound)
		}

		updates := make(map[string][]byte)
		err := b.ForEach(func(k, v []byte) error {
			var version ml.ModelVersion
			if err := json.Unmarshal(v, &version); err != nil {
				return fmt.Errorf("unmarshal version %s: %w", k, err)
			}
			active := version.ID == id
			if version.IsActive == active {
				return nil
			}
			version.IsActive = active
			data, err := json.Marshal(version)
			if err != nil {
				return fmt.Errorf("marshal version: %w", err)
			}
			updates[string(k)] = data
			return nil
		})
		if err != nil {
			return err
		}

		// Keys cannot be modified while iterating with ForEach.
		for k, v := range updates {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordRun appends a scoring run to the run log.
// The key format "timestamp_model" keeps runs in chronological order.
func (s *Store) RecordRun(run RunRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		key := fmt.Sprintf("%020d_%s", run.StartedAt.UnixNano(), run.ModelID)
		return tx.Bucket([]byte(runsBucket)).Put([]byte(key), data)
	})
}

// ListRuns returns up to limit scoring runs, newest first. A non-positive limit returns all runs.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	var runs []RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			var run RunRecord
			if err := json.Unmarshal(v, &run); err != nil {
				continue // Skip malformed records
			}
			runs = append(runs, run)
		}
		return nil
	})
	return runs, err
}
