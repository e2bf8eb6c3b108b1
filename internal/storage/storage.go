// Package storage persists trained forests in a BoltDB file.
//
// Every saved model becomes an immutable version keyed by model name and a
// sortable timestamp. One version per name can be marked active; serving
// processes load the active version and operators can roll back to the
// version saved before it.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"rforest/internal/common"

	"go.etcd.io/bbolt"
)

const (
	modelsBucket = "models" // Versioned model records
	activeBucket = "active" // Model name to active version
)

var (
	ErrInvalidName       = errors.New("invalid model name")
	ErrVersionNotFound   = errors.New("model version not found")
	ErrNoActiveModel     = errors.New("no active model version")
	ErrNoPreviousVersion = errors.New("no previous version available")
)

// ModelMetrics describes how a saved model was trained and how it scored.
type ModelMetrics struct {
	Accuracy        float64 `json:"accuracy"`
	TrainingSamples int     `json:"training_samples"`
	TestSamples     int     `json:"test_samples"`
	Trees           int     `json:"trees"`
	Features        int     `json:"features"`
	Classes         int     `json:"classes"`
	TrainSeconds    float64 `json:"train_seconds"`
}

// ModelVersion is the metadata of one saved model.
type ModelVersion struct {
	Name      string       `json:"name"`
	Version   string       `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	Metrics   ModelMetrics `json:"metrics"`
	IsActive  bool         `json:"is_active"`
}

type modelRecord struct {
	ModelVersion
	Model json.RawMessage `json:"model"`
}

// Store provides versioned model storage on top of BoltDB.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// New opens (or creates) the model database under dataPath.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, common.DBFileName)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(modelsBucket)); err != nil {
			return fmt.Errorf("create models bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(activeBucket)); err != nil {
			return fmt.Errorf("create active bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database. Closing twice is harmless.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveModel stores a new version of the named model. The version is not
// activated.
func (s *Store) SaveModel(name string, model json.Marshaler, metrics ModelMetrics) (ModelVersion, error) {
	if err := checkName(name); err != nil {
		return ModelVersion{}, err
	}
	data, err := model.MarshalJSON()
	if err != nil {
		return ModelVersion{}, fmt.Errorf("marshal model: %w", err)
	}

	var saved ModelVersion
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(modelsBucket))

		created := s.now().UTC()
		version := created.Format(common.VersionLayout)
		// Versions must be unique per name even when the clock does not advance.
		for b.Get(modelKey(name, version)) != nil {
			created = created.Add(time.Nanosecond)
			version = created.Format(common.VersionLayout)
		}

		record := modelRecord{
			ModelVersion: ModelVersion{
				Name:      name,
				Version:   version,
				CreatedAt: created,
				Metrics:   metrics,
			},
			Model: data,
		}
		value, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal model record: %w", err)
		}
		if err := b.Put(modelKey(name, version), value); err != nil {
			return err
		}
		saved = record.ModelVersion
		return nil
	})
	return saved, err
}

// LoadModel decodes the given version of the named model into dst.
func (s *Store) LoadModel(name, version string, dst json.Unmarshaler) (ModelVersion, error) {
	var record modelRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		record, err = getRecord(tx, name, version)
		return err
	})
	if err != nil {
		return ModelVersion{}, err
	}
	if err := dst.UnmarshalJSON(record.Model); err != nil {
		return ModelVersion{}, fmt.Errorf("decode model %s@%s: %w", name, version, err)
	}
	return record.ModelVersion, nil
}

// LoadActive decodes the active version of the named model into dst.
func (s *Store) LoadActive(name string, dst json.Unmarshaler) (ModelVersion, error) {
	active, err := s.Active(name)
	if err != nil {
		return ModelVersion{}, err
	}
	return s.LoadModel(name, active.Version, dst)
}

// ListVersions returns every saved version of the named model, newest first.
func (s *Store) ListVersions(name string) ([]ModelVersion, error) {
	var versions []ModelVersion

	err := s.db.View(func(tx *bbolt.Tx) error {
		active := tx.Bucket([]byte(activeBucket)).Get([]byte(name))
		c := tx.Bucket([]byte(modelsBucket)).Cursor()

		prefix := []byte(name + "_")
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var record modelRecord
			if err := json.Unmarshal(v, &record); err != nil {
				continue // Skip malformed records
			}
			record.IsActive = record.Version == string(active)
			versions = append(versions, record.ModelVersion)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Keys sort oldest first
	for i, j := 0, len(versions)-1; i < j; i, j = i+1, j-1 {
		versions[i], versions[j] = versions[j], versions[i]
	}
	return versions, nil
}

// ActivateVersion marks version as the active version of the named model.
func (s *Store) ActivateVersion(name, version string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := getRecord(tx, name, version); err != nil {
			return err
		}
		return tx.Bucket([]byte(activeBucket)).Put([]byte(name), []byte(version))
	})
}

// Active returns the metadata of the active version of the named model.
func (s *Store) Active(name string) (ModelVersion, error) {
	var version ModelVersion
	err := s.db.View(func(tx *bbolt.Tx) error {
		active := tx.Bucket([]byte(activeBucket)).Get([]byte(name))
		if active == nil {
			return fmt.Errorf("%w: %s", ErrNoActiveModel, name)
		}
		record, err := getRecord(tx, name, string(active))
		if err != nil {
			return err
		}
		version = record.ModelVersion
		version.IsActive = true
		return nil
	})
	return version, err
}

// Rollback activates the version saved immediately before the active one
// and returns it.
func (s *Store) Rollback(name string) (ModelVersion, error) {
	versions, err := s.ListVersions(name)
	if err != nil {
		return ModelVersion{}, err
	}

	// Find current version
	currentIdx := -1
	for i, v := range versions {
		if v.IsActive {
			currentIdx = i
			break
		}
	}
	if currentIdx == -1 {
		return ModelVersion{}, fmt.Errorf("%w: %s", ErrNoActiveModel, name)
	}
	if currentIdx+1 >= len(versions) {
		return ModelVersion{}, fmt.Errorf("%w: %s@%s", ErrNoPreviousVersion, name, versions[currentIdx].Version)
	}

	previous := versions[currentIdx+1]
	if err := s.ActivateVersion(name, previous.Version); err != nil {
		return ModelVersion{}, err
	}
	previous.IsActive = true
	return previous, nil
}

func getRecord(tx *bbolt.Tx, name, version string) (modelRecord, error) {
	var record modelRecord
	v := tx.Bucket([]byte(modelsBucket)).Get(modelKey(name, version))
	if v == nil {
		return record, fmt.Errorf("%w: %s@%s", ErrVersionNotFound, name, version)
	}
	if err := json.Unmarshal(v, &record); err != nil {
		return record, fmt.Errorf("unmarshal model record %s@%s: %w", name, version, err)
	}
	return record, nil
}

// modelKey joins name and version with "_". Names never contain "_", so a
// name prefix scan cannot match another model.
func modelKey(name, version string) []byte {
	return []byte(name + "_" + version)
}

func checkName(name string) error {
	if name == "" || strings.Contains(name, "_") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
