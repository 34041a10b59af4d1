// Package runs persists pipeline run records as JSON files.
package runs

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/proofbench/proofbench/internal/build"
)

// LocalRunStore persists run records in JSON files under BaseDir, one file
// per run keyed by run id.
type LocalRunStore struct {
	BaseDir string
}

var _ build.RunStore = (*LocalRunStore)(nil)

// Save writes the record to disk using its ID as the filename.
func (s *LocalRunStore) Save(record build.RunRecord) error {
	if s.BaseDir == "" {
		return errors.New("base directory is not configured")
	}
	if record.ID == "" {
		return errors.New("run id is required")
	}

	if err := os.MkdirAll(s.BaseDir, 0o755); err != nil {
		return err
	}

	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(s.BaseDir, record.ID+".json")
	return os.WriteFile(path, payload, 0o644)
}

// Get returns the record with the provided id, or nil when absent.
func (s *LocalRunStore) Get(id string) (*build.RunRecord, error) {
	if id == "" {
		return nil, errors.New("run id is required")
	}
	return s.loadRecord(filepath.Join(s.BaseDir, id+".json"))
}

// List returns all records, newest first.
func (s *LocalRunStore) List() ([]build.RunRecord, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var records []build.RunRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		record, err := s.loadRecord(filepath.Join(s.BaseDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if record == nil {
			continue
		}
		records = append(records, *record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	return records, nil
}

func (s *LocalRunStore) loadRecord(path string) (*build.RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var record build.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}
