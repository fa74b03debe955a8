// Package filestore keeps run records and ablation reports as JSON files.
// Each write goes to a temp file in the same directory and is renamed into
// place, so a cancelled run never leaves a truncated record behind.
package filestore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gofingerprint/domain/core"
	"gofingerprint/domain/robustness"
	"gofingerprint/domain/run"
	"gofingerprint/internal"
	"gofingerprint/internal/errors"
	"gofingerprint/ports"
)

const (
	runsDir      = "runs"
	ablationsDir = "ablations"
)

// Store is a directory-backed ports.ResultStore
type Store struct {
	root   string
	mu     sync.Mutex
	logger *internal.Logger
}

var _ ports.ResultStore = (*Store)(nil)

// New creates root and its subdirectories if needed
func New(root string) (*Store, error) {
	for _, d := range []string{runsDir, ablationsDir} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, errors.WithCode(errors.CodeStorage, err)
		}
	}
	return &Store{root: root, logger: internal.DefaultLogger.With("FileStore")}, nil
}

// Root is the directory the store writes under
func (s *Store) Root() string { return s.root }

func (s *Store) runPath(id core.RunID) string {
	return filepath.Join(s.root, runsDir, id.String()+".json")
}

func (s *Store) ablationPath(r *robustness.Report) string {
	name := id(r.RunID) + "_" + safeName(r.Dataset) + ".json"
	return filepath.Join(s.root, ablationsDir, name)
}

func id(r core.RunID) string {
	if core.ID(r).IsEmpty() {
		return "unassigned"
	}
	return r.String()
}

// safeName keeps dataset keys usable as file names
func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}

// SaveRun writes the record, replacing any earlier record for the run
func (s *Store) SaveRun(ctx context.Context, record *run.RunRecord) error {
	if err := ctx.Err(); err != nil {
		return errors.WithCode(errors.CodeCancelled, err)
	}
	if core.ID(record.Manifest.RunID).IsEmpty() {
		return errors.New(errors.CodeStorage, "run record has no run id")
	}
	path := s.runPath(record.Manifest.RunID)
	if err := s.writeJSON(path, record); err != nil {
		return err
	}
	s.logger.Debug("Saved run %s to %s", record.Manifest.RunID, path)
	return nil
}

// GetRun reads a record by ID
func (s *Store) GetRun(ctx context.Context, runID core.RunID) (*run.RunRecord, error) {
	data, err := os.ReadFile(s.runPath(runID))
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.WithCode(errors.CodeStorage, fmt.Errorf("%w: %s", core.ErrRunNotFound, runID))
	}
	if err != nil {
		return nil, errors.WithCode(errors.CodeStorage, err)
	}
	var record run.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.WithCode(errors.CodeStorage, fmt.Errorf("decode run %s: %w", runID, err))
	}
	return &record, nil
}

// ListRuns returns manifests newest first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]run.RunManifest, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, runsDir))
	if err != nil {
		return nil, errors.WithCode(errors.CodeStorage, err)
	}

	manifests := make([]run.RunManifest, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithCode(errors.CodeCancelled, err)
		}
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, runsDir, e.Name()))
		if err != nil {
			return nil, errors.WithCode(errors.CodeStorage, err)
		}
		var head struct {
			Manifest run.RunManifest `json:"manifest"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			s.logger.Warn("Skipping unreadable record %s: %v", e.Name(), err)
			continue
		}
		manifests = append(manifests, head.Manifest)
	}

	sort.SliceStable(manifests, func(i, j int) bool {
		return manifests[i].CreatedAt.Time().After(manifests[j].CreatedAt.Time())
	})
	if limit > 0 && len(manifests) > limit {
		manifests = manifests[:limit]
	}
	return manifests, nil
}

// SaveAblation writes a report; a later save for the same run and dataset replaces it
func (s *Store) SaveAblation(ctx context.Context, report *robustness.Report) error {
	if err := ctx.Err(); err != nil {
		return errors.WithCode(errors.CodeCancelled, err)
	}
	return s.writeJSON(s.ablationPath(report), report)
}

// GetAblation reads the report for a run and dataset
func (s *Store) GetAblation(runID core.RunID, dataset string) (*robustness.Report, error) {
	data, err := os.ReadFile(s.ablationPath(&robustness.Report{RunID: runID, Dataset: dataset}))
	if err != nil {
		return nil, errors.WithCode(errors.CodeStorage, err)
	}
	var r robustness.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.WithCode(errors.CodeStorage, err)
	}
	return &r, nil
}

// Close is a no-op
func (s *Store) Close() error { return nil }

// writeJSON replaces path atomically
func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.WithCode(errors.CodeStorage, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return errors.WithCode(errors.CodeStorage, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.WithCode(errors.CodeStorage, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.WithCode(errors.CodeStorage, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.WithCode(errors.CodeStorage, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.WithCode(errors.CodeStorage, err)
	}
	return nil
}
