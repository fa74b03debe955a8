package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"gofingerprint/adapters/report"
	"gofingerprint/domain/core"
	"gofingerprint/domain/run"
	"gofingerprint/domain/verdict"
	"gofingerprint/internal"
	"gofingerprint/internal/config"
	"gofingerprint/internal/errors"
	"gofingerprint/internal/metrics"
	"gofingerprint/internal/pipeline"
	"gofingerprint/ports"
)

// MetricsFile is the textfile-collector file written next to the reports
const MetricsFile = "fpscan.prom"

// AnalysisService runs a primary and a replication dataset and applies the
// combined verdict rule
type AnalysisService struct {
	inputs      *InputLoader
	store       ports.ResultStore
	streams     ports.RNGPort
	metrics     *metrics.Recorder
	codeVersion string
	logger      *internal.Logger
}

// RunRequest defines one replication run
type RunRequest struct {
	Config      config.RunConfig
	RunID       core.RunID // optional, generated if empty
	Primary     DatasetFiles
	Replication DatasetFiles
	OutDir      string // optional, receives JSON, markdown, HTML and metrics
}

// RunResult is the record plus where it was written
type RunResult struct {
	Record  *run.RunRecord
	Reports report.Paths
}

// NewAnalysisService creates the service. store and rec may be nil.
func NewAnalysisService(inputs *InputLoader, store ports.ResultStore, streams ports.RNGPort, rec *metrics.Recorder, codeVersion string) *AnalysisService {
	return &AnalysisService{
		inputs:      inputs,
		store:       store,
		streams:     streams,
		metrics:     rec,
		codeVersion: codeVersion,
		logger:      internal.DefaultLogger.With("Analysis"),
	}
}

// Run verifies provenance, writes the manifest, analyzes both datasets and
// combines them. Upstream errors are returned unchanged in kind.
func (s *AnalysisService) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	start := time.Now()
	cfg := req.Config
	req.Primary.Role = run.RolePrimary
	req.Replication.Role = run.RoleReplication

	runID := req.RunID
	if runID == "" {
		runID = core.NewRunID()
	}

	datasets := []DatasetFiles{req.Primary, req.Replication}
	perDataset := make([][]run.DatasetFingerprint, len(datasets))
	var fingerprints []run.DatasetFingerprint
	for i, files := range datasets {
		fps, err := s.inputs.Fingerprint(ctx, files, cfg.Strict())
		if err != nil {
			return nil, err
		}
		perDataset[i] = fps
		fingerprints = append(fingerprints, fps...)
	}

	manifest, err := NewManifest(runID, cfg, s.codeVersion, fingerprints)
	if err != nil {
		return nil, err
	}
	record := &run.RunRecord{Manifest: *manifest}
	if err := s.save(ctx, record); err != nil {
		return nil, err
	}
	s.logger.Info("Run %s: config %s, seed %d, fingerprint %s",
		runID, manifest.ConfigHash.Short(), manifest.Seed, manifest.Fingerprint.Fingerprint.Short())
	internal.DefaultLogger.Event("run_manifest",
		"run_id", runID.String(), "config_hash", manifest.ConfigHash.String(),
		"fingerprint", manifest.Fingerprint.Fingerprint.String(), "seed", manifest.Seed)

	p := pipeline.New(cfg, s.streams, s.metrics)
	for i, files := range datasets {
		in, err := s.inputs.Load(ctx, files, perDataset[i])
		if err != nil {
			return nil, err
		}
		a, err := p.Analyze(ctx, in)
		if err != nil {
			return nil, err
		}
		record.Datasets = append(record.Datasets, DatasetRecord(a))
	}

	primary, _ := record.Dataset(run.RolePrimary)
	replication, _ := record.Dataset(run.RoleReplication)
	combined := p.Referee().Combine(primary.Verdict, replication.Verdict)
	record.Combined = &combined
	record.CompletedAt = core.Now()
	s.metrics.Verdict(string(combined.Status))

	if err := s.save(ctx, record); err != nil {
		return nil, err
	}

	result := &RunResult{Record: record}
	if req.OutDir != "" {
		paths, err := report.WriteRun(req.OutDir, record)
		if err != nil {
			return result, err
		}
		result.Reports = paths
		if err := s.metrics.WriteTextfile(filepath.Join(req.OutDir, MetricsFile)); err != nil {
			s.logger.Warn("Failed to write metrics: %v", err)
		}
	}

	icon := "✅"
	if combined.Status != verdict.StatusPass {
		icon = "❌"
	}
	s.logger.Info("%s Run %s: %s in %v", icon, runID, combined.Status, time.Since(start).Round(time.Millisecond))
	return result, nil
}

func (s *AnalysisService) save(ctx context.Context, record *run.RunRecord) error {
	if s.store == nil {
		return nil
	}
	return s.store.SaveRun(ctx, record)
}

// NewManifest snapshots the configuration and fingerprints a run
func NewManifest(runID core.RunID, cfg config.RunConfig, codeVersion string, datasets []run.DatasetFingerprint) (*run.RunManifest, error) {
	snapshot, err := json.Marshal(cfg.Snapshot())
	if err != nil {
		return nil, errors.InternalError(fmt.Sprintf("config snapshot: %v", err))
	}
	m := run.NewRunManifest(runID, cfg.Name, cfg.Hash(), snapshot, cfg.Seed, codeVersion, datasets)
	if err := m.Validate(); err != nil {
		return nil, errors.ConfigInvalid(err.Error())
	}
	return m, nil
}

// DatasetRecord flattens an analysis into its stored form
func DatasetRecord(a *pipeline.Analysis) run.DatasetRecord {
	return run.DatasetRecord{
		Key:        a.Key,
		Role:       a.Role,
		Units:      a.ObsUnits,
		ModelUnits: a.ModelUnits,
		Sanity:     a.Sanity,
		Whitening:  a.Whitened.Meta,
		Scan:       a.Scan,
		Verdict:    a.Verdict,
		Findings:   a.Findings,
	}
}
