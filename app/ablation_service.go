package app

import (
	"context"
	"fmt"
	"path/filepath"

	"gofingerprint/adapters/report"
	"gofingerprint/domain/core"
	"gofingerprint/domain/robustness"
	"gofingerprint/domain/run"
	"gofingerprint/internal"
	"gofingerprint/internal/ablation"
	"gofingerprint/internal/config"
	"gofingerprint/internal/errors"
	"gofingerprint/internal/metrics"
	"gofingerprint/internal/pipeline"
	"gofingerprint/ports"
)

// AblationService runs robustness sweeps and synthetic calibration
type AblationService struct {
	inputs  *InputLoader
	store   ports.ResultStore
	streams ports.RNGPort
	metrics *metrics.Recorder
	logger  *internal.Logger
}

// AblationRequest defines a sweep over one dataset
type AblationRequest struct {
	Config       config.RunConfig
	RunID        core.RunID // optional
	Dataset      DatasetFiles
	Channels     []DatasetFiles
	TargetPeriod int // 0 takes the baseline best period
	Sweeps       ablation.Sweeps
	Concurrency  int
	OutDir       string
}

// CalibrationRequest checks the false-positive rate on synthetic datasets
// drawn from the model of one dataset
type CalibrationRequest struct {
	Config      config.RunConfig
	RunID       core.RunID
	Dataset     DatasetFiles
	Ensembles   int // 0 keeps the configured count
	Concurrency int
	OutDir      string
}

// NewAblationService creates the service. store and rec may be nil.
func NewAblationService(inputs *InputLoader, store ports.ResultStore, streams ports.RNGPort, rec *metrics.Recorder) *AblationService {
	return &AblationService{
		inputs:  inputs,
		store:   store,
		streams: streams,
		metrics: rec,
		logger:  internal.DefaultLogger.With("AblationService"),
	}
}

// Ablate runs the requested sweeps. A cancelled sweep still persists and
// returns the completed outcomes together with a CANCELLED error.
func (s *AblationService) Ablate(ctx context.Context, req AblationRequest) (*robustness.Report, error) {
	cfg := req.Config
	runID := req.RunID
	if runID == "" {
		runID = core.NewRunID()
	}

	req.Dataset.Role = run.RolePrimary
	in, err := s.load(ctx, req.Dataset, cfg.Strict())
	if err != nil {
		return nil, err
	}
	var channels []pipeline.DatasetInput
	if req.Sweeps.Channels {
		for _, files := range req.Channels {
			files.Role = "channel"
			ch, err := s.load(ctx, files, cfg.Strict())
			if err != nil {
				return nil, err
			}
			channels = append(channels, ch)
		}
	}

	h := ablation.NewHarness(cfg, s.streams, s.metrics).WithConcurrency(req.Concurrency)
	rep, runErr := h.Run(ctx, ablation.Request{
		RunID:        runID,
		Input:        in,
		TargetPeriod: req.TargetPeriod,
		Channels:     channels,
		Sweeps:       req.Sweeps,
	})
	if rep == nil {
		return nil, runErr
	}

	// persist with a fresh context so a cancelled sweep keeps its partial report
	if err := s.persist(context.WithoutCancel(ctx), rep, req.OutDir); err != nil {
		if runErr != nil {
			s.logger.Error("Failed to persist partial report: %v", err)
			return rep, runErr
		}
		return rep, err
	}
	return rep, runErr
}

// Calibrate runs only the synthetic-ensemble sweep
func (s *AblationService) Calibrate(ctx context.Context, req CalibrationRequest) (*robustness.Report, error) {
	cfg := req.Config
	if req.Ensembles < 0 {
		return nil, errors.ConfigInvalid(fmt.Sprintf("ensembles must be positive, got %d", req.Ensembles))
	}
	if req.Ensembles > 0 {
		cfg.Ablation.Ensembles = req.Ensembles
	}
	rep, err := s.Ablate(ctx, AblationRequest{
		Config:      cfg,
		RunID:       req.RunID,
		Dataset:     req.Dataset,
		Sweeps:      ablation.Sweeps{Ensembles: true},
		Concurrency: req.Concurrency,
		OutDir:      req.OutDir,
	})
	if rep != nil && rep.Ensembles != nil {
		e := rep.Ensembles
		s.logger.Info("Calibration: false-positive rate %.3f [%.3f, %.3f] over %d datasets, nominal %.3f, consistent=%t",
			e.Rate, e.Lower, e.Upper, e.Completed, e.Alpha, e.Consistent)
	}
	return rep, err
}

func (s *AblationService) load(ctx context.Context, files DatasetFiles, strict bool) (pipeline.DatasetInput, error) {
	fps, err := s.inputs.Fingerprint(ctx, files, strict)
	if err != nil {
		return pipeline.DatasetInput{}, err
	}
	return s.inputs.Load(ctx, files, fps)
}

func (s *AblationService) persist(ctx context.Context, rep *robustness.Report, outDir string) error {
	if s.store != nil {
		if err := s.store.SaveAblation(ctx, rep); err != nil {
			return err
		}
	}
	if outDir == "" {
		return nil
	}
	if _, err := report.WriteAblation(outDir, rep); err != nil {
		return err
	}
	if err := s.metrics.WriteTextfile(filepath.Join(outDir, MetricsFile)); err != nil {
		s.logger.Warn("Failed to write metrics: %v", err)
	}
	return nil
}
