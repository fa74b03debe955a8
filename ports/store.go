package ports

import (
	"context"

	"gofingerprint/domain/core"
	"gofingerprint/domain/robustness"
	"gofingerprint/domain/run"
)

// ResultStore persists run records and ablation reports
type ResultStore interface {
	SaveRun(ctx context.Context, record *run.RunRecord) error
	GetRun(ctx context.Context, runID core.RunID) (*run.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]run.RunManifest, error)
	SaveAblation(ctx context.Context, report *robustness.Report) error
	Close() error
}
