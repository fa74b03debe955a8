package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gofingerprint/domain/core"
	"gofingerprint/domain/robustness"
	"gofingerprint/domain/run"
	"gofingerprint/domain/verdict"
	"gofingerprint/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(name string, created time.Time) *run.RunRecord {
	return &run.RunRecord{
		Manifest: run.RunManifest{
			RunID:      core.NewRunID(),
			Name:       name,
			ConfigHash: core.NewHash([]byte(name)),
			Seed:       42,
			CreatedAt:  core.NewTimestamp(created),
		},
		Datasets: []run.DatasetRecord{{
			Key:     "planck",
			Role:    run.RolePrimary,
			Verdict: verdict.DatasetVerdict{Dataset: "planck", BestPeriod: 255, PValue: 0.001},
		}},
		Combined:    &verdict.CombinedVerdict{Status: verdict.StatusFail},
		CompletedAt: core.NewTimestamp(created.Add(time.Minute)),
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	rec := record("first", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, s.SaveRun(ctx, rec))

	got, err := s.GetRun(ctx, rec.Manifest.RunID)
	require.NoError(t, err)
	assert.Equal(t, rec.Manifest.RunID, got.Manifest.RunID)
	assert.Equal(t, rec.Manifest.ConfigHash, got.Manifest.ConfigHash)
	assert.Equal(t, 255, got.Datasets[0].Verdict.BestPeriod)
	assert.Equal(t, verdict.StatusFail, got.Combined.Status)
	assert.True(t, rec.Manifest.CreatedAt.Time().Equal(got.Manifest.CreatedAt.Time()))

	// no temp files survive a save
	entries, err := os.ReadDir(filepath.Join(s.Root(), runsDir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGetRun_NotFound(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = s.GetRun(context.Background(), core.NewRunID())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRunNotFound)
	assert.Equal(t, errors.CodeStorage, errors.GetCode(err))
}

func TestListRuns_NewestFirst(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, name := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveRun(ctx, record(name, base.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), runsDir, "junk.json"), []byte("{"), 0o644))

	all, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Name)
	assert.Equal(t, "a", all[2].Name)

	two, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestSaveAblation_ReplacesPartialReport(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	runID := core.NewRunID()

	partial := &robustness.Report{RunID: runID, Dataset: "planck/TT", Cancelled: true,
		Outcomes: []robustness.SubRunOutcome{{Key: "ell_subset/2-86", Kind: robustness.KindSubset, Finding: core.OK("done")}}}
	require.NoError(t, s.SaveAblation(ctx, partial))

	full := *partial
	full.Cancelled = false
	full.Outcomes = append(full.Outcomes, robustness.SubRunOutcome{Key: "ell_subset/87-171", Kind: robustness.KindSubset})
	require.NoError(t, s.SaveAblation(ctx, &full))

	got, err := s.GetAblation(runID, "planck/TT")
	require.NoError(t, err)
	assert.False(t, got.Cancelled)
	assert.Len(t, got.Outcomes, 2)
}

func TestSaveRun_Cancelled(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.SaveRun(ctx, record("x", time.Now()))
	assert.True(t, errors.HasCode(err, errors.CodeCancelled))
}
