package report

import (
	"encoding/json"
	"os"
	"testing"

	"gofingerprint/domain/core"
	"gofingerprint/domain/detection"
	"gofingerprint/domain/robustness"
	"gofingerprint/domain/run"
	"gofingerprint/domain/verdict"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *run.RunRecord {
	primary := verdict.DatasetVerdict{Dataset: "planck", BestPeriod: 32, PValue: 0.001, NaivePValue: 0.0002, Trials: 999, Tier: verdict.TierStrong}
	return &run.RunRecord{
		Manifest: run.RunManifest{
			RunID:       "run-1",
			Name:        "pr3-tt",
			ConfigHash:  core.Hash("abcdef0123456789"),
			Seed:        42,
			CodeVersion: "dev",
			Datasets: []run.DatasetFingerprint{
				{Key: "planck", Role: run.RolePrimary, Filename: "planck.txt", Bytes: 10, SHA256: "aa", Verified: true},
			},
		},
		Datasets: []run.DatasetRecord{{
			Key:  "planck",
			Role: run.RolePrimary,
			Whitening: detection.WhiteningMeta{
				RequestedMode:  detection.WhitenCovariance,
				AppliedMode:    detection.WhitenDiagonal,
				FellBack:       true,
				FallbackReason: "no covariance",
			},
			Scan: detection.PeriodScan{
				Results: []detection.DetectionResult{{Period: 16, DeltaChi2: 1}, {Period: 32, DeltaChi2: 14}},
				Best:    detection.DetectionResult{Period: 32, DeltaChi2: 14},
			},
			Verdict:  primary,
			Findings: []core.Finding{core.Warn("SANITY_FAILED", "reduced chi2 high", core.Evidence{Name: "chi2_red", Value: 3.2})},
		}},
		Combined: &verdict.CombinedVerdict{
			Status:  verdict.StatusFail,
			Primary: primary,
			Criteria: []verdict.Criterion{
				{Name: "primary_significance", Required: "p < 0.01", Observed: "p = 0.001", Passed: true},
				{Name: "replication_significance", Required: "p < 0.05", Observed: "p = 0.4", Passed: false},
			},
		},
	}
}

func TestRunMarkdown(t *testing.T) {
	md := RunMarkdown(sampleRecord())

	assert.Contains(t, md, "# pr3-tt")
	assert.Contains(t, md, "**Verdict: FAIL**")
	assert.Contains(t, md, "| primary_significance | p < 0.01 | p = 0.001 | ✅ |")
	assert.Contains(t, md, "| replication_significance | p < 0.05 | p = 0.4 | ❌ |")
	assert.Contains(t, md, "fell back from covariance: no covariance")
	assert.Contains(t, md, "| 32 ⬅ |")
	assert.Contains(t, md, "reduced chi2 high (chi2_red=3.2)")
	assert.Contains(t, md, "2.00e-04")
}

func TestAblationMarkdown(t *testing.T) {
	r := &robustness.Report{
		Dataset:      "planck",
		TargetPeriod: 32,
		Cancelled:    true,
		Outcomes: []robustness.SubRunOutcome{
			{Key: "ell_subset/2-86", Kind: robustness.KindSubset, Finding: core.OK("done")},
			{Key: "whitening_mode/covariance", Kind: robustness.KindWhitening, Finding: core.Warn("SKIPPED", "no covariance")},
		},
		Subsets: &robustness.SubsetSummary{TargetPeriod: 32, Subsets: 3, Completed: 1, Significant: 1, Required: 2},
		Modes: &robustness.ModeSummary{
			BestPeriods: map[detection.WhiteningMode]int{detection.WhitenDiagonal: 32, detection.WhitenNone: 16},
			Significant: map[detection.WhiteningMode]bool{detection.WhitenDiagonal: true},
			Artifact:    true,
		},
		Ensembles: &robustness.EnsembleSummary{Datasets: 10, Completed: 10, FalsePositives: 1, Rate: 0.1, Alpha: 0.05},
	}
	md := AblationMarkdown(r)

	assert.Contains(t, md, "Cancelled after 2 sub-runs")
	assert.Contains(t, md, "Significant in 1 of 3 subsets")
	assert.Contains(t, md, "treated as an artifact")
	assert.Contains(t, md, "| diagonal | 32 | ✅ |")
	assert.Contains(t, md, "False-positive rate 1/10")
	assert.Contains(t, md, "`whitening_mode/covariance`")
	assert.NotContains(t, md, "`ell_subset/2-86`")
}

func TestHTML_CompletePage(t *testing.T) {
	page := string(HTML("# Title\n\n| a | b |\n|---|---|\n| 1 | 2 |\n", "scan"))
	assert.Contains(t, page, "<title>scan</title>")
	assert.Contains(t, page, "<table>")
	assert.Contains(t, page, "<h1")
}

func TestWriteRun(t *testing.T) {
	dir := t.TempDir()
	rec := sampleRecord()

	paths, err := WriteRun(dir, rec)
	require.NoError(t, err)

	data, err := os.ReadFile(paths.JSON)
	require.NoError(t, err)
	var back run.RunRecord
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rec.Manifest.RunID, back.Manifest.RunID)
	assert.Equal(t, verdict.StatusFail, back.Combined.Status)

	md, err := os.ReadFile(paths.Markdown)
	require.NoError(t, err)
	assert.Contains(t, string(md), "Replication checklist")

	page, err := os.ReadFile(paths.HTML)
	require.NoError(t, err)
	assert.Contains(t, string(page), "<title>pr3-tt</title>")
}

func TestWriteAblation(t *testing.T) {
	paths, err := WriteAblation(t.TempDir(), &robustness.Report{Dataset: "wmap", TargetPeriod: 16})
	require.NoError(t, err)
	assert.FileExists(t, paths.JSON)
	assert.FileExists(t, paths.HTML)
	assert.Contains(t, paths.Markdown, "ablation.md")
}
