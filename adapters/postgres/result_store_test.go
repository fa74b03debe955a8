package postgres

import (
	"context"
	"os"
	"testing"
	"testing/fstest"
	"time"

	"gofingerprint/domain/core"
	"gofingerprint/domain/robustness"
	"gofingerprint/domain/run"
	"gofingerprint/domain/verdict"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONB_RoundTrip(t *testing.T) {
	in := JSONB[run.RunManifest]{V: run.RunManifest{RunID: "abc", Seed: 7, ConfigHash: "ff"}}
	v, err := in.Value()
	require.NoError(t, err)

	var out JSONB[run.RunManifest]
	require.NoError(t, out.Scan(v))
	assert.Equal(t, in.V.RunID, out.V.RunID)
	assert.Equal(t, int64(7), out.V.Seed)

	var fromString JSONB[map[string]int]
	require.NoError(t, fromString.Scan(`{"a": 1}`))
	assert.Equal(t, 1, fromString.V["a"])

	var none JSONB[map[string]int]
	require.NoError(t, none.Scan(nil))
	assert.Nil(t, none.V)

	assert.Error(t, none.Scan(42))
}

func TestFindMigrations_OrdersAndChecksums(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_more.sql":    {Data: []byte("SELECT 2;")},
		"migrations/001_initial.sql": {Data: []byte("SELECT 1;")},
		"migrations/README.md":       {Data: []byte("docs")},
		"migrations/bad.sql":         {Data: []byte("SELECT 0;")},
	}
	files, err := FindMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "001", files[0].Version)
	assert.Equal(t, "002", files[1].Version)
	assert.Len(t, files[0].Checksum, 64)
	assert.NotEqual(t, files[0].Checksum, files[1].Checksum)
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := FindMigrations(migrationFS)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Contains(t, files[0].SQL, "fp_runs")
	assert.Contains(t, files[0].SQL, "JSONB")
}

// TestResultStore_Postgres needs a disposable database in FP_TEST_DATABASE_URL
func TestResultStore_Postgres(t *testing.T) {
	dsn := os.Getenv("FP_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FP_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	rec := &run.RunRecord{
		Manifest: run.RunManifest{
			RunID:      core.NewRunID(),
			Name:       "integration",
			ConfigHash: core.NewHash([]byte("cfg")),
			Seed:       42,
			CreatedAt:  core.NewTimestamp(time.Now().UTC()),
		},
		Combined:    &verdict.CombinedVerdict{Status: verdict.StatusPass},
		CompletedAt: core.Now(),
	}
	require.NoError(t, s.SaveRun(ctx, rec))
	require.NoError(t, s.SaveRun(ctx, rec))

	got, err := s.GetRun(ctx, rec.Manifest.RunID)
	require.NoError(t, err)
	assert.Equal(t, verdict.StatusPass, got.Combined.Status)

	list, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetRun(ctx, core.NewRunID())
	assert.ErrorIs(t, err, core.ErrRunNotFound)

	report := &robustness.Report{RunID: rec.Manifest.RunID, Dataset: "planck", Cancelled: true, CreatedAt: core.Now()}
	require.NoError(t, s.SaveAblation(ctx, report))
	report.Cancelled = false
	require.NoError(t, s.SaveAblation(ctx, report))
}
