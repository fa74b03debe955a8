package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counts(t *testing.T) {
	r := NewRecorder()
	r.TrialsRun("gaussian", 100)
	r.TrialsRun("gaussian", 50)
	r.Regularized()
	r.FellBack("covariance", "diagonal")
	r.SubRun("ell_subset", true)
	r.SubRun("ell_subset", false)
	r.PValue("planck", 0.004)

	assert.Equal(t, 150.0, testutil.ToFloat64(r.trials.WithLabelValues("gaussian")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.regularizations))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.subRuns.WithLabelValues("ell_subset", "failed")))
	assert.Equal(t, 0.004, testutil.ToFloat64(r.pValue.WithLabelValues("planck")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.TrialsRun("gaussian", 1)
	r.ObserveStage("null", time.Now())
	assert.NoError(t, r.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.Verdict("PASS")
	r.ObserveStage("detect", time.Now())

	path := filepath.Join(t.TempDir(), "fingerprint.prom")
	require.NoError(t, r.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `fingerprint_verdicts_total{status="PASS"} 1`)
	assert.Contains(t, string(data), "fingerprint_stage_duration_seconds_bucket")
}
