package run

import (
	"testing"

	"gofingerprint/domain/core"
)

func testDatasets() []DatasetFingerprint {
	return []DatasetFingerprint{
		{Key: "planck", Role: RolePrimary, Filename: "planck_tt.txt", Bytes: 1024, SHA256: core.Hash("aa11")},
		{Key: "wmap", Role: RoleReplication, Filename: "wmap_tt.txt", Bytes: 2048, SHA256: core.Hash("bb22")},
	}
}

func TestRunFingerprint_Deterministic(t *testing.T) {
	configHash := core.Hash("config")
	fp1 := NewRunFingerprint(configHash, testDatasets(), 42, "1.0.0")
	fp2 := NewRunFingerprint(configHash, testDatasets(), 42, "1.0.0")

	if fp1.Fingerprint != fp2.Fingerprint {
		t.Errorf("Fingerprints not identical: %s vs %s", fp1.Fingerprint, fp2.Fingerprint)
	}
	if fp1.Seed != 42 {
		t.Errorf("Seed mismatch: %d", fp1.Seed)
	}
	if len(fp1.DataHashes) != 2 {
		t.Errorf("expected 2 data hashes, got %d", len(fp1.DataHashes))
	}
}

func TestRunFingerprint_DatasetOrderIrrelevant(t *testing.T) {
	ds := testDatasets()
	reversed := []DatasetFingerprint{ds[1], ds[0]}

	a := NewRunFingerprint("config", ds, 42, "1.0.0")
	b := NewRunFingerprint("config", reversed, 42, "1.0.0")
	if a.Fingerprint != b.Fingerprint {
		t.Errorf("dataset order changed fingerprint: %s vs %s", a.Fingerprint, b.Fingerprint)
	}
}

func TestRunFingerprint_Unique(t *testing.T) {
	base := NewRunFingerprint("config", testDatasets(), 42, "1.0.0")

	changed := testDatasets()
	changed[0].SHA256 = "cc33"

	testCases := []struct {
		name string
		fp   RunFingerprint
	}{
		{"different config", NewRunFingerprint("other-config", testDatasets(), 42, "1.0.0")},
		{"different data", NewRunFingerprint("config", changed, 42, "1.0.0")},
		{"different seed", NewRunFingerprint("config", testDatasets(), 43, "1.0.0")},
		{"different code", NewRunFingerprint("config", testDatasets(), 42, "1.0.1")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.fp.Fingerprint == base.Fingerprint {
				t.Errorf("Fingerprint should be different for %s", tc.name)
			}
		})
	}
}

func TestRunManifest_Complete(t *testing.T) {
	runID := core.NewRunID()
	manifest := NewRunManifest(runID, "pr3", "config", []byte(`{"seed":42}`), 42, "1.0.0", testDatasets())

	if manifest.RunID != runID {
		t.Errorf("RunID not set correctly")
	}
	if manifest.Fingerprint.Fingerprint == "" {
		t.Errorf("Fingerprint not computed")
	}
	if err := manifest.Validate(); err != nil {
		t.Errorf("Manifest validation failed: %v", err)
	}

	manifest.Datasets = nil
	if err := manifest.Validate(); err == nil {
		t.Errorf("expected validation error without datasets")
	}
}

func TestRunRecord_DatasetAndFindings(t *testing.T) {
	rec := RunRecord{
		Datasets: []DatasetRecord{
			{Key: "planck", Role: RolePrimary, Findings: []core.Finding{core.OK("fine")}},
			{Key: "wmap", Role: RoleReplication, Findings: []core.Finding{core.Warn("SANITY_FAILED", "high chi2")}},
		},
	}

	d, ok := rec.Dataset(RoleReplication)
	if !ok || d.Key != "wmap" {
		t.Fatalf("expected wmap replication record, got %+v", d)
	}
	if got := rec.Findings(); len(got) != 1 || got[0].Message != "high chi2" {
		t.Errorf("expected one warning, got %v", got)
	}
}
