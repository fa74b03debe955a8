package run

import (
	"encoding/json"

	"gofingerprint/domain/core"
	"gofingerprint/domain/detection"
	"gofingerprint/domain/spectrum"
	"gofingerprint/domain/verdict"
)

// RunManifest is the complete description of a run: the "truth source"
// for replay. It is written before any statistics are computed.
type RunManifest struct {
	RunID       core.RunID           `json:"run_id"`
	Name        string               `json:"name"`
	ConfigHash  core.Hash            `json:"config_hash"`
	Config      json.RawMessage      `json:"config"`
	Seed        int64                `json:"seed"`
	CodeVersion string               `json:"code_version"`
	Datasets    []DatasetFingerprint `json:"datasets"`
	Fingerprint RunFingerprint       `json:"fingerprint"`
	CreatedAt   core.Timestamp       `json:"created_at"`
}

// NewRunManifest builds a manifest. config is the serialized configuration snapshot.
func NewRunManifest(
	runID core.RunID,
	name string,
	configHash core.Hash,
	config json.RawMessage,
	seed int64,
	codeVersion string,
	datasets []DatasetFingerprint,
) *RunManifest {
	ds := append([]DatasetFingerprint(nil), datasets...)
	return &RunManifest{
		RunID:       runID,
		Name:        name,
		ConfigHash:  configHash,
		Config:      config,
		Seed:        seed,
		CodeVersion: codeVersion,
		Datasets:    ds,
		Fingerprint: NewRunFingerprint(configHash, ds, seed, codeVersion),
		CreatedAt:   core.Now(),
	}
}

// Validate checks if the manifest is complete
func (r *RunManifest) Validate() error {
	if core.ID(r.RunID).IsEmpty() {
		return core.NewValidationError("run_manifest", "run_id cannot be empty")
	}
	if r.ConfigHash.IsEmpty() {
		return core.NewValidationError("run_manifest", "config_hash cannot be empty")
	}
	if r.CodeVersion == "" {
		return core.NewValidationError("run_manifest", "code_version cannot be empty")
	}
	if len(r.Datasets) == 0 {
		return core.NewValidationError("run_manifest", "at least one dataset fingerprint is required")
	}
	for _, d := range r.Datasets {
		if d.SHA256.IsEmpty() {
			return core.NewValidationError("run_manifest", "dataset "+d.Key+" has no sha256")
		}
	}
	return nil
}

// DatasetRecord is the machine-readable output for one dataset
type DatasetRecord struct {
	Key        string                  `json:"key"`
	Role       string                  `json:"role"`
	Units      spectrum.UnitProvenance `json:"units"`
	ModelUnits spectrum.UnitProvenance `json:"model_units"`
	Sanity     detection.SanityReport  `json:"sanity"`
	Whitening  detection.WhiteningMeta `json:"whitening"`
	Scan       detection.PeriodScan    `json:"scan"`
	Verdict    verdict.DatasetVerdict  `json:"verdict"`
	Findings   []core.Finding          `json:"findings,omitempty"`
}

// RunRecord is everything a run produced, keyed by its manifest
type RunRecord struct {
	Manifest    RunManifest              `json:"manifest"`
	Datasets    []DatasetRecord          `json:"datasets"`
	Combined    *verdict.CombinedVerdict `json:"combined,omitempty"`
	CompletedAt core.Timestamp           `json:"completed_at"`
}

// Dataset returns the record for a role
func (r *RunRecord) Dataset(role string) (DatasetRecord, bool) {
	for _, d := range r.Datasets {
		if d.Role == role {
			return d, true
		}
	}
	return DatasetRecord{}, false
}

// Findings collects every non-ok finding across datasets
func (r *RunRecord) Findings() []core.Finding {
	var out []core.Finding
	for _, d := range r.Datasets {
		for _, f := range d.Findings {
			if f.Severity != core.SeverityOK {
				out = append(out, f)
			}
		}
	}
	return out
}
