package app

import (
	"context"
	"fmt"
	"path/filepath"

	"gofingerprint/domain/core"
	"gofingerprint/domain/run"
	"gofingerprint/domain/spectrum"
	"gofingerprint/internal"
	"gofingerprint/internal/errors"
	"gofingerprint/internal/pipeline"
	"gofingerprint/ports"
)

// DatasetFiles names the files for one dataset. Covariance is optional.
type DatasetFiles struct {
	Key         string
	Role        string
	Observation string
	Model       string
	Covariance  string
	ObsUnits    spectrum.Units // caller hint, overrides file headers
	ModelUnits  spectrum.Units
}

// Manifest keys for the files of a dataset: the observation is registered
// under the dataset key, the model and covariance under key.model and key.cov
func (f DatasetFiles) keys() [][2]string {
	out := [][2]string{{f.Key, f.Observation}, {f.Key + ".model", f.Model}}
	if f.Covariance != "" {
		out = append(out, [2]string{f.Key + ".cov", f.Covariance})
	}
	return out
}

// InputLoader verifies provenance and parses a dataset into pipeline input
type InputLoader struct {
	spectra     ports.SpectrumLoaderPort
	covariances ports.CovarianceLoaderPort
	provenance  ports.ProvenancePort
	logger      *internal.Logger
}

// NewInputLoader creates a loader. provenance may be nil, in which case files
// are fingerprinted but not verified and strict runs are refused.
func NewInputLoader(spectra ports.SpectrumLoaderPort, covariances ports.CovarianceLoaderPort, provenance ports.ProvenancePort) *InputLoader {
	return &InputLoader{
		spectra:     spectra,
		covariances: covariances,
		provenance:  provenance,
		logger:      internal.DefaultLogger.With("Inputs"),
	}
}

// Fingerprint checks every file of the dataset against the manifest before
// anything is parsed. Any mismatch aborts.
func (l *InputLoader) Fingerprint(ctx context.Context, files DatasetFiles, strict bool) ([]run.DatasetFingerprint, error) {
	if files.Key == "" || files.Observation == "" || files.Model == "" {
		return nil, errors.ConfigInvalid(fmt.Sprintf("dataset %q needs a key, an observation and a model file", files.Key))
	}
	if l.provenance == nil && strict {
		return nil, errors.ConfigInvalid("strict mode requires a provenance manifest")
	}

	var out []run.DatasetFingerprint
	for _, kv := range files.keys() {
		key, path := kv[0], kv[1]
		var (
			fp  run.DatasetFingerprint
			err error
		)
		if l.provenance != nil {
			fp, err = l.provenance.Verify(ctx, key, path)
		} else {
			fp, err = fingerprintUnverified(key, path)
			l.logger.Warn("%s: no provenance manifest, %s is unverified", key, path)
		}
		if err != nil {
			return nil, err
		}
		fp.Role = files.Role
		out = append(out, fp)
	}
	return out, nil
}

// Load parses observation, model and optional covariance. fps are the
// fingerprints returned by Fingerprint; each file is parsed from bytes that
// must still match its digest.
func (l *InputLoader) Load(ctx context.Context, files DatasetFiles, fps []run.DatasetFingerprint) (pipeline.DatasetInput, error) {
	digests := make(map[string]core.Hash, len(fps))
	for _, fp := range fps {
		digests[fp.Key] = fp.SHA256
	}
	for _, kv := range files.keys() {
		if digests[kv[0]].IsEmpty() {
			return pipeline.DatasetInput{}, errors.InternalError(fmt.Sprintf("%s: %s was not fingerprinted before loading", files.Key, kv[0]))
		}
	}

	obs, err := l.spectra.LoadSpectrum(ctx, files.Observation, ports.LoadOptions{
		Name: files.Key, UnitsHint: files.ObsUnits, SHA256: digests[files.Key],
	})
	if err != nil {
		return pipeline.DatasetInput{}, errors.Wrapf(err, "%s: observation", files.Key)
	}
	model, err := l.spectra.LoadSpectrum(ctx, files.Model, ports.LoadOptions{
		Name: files.Key + "-model", UnitsHint: files.ModelUnits, SHA256: digests[files.Key+".model"],
	})
	if err != nil {
		return pipeline.DatasetInput{}, errors.Wrapf(err, "%s: model", files.Key)
	}

	in := pipeline.DatasetInput{
		Key:         files.Key,
		Role:        files.Role,
		Observation: obs.Spectrum,
		ObsHint:     hint(files.ObsUnits, obs.UnitsHint),
		Model:       model.Spectrum,
		ModelHint:   hint(files.ModelUnits, model.UnitsHint),
	}
	if files.Covariance != "" {
		cov, err := l.covariances.LoadCovariance(ctx, files.Covariance, obs.Spectrum.Ells(), ports.LoadOptions{
			Name: files.Key + "-cov", UnitsHint: in.ObsHint, SHA256: digests[files.Key+".cov"],
		})
		if err != nil {
			return pipeline.DatasetInput{}, errors.Wrapf(err, "%s: covariance", files.Key)
		}
		in.Covariance = cov
	}
	l.logger.Debug("%s: %d observation points, %d model points, covariance=%t",
		files.Key, obs.Spectrum.Len(), model.Spectrum.Len(), in.Covariance != nil)
	return in, nil
}

func hint(explicit, fromFile spectrum.Units) spectrum.Units {
	if explicit != spectrum.UnitsUnknown {
		return explicit
	}
	return fromFile
}

func fingerprintUnverified(key, path string) (run.DatasetFingerprint, error) {
	d, err := core.DigestFile(path)
	if err != nil {
		return run.DatasetFingerprint{}, errors.InputInvalid(fmt.Sprintf("cannot fingerprint %s", path), err)
	}
	return run.DatasetFingerprint{Key: key, Filename: filepath.Base(path), Bytes: d.Bytes, SHA256: d.SHA256}, nil
}
