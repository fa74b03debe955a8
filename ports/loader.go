package ports

import (
	"context"

	"gofingerprint/domain/core"
	"gofingerprint/domain/spectrum"
)

// LoadOptions carries caller-supplied hints for a spectrum or covariance file
type LoadOptions struct {
	Name      string
	UnitsHint spectrum.Units // overrides header detection when set
	// SHA256, when set, pins the bytes that are parsed to a verified digest
	SHA256 core.Hash
}

// LoadedSpectrum is a parsed spectrum plus the unit hint found in the file, if any
type LoadedSpectrum struct {
	Spectrum  *spectrum.Spectrum
	UnitsHint spectrum.Units
	Columns   []string
}

// SpectrumLoaderPort parses a dataset file into a spectrum
type SpectrumLoaderPort interface {
	LoadSpectrum(ctx context.Context, path string, opts LoadOptions) (*LoadedSpectrum, error)
}

// CovarianceLoaderPort parses a dense covariance aligned to the given
// multipoles. opts.UnitsHint gives the units of the covariance.
type CovarianceLoaderPort interface {
	LoadCovariance(ctx context.Context, path string, ells []int, opts LoadOptions) (*spectrum.Covariance, error)
}
