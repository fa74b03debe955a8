// Package loader parses spectrum and covariance files. Every loader checks
// the first bytes of a file and refuses HTML before parsing.
package loader

import (
	"context"
	"path/filepath"
	"strings"

	"gofingerprint/domain/spectrum"
	"gofingerprint/ports"
)

// Loader picks a parser by file extension
type Loader struct {
	text       *TextLoader
	sheet      *SpreadsheetLoader
	covariance *CovarianceLoader
}

var (
	_ ports.SpectrumLoaderPort   = (*Loader)(nil)
	_ ports.CovarianceLoaderPort = (*Loader)(nil)
)

// New creates a loader for text, .xlsx and covariance files
func New() *Loader {
	return &Loader{
		text:       NewTextLoader(),
		sheet:      NewSpreadsheetLoader(),
		covariance: NewCovarianceLoader(),
	}
}

// LoadSpectrum dispatches .xlsx to the spreadsheet loader and everything else to text
func (l *Loader) LoadSpectrum(ctx context.Context, path string, opts ports.LoadOptions) (*ports.LoadedSpectrum, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return l.sheet.LoadSpectrum(ctx, path, opts)
	default:
		return l.text.LoadSpectrum(ctx, path, opts)
	}
}

// LoadCovariance reads a dense covariance aligned to ells
func (l *Loader) LoadCovariance(ctx context.Context, path string, ells []int, opts ports.LoadOptions) (*spectrum.Covariance, error) {
	return l.covariance.LoadCovariance(ctx, path, ells, opts)
}
