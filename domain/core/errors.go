package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Input errors
	ErrHTMLPayload       = errors.New("file contains HTML instead of numeric data")
	ErrMalformedInput    = errors.New("malformed input")
	ErrNonMonotonicEll   = errors.New("multipole index not strictly increasing")
	ErrUnitsUndetermined = errors.New("spectrum units could not be determined")
	ErrInvalidSpectrum   = errors.New("values inconsistent with a power spectrum")
	ErrRangeMismatch     = errors.New("multipole ranges do not align")
	ErrInsufficientData  = errors.New("insufficient data for analysis")

	// Numerical errors
	ErrNotSymmetric        = errors.New("covariance matrix is not symmetric")
	ErrNotPositiveDefinite = errors.New("covariance matrix is not positive definite")
	ErrCholeskyFailed      = errors.New("cholesky decomposition failed")

	// Statistical sanity
	ErrCatastrophicMismatch = errors.New("catastrophic observation/model mismatch")

	// Provenance errors
	ErrHashMismatch  = errors.New("hash mismatch")
	ErrSizeMismatch  = errors.New("size mismatch")
	ErrNotRegistered = errors.New("dataset not registered in manifest")

	// Storage errors
	ErrRunNotFound = errors.New("run not found")

	// Verdict errors
	ErrNullSizeMismatch = errors.New("null distribution size does not match configured trials")
)

// NewValidationError reports a field that failed validation
func NewValidationError(field string, reason string) error {
	return fmt.Errorf("validation failed for %s: %s", field, reason)
}
