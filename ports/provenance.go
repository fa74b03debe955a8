package ports

import (
	"context"

	"gofingerprint/domain/run"
)

// ProvenancePort checks input files against a pre-registered manifest
type ProvenancePort interface {
	// Verify returns the fingerprint of path if it matches the entry for key
	Verify(ctx context.Context, key, path string) (run.DatasetFingerprint, error)
}
