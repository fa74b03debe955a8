package ports

import (
	"math/rand/v2"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// Stream returns the generator for one trial. The same (seed, trial)
	// always yields the same sequence, independent of scheduling.
	Stream(seed int64, trial int) *rand.Rand

	// Name identifies the generator algorithm for run metadata
	Name() string
}
