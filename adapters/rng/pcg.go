package rng

import (
	"math/rand/v2"
)

// streamIncrement is the fixed PCG stream selector shared by all trials
const streamIncrement uint64 = 0x9e3779b97f4a7c15

// PCGAdapter implements ports.RNGPort with one PCG generator per trial.
// Trial t of base seed s is seeded with s+t, so results never depend on
// which worker ran the trial or in what order.
type PCGAdapter struct{}

// NewPCGAdapter creates the adapter
func NewPCGAdapter() *PCGAdapter {
	return &PCGAdapter{}
}

// Stream returns the generator for trial under seed
func (a *PCGAdapter) Stream(seed int64, trial int) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed+int64(trial)), streamIncrement))
}

// Name identifies the generator in run metadata
func (a *PCGAdapter) Name() string { return "pcg64/seed+trial" }

// Named derives a stream for a labelled sub-computation, e.g. an ensemble member.
// The label is mixed with djb2 so distinct labels get distinct streams.
func (a *PCGAdapter) Named(label string, seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), streamIncrement^uint64(hashString(label))))
}

// hashString creates a simple hash for deterministic seeding
func hashString(s string) uint32 {
	var hash uint32 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint32(c) // djb2 algorithm
	}
	return hash
}
