// Package testkit builds deterministic synthetic spectra, covariances and
// in-memory adapters for tests.
package testkit

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gofingerprint/domain/core"
	"gofingerprint/domain/robustness"
	"gofingerprint/domain/run"
	"gofingerprint/domain/spectrum"
)

// Injection is a sinusoid added to the observation, amplitude in units of sigma
type Injection struct {
	Period    int
	Amplitude float64
	Phase     float64
}

// Options describe a synthetic dataset
type Options struct {
	Name        string
	LMin        int
	LMax        int
	Units       spectrum.Units // units the files are written in
	NoiseFrac   float64        // sigma as a fraction of the model
	Correlation float64        // nearest-neighbour correlation, AR(1) style
	Inject      *Injection
	Seed        uint64
}

// DefaultOptions is a 2..257 C_ℓ dataset with 2% noise and no signal
func DefaultOptions() Options {
	return Options{Name: "synthetic", LMin: 2, LMax: 257, Units: spectrum.UnitsCl, NoiseFrac: 0.02, Seed: 1}
}

// Fixture is a matched observation, model and covariance
type Fixture struct {
	Observation *spectrum.Spectrum
	Model       *spectrum.Spectrum
	Covariance  *spectrum.Covariance
}

// ModelDl is a smooth D_ℓ shape with acoustic-like wiggles
func ModelDl(ell int) float64 {
	l := float64(ell)
	return 1000 + 4000*math.Exp(-math.Pow((l-220)/150, 2)) + 300*math.Cos(l/45)
}

// ModelCl converts ModelDl to C_ℓ
func ModelCl(ell int) float64 {
	l := float64(ell)
	return ModelDl(ell) * 2 * math.Pi / (l * (l + 1))
}

// Generate builds a fixture. The observation is model + correlated Gaussian
// noise with the fixture's covariance, plus the optional injection.
func Generate(opts Options) (*Fixture, error) {
	if opts.LMin < 2 || opts.LMax <= opts.LMin {
		return nil, fmt.Errorf("testkit: invalid range [%d, %d]", opts.LMin, opts.LMax)
	}
	rng := rand.New(rand.NewPCG(opts.Seed, 0x5eed))
	n := opts.LMax - opts.LMin + 1

	ells := make([]int, n)
	model := make([]float64, n)
	sigma := make([]float64, n)
	for i := 0; i < n; i++ {
		l := opts.LMin + i
		ells[i] = l
		if opts.Units == spectrum.UnitsDl {
			model[i] = ModelDl(l)
		} else {
			model[i] = ModelCl(l)
		}
		sigma[i] = opts.NoiseFrac * model[i]
	}

	rho := opts.Correlation
	cov := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			cov[i*n+j] = sigma[i] * sigma[j] * math.Pow(rho, math.Abs(float64(i-j)))
		}
	}

	// AR(1) noise has exactly the covariance above
	noise := make([]float64, n)
	prev := 0.0
	for i := 0; i < n; i++ {
		z := rng.NormFloat64()
		if i == 0 {
			prev = z
		} else {
			prev = rho*prev + math.Sqrt(1-rho*rho)*z
		}
		noise[i] = sigma[i] * prev
	}

	obsPts := make([]spectrum.Point, n)
	modelPts := make([]spectrum.Point, n)
	for i, l := range ells {
		v := model[i] + noise[i]
		if inj := opts.Inject; inj != nil {
			v += inj.Amplitude * sigma[i] * math.Sin(2*math.Pi*float64(l)/float64(inj.Period)+inj.Phase)
		}
		obsPts[i] = spectrum.Point{Ell: l, Value: v, SigmaMinus: sigma[i], SigmaPlus: sigma[i]}
		modelPts[i] = spectrum.Point{Ell: l, Value: model[i]}
	}

	obs, err := spectrum.New(opts.Name, opts.Units, obsPts)
	if err != nil {
		return nil, err
	}
	mod, err := spectrum.New(opts.Name+"-model", opts.Units, modelPts)
	if err != nil {
		return nil, err
	}
	c, err := spectrum.NewCovariance(ells, opts.Units, cov)
	if err != nil {
		return nil, err
	}
	return &Fixture{Observation: obs, Model: mod, Covariance: c}, nil
}

// Files are the paths written by WriteFiles
type Files struct {
	Observation string
	Model       string
	Covariance  string
}

// WriteFiles writes the fixture as text files in dir, with a units header
func (f *Fixture) WriteFiles(dir, prefix string) (Files, error) {
	files := Files{
		Observation: filepath.Join(dir, prefix+"_obs.txt"),
		Model:       filepath.Join(dir, prefix+"_model.txt"),
		Covariance:  filepath.Join(dir, prefix+"_cov.txt"),
	}
	units := string(f.Observation.Units())

	var b strings.Builder
	fmt.Fprintf(&b, "# units: %s\n# ell value sigma_minus sigma_plus\n", units)
	for _, p := range f.Observation.Points() {
		fmt.Fprintf(&b, "%d %.17g %.17g %.17g\n", p.Ell, p.Value, p.SigmaMinus, p.SigmaPlus)
	}
	if err := os.WriteFile(files.Observation, []byte(b.String()), 0o644); err != nil {
		return files, err
	}

	b.Reset()
	fmt.Fprintf(&b, "# units: %s\n# ell value\n", units)
	for _, p := range f.Model.Points() {
		fmt.Fprintf(&b, "%d %.17g\n", p.Ell, p.Value)
	}
	if err := os.WriteFile(files.Model, []byte(b.String()), 0o644); err != nil {
		return files, err
	}

	b.Reset()
	n := f.Covariance.Dim()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if j > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%.17g", f.Covariance.At(i, j))
		}
		b.WriteByte('\n')
	}
	if err := os.WriteFile(files.Covariance, []byte(b.String()), 0o644); err != nil {
		return files, err
	}
	return files, nil
}

// InMemoryStore implements ports.ResultStore for tests
type InMemoryStore struct {
	mu        sync.RWMutex
	runs      map[core.RunID]*run.RunRecord
	ablations []*robustness.Report
}

// NewInMemoryStore creates an empty store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{runs: make(map[core.RunID]*run.RunRecord)}
}

func (s *InMemoryStore) SaveRun(ctx context.Context, record *run.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[record.Manifest.RunID] = record
	return nil
}

func (s *InMemoryStore) GetRun(ctx context.Context, runID core.RunID) (*run.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return rec, nil
}

func (s *InMemoryStore) ListRuns(ctx context.Context, limit int) ([]run.RunManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]run.RunManifest, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.Manifest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID > out[j].RunID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) SaveAblation(ctx context.Context, report *robustness.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ablations = append(s.ablations, report)
	return nil
}

// Ablations returns the saved ablation reports
func (s *InMemoryStore) Ablations() []*robustness.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*robustness.Report(nil), s.ablations...)
}

func (s *InMemoryStore) Close() error { return nil }
