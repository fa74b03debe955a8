package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"runtime"
	"sort"
	"strconv"

	"gofingerprint/domain/core"
	"gofingerprint/domain/detection"
	"gofingerprint/domain/spectrum"
	"gofingerprint/domain/verdict"
	"gofingerprint/internal/errors"

	"gopkg.in/yaml.v3"
)

// MaxPlanFileSize caps analysis plan files (1MB)
const MaxPlanFileSize = 1024 * 1024

// DefaultPeriods is the pre-registered candidate set
var DefaultPeriods = []int{8, 16, 32, 64, 128, 255}

// Mode selects how sanity and numerical failures are treated
type Mode string

const (
	// ModeStrict is court-grade: sanity and numerical failures are fatal
	ModeStrict Mode = "strict"
	// ModePermissive is exploratory: failures downgrade to logged warnings or fallbacks
	ModePermissive Mode = "permissive"
)

// SanityThresholds bound the residual reduced chi-square checks
type SanityThresholds struct {
	CatastrophicChi2 float64 `yaml:"catastrophic_chi2" json:"catastrophic_chi2"`
	CatastrophicPull float64 `yaml:"catastrophic_median_pull" json:"catastrophic_median_pull"`
	WarnChi2         float64 `yaml:"warn_chi2" json:"warn_chi2"`
}

// WhiteningLimits controls covariance validation and ridge regularization
type WhiteningLimits struct {
	ConditionLimit    float64 `yaml:"condition_limit" json:"condition_limit"`
	ConditionTarget   float64 `yaml:"condition_target" json:"condition_target"`
	SymmetryTolerance float64 `yaml:"symmetry_tolerance" json:"symmetry_tolerance"`
}

// AblationPlan configures the robustness harness
type AblationPlan struct {
	Subsets          int     `yaml:"subsets" json:"subsets"`
	MinRobustSubsets int     `yaml:"min_robust_subsets" json:"min_robust_subsets"`
	Ensembles        int     `yaml:"ensembles" json:"ensembles"`
	EnsembleTrials   int     `yaml:"ensemble_trials" json:"ensemble_trials"`
	Alpha            float64 `yaml:"alpha" json:"alpha"`
	NullMethod       string  `yaml:"null_method" json:"null_method"`
}

// Plan is the on-disk pre-registered analysis plan
type Plan struct {
	Name                 string           `yaml:"name"`
	Periods              []int            `yaml:"periods"`
	LMin                 int              `yaml:"lmin"`
	LMax                 int              `yaml:"lmax"`
	Trials               int              `yaml:"trials"`
	Seed                 int64            `yaml:"seed"`
	Whitening            string           `yaml:"whitening"`
	NullMethod           string           `yaml:"null_method"`
	Mode                 string           `yaml:"mode"`
	AnalysisUnits        string           `yaml:"analysis_units"`
	UnitsMedianThreshold float64          `yaml:"units_median_threshold"`
	Regularize           bool             `yaml:"regularize"`
	Workers              int              `yaml:"workers"`
	Sanity               SanityThresholds `yaml:"sanity"`
	Limits               WhiteningLimits  `yaml:"whitening_limits"`
	Rule                 verdict.Rule     `yaml:"rule"`
	Ablation             AblationPlan     `yaml:"ablation"`
}

// Seed offsets of derived sub-runs. Baseline trial t uses seed+t, trial t of
// ℓ-subset i uses seed+SubsetSeedStride·(i+1)+t and ensemble i uses
// seed+EnsembleSeedStride·(i+1)+t. New rejects plans whose ranges overlap.
const (
	SubsetSeedStride   = 1_000_003
	EnsembleSeedStride = 7_000_003
)

// DefaultPlan returns the documented defaults
func DefaultPlan() Plan {
	return Plan{
		Name:                 "default",
		Periods:              append([]int(nil), DefaultPeriods...),
		LMin:                 2,
		LMax:                 2500,
		Trials:               10000,
		Seed:                 42,
		Whitening:            string(detection.WhitenCovariance),
		NullMethod:           string(detection.NullGaussian),
		Mode:                 string(ModeStrict),
		AnalysisUnits:        string(spectrum.UnitsCl),
		UnitsMedianThreshold: 100,
		Regularize:           true,
		Workers:              runtime.NumCPU(),
		Sanity: SanityThresholds{
			CatastrophicChi2: 1e6,
			CatastrophicPull: 1e3,
			WarnChi2:         100,
		},
		Limits: WhiteningLimits{
			ConditionLimit:    1e10,
			ConditionTarget:   1e8,
			SymmetryTolerance: 1e-6,
		},
		Rule: verdict.DefaultRule(),
		Ablation: AblationPlan{
			Subsets:          3,
			MinRobustSubsets: 2,
			Ensembles:        200,
			EnsembleTrials:   500,
			Alpha:            0.05,
			NullMethod:       string(detection.NullCosmicVariance),
		},
	}
}

// RunConfig is the validated, immutable configuration handed to every component.
// Derived copies come from the With* methods.
type RunConfig struct {
	Name                 string
	periods              []int
	LMin                 int
	LMax                 int
	Trials               int
	Seed                 int64
	Whitening            detection.WhiteningMode
	NullMethod           detection.NullMethod
	Mode                 Mode
	AnalysisUnits        spectrum.Units
	UnitsMedianThreshold float64
	Regularize           bool
	Workers              int
	Sanity               SanityThresholds
	Limits               WhiteningLimits
	Rule                 verdict.Rule
	Ablation             AblationPlan
	AblationNullMethod   detection.NullMethod
	sources              map[string]string
}

// New validates a plan. Configuration errors are rejected before any computation.
func New(plan Plan) (RunConfig, error) {
	return newWithSources(plan, nil)
}

func newWithSources(plan Plan, sources map[string]string) (RunConfig, error) {
	if len(plan.Periods) == 0 {
		return RunConfig{}, errors.ConfigInvalid("candidate period set is empty")
	}
	seen := make(map[int]bool, len(plan.Periods))
	for _, p := range plan.Periods {
		if p < 2 {
			return RunConfig{}, errors.ConfigInvalid(fmt.Sprintf("candidate period %d is below the Nyquist limit of 2", p))
		}
		if seen[p] {
			return RunConfig{}, errors.ConfigInvalid(fmt.Sprintf("candidate period %d listed twice", p))
		}
		seen[p] = true
	}
	if plan.Trials <= 0 {
		return RunConfig{}, errors.ConfigInvalid(fmt.Sprintf("Monte Carlo trial count must be positive, got %d", plan.Trials))
	}
	if plan.LMin < 0 || plan.LMax <= plan.LMin {
		return RunConfig{}, errors.ConfigInvalid(fmt.Sprintf("invalid multipole range [%d, %d]", plan.LMin, plan.LMax))
	}
	if plan.Workers < 1 {
		return RunConfig{}, errors.ConfigInvalid(fmt.Sprintf("workers must be at least 1, got %d", plan.Workers))
	}

	whitening, err := detection.ParseWhiteningMode(plan.Whitening)
	if err != nil {
		return RunConfig{}, errors.ConfigInvalid(err.Error())
	}
	nullMethod, err := detection.ParseNullMethod(plan.NullMethod)
	if err != nil {
		return RunConfig{}, errors.ConfigInvalid(err.Error())
	}
	ablationNull, err := detection.ParseNullMethod(plan.Ablation.NullMethod)
	if err != nil {
		return RunConfig{}, errors.ConfigInvalid("ablation: " + err.Error())
	}
	mode := Mode(plan.Mode)
	if mode != ModeStrict && mode != ModePermissive {
		return RunConfig{}, errors.ConfigInvalid(fmt.Sprintf("mode must be strict or permissive, got %q", plan.Mode))
	}
	units, err := spectrum.ParseUnits(plan.AnalysisUnits)
	if err != nil || units == spectrum.UnitsUnknown {
		return RunConfig{}, errors.ConfigInvalid(fmt.Sprintf("analysis_units must be Dl or Cl, got %q", plan.AnalysisUnits))
	}
	if plan.UnitsMedianThreshold <= 0 {
		return RunConfig{}, errors.ConfigInvalid("units_median_threshold must be positive")
	}

	s := plan.Sanity
	if s.WarnChi2 <= 0 || s.CatastrophicChi2 <= s.WarnChi2 || s.CatastrophicPull <= 0 {
		return RunConfig{}, errors.ConfigInvalid(fmt.Sprintf(
			"sanity thresholds must satisfy 0 < warn_chi2 (%g) < catastrophic_chi2 (%g) and catastrophic_median_pull > 0 (%g)",
			s.WarnChi2, s.CatastrophicChi2, s.CatastrophicPull))
	}
	l := plan.Limits
	if l.ConditionTarget <= 1 || l.ConditionLimit < l.ConditionTarget || l.SymmetryTolerance <= 0 {
		return RunConfig{}, errors.ConfigInvalid(fmt.Sprintf(
			"whitening limits must satisfy 1 < condition_target (%g) <= condition_limit (%g), symmetry_tolerance > 0",
			l.ConditionTarget, l.ConditionLimit))
	}
	r := plan.Rule
	if !inOpenUnit(r.PrimaryAlpha) || !inOpenUnit(r.ReplicationAlpha) {
		return RunConfig{}, errors.ConfigInvalid(fmt.Sprintf("rule alphas must lie in (0,1): primary=%g replication=%g", r.PrimaryAlpha, r.ReplicationAlpha))
	}
	if r.MaxPhaseDiff <= 0 || r.MaxPhaseDiff > math.Pi {
		return RunConfig{}, errors.ConfigInvalid(fmt.Sprintf("rule max_phase_diff must lie in (0, π], got %g", r.MaxPhaseDiff))
	}
	a := plan.Ablation
	if a.Subsets < 2 || a.MinRobustSubsets < 1 || a.MinRobustSubsets > a.Subsets ||
		a.Ensembles < 1 || a.EnsembleTrials < 1 || !inOpenUnit(a.Alpha) {
		return RunConfig{}, errors.ConfigInvalid(fmt.Sprintf("invalid ablation plan %+v", a))
	}

	if plan.Trials >= SubsetSeedStride {
		return RunConfig{}, errors.ConfigInvalid(fmt.Sprintf("trials must be below %d so null seeds stay disjoint from subset seeds, got %d", SubsetSeedStride, plan.Trials))
	}
	if top := int64(SubsetSeedStride)*int64(a.Subsets) + int64(plan.Trials); top >= EnsembleSeedStride {
		return RunConfig{}, errors.ConfigInvalid(fmt.Sprintf("ablation: %d subsets of %d trials reach seed offset %d, past the first ensemble at %d", a.Subsets, plan.Trials, top, EnsembleSeedStride))
	}
	if a.EnsembleTrials >= EnsembleSeedStride {
		return RunConfig{}, errors.ConfigInvalid(fmt.Sprintf("ablation: ensemble_trials must be below %d, got %d", EnsembleSeedStride, a.EnsembleTrials))
	}

	periods := append([]int(nil), plan.Periods...)
	src := make(map[string]string, len(sources))
	for k, v := range sources {
		src[k] = v
	}

	return RunConfig{
		Name:                 plan.Name,
		periods:              periods,
		LMin:                 plan.LMin,
		LMax:                 plan.LMax,
		Trials:               plan.Trials,
		Seed:                 plan.Seed,
		Whitening:            whitening,
		NullMethod:           nullMethod,
		Mode:                 mode,
		AnalysisUnits:        units,
		UnitsMedianThreshold: plan.UnitsMedianThreshold,
		Regularize:           plan.Regularize,
		Workers:              plan.Workers,
		Sanity:               s,
		Limits:               l,
		Rule:                 r,
		Ablation:             a,
		AblationNullMethod:   ablationNull,
		sources:              src,
	}, nil
}

func inOpenUnit(x float64) bool { return x > 0 && x < 1 }

// Periods returns a copy of the candidate periods in registration order
func (c RunConfig) Periods() []int {
	return append([]int(nil), c.periods...)
}

// Strict reports whether the run is court-grade
func (c RunConfig) Strict() bool { return c.Mode == ModeStrict }

// Sources reports where each plan field came from (default, plan, env)
func (c RunConfig) Sources() map[string]string {
	out := make(map[string]string, len(c.sources))
	for k, v := range c.sources {
		out[k] = v
	}
	return out
}

// Defaulted lists the fields that were not set explicitly, sorted
func (c RunConfig) Defaulted() []string {
	var out []string
	for k, v := range c.sources {
		if v == SourceDefault {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// WithRange returns a copy restricted to [lmin, lmax]
func (c RunConfig) WithRange(lmin, lmax int) RunConfig {
	c.periods = c.Periods()
	c.LMin, c.LMax = lmin, lmax
	return c
}

// WithWhitening returns a copy using another whitening mode
func (c RunConfig) WithWhitening(m detection.WhiteningMode) RunConfig {
	c.periods = c.Periods()
	c.Whitening = m
	return c
}

// WithTrials returns a copy with another trial count
func (c RunConfig) WithTrials(n int) RunConfig {
	c.periods = c.Periods()
	c.Trials = n
	return c
}

// WithSeed returns a copy with another base seed
func (c RunConfig) WithSeed(seed int64) RunConfig {
	c.periods = c.Periods()
	c.Seed = seed
	return c
}

// WithNullMethod returns a copy with another null method
func (c RunConfig) WithNullMethod(m detection.NullMethod) RunConfig {
	c.periods = c.Periods()
	c.NullMethod = m
	return c
}

// Snapshot is the serializable form written to run metadata
type Snapshot struct {
	Name                 string            `json:"name"`
	Periods              []int             `json:"periods"`
	LMin                 int               `json:"lmin"`
	LMax                 int               `json:"lmax"`
	Trials               int               `json:"trials"`
	Seed                 int64             `json:"seed"`
	Whitening            string            `json:"whitening"`
	NullMethod           string            `json:"null_method"`
	Mode                 string            `json:"mode"`
	AnalysisUnits        string            `json:"analysis_units"`
	UnitsMedianThreshold float64           `json:"units_median_threshold"`
	Regularize           bool              `json:"regularize"`
	Sanity               SanityThresholds  `json:"sanity"`
	Limits               WhiteningLimits   `json:"whitening_limits"`
	Rule                 verdict.Rule      `json:"rule"`
	Ablation             AblationPlan      `json:"ablation"`
	Sources              map[string]string `json:"sources,omitempty"`
}

// Snapshot captures every setting that can change a scientific conclusion.
// Workers is excluded: results do not depend on it.
func (c RunConfig) Snapshot() Snapshot {
	return Snapshot{
		Name:                 c.Name,
		Periods:              c.Periods(),
		LMin:                 c.LMin,
		LMax:                 c.LMax,
		Trials:               c.Trials,
		Seed:                 c.Seed,
		Whitening:            string(c.Whitening),
		NullMethod:           string(c.NullMethod),
		Mode:                 string(c.Mode),
		AnalysisUnits:        string(c.AnalysisUnits),
		UnitsMedianThreshold: c.UnitsMedianThreshold,
		Regularize:           c.Regularize,
		Sanity:               c.Sanity,
		Limits:               c.Limits,
		Rule:                 c.Rule,
		Ablation:             c.Ablation,
		Sources:              c.Sources(),
	}
}

// Hash fingerprints the scientific content of the configuration
func (c RunConfig) Hash() core.Hash {
	snap := c.Snapshot()
	snap.Sources = nil
	data, _ := json.Marshal(snap)
	return core.NewHash(data)
}

// Field source labels
const (
	SourceDefault = "default"
	SourcePlan    = "plan"
	SourceEnv     = "env"
)

var planKeys = []string{
	"name", "periods", "lmin", "lmax", "trials", "seed", "whitening", "null_method",
	"mode", "analysis_units", "units_median_threshold", "regularize", "workers",
	"sanity", "whitening_limits", "rule", "ablation",
}

// LoadPlanFile decodes a YAML plan over the defaults and records which keys it set
func LoadPlanFile(path string) (Plan, map[string]string, error) {
	plan := DefaultPlan()
	sources := make(map[string]string, len(planKeys))
	for _, k := range planKeys {
		sources[k] = SourceDefault
	}
	if path == "" {
		return plan, sources, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return Plan{}, nil, errors.Wrapf(errors.ConfigInvalid(err.Error()), "failed to stat plan %s", path)
	}
	if info.Size() > MaxPlanFileSize {
		return Plan{}, nil, errors.ConfigInvalid(fmt.Sprintf("plan %s is %d bytes, limit %d", path, info.Size(), MaxPlanFileSize))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, nil, errors.Wrapf(errors.ConfigInvalid(err.Error()), "failed to read plan %s", path)
	}

	var present map[string]interface{}
	if err := yaml.Unmarshal(data, &present); err != nil {
		return Plan{}, nil, errors.ConfigInvalid(fmt.Sprintf("plan %s is not valid YAML: %v", path, err))
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&plan); err != nil {
		return Plan{}, nil, errors.ConfigInvalid(fmt.Sprintf("plan %s: %v", path, err))
	}
	for k := range present {
		sources[k] = SourcePlan
	}
	return plan, sources, nil
}

// ApplyEnv overrides plan fields from FP_* environment variables
func ApplyEnv(plan Plan, sources map[string]string) (Plan, error) {
	if v, ok, err := lookupEnvInt64("FP_SEED"); err != nil {
		return plan, err
	} else if ok {
		plan.Seed = v
		sources["seed"] = SourceEnv
	}
	if v, ok, err := lookupEnvInt("FP_TRIALS"); err != nil {
		return plan, err
	} else if ok {
		plan.Trials = v
		sources["trials"] = SourceEnv
	}
	if v, ok, err := lookupEnvInt("FP_WORKERS"); err != nil {
		return plan, err
	} else if ok {
		plan.Workers = v
		sources["workers"] = SourceEnv
	}
	if v, ok := os.LookupEnv("FP_MODE"); ok && v != "" {
		plan.Mode = v
		sources["mode"] = SourceEnv
	}
	if v, ok := os.LookupEnv("FP_WHITENING"); ok && v != "" {
		plan.Whitening = v
		sources["whitening"] = SourceEnv
	}
	if v, ok := os.LookupEnv("FP_NULL_METHOD"); ok && v != "" {
		plan.NullMethod = v
		sources["null_method"] = SourceEnv
	}
	return plan, nil
}

// Load reads the plan file (optional), applies environment overrides and validates
func Load(planPath string) (RunConfig, error) {
	plan, sources, err := LoadPlanFile(planPath)
	if err != nil {
		return RunConfig{}, err
	}
	plan, err = ApplyEnv(plan, sources)
	if err != nil {
		return RunConfig{}, err
	}
	cfg, err := newWithSources(plan, sources)
	if err != nil {
		return RunConfig{}, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

// Helper functions for environment variable parsing. Unlike plain defaults,
// a malformed value is an error rather than silently ignored.
func lookupEnvInt(key string) (int, bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, errors.ConfigInvalid(fmt.Sprintf("%s=%q is not an integer", key, value))
	}
	return v, true, nil
}

func lookupEnvInt64(key string) (int64, bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, errors.ConfigInvalid(fmt.Sprintf("%s=%q is not an integer", key, value))
	}
	return v, true, nil
}

// GetEnvOrDefault returns the variable or a fallback
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
