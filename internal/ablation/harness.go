// Package ablation reruns the pipeline under systematic perturbations and
// summarizes how robust a candidate period is.
package ablation

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"gofingerprint/domain/core"
	"gofingerprint/domain/detection"
	"gofingerprint/domain/robustness"
	"gofingerprint/internal"
	"gofingerprint/internal/config"
	"gofingerprint/internal/errors"
	"gofingerprint/internal/metrics"
	"gofingerprint/internal/nullsim"
	"gofingerprint/internal/pipeline"
	"gofingerprint/ports"

	"golang.org/x/sync/semaphore"
	"gonum.org/v1/gonum/stat/distuv"
)

const codeSkipped = "SKIPPED"

// Sweeps selects which perturbations to run
type Sweeps struct {
	Subsets   bool
	Modes     bool
	Ensembles bool
	Channels  bool
}

// AllSweeps enables every sweep
func AllSweeps() Sweeps {
	return Sweeps{Subsets: true, Modes: true, Ensembles: true, Channels: true}
}

// Request describes one ablation run over a single dataset
type Request struct {
	RunID        core.RunID
	Input        pipeline.DatasetInput
	TargetPeriod int // 0 takes the baseline best period
	Channels     []pipeline.DatasetInput
	Sweeps       Sweeps
}

// Harness runs ablation sweeps. Sub-runs are independent and seeded
// explicitly, so outcomes do not depend on the concurrency level.
type Harness struct {
	cfg         config.RunConfig
	streams     ports.RNGPort
	metrics     *metrics.Recorder
	logger      *internal.Logger
	concurrency int

	// OnOutcome is called once per completed sub-run, serialized
	OnOutcome func(robustness.SubRunOutcome)
}

// NewHarness creates a harness with room for one full sub-run at a time
func NewHarness(cfg config.RunConfig, streams ports.RNGPort, rec *metrics.Recorder) *Harness {
	return &Harness{
		cfg:         cfg,
		streams:     streams,
		metrics:     rec,
		logger:      internal.DefaultLogger.With("Ablation"),
		concurrency: 1,
	}
}

// WithConcurrency allows n sub-runs in flight
func (h *Harness) WithConcurrency(n int) *Harness {
	if n < 1 {
		n = 1
	}
	h.concurrency = n
	return h
}

type job struct {
	key  string
	kind robustness.SubRunKind
	cost int64
	skip string
	run  func(ctx context.Context) (*robustness.SubRunResult, error)
}

// jobCost weights a sub-run by its trial count so ensembles pack tighter
func jobCost(kind robustness.SubRunKind) int64 {
	if kind == robustness.KindEnsemble {
		return 1
	}
	return 2
}

// Run executes the enabled sweeps. On cancellation the report holds every
// outcome completed so far and the error carries code CANCELLED.
func (h *Harness) Run(ctx context.Context, req Request) (*robustness.Report, error) {
	base := pipeline.New(h.cfg, h.streams, h.metrics)
	prep, err := base.Prepare(req.Input)
	if err != nil {
		return nil, errors.Wrap(err, "ablation baseline")
	}

	target := req.TargetPeriod
	if target == 0 {
		_, scan, err := base.Detect(prep)
		if err != nil {
			return nil, errors.Wrap(err, "ablation baseline detection")
		}
		target = scan.Best.Period
	} else if !slices.Contains(h.cfg.Periods(), target) {
		return nil, errors.ConfigInvalid(fmt.Sprintf("target period %d is not a candidate period", target))
	}
	h.logger.Info("Ablating %s around period %d", req.Input.Key, target)

	var jobs []job
	if req.Sweeps.Subsets {
		jobs = append(jobs, h.subsetJobs(req.Input, prep.Residual.Ells)...)
	}
	if req.Sweeps.Modes {
		jobs = append(jobs, h.modeJobs(req.Input)...)
	}
	if req.Sweeps.Ensembles {
		jobs = append(jobs, h.ensembleJobs(prep)...)
	}
	if req.Sweeps.Channels {
		jobs = append(jobs, h.channelJobs(req.Channels)...)
	}

	outcomes, cancelled := h.execute(ctx, jobs)

	report := &robustness.Report{
		RunID:        req.RunID,
		Dataset:      req.Input.Key,
		TargetPeriod: target,
		Outcomes:     outcomes,
		Cancelled:    cancelled,
		CreatedAt:    core.Now(),
	}
	a := h.cfg.Ablation
	if req.Sweeps.Subsets {
		report.Subsets = SummarizeSubsets(report.OutcomesOf(robustness.KindSubset), a.Subsets, target, a.MinRobustSubsets, a.Alpha)
	}
	if req.Sweeps.Modes {
		report.Modes = SummarizeModes(report.OutcomesOf(robustness.KindWhitening), target, a.Alpha)
	}
	if req.Sweeps.Ensembles {
		report.Ensembles = SummarizeEnsembles(report.OutcomesOf(robustness.KindEnsemble), a.Ensembles, a.Alpha)
	}
	if req.Sweeps.Channels {
		report.Channels = SummarizeChannels(report.OutcomesOf(robustness.KindChannel), target, a.Alpha)
	}

	if cancelled {
		h.logger.Warn("Ablation cancelled after %d of %d sub-runs", len(outcomes), len(jobs))
		return report, errors.WithCode(errors.CodeCancelled, context.Cause(ctx))
	}
	return report, nil
}

// SubsetRanges splits a grid into k contiguous disjoint [lo, hi] ranges
func SubsetRanges(ells []int, k int) [][2]int {
	n := len(ells)
	if k < 1 || n < k {
		return nil
	}
	ranges := make([][2]int, 0, k)
	for i := 0; i < k; i++ {
		lo, hi := i*n/k, (i+1)*n/k-1
		ranges = append(ranges, [2]int{ells[lo], ells[hi]})
	}
	return ranges
}

func (h *Harness) subsetJobs(in pipeline.DatasetInput, ells []int) []job {
	ranges := SubsetRanges(ells, h.cfg.Ablation.Subsets)
	if ranges == nil {
		return []job{{
			key:  "ell_subset",
			kind: robustness.KindSubset,
			skip: fmt.Sprintf("%d multipoles cannot form %d subsets", len(ells), h.cfg.Ablation.Subsets),
		}}
	}
	jobs := make([]job, 0, len(ranges))
	for i, r := range ranges {
		// subset index counts from 1 so no subset reuses the baseline streams
		cfg := h.cfg.WithRange(r[0], r[1]).WithSeed(h.cfg.Seed + config.SubsetSeedStride*int64(i+1))
		key := fmt.Sprintf("ell_subset/%d-%d", r[0], r[1])
		jobs = append(jobs, job{
			key:  key,
			kind: robustness.KindSubset,
			cost: jobCost(robustness.KindSubset),
			run:  h.analyzeWith(cfg, in, key),
		})
	}
	return jobs
}

// sweepModes is the order modes run in; none is diagnostic only
var sweepModes = []detection.WhiteningMode{
	detection.WhitenDiagonal,
	detection.WhitenCovDiag,
	detection.WhitenCovariance,
	detection.WhitenNone,
}

func (h *Harness) modeJobs(in pipeline.DatasetInput) []job {
	jobs := make([]job, 0, len(sweepModes))
	for _, m := range sweepModes {
		key := "whitening/" + string(m)
		j := job{key: key, kind: robustness.KindWhitening, cost: jobCost(robustness.KindWhitening)}
		if m.NeedsCovariance() && in.Covariance == nil {
			j.skip = fmt.Sprintf("mode %s needs a covariance and none was supplied", m)
		} else {
			j.run = h.analyzeWith(h.cfg.WithWhitening(m), in, key)
		}
		jobs = append(jobs, j)
	}
	return jobs
}

func (h *Harness) ensembleJobs(prep *pipeline.Prepared) []job {
	a := h.cfg.Ablation
	// the null must model the same variance as the generator
	ensCfg := h.cfg.WithTrials(a.EnsembleTrials).WithNullMethod(h.cfg.AblationNullMethod)
	// per-ensemble p-values would flood the dataset gauge, so no recorder here
	ens := pipeline.New(ensCfg, h.streams, nil)
	inputs := ens.NullInputs(prep, h.cfg.AblationNullMethod)

	jobs := make([]job, 0, a.Ensembles)
	for i := 0; i < a.Ensembles; i++ {
		seed := h.cfg.Seed + config.EnsembleSeedStride*int64(i+1)
		jobs = append(jobs, job{
			key:  fmt.Sprintf("ensemble/%04d", i),
			kind: robustness.KindEnsemble,
			cost: jobCost(robustness.KindEnsemble),
			run: func(ctx context.Context) (*robustness.SubRunResult, error) {
				values := make([]float64, prep.Residual.Len())
				if err := nullsim.Sample(h.streams.Stream(seed, 0), inputs, values); err != nil {
					return nil, err
				}
				res, err := ens.Finish(ctx, prep, prep.Residual.WithValues(values), seed+1)
				if err != nil {
					return nil, err
				}
				return resultOf(res, seed+1), nil
			},
		})
	}
	return jobs
}

func (h *Harness) channelJobs(channels []pipeline.DatasetInput) []job {
	jobs := make([]job, 0, len(channels))
	for _, ch := range channels {
		key := "channel/" + ch.Key
		jobs = append(jobs, job{
			key:  key,
			kind: robustness.KindChannel,
			cost: jobCost(robustness.KindChannel),
			run:  h.analyzeWith(h.cfg, ch, key),
		})
	}
	return jobs
}

func (h *Harness) analyzeWith(cfg config.RunConfig, in pipeline.DatasetInput, key string) func(context.Context) (*robustness.SubRunResult, error) {
	in.Key = in.Key + "/" + key
	return func(ctx context.Context) (*robustness.SubRunResult, error) {
		res, err := pipeline.New(cfg, h.streams, h.metrics).Analyze(ctx, in)
		if err != nil {
			return nil, err
		}
		return resultOf(res, cfg.Seed), nil
	}
}

func resultOf(a *pipeline.Analysis, seed int64) *robustness.SubRunResult {
	ells := a.Residual.Ells
	return &robustness.SubRunResult{
		LMin:      ells[0],
		LMax:      ells[len(ells)-1],
		Seed:      seed,
		Whitening: a.Whitener.Meta(),
		Best:      a.Scan.Best,
		Verdict:   a.Verdict,
	}
}

// execute schedules jobs in order under a weighted semaphore. A cancelled
// context stops scheduling; sub-runs interrupted mid-flight are dropped.
func (h *Harness) execute(ctx context.Context, jobs []job) ([]robustness.SubRunOutcome, bool) {
	capacity := int64(h.concurrency) * jobCost(robustness.KindSubset)
	sem := semaphore.NewWeighted(capacity)
	results := make([]*robustness.SubRunOutcome, len(jobs))

	var mu sync.Mutex
	var wg sync.WaitGroup
	cancelled := false

	for i, j := range jobs {
		cost := min(max(j.cost, 1), capacity)
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if err := sem.Acquire(ctx, cost); err != nil {
			cancelled = true
			break
		}
		wg.Add(1)
		go func(i int, j job) {
			defer wg.Done()
			defer sem.Release(cost)

			o, ok := h.runJob(ctx, j)
			if !ok {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			results[i] = &o
			if h.OnOutcome != nil {
				h.OnOutcome(o)
			}
		}(i, j)
	}
	wg.Wait()
	if ctx.Err() != nil {
		cancelled = true
	}

	outcomes := make([]robustness.SubRunOutcome, 0, len(jobs))
	for _, o := range results {
		if o != nil {
			outcomes = append(outcomes, *o)
		}
	}
	return outcomes, cancelled
}

// runJob converts a sub-run into an outcome. ok is false when the
// sub-run was interrupted by cancellation.
func (h *Harness) runJob(ctx context.Context, j job) (robustness.SubRunOutcome, bool) {
	o := robustness.SubRunOutcome{Key: j.key, Kind: j.kind}
	if j.skip != "" {
		h.logger.Warn("%s skipped: %s", j.key, j.skip)
		o.Finding = core.Warn(codeSkipped, j.skip)
		h.metrics.SubRun(string(j.kind), false)
		return o, true
	}

	start := time.Now()
	res, err := j.run(ctx)
	if err != nil {
		if errors.HasCode(err, errors.CodeCancelled) || ctx.Err() != nil {
			return o, false
		}
		h.logger.Error("❌ %s failed: %v", j.key, err)
		o.Finding = core.Fatal(errors.GetCode(err), err.Error())
		h.metrics.SubRun(string(j.kind), false)
		return o, true
	}

	h.logger.Debug("✅ %s: period %d p=%.4g (%v)", j.key, res.Best.Period, res.Verdict.PValue, time.Since(start).Round(time.Millisecond))
	o.Result = res
	o.Finding = core.OK(fmt.Sprintf("best period %d, p=%.4g", res.Best.Period, res.Verdict.PValue))
	h.metrics.SubRun(string(j.kind), true)
	return o, true
}

// significantAt reports whether an outcome found period at p < alpha
func significantAt(o robustness.SubRunOutcome, period int, alpha float64) bool {
	return o.Succeeded() && o.Result.Best.Period == period && o.Result.Verdict.PValue < alpha
}

// SummarizeSubsets decides robustness: the target must be best and
// significant in at least required subsets
func SummarizeSubsets(outcomes []robustness.SubRunOutcome, subsets, target, required int, alpha float64) *robustness.SubsetSummary {
	s := &robustness.SubsetSummary{TargetPeriod: target, Subsets: subsets, Required: required}
	for _, o := range outcomes {
		if o.Succeeded() {
			s.Completed++
		}
		if significantAt(o, target, alpha) {
			s.Significant++
		}
	}
	s.Robust = s.Significant >= required
	return s
}

// SummarizeModes checks the best period across inferential modes. A mode
// that fell back is not counted as the mode it asked for.
func SummarizeModes(outcomes []robustness.SubRunOutcome, target int, alpha float64) *robustness.ModeSummary {
	s := &robustness.ModeSummary{
		TargetPeriod: target,
		BestPeriods:  make(map[detection.WhiteningMode]int),
		Significant:  make(map[detection.WhiteningMode]bool),
	}
	inferential := 0
	stable := true
	for _, o := range outcomes {
		if !o.Succeeded() || o.Result.Whitening.FellBack {
			continue
		}
		mode := o.Result.Whitening.AppliedMode
		s.BestPeriods[mode] = o.Result.Best.Period
		s.Significant[mode] = significantAt(o, target, alpha)
		if !mode.Inferential() {
			continue
		}
		inferential++
		if o.Result.Best.Period != target {
			stable = false
		}
	}
	s.Stable = inferential > 0 && stable

	_, haveCov := s.Significant[detection.WhitenCovariance]
	s.Artifact = haveCov && s.Significant[detection.WhitenDiagonal] && !s.Significant[detection.WhitenCovariance]
	return s
}

// SummarizeEnsembles measures the false-positive rate with a 95% Wilson interval
func SummarizeEnsembles(outcomes []robustness.SubRunOutcome, datasets int, alpha float64) *robustness.EnsembleSummary {
	s := &robustness.EnsembleSummary{Datasets: datasets, Alpha: alpha}
	for _, o := range outcomes {
		if !o.Succeeded() {
			continue
		}
		s.Completed++
		if o.Result.Verdict.PValue < alpha {
			s.FalsePositives++
		}
	}
	if s.Completed == 0 {
		return s
	}
	s.Rate = float64(s.FalsePositives) / float64(s.Completed)
	s.Lower, s.Upper = WilsonInterval(s.FalsePositives, s.Completed, 0.95)
	s.Consistent = s.Lower <= alpha && alpha <= s.Upper
	return s
}

// WilsonInterval is the Wilson score interval for k successes in n trials
func WilsonInterval(k, n int, confidence float64) (float64, float64) {
	if n <= 0 {
		return 0, 1
	}
	z := distuv.UnitNormal.Quantile(1 - (1-confidence)/2)
	nf := float64(n)
	p := float64(k) / nf
	z2 := z * z
	denom := 1 + z2/nf
	center := (p + z2/(2*nf)) / denom
	half := z * math.Sqrt(p*(1-p)/nf+z2/(4*nf*nf)) / denom
	return math.Max(0, center-half), math.Min(1, center+half)
}

// SummarizeChannels lists channels where the target is best and significant
func SummarizeChannels(outcomes []robustness.SubRunOutcome, target int, alpha float64) *robustness.ChannelSummary {
	s := &robustness.ChannelSummary{TargetPeriod: target, Channels: []string{}, Reproduced: []string{}}
	for _, o := range outcomes {
		s.Channels = append(s.Channels, o.Key)
		if significantAt(o, target, alpha) {
			s.Reproduced = append(s.Reproduced, o.Key)
		}
	}
	return s
}
