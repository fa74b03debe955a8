package nullsim

import (
	"context"
	"fmt"
	"time"

	"gofingerprint/domain/detection"
	"gofingerprint/internal"
	"gofingerprint/internal/errors"

	"golang.org/x/sync/errgroup"
)

// Engine runs null trials on a fixed-size worker pool
type Engine struct {
	workers int
	logger  *internal.Logger
}

// NewEngine creates an engine. workers < 1 runs trials serially.
func NewEngine(workers int) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{workers: workers, logger: internal.DefaultLogger.With("NullSim")}
}

// Simulate runs trials 0..n-1 under seed. Samples are stored by trial index,
// so the distribution does not depend on worker count or completion order.
func (e *Engine) Simulate(ctx context.Context, in *Inputs, seed int64, n int) (detection.NullDistribution, error) {
	if n <= 0 {
		return detection.NullDistribution{}, errors.ConfigInvalid(fmt.Sprintf("trial count must be positive, got %d", n))
	}
	if err := in.Validate(); err != nil {
		return detection.NullDistribution{}, err
	}

	start := time.Now()
	samples := make([]detection.NullSample, n)

	numWorkers := e.workers
	if n < numWorkers {
		numWorkers = n
	}
	work := make(chan int)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(work)
		for i := 0; i < n; i++ {
			select {
			case work <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < numWorkers; w++ {
		g.Go(func() error {
			for trial := range work {
				s, err := RunTrial(seed, trial, in)
				if err != nil {
					return errors.Wrapf(err, "null trial %d failed", trial)
				}
				samples[trial] = s
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return detection.NullDistribution{}, errors.WithCode(errors.CodeCancelled, ctx.Err())
		}
		return detection.NullDistribution{}, err
	}

	e.logger.Info("%d %s trials over %d periods in %s (seed=%d, workers=%d)",
		n, in.Method, len(in.Detector.Periods()), time.Since(start).Round(time.Millisecond), seed, numWorkers)

	return detection.NullDistribution{
		Method:  in.Method,
		Seed:    seed,
		Periods: in.Detector.Periods(),
		Samples: samples,
	}, nil
}
