package mcmc

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"golang.org/x/sync/errgroup"
)

// how often a chain checks for cancellation, in iterations
const cancelCheckEvery = 256

// #region sampler
// Sampler runs component-wise random-walk Metropolis over a Target.
// Each Sample call is independent; a Sampler holds no state between calls.
type Sampler struct {
	config Config
}

// NewSampler creates a sampler with the given configuration.
func NewSampler(config Config) *Sampler {
	return &Sampler{config: config}
}

// Config returns the sampler's configuration.
func (s *Sampler) Config() Config {
	return s.config
}

// Sample runs every chain in parallel and returns the combined trace.
// It returns once all chains finish or one fails.
func (s *Sampler) Sample(ctx context.Context, target Target) (*Trace, error) {
	if err := s.config.Validate(); err != nil {
		return nil, err
	}
	dim := len(target.Names)
	if dim == 0 || target.LogDensity == nil || target.Init == nil {
		return nil, fmt.Errorf("mcmc: incomplete target")
	}
	if len(target.Scale) != dim {
		return nil, fmt.Errorf("mcmc: %d scales for %d parameters", len(target.Scale), dim)
	}

	trace := &Trace{
		Names:    target.Names,
		Warmup:   s.config.Warmup,
		Draws:    make([][][]float64, s.config.Chains),
		Accepted: make([][]int, s.config.Chains),
	}

	g, gctx := errgroup.WithContext(ctx)
	for c := 0; c < s.config.Chains; c++ {
		g.Go(func() error {
			draws, accepted, err := s.runChain(gctx, target, c)
			if err != nil {
				return fmt.Errorf("chain %d: %w", c, err)
			}
			trace.Draws[c] = draws
			trace.Accepted[c] = accepted
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return trace, nil
}

// #endregion sampler

// #region chain
func (s *Sampler) runChain(ctx context.Context, target Target, chain int) ([][]float64, []int, error) {
	cfg := s.config
	rng := rand.New(rand.NewPCG(cfg.Seed, uint64(chain)+1))
	dim := len(target.Names)

	x := target.Init(chain, rng)
	if len(x) != dim {
		return nil, nil, fmt.Errorf("init returned %d values for %d parameters", len(x), dim)
	}
	lp := target.LogDensity(x)
	if math.IsNaN(lp) || math.IsInf(lp, 0) {
		return nil, nil, &DivergenceError{Reason: "non-finite log density at the initial point"}
	}

	stepScale := cfg.StepScale
	if stepScale == 0 {
		stepScale = 1
	}
	logStep := make([]float64, dim)
	for i, sc := range target.Scale {
		logStep[i] = math.Log(sc * stepScale)
	}

	draws := make([][]float64, dim)
	for i := range draws {
		draws[i] = make([]float64, cfg.Draws)
	}
	accepted := make([]int, dim)

	total := cfg.Warmup + cfg.Draws
	for it := 0; it < total; it++ {
		if it%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		for i := 0; i < dim; i++ {
			old := x[i]
			x[i] = old + math.Exp(logStep[i])*rng.NormFloat64()
			next := target.LogDensity(x)

			ok := !math.IsNaN(next) && math.Log(rng.Float64()) < next-lp
			if ok {
				lp = next
			} else {
				x[i] = old
			}

			if it < cfg.Warmup {
				// Robbins-Monro step towards the target acceptance rate.
				rate := 1 / math.Sqrt(float64(it+1))
				if ok {
					logStep[i] += rate * (1 - cfg.TargetAccept)
				} else {
					logStep[i] -= rate * cfg.TargetAccept
				}
				continue
			}
			if ok {
				accepted[i]++
			}
			if math.IsNaN(x[i]) || math.IsInf(x[i], 0) {
				return nil, nil, &DivergenceError{Param: target.Names[i], Value: x[i], Reason: "non-finite draw"}
			}
			draws[i][it-cfg.Warmup] = x[i]
		}
	}
	return draws, accepted, nil
}

// #endregion chain
