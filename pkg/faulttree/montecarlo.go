package faulttree

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/numeric"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/schema"
)

const (
	// maxShards fixes the work split so results do not depend on Workers.
	maxShards = 64
	// budgetCheckEvery is how many trials a shard runs between clock reads.
	budgetCheckEvery = 1024
	z95              = 1.96
)

// MCConfig controls the Monte Carlo estimator.
type MCConfig struct {
	Iterations int           `yaml:"iterations" json:"iterations"`
	Seed       int64         `yaml:"seed" json:"seed"`
	Workers    int           `yaml:"workers" json:"workers"`
	Budget     time.Duration `yaml:"budget" json:"budget,omitempty"`
}

// DefaultMCConfig returns 10k trials on every CPU.
func DefaultMCConfig() MCConfig {
	return MCConfig{Iterations: 10000, Seed: 42}
}

// MCResult is the simulated top-event estimate.
type MCResult struct {
	TopEvent   string     `json:"top_event"`
	Requested  int        `json:"requested"`
	Iterations int        `json:"iterations"`
	Hits       int        `json:"hits"`
	PTopMean   float64    `json:"p_top_mean"`
	CI95       [2]float64 `json:"ci_95"`
	StdErr     float64    `json:"stderr"`
	Seed       int64      `json:"seed"`
	Truncated  bool       `json:"truncated,omitempty"`
}

// MonteCarlo estimates the top-event probability from independent trials.
// Trials are split into fixed shards, each with its own random stream
// derived from Seed, so the estimate is reproducible for any worker count.
// Budget, when set, stops shards early and marks the result Truncated.
func MonteCarlo(ctx context.Context, tree schema.FaultTree, basic map[string]float64, cfg MCConfig) (MCResult, error) {
	result := MCResult{TopEvent: tree.TopEvent, Requested: cfg.Iterations, Seed: cfg.Seed}
	if cfg.Iterations <= 0 || tree.TopEvent == "" {
		return result, nil
	}

	compiled, err := Compile(tree, basic)
	if err != nil {
		return MCResult{}, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	shards := cfg.Iterations
	if shards > maxShards {
		shards = maxShards
	}

	var deadline time.Time
	if cfg.Budget > 0 {
		deadline = time.Now().Add(cfg.Budget)
	}

	hits := make([]int, shards)
	done := make([]int, shards)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for s := 0; s < shards; s++ {
		s := s
		trials := cfg.Iterations / shards
		if s < cfg.Iterations%shards {
			trials++
		}
		g.Go(func() error {
			rng := numeric.NewRand(numeric.DeriveSeed(cfg.Seed, "mc", s))
			state := make([]bool, compiled.Size())
			for i := 0; i < trials; i++ {
				if i%budgetCheckEvery == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
					if !deadline.IsZero() && i > 0 && time.Now().After(deadline) {
						break
					}
				}
				if compiled.Trial(rng, state) {
					hits[s]++
				}
				done[s]++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return MCResult{}, fmt.Errorf("monte carlo: %w", err)
	}

	for s := range hits {
		result.Hits += hits[s]
		result.Iterations += done[s]
	}
	result.Truncated = result.Iterations < cfg.Iterations
	if result.Iterations == 0 {
		return result, nil
	}

	n := float64(result.Iterations)
	p := float64(result.Hits) / n
	result.PTopMean = p
	result.StdErr = math.Sqrt(math.Max(p*(1-p), 1e-12) / n)
	result.CI95 = [2]float64{
		numeric.Clamp01(p - z95*result.StdErr),
		numeric.Clamp01(p + z95*result.StdErr),
	}
	return result, nil
}
