package cascade

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/numeric"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/schema"
)

// Propagation modes.
const (
	ModeSinglePass = "single_pass"
	ModeIterative  = "iterative"
)

// MaxProb caps every propagated probability.
const MaxProb = 0.99999

// Config controls propagation.
type Config struct {
	Mode          string        `yaml:"mode" json:"mode"`
	MaxIterations int           `yaml:"max_iterations" json:"max_iterations"`
	Damping       float64       `yaml:"damping" json:"damping"`
	Tolerance     float64       `yaml:"tolerance" json:"tolerance"`
	Budget        time.Duration `yaml:"budget" json:"budget,omitempty"`
}

// DefaultConfig returns the iterative defaults.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeIterative,
		MaxIterations: 8,
		Damping:       0.8,
		Tolerance:     1e-4,
	}
}

// Result is the cascade stage output. Iterative results are a best-effort
// approximation: Converged is false when MaxIterations or Budget ran out
// before the tolerance was met.
type Result struct {
	FinalProbs     map[string]float64 `json:"final_probs"`
	Mode           string             `json:"mode"`
	EdgesCount     int                `json:"edges_count"`
	IterationsUsed int                `json:"iterations_used"`
	Converged      bool               `json:"converged"`
	MaxDelta       float64            `json:"max_delta"`
	Truncated      bool               `json:"truncated,omitempty"`
	Warnings       []string           `json:"warnings,omitempty"`
	// Problems lists edges that strict callers treat as errors.
	Problems []string `json:"-"`
}

type influence struct {
	from   string
	weight float64
}

// Propagate applies weighted influence from each edge source onto its
// target. Every update reads the previous iterate only. Edges whose
// endpoints are not in probs contribute nothing and are reported in
// Problems.
func Propagate(ctx context.Context, probs map[string]float64, edges []schema.Edge, cfg Config) (Result, error) {
	cfg = normalizeConfig(cfg)
	base := make(map[string]float64, len(probs))
	for id, p := range probs {
		base[id] = numeric.Clamp01(p)
	}
	result := Result{Mode: cfg.Mode, EdgesCount: len(edges)}

	if len(edges) == 0 {
		result.FinalProbs = base
		result.Converged = true
		return result, nil
	}

	index := make(map[string][]influence)
	for _, edge := range edges {
		_, knownFrom := base[edge.From]
		_, knownTo := base[edge.To]
		if !knownFrom || !knownTo {
			msg := fmt.Sprintf("cascade edge %s -> %s references an unknown risk", edge.From, edge.To)
			result.Problems = append(result.Problems, msg)
			result.Warnings = append(result.Warnings, msg)
			continue
		}
		weight := edge.Weight
		if math.IsNaN(weight) || math.IsInf(weight, 0) || weight < 0 {
			msg := fmt.Sprintf("cascade edge %s -> %s has invalid weight; using 0", edge.From, edge.To)
			result.Problems = append(result.Problems, msg)
			result.Warnings = append(result.Warnings, msg)
			weight = 0
		}
		index[edge.To] = append(index[edge.To], influence{from: edge.From, weight: weight})
	}

	ids := make([]string, 0, len(base))
	for id := range base {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if cfg.Mode == ModeSinglePass {
		result.FinalProbs = step(ids, base, base, index, 1)
		result.IterationsUsed = 1
		result.MaxDelta = maxDelta(ids, base, result.FinalProbs)
		result.Converged = true
		return result, nil
	}

	start := time.Now()
	current := base
	for it := 0; it < cfg.MaxIterations; it++ {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("cascade iteration %d: %w", it, err)
		}
		if cfg.Budget > 0 && it > 0 && time.Since(start) > cfg.Budget {
			result.Truncated = true
			break
		}
		next := step(ids, base, current, index, cfg.Damping)
		result.MaxDelta = maxDelta(ids, current, next)
		result.IterationsUsed = it + 1
		current = next
		if result.MaxDelta < cfg.Tolerance {
			result.Converged = true
			break
		}
	}
	result.FinalProbs = current
	return result, nil
}

func step(ids []string, base, prev map[string]float64, index map[string][]influence, damping float64) map[string]float64 {
	next := make(map[string]float64, len(ids))
	for _, id := range ids {
		extra := 0.0
		for _, in := range index[id] {
			extra += prev[in.from] * in.weight
		}
		next[id] = numeric.Clamp(base[id]+damping*extra, 0, MaxProb)
	}
	return next
}

func maxDelta(ids []string, prev, next map[string]float64) float64 {
	delta := 0.0
	for _, id := range ids {
		if d := math.Abs(next[id] - prev[id]); d > delta {
			delta = d
		}
	}
	return delta
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case ModeIterative, ModeSinglePass:
	case "":
		mode = def.Mode
	default:
		mode = ModeSinglePass
	}
	cfg.Mode = mode
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	cfg.Damping = numeric.Clamp01(cfg.Damping)
	if !(cfg.Tolerance > 0) {
		cfg.Tolerance = def.Tolerance
	}
	return cfg
}
