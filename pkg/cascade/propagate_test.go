package cascade

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/schema"
)

func TestSinglePass(t *testing.T) {
	probs := map[string]float64{"A": 0.1, "B": 0.2}
	edges := []schema.Edge{{From: "A", To: "B", Weight: 0.25}}

	result, err := Propagate(context.Background(), probs, edges, Config{Mode: ModeSinglePass})
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if math.Abs(result.FinalProbs["B"]-0.225) > 1e-12 {
		t.Fatalf("B = %f, want 0.225", result.FinalProbs["B"])
	}
	if result.FinalProbs["A"] != 0.1 {
		t.Fatalf("A = %f, want 0.1", result.FinalProbs["A"])
	}
	if result.IterationsUsed != 1 || result.EdgesCount != 1 {
		t.Fatalf("unexpected diagnostics: %+v", result)
	}
}

func TestIterativeZeroDampingIsIdentity(t *testing.T) {
	probs := map[string]float64{"A": 0.1, "B": 0.2}
	edges := []schema.Edge{{From: "A", To: "B", Weight: 0.9}, {From: "B", To: "A", Weight: 0.9}}

	result, err := Propagate(context.Background(), probs, edges, Config{Mode: ModeIterative, Damping: 0, MaxIterations: 10})
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	for id, want := range probs {
		if result.FinalProbs[id] != want {
			t.Fatalf("%s = %f, want %f", id, result.FinalProbs[id], want)
		}
	}
	if result.IterationsUsed != 1 || !result.Converged {
		t.Fatalf("expected convergence after one iteration: %+v", result)
	}
}

func TestIterativeConvergesOnCycle(t *testing.T) {
	probs := map[string]float64{"A": 0.1, "B": 0.2}
	edges := []schema.Edge{{From: "A", To: "B", Weight: 0.5}, {From: "B", To: "A", Weight: 0.5}}
	cfg := Config{Mode: ModeIterative, Damping: 0.5, MaxIterations: 100, Tolerance: 1e-12}

	result, err := Propagate(context.Background(), probs, edges, cfg)
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if !result.Converged {
		t.Fatalf("expected convergence: %+v", result)
	}
	// Fixed point of a = 0.1 + 0.25b, b = 0.2 + 0.25a.
	wantA := (0.1 + 0.25*0.2) / (1 - 0.0625)
	wantB := 0.2 + 0.25*wantA
	if math.Abs(result.FinalProbs["A"]-wantA) > 1e-9 || math.Abs(result.FinalProbs["B"]-wantB) > 1e-9 {
		t.Fatalf("fixed point = %+v, want A=%f B=%f", result.FinalProbs, wantA, wantB)
	}
}

func TestIterativeTruncatesAtMaxIterations(t *testing.T) {
	probs := map[string]float64{"A": 0.3, "B": 0.3}
	edges := []schema.Edge{{From: "A", To: "B", Weight: 2}, {From: "B", To: "A", Weight: 2}}

	result, err := Propagate(context.Background(), probs, edges, Config{Mode: ModeIterative, Damping: 0.1, MaxIterations: 2, Tolerance: 1e-15})
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if result.Converged || result.IterationsUsed != 2 {
		t.Fatalf("expected truncation at 2 iterations: %+v", result)
	}
}

func TestNoEdges(t *testing.T) {
	probs := map[string]float64{"A": 0.4}
	result, err := Propagate(context.Background(), probs, nil, DefaultConfig())
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if result.FinalProbs["A"] != 0.4 || result.IterationsUsed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestUnknownEndpointsReported(t *testing.T) {
	probs := map[string]float64{"A": 0.4}
	edges := []schema.Edge{{From: "GHOST", To: "A", Weight: 1}}
	result, err := Propagate(context.Background(), probs, edges, Config{Mode: ModeSinglePass})
	if err != nil {
		t.Fatalf("propagate: %v", err)
	}
	if len(result.Problems) != 1 || result.FinalProbs["A"] != 0.4 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestNonFiniteOrNegativeWeightsReported(t *testing.T) {
	cases := []struct {
		name   string
		weight float64
	}{
		{"positive infinity", math.Inf(1)},
		{"negative infinity", math.Inf(-1)},
		{"nan", math.NaN()},
		{"negative", -0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			probs := map[string]float64{"A": 0, "B": 0.5}
			edges := []schema.Edge{{From: "A", To: "B", Weight: tc.weight}}
			for _, mode := range []string{ModeSinglePass, ModeIterative} {
				result, err := Propagate(context.Background(), probs, edges, Config{Mode: mode, Damping: 0.8})
				if err != nil {
					t.Fatalf("%s: propagate: %v", mode, err)
				}
				if len(result.Problems) != 1 {
					t.Fatalf("%s: expected one problem, got %v", mode, result.Problems)
				}
				if got := result.FinalProbs["B"]; got != 0.5 {
					t.Fatalf("%s: target fell away from its own probability: %v", mode, got)
				}
			}
		})
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	edges := []schema.Edge{{From: "A", To: "B", Weight: 0.1}}
	_, err := Propagate(ctx, map[string]float64{"A": 0.1, "B": 0.1}, edges, DefaultConfig())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBoundsProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("final probabilities stay in [0, 0.99999]", prop.ForAll(
		func(pa, pb, w, damping float64) bool {
			probs := map[string]float64{"A": pa, "B": pb}
			edges := []schema.Edge{{From: "A", To: "B", Weight: w}, {From: "B", To: "A", Weight: w}}
			result, err := Propagate(context.Background(), probs, edges, Config{Mode: ModeIterative, Damping: damping, MaxIterations: 20})
			if err != nil {
				return false
			}
			for _, p := range result.FinalProbs {
				if p < 0 || p > MaxProb {
					return false
				}
			}
			return true
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 5),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
