// Package faulttree evaluates gate DAGs over basic-event probabilities,
// exactly and by Monte Carlo simulation.
package faulttree

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/numeric"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/schema"
)

// Analytic is the exact top-event evaluation.
type Analytic struct {
	TopEvent    string                  `json:"top_event"`
	PTop        float64                 `json:"p_top"`
	GateOutputs map[string]float64      `json:"gate_outputs"`
	Unresolved  []string                `json:"unresolved,omitempty"`
	Defaults    []schema.AppliedDefault `json:"defaults,omitempty"`
}

// Evaluate computes the top-event probability. A node id that is a basic
// event wins over a gate with the same id; ids that are neither evaluate to
// 0. Only gates reachable from the top event appear in GateOutputs. A cycle
// returns an error wrapping schema.ErrCycle.
func Evaluate(tree schema.FaultTree, basic map[string]float64) (Analytic, error) {
	out := Analytic{TopEvent: tree.TopEvent, GateOutputs: map[string]float64{}}
	if tree.TopEvent == "" || len(tree.Gates) == 0 {
		return out, nil
	}

	ev := &evaluator{
		tree:       tree,
		basic:      basic,
		cache:      make(map[string]float64),
		visiting:   make(map[string]bool),
		unresolved: make(map[string]struct{}),
		out:        &out,
	}
	pTop, err := ev.eval(tree.TopEvent, nil)
	if err != nil {
		return Analytic{}, err
	}
	out.PTop = numeric.Clamp01(pTop)
	for id := range ev.unresolved {
		out.Unresolved = append(out.Unresolved, id)
	}
	sort.Strings(out.Unresolved)
	return out, nil
}

type evaluator struct {
	tree       schema.FaultTree
	basic      map[string]float64
	cache      map[string]float64
	visiting   map[string]bool
	unresolved map[string]struct{}
	out        *Analytic
}

func (e *evaluator) eval(id string, path []string) (float64, error) {
	if p, ok := e.cache[id]; ok {
		return p, nil
	}
	if p, ok := e.basic[id]; ok {
		p = numeric.Clamp01(p)
		e.cache[id] = p
		return p, nil
	}

	resolved := schema.ResolveGate(e.tree, id)
	if !resolved.Found {
		if _, seen := e.unresolved[id]; !seen {
			e.unresolved[id] = struct{}{}
			applied, _ := resolved.Applied(schema.KindGate, id)
			e.out.Defaults = append(e.out.Defaults, applied)
		}
		e.cache[id] = 0
		return 0, nil
	}
	if e.visiting[id] {
		return 0, fmt.Errorf("%w: %s -> %s", schema.ErrCycle, strings.Join(path, " -> "), id)
	}
	e.visiting[id] = true
	path = append(path, id)

	gate := resolved.Value
	children := make([]float64, 0, len(gate.Inputs))
	for _, child := range gate.Inputs {
		p, err := e.eval(child, path)
		if err != nil {
			return 0, err
		}
		children = append(children, p)
	}
	delete(e.visiting, id)

	gateType := schema.ResolveGateType(gate)
	if applied, ok := gateType.Applied(schema.KindGateType, id); ok {
		e.out.Defaults = append(e.out.Defaults, applied)
	}

	var p float64
	switch {
	case len(children) == 0:
		p = 0
	case gateType.Value == schema.GateAND:
		p = And(children)
	case gateType.Value == schema.GateKOfN:
		k := schema.ResolveK(gate)
		if applied, ok := k.Applied(schema.KindGateK, id); ok {
			e.out.Defaults = append(e.out.Defaults, applied)
		}
		p = KOfN(children, k.Value)
	default:
		p = Or(children)
	}
	p = numeric.Clamp01(p)
	e.cache[id] = p
	e.out.GateOutputs[id] = p
	return p, nil
}

// Or is the union of independent events, 1 - prod(1 - p_i).
func Or(probs []float64) float64 {
	none := 1.0
	for _, p := range probs {
		none *= 1 - p
	}
	return numeric.Clamp01(1 - none)
}

// And is the intersection of independent events, prod(p_i).
func And(probs []float64) float64 {
	all := 1.0
	for _, p := range probs {
		all *= p
	}
	return numeric.Clamp01(all)
}

// KOfN is the exact probability that at least k of the independent events
// occur. k <= 0 gives 1 and k > n gives 0; no inputs gives 0.
func KOfN(probs []float64, k int) float64 {
	n := len(probs)
	switch {
	case n == 0:
		return 0
	case k <= 0:
		return 1
	case k > n:
		return 0
	}

	// dp[j] is the probability of exactly j occurrences so far.
	dp := make([]float64, n+1)
	dp[0] = 1
	for i, p := range probs {
		for j := i + 1; j >= 1; j-- {
			dp[j] = dp[j]*(1-p) + dp[j-1]*p
		}
		dp[0] *= 1 - p
	}

	total := 0.0
	for j := k; j <= n; j++ {
		total += dp[j]
	}
	return numeric.Clamp01(total)
}
