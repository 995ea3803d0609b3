package faulttree

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/numeric"
	"github.com/ogulcanaydogan/praxis-pra-toolkit/pkg/schema"
)

type nodeKind uint8

const (
	kindUnknown nodeKind = iota
	kindBasic
	kindGate
)

type node struct {
	kind     nodeKind
	prob     float64
	gateType schema.GateType
	k        int
	children []int
}

// Compiled is a fault tree flattened to the nodes reachable from its top
// event, ordered children-first, for repeated Boolean evaluation.
type Compiled struct {
	nodes []node
	top   int
}

// Compile resolves every node reachable from the top event. It returns an
// error wrapping schema.ErrCycle when the reachable gate graph is cyclic.
// A tree without a top event or without gates compiles to an empty program
// whose top event never occurs.
func Compile(tree schema.FaultTree, basic map[string]float64) (*Compiled, error) {
	c := &Compiled{top: -1}
	if tree.TopEvent == "" || len(tree.Gates) == 0 {
		return c, nil
	}

	index := make(map[string]int)
	visiting := make(map[string]bool)
	var path []string

	var visit func(id string) (int, error)
	visit = func(id string) (int, error) {
		if i, ok := index[id]; ok {
			return i, nil
		}
		if p, ok := basic[id]; ok {
			c.nodes = append(c.nodes, node{kind: kindBasic, prob: numeric.Clamp01(p)})
			index[id] = len(c.nodes) - 1
			return index[id], nil
		}
		resolved := schema.ResolveGate(tree, id)
		if !resolved.Found {
			c.nodes = append(c.nodes, node{kind: kindUnknown})
			index[id] = len(c.nodes) - 1
			return index[id], nil
		}
		if visiting[id] {
			return 0, fmt.Errorf("%w: %s -> %s", schema.ErrCycle, strings.Join(path, " -> "), id)
		}
		visiting[id] = true
		path = append(path, id)

		gate := resolved.Value
		children := make([]int, 0, len(gate.Inputs))
		for _, child := range gate.Inputs {
			ci, err := visit(child)
			if err != nil {
				return 0, err
			}
			children = append(children, ci)
		}
		path = path[:len(path)-1]
		delete(visiting, id)

		c.nodes = append(c.nodes, node{
			kind:     kindGate,
			gateType: schema.ResolveGateType(gate).Value,
			k:        schema.ResolveK(gate).Value,
			children: children,
		})
		index[id] = len(c.nodes) - 1
		return index[id], nil
	}

	top, err := visit(tree.TopEvent)
	if err != nil {
		return nil, err
	}
	c.top = top
	return c, nil
}

// Trial samples one Bernoulli outcome per basic event and evaluates the
// tree as Boolean logic. state is scratch space of at least Size() entries
// and is overwritten on every call.
func (c *Compiled) Trial(rng *rand.Rand, state []bool) bool {
	if c.top < 0 {
		return false
	}
	for i := range c.nodes {
		n := &c.nodes[i]
		switch n.kind {
		case kindBasic:
			state[i] = rng.Float64() < n.prob
		case kindGate:
			state[i] = evalGate(n, state)
		default:
			state[i] = false
		}
	}
	return state[c.top]
}

// Size is the number of compiled nodes.
func (c *Compiled) Size() int {
	return len(c.nodes)
}

func evalGate(n *node, state []bool) bool {
	if len(n.children) == 0 {
		return false
	}
	switch n.gateType {
	case schema.GateAND:
		for _, ci := range n.children {
			if !state[ci] {
				return false
			}
		}
		return true
	case schema.GateKOfN:
		hits := 0
		for _, ci := range n.children {
			if state[ci] {
				hits++
			}
		}
		return hits >= n.k
	default:
		for _, ci := range n.children {
			if state[ci] {
				return true
			}
		}
		return false
	}
}
