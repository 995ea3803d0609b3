package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrCycle is returned when a gate graph is not acyclic.
var ErrCycle = errors.New("fault tree gate graph contains a cycle")

// TreeReport is the result of a fault-tree structural check.
type TreeReport struct {
	// Order lists every gate children-first.
	Order []string
	// Unresolved lists node ids that are neither gates nor basic events.
	Unresolved []string
	// TopResolved is false when the top event is missing or unknown.
	TopResolved bool
}

// ValidateFaultTree topologically sorts the gate graph and reports unknown
// node ids. A node that is both a basic event and a gate id is a basic
// event. It returns ErrCycle, wrapped with the offending path, when any gate
// reaches itself.
func ValidateFaultTree(tree FaultTree, basic map[string]struct{}) (TreeReport, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(tree.Gates))
	unresolved := make(map[string]struct{})
	report := TreeReport{Order: make([]string, 0, len(tree.Gates))}

	var stack []string
	var visit func(id string) error
	visit = func(id string) error {
		if _, ok := basic[id]; ok {
			return nil
		}
		gate, ok := tree.Gates[id]
		if !ok {
			unresolved[id] = struct{}{}
			return nil
		}
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: %s", ErrCycle, cyclePath(stack, id))
		}
		state[id] = visiting
		stack = append(stack, id)
		for _, child := range gate.Inputs {
			if err := visit(child); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		report.Order = append(report.Order, id)
		return nil
	}

	ids := make([]string, 0, len(tree.Gates))
	for id := range tree.Gates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := visit(id); err != nil {
			return TreeReport{}, err
		}
	}

	if tree.TopEvent != "" {
		_, isBasic := basic[tree.TopEvent]
		_, isGate := tree.Gates[tree.TopEvent]
		report.TopResolved = isBasic || isGate
		if !report.TopResolved {
			unresolved[tree.TopEvent] = struct{}{}
		}
	}

	for id := range unresolved {
		report.Unresolved = append(report.Unresolved, id)
	}
	sort.Strings(report.Unresolved)
	return report, nil
}

func cyclePath(stack []string, repeat string) string {
	start := 0
	for i, id := range stack {
		if id == repeat {
			start = i
			break
		}
	}
	path := append(append([]string(nil), stack[start:]...), repeat)
	return strings.Join(path, " -> ")
}
