package manifest

import (
	"fmt"
	"sort"
)

// CycleError names every story ID, and the discovered cycle, found while
// validating the dependency DAG. Cycles are a fatal configuration error
// (spec §4.5, §7): the scheduler aborts startup before writing any state.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", formatCycle(e.Cycle))
}

func (e *CycleError) ErrorCode() string { return "CYCLE_DETECTED" }

func (e *CycleError) Context() map[string]string {
	return map[string]string{"cycle": formatCycle(e.Cycle)}
}

func (e *CycleError) SuggestedAction() string {
	return "break the cycle by removing or reordering one of the listed depends_on edges"
}

func formatCycle(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += " -> "
		}
		out += id
	}
	return out
}

// color marks a node's state during depth-first cycle detection.
type color int

const (
	white color = iota
	gray
	black
)

// ValidateDAG performs a topological validation of the manifest's
// dependency graph. It returns the first cycle found, naming every story ID
// on it, or nil if the graph is acyclic.
func ValidateDAG(m *Manifest) error {
	adj := make(map[string][]string, len(m.Stories))
	ids := make([]string, 0, len(m.Stories))
	for _, s := range m.Stories {
		adj[s.ID] = s.DependsOn
		ids = append(ids, s.ID)
	}
	sort.Strings(ids) // deterministic traversal order -> deterministic reported cycle

	colors := make(map[string]color, len(ids))
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		colors[id] = gray
		stack = append(stack, id)

		deps := append([]string(nil), adj[id]...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch colors[dep] {
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			case gray:
				cycleStart := 0
				for i, s := range stack {
					if s == dep {
						cycleStart = i
						break
					}
				}
				cycle := append(append([]string(nil), stack[cycleStart:]...), dep)
				return &CycleError{Cycle: cycle}
			case black:
				// already fully explored, no cycle through here
			}
		}

		stack = stack[:len(stack)-1]
		colors[id] = black
		return nil
	}

	for _, id := range ids {
		if colors[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}
