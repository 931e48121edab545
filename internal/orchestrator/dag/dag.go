// Package dag validates the dependency graph of an orchestration batch.
package dag

import (
	"fmt"
	"strings"
)

// Node is one member of a batch: a client-chosen identifier plus the
// identifiers it depends on.
type Node struct {
	ID        string
	DependsOn []string
}

// CycleError reports the first discovered back edge with the path that
// reached it.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// Validate checks the batch for the admission rules: no duplicate
// identifiers, every dependency resolves to a member, and the graph is
// acyclic. The whole batch is rejected on the first violation.
func Validate(nodes []Node) error {
	members := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			return fmt.Errorf("task identifier must not be empty")
		}
		if _, dup := members[n.ID]; dup {
			return fmt.Errorf("duplicate task identifier '%s'", n.ID)
		}
		members[n.ID] = n.DependsOn
	}

	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if _, ok := members[dep]; !ok {
				return fmt.Errorf("task '%s' depends on unknown identifier '%s'", n.ID, dep)
			}
		}
	}

	// Cycle detection with gray/black marking. White nodes are absent
	// from the color map; gray nodes are on the current DFS stack.
	const (
		gray = iota + 1
		black
	)
	color := make(map[string]int, len(nodes))
	var stack []string

	var visit func(id string) *CycleError
	visit = func(id string) *CycleError {
		color[id] = gray
		stack = append(stack, id)
		for _, dep := range members[id] {
			switch color[dep] {
			case gray:
				// Back edge: report the path from the first occurrence
				// of dep on the stack through to the repeat.
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				path := append(append([]string{}, stack[start:]...), dep)
				return &CycleError{Path: path}
			case black:
				continue
			default:
				if cerr := visit(dep); cerr != nil {
					return cerr
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, n := range nodes {
		if color[n.ID] == 0 {
			if cerr := visit(n.ID); cerr != nil {
				return cerr
			}
		}
	}
	return nil
}

// Roots returns the identifiers with no dependencies, in input order.
func Roots(nodes []Node) []string {
	var roots []string
	for _, n := range nodes {
		if len(n.DependsOn) == 0 {
			roots = append(roots, n.ID)
		}
	}
	return roots
}
