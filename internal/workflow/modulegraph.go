package workflow

import "fmt"

// color marks a node's DFS visitation state for cycle detection.
type color int

const (
	white color = iota // unvisited
	gray               // on the current DFS stack
	black              // fully explored
)

// ValidateModuleGraph checks the two ModuleSpec invariants: no file is
// owned by more than one module, and the dependency graph is acyclic. It
// uses iterative (explicit-stack) three-color DFS so a pathologically
// deep dependency chain can't blow the Go call stack.
func ValidateModuleGraph(modules []ModuleSpec) error {
	owners := make(map[string]string, len(modules)*4)
	byID := make(map[string]ModuleSpec, len(modules))
	for _, m := range modules {
		byID[m.ID] = m
		for _, f := range m.OwnedFiles {
			if prev, ok := owners[f]; ok {
				return fmt.Errorf("file %q owned by both module %q and %q", f, prev, m.ID)
			}
			owners[f] = m.ID
		}
	}

	colors := make(map[string]color, len(modules))
	for _, m := range modules {
		if colors[m.ID] != white {
			continue
		}
		if cyclePath, found := dfsDetectCycle(m.ID, byID, colors); found {
			return fmt.Errorf("module dependency cycle: %v", cyclePath)
		}
	}
	return nil
}

type frame struct {
	id      string
	depIdx  int
	path    []string
}

// dfsDetectCycle walks the dependency graph from start using an explicit
// stack. Returns the cycle as a ref_id path if one is found.
func dfsDetectCycle(start string, byID map[string]ModuleSpec, colors map[string]color) ([]string, bool) {
	stack := []*frame{{id: start, path: []string{start}}}
	colors[start] = gray

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		deps := byID[top.id].Deps

		if top.depIdx >= len(deps) {
			colors[top.id] = black
			stack = stack[:len(stack)-1]
			continue
		}

		next := deps[top.depIdx]
		top.depIdx++

		switch colors[next] {
		case white:
			colors[next] = gray
			path := append(append([]string{}, top.path...), next)
			stack = append(stack, &frame{id: next, path: path})
		case gray:
			return append(top.path, next), true
		case black:
			// already fully explored via a different path; safe.
		}
	}
	return nil, false
}
