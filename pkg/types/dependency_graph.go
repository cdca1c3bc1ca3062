package types

// Helpers for validating dependencies between pipelines

import (
	"fmt"
	"sort"
	"strings"
)

// DependencyNodeKey normalizes a pipeline name for use as a graph node.
// Pipeline names are case-insensitive.
func DependencyNodeKey(name string) string {
	return strings.ToLower(name)
}

// DependencyCycle is one cycle found in a dependency graph. Path starts and
// ends with the same node.
type DependencyCycle struct {
	Path []string
}

// Error renders the cycle as "a -> b -> a".
func (c DependencyCycle) Error() string {
	return fmt.Sprintf("Circular dependency detected: %s", strings.Join(c.Path, " -> "))
}

// Contains reports whether node takes part in the cycle.
func (c DependencyCycle) Contains(node string) bool {
	for _, n := range c.Path {
		if n == node {
			return true
		}
	}
	return false
}

// DetectDependencyCycles runs cycle detection on an adjacency list mapping
// each node to the nodes it depends on. Nodes are visited in sorted order so
// the reported cycles are stable. Edges to unknown nodes are ignored.
func DetectDependencyCycles(adj map[string][]string) []DependencyCycle {
	const (
		colorWhite = 0 // unvisited
		colorGray  = 1 // visiting
		colorBlack = 2 // visited
	)
	color := make(map[string]int)
	stack := make([]string, 0, len(adj))
	var cycles []DependencyCycle

	var dfs func(u string)
	dfs = func(u string) {
		color[u] = colorGray
		stack = append(stack, u)
		for _, v := range adj[u] {
			if _, known := adj[v]; !known {
				continue
			}
			switch color[v] {
			case colorGray:
				start := 0
				for i := range stack {
					if stack[i] == v {
						start = i
						break
					}
				}
				path := append(append([]string(nil), stack[start:]...), v)
				cycles = append(cycles, DependencyCycle{Path: path})
			case colorWhite:
				dfs(v)
			}
		}
		color[u] = colorBlack
		stack = stack[:len(stack)-1]
	}

	nodes := make([]string, 0, len(adj))
	for u := range adj {
		nodes = append(nodes, u)
	}
	sort.Strings(nodes)
	for _, u := range nodes {
		if color[u] == colorWhite {
			dfs(u)
		}
	}
	return cycles
}
