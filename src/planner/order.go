package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tplbuild/tplbuild/src/graph"
)

// topoOrder returns entry indices in reverse-topological dependency
// order (a dependency's index always precedes its dependents), with
// ties among simultaneously-ready entries broken by a deterministic key
// derived from each entry's node content hash, so the same graph always
// produces the same plan.
func topoOrder(entries []PlanEntry, hasher *graph.Hasher) []int {
	n := len(entries)
	indegree := make([]int, n)
	dependents := make([][]int, n)
	for i, e := range entries {
		indegree[i] = len(e.DependsOn)
		for _, dep := range e.DependsOn {
			dependents[dep] = append(dependents[dep], i)
		}
	}

	keys := make([]string, n)
	for i := range entries {
		keys[i] = tieKey(hasher, entries[i])
	}

	var ready []int
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]int, 0, n)
	for len(ready) > 0 {
		sort.Slice(ready, func(a, b int) bool { return keys[ready[a]] < keys[ready[b]] })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	return order
}

func tieKey(hasher *graph.Hasher, e PlanEntry) string {
	n := unwrapNode(e.Node)
	if hasher != nil {
		if h, err := hasher.Hash(n); err == nil {
			return h
		}
	}
	if len(e.Tags) > 0 {
		return strings.Join(e.Tags, ",")
	}
	return fmt.Sprintf("%p", e.Node)
}
