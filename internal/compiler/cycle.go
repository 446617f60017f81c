package compiler

import (
	"fmt"
	"strings"

	"github.com/cordage-io/cordage/internal/model"
)

// CompositeCycle reports a containment loop between composite models. A
// composite that reaches itself through its children can never finish
// instantiating, so unlike most validation findings these always reject the
// catalog.
type CompositeCycle struct {
	// Path lists the models along the loop, first one repeated at the end.
	Path    []string `json:"path"`
	Message string   `json:"message"`
}

// AnalyzeComposites detects containment cycles between composite models.
//
// The graph has an edge from each composite to every composite among its
// children's models; concrete children terminate recursion and stay out of
// the graph. Strongly connected components larger than one model, and
// composites listing themselves, are cycles.
func AnalyzeComposites(cat *model.Catalog) []CompositeCycle {
	graph := make(map[string][]string)
	for _, name := range cat.ModelNames() {
		spec, _ := cat.Model(name)
		if !spec.Composite {
			continue
		}
		edges := []string{}
		for _, child := range spec.Children {
			if childSpec, ok := cat.Model(child.Model); ok && childSpec.Composite {
				edges = append(edges, child.Model)
			}
		}
		graph[name] = edges
	}

	var cycles []CompositeCycle
	for _, scc := range tarjanSCC(cat.ModelNames(), graph) {
		if len(scc) == 1 && !hasSelfLoop(scc[0], graph) {
			continue
		}
		path := cyclePath(scc, graph)
		cycles = append(cycles, CompositeCycle{
			Path:    path,
			Message: fmt.Sprintf("composite containment cycle: %s", strings.Join(path, " -> ")),
		})
	}
	return cycles
}

func hasSelfLoop(node string, graph map[string][]string) bool {
	for _, next := range graph[node] {
		if next == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components. Nodes are visited in the
// given order so the component list is stable for a given catalog.
func tarjanSCC(order []string, graph map[string][]string) [][]string {
	var (
		index   int
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var connect func(string)
	connect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				connect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, node := range order {
		if _, ok := graph[node]; !ok {
			continue
		}
		if _, visited := indices[node]; !visited {
			connect(node)
		}
	}
	return sccs
}

// cyclePath walks one loop through the component, starting at its first
// member and ending back on it.
func cyclePath(scc []string, graph map[string][]string) []string {
	if len(scc) == 1 {
		return []string{scc[0], scc[0]}
	}

	members := make(map[string]bool, len(scc))
	for _, node := range scc {
		members[node] = true
	}

	start := scc[0]
	path := []string{start}
	visited := map[string]bool{start: true}
	current := start
	for {
		next := ""
		for _, candidate := range graph[current] {
			if members[candidate] && (!visited[candidate] || candidate == start) {
				next = candidate
				break
			}
		}
		if next == "" {
			return path
		}
		path = append(path, next)
		if next == start {
			return path
		}
		visited[next] = true
		current = next
	}
}
