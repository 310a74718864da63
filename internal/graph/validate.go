package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/abhisek/curio/internal/store"
)

// Report lists structural issues found in a graph scope. Read-only; the
// validator never mutates.
type Report struct {
	// Orphans are nodes with zero edges. Only flagged when the scope holds
	// more than one node; a lone node is not an orphan.
	Orphans []string
	// Broken are edges with an endpoint outside the scope.
	Broken []store.Edge
	// Unreachable are nodes a breadth-first walk from the scope's roots
	// (zero-incoming-degree nodes with outgoing edges) never visits.
	Unreachable []string
	// HasCycle reports whether the in-scope edges form a cycle.
	HasCycle bool
}

// Clean reports whether no issues were found.
func (r *Report) Clean() bool {
	return len(r.Orphans) == 0 && len(r.Broken) == 0 && len(r.Unreachable) == 0 && !r.HasCycle
}

// Summary renders the report as a short human-readable string for tool
// payloads.
func (r *Report) Summary() string {
	if r.Clean() {
		return "graph valid: no issues"
	}
	return fmt.Sprintf("issues: %d orphan(s), %d broken edge(s), %d unreachable node(s), cycle=%v",
		len(r.Orphans), len(r.Broken), len(r.Unreachable), r.HasCycle)
}

// Validate inspects the subgraph induced by scopeIDs.
func Validate(ctx context.Context, repo store.GraphRepo, scopeIDs []string) (*Report, error) {
	rep := &Report{}
	if len(scopeIDs) == 0 {
		return rep, nil
	}

	inScope := make(map[string]bool, len(scopeIDs))
	for _, id := range scopeIDs {
		inScope[id] = true
	}

	// Edges with one endpoint in scope; those crossing the boundary are
	// broken from this scope's perspective.
	var scoped []store.Edge
	seen := make(map[[2]string]bool)
	for _, id := range scopeIDs {
		touching, err := repo.EdgesTouching(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("edges touching %s: %w", id, err)
		}
		for _, e := range touching {
			key := [2]string{e.SourceID, e.TargetID}
			if seen[key] {
				continue
			}
			seen[key] = true
			if inScope[e.SourceID] && inScope[e.TargetID] {
				scoped = append(scoped, e)
			} else {
				rep.Broken = append(rep.Broken, e)
			}
		}
	}

	degree := make(map[string]int, len(scopeIDs))
	inDeg := make(map[string]int, len(scopeIDs))
	outAdj := make(map[string][]string, len(scopeIDs))
	for _, e := range scoped {
		degree[e.SourceID]++
		degree[e.TargetID]++
		inDeg[e.TargetID]++
		outAdj[e.SourceID] = append(outAdj[e.SourceID], e.TargetID)
	}

	if len(scopeIDs) > 1 {
		for _, id := range scopeIDs {
			if degree[id] == 0 {
				rep.Orphans = append(rep.Orphans, id)
			}
		}
	}

	// BFS from roots: zero incoming degree AND at least one outgoing edge.
	// Isolated nodes are not roots, so they surface as unreachable.
	var queue []string
	visited := make(map[string]bool, len(scopeIDs))
	for _, id := range scopeIDs {
		if inDeg[id] == 0 && len(outAdj[id]) > 0 {
			queue = append(queue, id)
			visited[id] = true
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range outAdj[cur] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	for _, id := range scopeIDs {
		if !visited[id] {
			rep.Unreachable = append(rep.Unreachable, id)
		}
	}

	rep.HasCycle = hasCycle(scopeIDs, scoped)

	sort.Strings(rep.Orphans)
	sort.Strings(rep.Unreachable)
	return rep, nil
}

// hasCycle runs Kahn's algorithm over the in-scope edges.
func hasCycle(ids []string, edges []store.Edge) bool {
	inDeg := make(map[string]int, len(ids))
	adj := make(map[string][]string, len(ids))
	for _, id := range ids {
		inDeg[id] = 0
	}
	for _, e := range edges {
		adj[e.SourceID] = append(adj[e.SourceID], e.TargetID)
		inDeg[e.TargetID]++
	}

	var queue []string
	for _, id := range ids {
		if inDeg[id] == 0 {
			queue = append(queue, id)
		}
	}
	processed := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range adj[cur] {
			inDeg[next]--
			if inDeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return processed != len(ids)
}
