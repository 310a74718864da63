// Package graph implements the learning-graph mutation protocol: node and
// edge operations agents invoke as tools, plus on-demand structural
// validation. Operations write to the store directly; idempotency comes
// from explicit existence checks, with the store's (source,target)
// uniqueness constraint as backstop.
package graph

import (
	"strings"

	"github.com/abhisek/curio/internal/store"
)

// NormalizeTitle is the canonical form used for title resolution:
// case-insensitive and whitespace-trimmed.
func NormalizeTitle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Registry is the per-run working set of nodes an agent can reference by
// title. Nodes are keyed by ID with a normalized-title secondary index;
// on title collision the first occurrence wins and later ones are dropped.
// Not safe for concurrent use: each agent run owns its registry.
type Registry struct {
	byID    map[string]*store.Node
	byTitle map[string]string // normalized title → node ID
	order   []string          // IDs in insertion order
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:    make(map[string]*store.Node),
		byTitle: make(map[string]string),
	}
}

// Seed loads existing sibling nodes into the registry, typically at run
// start so tools can resolve pre-existing titles.
func (r *Registry) Seed(nodes []store.Node) {
	for i := range nodes {
		r.Add(&nodes[i])
	}
}

// Add registers a node. Returns false when the normalized title is already
// taken by a different node (first occurrence wins).
func (r *Registry) Add(n *store.Node) bool {
	key := NormalizeTitle(n.Title)
	if existing, ok := r.byTitle[key]; ok && existing != n.ID {
		return false
	}
	if _, seen := r.byID[n.ID]; !seen {
		r.order = append(r.order, n.ID)
	}
	r.byID[n.ID] = n
	r.byTitle[key] = n.ID
	return true
}

// Remove drops a node from both indexes.
func (r *Registry) Remove(id string) {
	n, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	key := NormalizeTitle(n.Title)
	if r.byTitle[key] == id {
		delete(r.byTitle, key)
	}
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// ByID returns the node with the given ID, or nil.
func (r *Registry) ByID(id string) *store.Node {
	return r.byID[id]
}

// ByTitle resolves a title (case-insensitive, trimmed), or nil.
func (r *Registry) ByTitle(title string) *store.Node {
	id, ok := r.byTitle[NormalizeTitle(title)]
	if !ok {
		return nil
	}
	return r.byID[id]
}

// HasTitle reports whether the normalized title is taken.
func (r *Registry) HasTitle(title string) bool {
	_, ok := r.byTitle[NormalizeTitle(title)]
	return ok
}

// Nodes returns all registered nodes in insertion order.
func (r *Registry) Nodes() []store.Node {
	out := make([]store.Node, 0, len(r.order))
	for _, id := range r.order {
		if n, ok := r.byID[id]; ok {
			out = append(out, *n)
		}
	}
	return out
}

// IDs returns all registered node IDs in insertion order.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.order))
	out = append(out, r.order...)
	return out
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int { return len(r.byID) }

// DedupeTitles filters candidate titles: duplicates (case-insensitively)
// keep only the first occurrence, and titles colliding with an existing
// registry entry are dropped entirely.
func (r *Registry) DedupeTitles(titles []string) []string {
	seen := make(map[string]bool, len(titles))
	var out []string
	for _, t := range titles {
		key := NormalizeTitle(t)
		if key == "" || seen[key] || r.HasTitle(t) {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}
