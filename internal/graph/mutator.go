package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/abhisek/curio/internal/store"
)

// Emitter receives structural change notifications. *stream.Bridge
// satisfies it; a nil emitter is replaced by a no-op.
type Emitter interface {
	NodeCreated(nodeID, title string)
	EdgeCreated(sourceID, targetID string)
	NodeRemoved(nodeID string)
	EdgeRemoved(sourceID, targetID string)
}

type noopEmitter struct{}

func (noopEmitter) NodeCreated(string, string) {}
func (noopEmitter) EdgeCreated(string, string) {}
func (noopEmitter) NodeRemoved(string)         {}
func (noopEmitter) EdgeRemoved(string, string) {}

// MutatorConfig tunes optional mutation behavior.
type MutatorConfig struct {
	// PruneRedundantEdges removes a direct depends→unlocks edge once a new
	// subconcept routes the path through itself. Structural simplification
	// only; on by default.
	PruneRedundantEdges bool
}

// DefaultMutatorConfig returns the standard configuration.
func DefaultMutatorConfig() MutatorConfig {
	return MutatorConfig{PruneRedundantEdges: true}
}

// Mutator executes graph mutations for one agent run. It owns a Registry
// for title resolution and tail pointers for chained insertion. Not safe
// for concurrent use.
type Mutator struct {
	repo store.GraphRepo
	reg  *Registry
	emit Emitter
	cfg  MutatorConfig

	// Tail pointers so chained insertions at the same anchor extend the
	// chain instead of piling onto the anchor.
	beforeTail map[string]string
	afterTail  map[string]string
}

// NewMutator creates a mutator over the given repo. emit may be nil.
func NewMutator(repo store.GraphRepo, reg *Registry, emit Emitter, cfg MutatorConfig) *Mutator {
	if emit == nil {
		emit = noopEmitter{}
	}
	if reg == nil {
		reg = NewRegistry()
	}
	return &Mutator{
		repo:       repo,
		reg:        reg,
		emit:       emit,
		cfg:        cfg,
		beforeTail: make(map[string]string),
		afterTail:  make(map[string]string),
	}
}

// Registry exposes the run's working set.
func (m *Mutator) Registry() *Registry { return m.reg }

// Resolve finds a node by title in the working set.
func (m *Mutator) Resolve(title string) *store.Node {
	return m.reg.ByTitle(title)
}

// CreateNode persists a new node and registers it by title. When the title
// collides with an existing working-set entry the existing node is
// returned untouched (never overwrite).
func (m *Mutator) CreateNode(ctx context.Context, userID string, typ store.NodeType, parentID, title, desc string) (*store.Node, error) {
	if existing := m.reg.ByTitle(title); existing != nil {
		return existing, nil
	}
	n := &store.Node{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        typ,
		ParentID:    parentID,
		Title:       title,
		Description: desc,
	}
	if err := m.repo.CreateNode(ctx, n); err != nil {
		return nil, fmt.Errorf("create node %q: %w", title, err)
	}
	m.reg.Add(n)
	m.emit.NodeCreated(n.ID, n.Title)
	return n, nil
}

// CreateEdgeIfMissing inserts the edge unless it already exists or is a
// self-edge. Reports whether an insert happened; emits nothing on no-op
// (callers decide whether a created edge is announced).
func (m *Mutator) CreateEdgeIfMissing(ctx context.Context, sourceID, targetID string) (bool, error) {
	if sourceID == targetID || sourceID == "" || targetID == "" {
		return false, nil
	}
	exists, err := m.repo.EdgeExists(ctx, sourceID, targetID)
	if err != nil {
		return false, fmt.Errorf("check edge: %w", err)
	}
	if exists {
		return false, nil
	}
	if err := m.repo.CreateEdge(ctx, sourceID, targetID); err != nil {
		return false, fmt.Errorf("create edge: %w", err)
	}
	return true, nil
}

// linkAndEmit creates the edge if missing and announces it when created.
func (m *Mutator) linkAndEmit(ctx context.Context, sourceID, targetID string) error {
	created, err := m.CreateEdgeIfMissing(ctx, sourceID, targetID)
	if err != nil {
		return err
	}
	if created {
		m.emit.EdgeCreated(sourceID, targetID)
	}
	return nil
}

// RemoveNodeWithReconnect deletes a node, bridges every (incoming source,
// outgoing target) pair with a bypass edge, and removes all edges touching
// the node. With no incoming or no outgoing edges there is nothing to
// bridge and zero bypasses are created.
func (m *Mutator) RemoveNodeWithReconnect(ctx context.Context, nodeID string) error {
	edges, err := m.repo.EdgesTouching(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("edges touching %s: %w", nodeID, err)
	}

	var inSources, outTargets []string
	for _, e := range edges {
		if e.TargetID == nodeID {
			inSources = append(inSources, e.SourceID)
		}
		if e.SourceID == nodeID {
			outTargets = append(outTargets, e.TargetID)
		}
	}

	for _, e := range edges {
		if err := m.repo.DeleteEdge(ctx, e.SourceID, e.TargetID); err != nil {
			return fmt.Errorf("delete edge %s→%s: %w", e.SourceID, e.TargetID, err)
		}
		m.emit.EdgeRemoved(e.SourceID, e.TargetID)
	}

	for _, src := range inSources {
		for _, tgt := range outTargets {
			if err := m.linkAndEmit(ctx, src, tgt); err != nil {
				return err
			}
		}
	}

	if err := m.repo.DeleteNode(ctx, nodeID); err != nil {
		return fmt.Errorf("delete node %s: %w", nodeID, err)
	}
	m.reg.Remove(nodeID)
	m.emit.NodeRemoved(nodeID)
	return nil
}

// InsertConceptBefore inserts a new concept ahead of the anchor, rerouting
// the anchor's incoming edges through it. Repeated insertions at the same
// anchor chain: each new node lands between the previous insertion and the
// anchor.
func (m *Mutator) InsertConceptBefore(ctx context.Context, userID, anchorID, title, desc string) (*store.Node, error) {
	anchor := m.reg.ByID(anchorID)
	if anchor == nil {
		return nil, fmt.Errorf("insert before: unknown anchor %s", anchorID)
	}

	if tail, ok := m.beforeTail[anchorID]; ok {
		// Chain extension: splice between the previous insertion and the
		// anchor.
		n, err := m.spliceAfter(ctx, userID, anchor, tail, title, desc)
		if err != nil {
			return nil, err
		}
		m.beforeTail[anchorID] = n.ID
		return n, nil
	}

	n, err := m.CreateNode(ctx, userID, store.NodeConcept, anchor.ParentID, title, desc)
	if err != nil {
		return nil, err
	}
	incoming, err := m.repo.EdgesTouching(ctx, anchorID)
	if err != nil {
		return nil, fmt.Errorf("edges touching anchor: %w", err)
	}
	for _, e := range incoming {
		if e.TargetID != anchorID || e.SourceID == n.ID {
			continue
		}
		if err := m.repo.DeleteEdge(ctx, e.SourceID, e.TargetID); err != nil {
			return nil, fmt.Errorf("unroute edge: %w", err)
		}
		m.emit.EdgeRemoved(e.SourceID, e.TargetID)
		if err := m.linkAndEmit(ctx, e.SourceID, n.ID); err != nil {
			return nil, err
		}
	}
	if err := m.linkAndEmit(ctx, n.ID, anchorID); err != nil {
		return nil, err
	}
	m.beforeTail[anchorID] = n.ID
	return n, nil
}

// InsertConceptAfter inserts a new concept following the anchor, rerouting
// the anchor's outgoing edges through it. Repeated insertions extend the
// chain after the previous insertion.
func (m *Mutator) InsertConceptAfter(ctx context.Context, userID, anchorID, title, desc string) (*store.Node, error) {
	anchor := m.reg.ByID(anchorID)
	if anchor == nil {
		return nil, fmt.Errorf("insert after: unknown anchor %s", anchorID)
	}
	effective := anchorID
	if tail, ok := m.afterTail[anchorID]; ok {
		effective = tail
	}
	n, err := m.spliceAfter(ctx, userID, anchor, effective, title, desc)
	if err != nil {
		return nil, err
	}
	m.afterTail[anchorID] = n.ID
	return n, nil
}

// spliceAfter creates a concept and routes all outgoing edges of afterID
// through it: after→succ becomes after→new→succ.
func (m *Mutator) spliceAfter(ctx context.Context, userID string, anchor *store.Node, afterID, title, desc string) (*store.Node, error) {
	n, err := m.CreateNode(ctx, userID, store.NodeConcept, anchor.ParentID, title, desc)
	if err != nil {
		return nil, err
	}
	outgoing, err := m.repo.EdgesTouching(ctx, afterID)
	if err != nil {
		return nil, fmt.Errorf("edges touching %s: %w", afterID, err)
	}
	for _, e := range outgoing {
		if e.SourceID != afterID || e.TargetID == n.ID {
			continue
		}
		if err := m.repo.DeleteEdge(ctx, e.SourceID, e.TargetID); err != nil {
			return nil, fmt.Errorf("unroute edge: %w", err)
		}
		m.emit.EdgeRemoved(e.SourceID, e.TargetID)
		if err := m.linkAndEmit(ctx, n.ID, e.TargetID); err != nil {
			return nil, err
		}
	}
	if err := m.linkAndEmit(ctx, afterID, n.ID); err != nil {
		return nil, err
	}
	return n, nil
}

// InsertSubconceptWithDependencies creates a subconcept and wires resolved
// depends-on titles into it and it into resolved unlocks titles. When
// nothing resolves it falls back to depending on the currently-active
// subconcept so the node is never fully disconnected. With both sides
// present, direct depends→unlocks edges made redundant by the new node are
// pruned (configurable).
func (m *Mutator) InsertSubconceptWithDependencies(ctx context.Context, userID, parentID, title, desc string, dependsOn, unlocks []string, activeID string) (*store.Node, error) {
	if existing := m.reg.ByTitle(title); existing != nil {
		return existing, nil
	}

	deps := m.resolveAll(dependsOn)
	unl := m.resolveAll(unlocks)

	n, err := m.CreateNode(ctx, userID, store.NodeSubconcept, parentID, title, desc)
	if err != nil {
		return nil, err
	}

	for _, d := range deps {
		if err := m.linkAndEmit(ctx, d, n.ID); err != nil {
			return nil, err
		}
	}
	for _, u := range unl {
		if err := m.linkAndEmit(ctx, n.ID, u); err != nil {
			return nil, err
		}
	}

	if len(deps) == 0 && len(unl) == 0 && activeID != "" && activeID != n.ID {
		if err := m.linkAndEmit(ctx, activeID, n.ID); err != nil {
			return nil, err
		}
	}

	if m.cfg.PruneRedundantEdges && len(deps) > 0 && len(unl) > 0 {
		for _, d := range deps {
			for _, u := range unl {
				exists, err := m.repo.EdgeExists(ctx, d, u)
				if err != nil {
					return nil, fmt.Errorf("check redundant edge: %w", err)
				}
				if !exists {
					continue
				}
				if err := m.repo.DeleteEdge(ctx, d, u); err != nil {
					return nil, fmt.Errorf("prune edge: %w", err)
				}
				m.emit.EdgeRemoved(d, u)
			}
		}
	}
	return n, nil
}

// resolveAll maps titles to node IDs: dedupe first-wins, unresolved titles
// dropped.
func (m *Mutator) resolveAll(titles []string) []string {
	seen := make(map[string]bool, len(titles))
	var out []string
	for _, t := range titles {
		key := NormalizeTitle(t)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if n := m.reg.ByTitle(t); n != nil {
			out = append(out, n.ID)
		}
	}
	return out
}
