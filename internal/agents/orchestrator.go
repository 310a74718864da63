package agents

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/abhisek/curio/internal/store"
)

// bootstrapConcurrency bounds simultaneous bootstrap runs; the external
// providers rate-limit aggressively.
const bootstrapConcurrency = 3

// RunTracker is the slice of the stream completion tracker the
// orchestrator needs. *stream.Tracker satisfies it.
type RunTracker interface {
	Register()
	Resolve()
}

type nopTracker struct{}

func (nopTracker) Register() {}
func (nopTracker) Resolve()  {}

// PlanResult is the outcome of a full topic plan: the concept chain plus
// one bootstrap result per concept.
type PlanResult struct {
	Topic      *TopicResult
	Bootstraps []BootstrapResult
}

// Orchestrator runs the full planning pipeline: the topic agent, then one
// subconcept bootstrap per concept, fanned out with bounded concurrency.
type Orchestrator struct {
	deps    Deps
	tracker RunTracker
	small   bool
}

// NewOrchestrator creates an orchestrator. tracker may be nil.
func NewOrchestrator(deps Deps, tracker RunTracker, smallMode bool) *Orchestrator {
	if tracker == nil {
		tracker = nopTracker{}
	}
	return &Orchestrator{deps: deps, tracker: tracker, small: smallMode}
}

// PlanTopic plans concepts for the root and bootstraps each one. Each
// concurrent bootstrap operates on its own concept's disjoint subtree, so
// runs never contend on the same sibling set. Bootstrap results land in
// concept order regardless of completion order.
func (o *Orchestrator) PlanTopic(ctx context.Context, userID string, root *store.Node, sourceMaterial string) (*PlanResult, error) {
	o.tracker.Register()
	defer o.tracker.Resolve()

	topic, err := NewTopicAgent(o.deps, TopicConfig{SmallMode: o.small}).Run(ctx, userID, root, sourceMaterial)
	if err != nil {
		return nil, err
	}

	results := make([]BootstrapResult, len(topic.Concepts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bootstrapConcurrency)
	for i := range topic.Concepts {
		g.Go(func() error {
			o.tracker.Register()
			defer o.tracker.Resolve()
			concept := topic.Concepts[i]
			cfg := BootstrapConfig{SmallMode: o.small, Excerpt: topic.Excerpts[concept.ID]}
			res, err := NewSubconceptAgent(o.deps, cfg).Run(gctx, userID, &concept)
			if err != nil {
				return fmt.Errorf("bootstrap %q: %w", concept.Title, err)
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &PlanResult{Topic: topic, Bootstraps: results}, nil
}
