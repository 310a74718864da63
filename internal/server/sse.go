package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/abhisek/curio/internal/agents"
	"github.com/abhisek/curio/internal/store"
	"github.com/abhisek/curio/internal/stream"
)

const (
	sseFlushInterval = 250 * time.Millisecond
	sseCloseGrace    = 500 * time.Millisecond
)

// sseWriter serializes events onto an SSE response. The bridge calls it
// from a single goroutine, so no locking is needed here.
func sseWriter(w http.ResponseWriter, flusher http.Flusher) func([]stream.Event) {
	return func(events []stream.Event) {
		for _, e := range events {
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		flusher.Flush()
	}
}

// streamRun runs an agent behind an SSE response. The run is detached from
// the request context so a client disconnect never aborts persistence
// mid-run; the response closes once the bridge has flushed everything the
// run emitted.
func (s *Server) streamRun(w http.ResponseWriter, r *http.Request, run func(ctx context.Context, bridge *stream.Bridge, done func())) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	bridge := stream.NewBridge(sseWriter(w, flusher), sseFlushInterval)
	idle := make(chan struct{})
	run(context.WithoutCancel(r.Context()), bridge, func() { close(idle) })

	<-idle
	bridge.Close()
}

// handlePlan streams a full topic planning run: the topic agent followed by
// concurrent subconcept bootstraps.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	root, ok := s.loadNode(w, r, store.NodeRoot)
	if !ok {
		return
	}
	var in struct {
		UserID         string `json:"user_id"`
		SourceMaterial string `json:"source_material"`
		SmallMode      bool   `json:"small_mode"`
	}
	if r.ContentLength > 0 && !readJSON(w, r, &in) {
		return
	}

	s.streamRun(w, r, func(ctx context.Context, bridge *stream.Bridge, done func()) {
		tracker := stream.NewTracker(sseCloseGrace, done)
		orch := agents.NewOrchestrator(s.deps(bridge), tracker, in.SmallMode)
		go func() {
			_, _ = orch.PlanTopic(ctx, userOrDefault(in.UserID), root, in.SourceMaterial)
		}()
	})
}

// handleBootstrap streams a single subconcept bootstrap run for one concept,
// outside the full planning fan-out.
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	concept, ok := s.loadNode(w, r, store.NodeConcept)
	if !ok {
		return
	}
	var in struct {
		UserID    string `json:"user_id"`
		SmallMode bool   `json:"small_mode"`
	}
	if r.ContentLength > 0 && !readJSON(w, r, &in) {
		return
	}

	s.streamRun(w, r, func(ctx context.Context, bridge *stream.Bridge, done func()) {
		bootstrapper := agents.NewSubconceptAgent(s.deps(bridge), agents.BootstrapConfig{SmallMode: in.SmallMode})
		go func() {
			defer done()
			_, _ = bootstrapper.Run(ctx, userOrDefault(in.UserID), concept)
		}()
	})
}

// handleRefine streams a concept refinement run over the student's graded
// diagnostic answers.
func (s *Server) handleRefine(w http.ResponseWriter, r *http.Request) {
	concept, ok := s.loadNode(w, r, store.NodeConcept)
	if !ok {
		return
	}
	var in struct {
		UserID string `json:"user_id"`
	}
	if r.ContentLength > 0 && !readJSON(w, r, &in) {
		return
	}

	s.streamRun(w, r, func(ctx context.Context, bridge *stream.Bridge, done func()) {
		refiner := agents.NewRefineAgent(s.deps(bridge))
		go func() {
			defer done()
			_, _ = refiner.Run(ctx, userOrDefault(in.UserID), concept)
		}()
	})
}
