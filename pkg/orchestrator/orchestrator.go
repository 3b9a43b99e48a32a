// Package orchestrator drives the top-level analysis graph: UNDERSTAND ->
// PLAN -> SCHEDULE (ROUTE -> RUN_AGENT -> CHECKPOINT?) -> EVALUATE ->
// DELIVER. It is the one place that wires together the router, scheduler,
// fault policy, checkpoint manager, compactor, and evaluator into a single
// streamed run. Grounded on the teacher's pkg/runner/runner.go: the same
// iter.Seq2[*Event, error] streaming shape and deferred-cleanup-sequence
// idiom, generalized from a single-agent chat turn to a multi-node
// analysis graph.
package orchestrator

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/sobrief/orchestrator/pkg/agentkind"
	"github.com/sobrief/orchestrator/pkg/checkpoint"
	"github.com/sobrief/orchestrator/pkg/compactor"
	"github.com/sobrief/orchestrator/pkg/event"
	"github.com/sobrief/orchestrator/pkg/evaluation"
	"github.com/sobrief/orchestrator/pkg/faultpolicy"
	"github.com/sobrief/orchestrator/pkg/llm"
	"github.com/sobrief/orchestrator/pkg/logger"
	"github.com/sobrief/orchestrator/pkg/middleware"
	"github.com/sobrief/orchestrator/pkg/presence"
	"github.com/sobrief/orchestrator/pkg/router"
	"github.com/sobrief/orchestrator/pkg/scheduler"
	"github.com/sobrief/orchestrator/pkg/state"
	"github.com/sobrief/orchestrator/pkg/tabular"
)

// Checkpointer is the subset of *checkpoint.Manager the orchestrator calls
// directly (per-agent checkpointing is already handled by
// middleware.CheckpointTrigger inside Runner), narrowed so tests can fake
// it without a store.
type Checkpointer interface {
	Save(ctx context.Context, s *state.AnalysisState, t checkpoint.Type) error
	Load(ctx context.Context, caseID string) (*state.AnalysisState, bool, error)
}

var _ Checkpointer = (*checkpoint.Manager)(nil)

// ContextCompactor is the subset of *compactor.Compactor the schedule loop
// needs, narrowed so tests can fake it without an LLM client.
type ContextCompactor interface {
	ShouldCompact(s *state.AnalysisState) (bool, error)
	Compact(ctx context.Context, s *state.AnalysisState) error
}

var _ ContextCompactor = (*compactor.Compactor)(nil)

// Config wires every collaborator the orchestrator drives. Runner is the
// innermost agent invocation (typically middleware.Chain(...)(rt.Execute)
// from pkg/agentruntime); Router and Scheduler are required. A nil
// Checkpoints, Compactor, or Replanner turns off checkpointing (and
// Resume), compaction, or replanning respectively; Tabular/Presence/
// Comments/LLM/Log are optional.
type Config struct {
	Runner     middleware.Runner
	Registry   *agentkind.Registry
	Router     *router.Router
	Scheduler  *scheduler.Scheduler
	Checkpoints Checkpointer
	Compactor  ContextCompactor
	Replanner  *evaluation.Replanner

	// Tabular backs the standalone cell-grid review entry point
	// (RunTabularReview/ResumeTabularReview); nil disables it.
	Tabular *tabular.Engine
	// Presence and Comments back the collaborative-review surface; neither
	// is consulted by the graph itself (see DESIGN.md).
	Presence presence.Tracker
	Comments *presence.CommentStore

	// LLM, when non-nil, drives heuristic-miss planning in UNDERSTAND.
	LLM llm.Client

	Log *slog.Logger

	// DefaultExpectedItems is EVALUATE's completeness denominator when a
	// case's document count is unknown to the caller (see Request.DocumentCount).
	DefaultExpectedItems int
}

// Request starts one analysis run.
type Request struct {
	CaseID        string
	UserID        string
	RunID         string
	Task          string
	AnalysisTypes []string
	// DocumentCount informs UNDERSTAND's complexity heuristic and EVALUATE's
	// completeness denominator; it is supplied by the caller because
	// document ingestion is an external collaborator (§1) this package
	// never queries directly.
	DocumentCount int
}

// Orchestrator runs the analysis graph end to end for one case at a time
// (concurrent cases are expected to use independent Orchestrator values
// sharing the same Config collaborators, matching the scheduler/router's
// own statelessness).
type Orchestrator struct {
	cfg Config
	log *slog.Logger
}

// New builds an Orchestrator. maxParallel/threshold defaults live on the
// Scheduler/Replanner values themselves; Config's own zero values are
// filled in sensibly here (nil Log -> logger.GetLogger(), zero
// DefaultExpectedItems -> 5).
func New(cfg Config) *Orchestrator {
	if cfg.Log == nil {
		cfg.Log = logger.GetLogger()
	}
	if cfg.DefaultExpectedItems <= 0 {
		cfg.DefaultExpectedItems = 5
	}
	return &Orchestrator{cfg: cfg, log: cfg.Log}
}

// Run starts one analysis. It returns the (initially empty) AnalysisState
// that the run mutates in place, and an iter.Seq2 the caller ranges over to
// drive the run and receive its event stream; the sequence's final Event
// is always event.Done-terminated by the caller (per §6, Orchestrator
// itself emits the event.TypeComplete event but not the literal
// "[DONE]\n" line — that is a transport-layer concern).
func (o *Orchestrator) Run(ctx context.Context, req Request) (*state.AnalysisState, iter.Seq2[*event.Event, error]) {
	s := state.New(req.CaseID, req.UserID, req.RunID, req.AnalysisTypes)
	s.Metadata.CheckpointInfo.OperationStartTime = time.Now()

	return s, func(yield func(*event.Event, error) bool) {
		emit := func(e *event.Event) bool {
			if e.Timestamp.IsZero() {
				e.Timestamp = time.Now()
			}
			return yield(e, nil)
		}
		fail := func(err error) {
			yield(nil, err)
		}

		if !emit(&event.Event{Type: event.TypePhase, Phase: "understand"}) {
			return
		}
		o.understand(ctx, s, req)

		if !emit(&event.Event{Type: event.TypePhase, Phase: "plan"}) {
			return
		}
		o.plan(s)
		if o.cfg.Checkpoints != nil {
			if err := o.cfg.Checkpoints.Save(ctx, s, checkpoint.TypeManual); err != nil {
				o.log.Warn("plan checkpoint failed", "case_id", s.CaseID, "error", err)
			}
		}

		for {
			if !emit(&event.Event{Type: event.TypePhase, Phase: "schedule"}) {
				return
			}
			if err := o.scheduleLoop(ctx, s, emit); err != nil {
				if !emit(&event.Event{Type: event.TypeError, Kind: "fatal", Message: err.Error()}) {
					return
				}
				fail(err)
				return
			}
			if ctx.Err() != nil {
				fail(ctx.Err())
				return
			}

			if !emit(&event.Event{Type: event.TypePhase, Phase: "evaluate"}) {
				return
			}
			replanned, err := o.evaluate(ctx, s, req)
			if err != nil {
				o.log.Warn("evaluation failed, proceeding to deliver", "case_id", s.CaseID, "error", err)
				replanned = false
			}
			if !replanned {
				break
			}
		}

		if !emit(&event.Event{Type: event.TypePhase, Phase: "deliver"}) {
			return
		}
		refs := o.deliver(s)
		s.MarkTerminal()

		emit(&event.Event{Type: event.TypeComplete, RunID: s.RunID, ResultRefs: refs})
	}
}

// Resume reloads the last checkpoint for caseID and continues the run from
// there: if pending feedback was cleared by the caller (e.g. a tabular HITL
// resume already applied upstream), SCHEDULE/EVALUATE/DELIVER simply pick
// up where the router finds work left to do.
func (o *Orchestrator) Resume(ctx context.Context, caseID string) (*state.AnalysisState, iter.Seq2[*event.Event, error], error) {
	if o.cfg.Checkpoints == nil {
		return nil, nil, fmt.Errorf("orchestrator: checkpointing is not configured")
	}
	s, found, err := o.cfg.Checkpoints.Load(ctx, caseID)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: load checkpoint: %w", err)
	}
	if !found {
		return nil, nil, fmt.Errorf("orchestrator: no checkpoint found for case %s", caseID)
	}
	if s.Terminal {
		return s, func(yield func(*event.Event, error) bool) {
			yield(&event.Event{Type: event.TypeComplete, RunID: s.RunID}, nil)
		}, nil
	}

	return s, func(yield func(*event.Event, error) bool) {
		emit := func(e *event.Event) bool {
			if e.Timestamp.IsZero() {
				e.Timestamp = time.Now()
			}
			return yield(e, nil)
		}

		for {
			if !emit(&event.Event{Type: event.TypePhase, Phase: "schedule"}) {
				return
			}
			if err := o.scheduleLoop(ctx, s, emit); err != nil {
				yield(nil, err)
				return
			}

			if !emit(&event.Event{Type: event.TypePhase, Phase: "evaluate"}) {
				return
			}
			replanned, err := o.evaluate(ctx, s, Request{CaseID: s.CaseID, DocumentCount: 0})
			if err != nil {
				replanned = false
			}
			if !replanned {
				break
			}
		}

		if !emit(&event.Event{Type: event.TypePhase, Phase: "deliver"}) {
			return
		}
		refs := o.deliver(s)
		s.MarkTerminal()
		emit(&event.Event{Type: event.TypeComplete, RunID: s.RunID, ResultRefs: refs})
	}, nil
}

// agentRunner adapts the middleware-wrapped agentruntime.Runtime.Execute
// (signature middleware.Runner: ctx, agentkind.Kind, *state.AnalysisState)
// into scheduler.AgentRunner (ctx, string), which the scheduler's fan-out
// needs since it is declared in a package that must not import agentkind
// (see scheduler.go's own doc comment on AgentRunner). Closing over s here
// is safe: RunFanout only ever calls this for the single state instance
// passed alongside it.
func (o *Orchestrator) agentRunner(s *state.AnalysisState) scheduler.AgentRunner {
	return func(ctx context.Context, kind string) (*state.ResultSlot, error) {
		return o.cfg.Runner(ctx, agentkind.Kind(kind), s)
	}
}

// RunTabularReview and ResumeTabularReview pass through to the tabular
// engine's own Review/Resume contract (§4.9). The cell-grid review is a
// parallel entry point driven directly by its own column/file inputs, not
// a node inferred generically from AnalysisState — see DESIGN.md for why
// this boundary is deliberate rather than an omission.
func (o *Orchestrator) RunTabularReview(ctx context.Context, review tabular.Review) (*tabular.RunResult, error) {
	if o.cfg.Tabular == nil {
		return nil, fmt.Errorf("orchestrator: tabular engine is not configured")
	}
	return o.cfg.Tabular.Run(ctx, review)
}

func (o *Orchestrator) ResumeTabularReview(ctx context.Context, reviewID string, cells []tabular.CellExtraction, responses map[string]tabular.ReviewResult) ([]tabular.CellExtraction, error) {
	if o.cfg.Tabular == nil {
		return nil, fmt.Errorf("orchestrator: tabular engine is not configured")
	}
	return o.cfg.Tabular.Resume(ctx, reviewID, cells, responses)
}

// classifyFailure attaches a faultpolicy hint from the error's origin.
// agentruntime's post-validation step (step 7) tags its own errors with
// *faultpolicy.KindError, which faultpolicy.Classify honors directly; for
// everything else (a tool or LLM call failure) the pipeline does not label its own errors with a
// Kind, so a missing result at this boundary is treated as llm_error — the
// most common real-world cause of a nil slot with a non-nil error here.
func classifyFailure(err error) faultpolicy.Kind {
	return faultpolicy.Classify(err, faultpolicy.KindLLMError)
}
