// Package scheduler implements parallel fan-out (C5): executing a set of
// independent agents concurrently under a global concurrency cap and
// merging their results into state deterministically. Grounded on
// workflow/executor.go's ExecutionContext/CombineResults pattern, rebuilt
// on golang.org/x/sync/errgroup and semaphore.Weighted for the
// AGENT_MAX_PARALLEL cap instead of the teacher's hand-rolled goroutine
// fan-out.
package scheduler

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/sobrief/orchestrator/pkg/state"
)

// DefaultMaxParallel is AGENT_MAX_PARALLEL's default (§5, §6).
const DefaultMaxParallel = 4

// AgentRunner executes one agent kind and returns its result slot or an
// error. Fatal errors (a *FatalError) cancel sibling workers; any other
// error is recorded and the remaining workers continue (best-effort
// parallelism, §4.3).
type AgentRunner func(ctx context.Context, kind string) (*state.ResultSlot, error)

// FatalError marks an error as fatal, the only case that cancels siblings.
type FatalError struct{ Err error }

func (f *FatalError) Error() string { return f.Err.Error() }
func (f *FatalError) Unwrap() error { return f.Err }

// Outcome is one worker's result, kept alongside its kind for deterministic
// merge ordering.
type Outcome struct {
	Kind  string
	Slot  *state.ResultSlot
	Err   error
}

// Scheduler runs fan-outs under a shared concurrency cap.
type Scheduler struct {
	sem *semaphore.Weighted
}

// New creates a scheduler capped at maxParallel concurrent agent workers.
func New(maxParallel int) *Scheduler {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	return &Scheduler{sem: semaphore.NewWeighted(int64(maxParallel))}
}

// RunFanout runs run(kind) for every kind in kinds concurrently (bounded by
// the scheduler's cap), merges the resulting slots into s in deterministic
// order (sorted by kind name, §4.3's ordering guarantee — each worker owns
// a disjoint slot, so the merge is race-free by construction), and returns
// the per-kind outcomes plus the first fatal error encountered, if any.
// Non-fatal per-agent errors are returned in the outcome list for the
// caller (the error classifier, C10) to act on, and do not stop sibling
// workers (best-effort parallelism, §4.3).
func (sch *Scheduler) RunFanout(ctx context.Context, s *state.AnalysisState, kinds []string, run AgentRunner) ([]Outcome, error) {
	fanoutCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make([]Outcome, len(kinds))
	var wg sync.WaitGroup
	var fatalOnce sync.Once
	var fatalErr error

	for i, kind := range kinds {
		if err := sch.sem.Acquire(fanoutCtx, 1); err != nil {
			outcomes[i] = Outcome{Kind: kind, Err: err}
			continue
		}

		wg.Add(1)
		go func(i int, kind string) {
			defer wg.Done()
			defer sch.sem.Release(1)

			slot, err := run(fanoutCtx, kind)
			outcomes[i] = Outcome{Kind: kind, Slot: slot, Err: err}

			if fe, ok := err.(*FatalError); ok {
				fatalOnce.Do(func() {
					fatalErr = fe
					cancel()
				})
			}
		}(i, kind)
	}

	wg.Wait()

	// Deterministic merge: sort by kind name before writing into state.
	sorted := append([]Outcome(nil), outcomes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Kind < sorted[j].Kind })
	for _, o := range sorted {
		if o.Slot != nil {
			s.SetResult(o.Kind, o.Slot)
		}
	}

	return outcomes, fatalErr
}
