package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sobrief/orchestrator/pkg/agentkind"
	"github.com/sobrief/orchestrator/pkg/agentruntime"
	"github.com/sobrief/orchestrator/pkg/cache"
	"github.com/sobrief/orchestrator/pkg/checkpoint"
	"github.com/sobrief/orchestrator/pkg/compactor"
	"github.com/sobrief/orchestrator/pkg/config"
	"github.com/sobrief/orchestrator/pkg/event"
	"github.com/sobrief/orchestrator/pkg/evaluation"
	"github.com/sobrief/orchestrator/pkg/logger"
	"github.com/sobrief/orchestrator/pkg/middleware"
	"github.com/sobrief/orchestrator/pkg/orchestrator"
	"github.com/sobrief/orchestrator/pkg/presence"
	"github.com/sobrief/orchestrator/pkg/retrieval"
	"github.com/sobrief/orchestrator/pkg/router"
	"github.com/sobrief/orchestrator/pkg/scheduler"
	"github.com/sobrief/orchestrator/pkg/store"
	"github.com/sobrief/orchestrator/pkg/tabular"
	"github.com/sobrief/orchestrator/pkg/telemetry"
	"github.com/sobrief/orchestrator/pkg/tokencount"
)

// connectionFlags are the outbound collaborator settings common to both
// RunCmd and ResumeCmd: the persistent store dialect/DSN and the two
// external services (§1) reached only through the llm.Client/
// retrieval.Retriever contracts. None of this lives in config.Config (§6)
// because it is connection/credential material, not tunable behavior.
type connectionFlags struct {
	StoreDialect string `help:"Persistent store dialect (sqlite3 or postgres)." default:"sqlite3" enum:"sqlite3,postgres"`
	StoreDSN     string `help:"Persistent store DSN." default:"orchestrator.db"`

	LLMBaseURL string `help:"OpenAI-compatible chat completions base URL." default:"https://api.openai.com/v1"`
	LLMAPIKey  string `help:"LLM API key (falls back to $LLM_API_KEY)."`
	LLMModel   string `help:"Model name passed to the LLM service." default:"gpt-4o-mini"`

	RetrievalBaseURL string `help:"Retrieval service base URL." default:"http://localhost:8081"`
	RetrievalAPIKey  string `help:"Retrieval service API key (falls back to $RETRIEVAL_API_KEY)."`

	MetricsEnabled bool `help:"Expose Prometheus metrics during the run."`
	TracingEnabled bool `help:"Emit OpenTelemetry traces during the run."`
}

// RunCmd starts a brand-new analysis for a case.
type RunCmd struct {
	connectionFlags

	CaseID        string   `required:"" help:"Case identifier."`
	UserID        string   `help:"Requesting user identifier." default:"cli"`
	RunID         string   `help:"Run identifier; generated if omitted."`
	Task          string   `required:"" help:"Natural-language description of the analysis to perform."`
	AnalysisTypes []string `help:"Requested analysis kinds (comma-separated); inferred from Task if omitted." sep:","`
	DocumentCount int      `help:"Number of documents in the case, for complexity/completeness heuristics."`
}

// ResumeCmd continues an analysis from its last checkpoint.
type ResumeCmd struct {
	connectionFlags

	CaseID string `required:"" help:"Case identifier to resume."`
}

func (c *RunCmd) Run(cli *CLI) error {
	env, err := buildEnvironment(cli.Config, c.connectionFlags, c.DocumentCount)
	if err != nil {
		return err
	}
	defer env.Close()

	runID := c.RunID
	if runID == "" {
		runID = c.CaseID + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}

	req := orchestrator.Request{
		CaseID:        c.CaseID,
		UserID:        c.UserID,
		RunID:         runID,
		Task:          c.Task,
		AnalysisTypes: c.AnalysisTypes,
		DocumentCount: c.DocumentCount,
	}

	_, seq := env.Orchestrator.Run(context.Background(), req)
	return streamEvents(seq)
}

func (c *ResumeCmd) Run(cli *CLI) error {
	env, err := buildEnvironment(cli.Config, c.connectionFlags, 0)
	if err != nil {
		return err
	}
	defer env.Close()

	_, seq, err := env.Orchestrator.Resume(context.Background(), c.CaseID)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return streamEvents(seq)
}

// streamEvents drains the orchestrator's event stream to stdout as
// newline-delimited JSON, one object per line, returning the first error
// the stream yields (if any) after the stream closes.
func streamEvents(seq func(func(*event.Event, error) bool)) error {
	enc := json.NewEncoder(os.Stdout)
	var streamErr error
	seq(func(evt *event.Event, err error) bool {
		if err != nil {
			streamErr = err
			return false
		}
		_ = enc.Encode(evt)
		return true
	})
	return streamErr
}

// environment holds every collaborator the orchestrator composition root
// wires together for one CLI invocation, plus their teardown order.
type environment struct {
	Orchestrator *orchestrator.Orchestrator
	backend      store.Backend
	async        *store.AsyncStore
	telemetry    *telemetry.Manager
	presence     *presence.MemoryTracker
}

func (e *environment) Close() {
	if e.presence != nil {
		_ = e.presence.Close()
	}
	if e.telemetry != nil {
		_ = e.telemetry.Shutdown(context.Background())
	}
	if e.backend != nil {
		_ = e.backend.Close()
	}
}

// buildEnvironment wires every collaborator config.Config, the agent kind
// registry, and the two external-service adapters into one Orchestrator,
// following the store -> async-store -> checkpoint-manager chain
// checkpoint.Manager's Store contract requires, and the teacher's
// middleware-chain-then-runtime composition order.
func buildEnvironment(configPath string, conn connectionFlags, documentCount int) (*environment, error) {
	cfg := config.Defaults()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = *loaded
	}

	log := logger.GetLogger()
	env := &environment{}

	backend, err := store.Open(conn.StoreDialect, conn.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	env.backend = backend

	asyncStore := store.NewAsyncStore(backend, cfg.AgentMaxParallel, store.DefaultQueueDepth)
	env.async = asyncStore

	llmAPIKey := conn.LLMAPIKey
	if llmAPIKey == "" {
		llmAPIKey = os.Getenv("LLM_API_KEY")
	}
	llmClient := newHTTPLLMClient(conn.LLMBaseURL, llmAPIKey, conn.LLMModel)

	retrievalAPIKey := conn.RetrievalAPIKey
	if retrievalAPIKey == "" {
		retrievalAPIKey = os.Getenv("RETRIEVAL_API_KEY")
	}
	rawRetriever := newHTTPRetriever(conn.RetrievalBaseURL, retrievalAPIKey)
	cachedRetriever := retrieval.NewCachedRetriever(rawRetriever, cache.New(
		time.Duration(cfg.ResultCacheTTLSeconds)*time.Second,
		cfg.ResultCacheMaxEntries,
	))

	registry, err := agentkind.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("build agent kind registry: %w", err)
	}

	tokenCounter, err := tokencount.NewTokenCounter(conn.LLMModel)
	if err != nil {
		return nil, fmt.Errorf("build token counter: %w", err)
	}

	resultCache := cache.New(
		time.Duration(cfg.ResultCacheTTLSeconds)*time.Second,
		cfg.ResultCacheMaxEntries,
	)

	compactorCfg := &compactor.Config{
		TokenThreshold: cfg.ContextCompactionTokenThreshold,
	}
	ctxCompactor := compactor.New(compactorCfg, backend, llmClient)

	checkpointCfg := &checkpoint.Config{
		Enabled:                       true,
		IntervalSeconds:               cfg.CheckpointIntervalSeconds,
		LongOperationThresholdSeconds: cfg.LongOperationThresholdSeconds,
		AutoResume:                    true,
	}
	checkpointMgr := checkpoint.NewManager(checkpointCfg, asyncStore)

	monitor := middleware.NewMonitor("orchestrator")
	redactor := middleware.NewRedactor()
	tierSelector := middleware.NewModelTierSelector(registry, tokenCounter)

	rt := agentruntime.New(agentruntime.Config{
		Registry:   registry,
		Cache:      resultCache,
		Retriever:  cachedRetriever,
		LLM:        llmClient,
		Store:      backend,
		Compactor:  ctxCompactor,
		RetrievalK: 8,
	})
	for _, spec := range agentruntime.AllSpecs() {
		rt.Register(spec)
	}

	chain := middleware.Chain(
		middleware.PIIRedaction(redactor),
		middleware.ModelTierSelection(tierSelector, documentCount),
		middleware.Monitoring(monitor),
		middleware.CheckpointTrigger(checkpointMgr),
		middleware.Logging(log),
	)
	runner := chain(rt.Execute)

	tm, err := telemetry.New(context.Background(), telemetry.Config{
		ServiceName:    "orchestrator",
		TracingEnabled: conn.TracingEnabled,
		MetricsEnabled: conn.MetricsEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	env.telemetry = tm

	presenceTracker := presence.NewMemoryTracker(presence.DefaultTTL)
	env.presence = presenceTracker
	commentStore := presence.NewCommentStore()

	tabularEngine, err := tabular.NewEngine(cachedRetriever, llmClient, backend, cfg.HITLDefaultConfidenceThreshold, true)
	if err != nil {
		return nil, fmt.Errorf("build tabular engine: %w", err)
	}

	env.Orchestrator = orchestrator.New(orchestrator.Config{
		Runner:      runner,
		Registry:    registry,
		Router:      router.New(registry, llmClient),
		Scheduler:   scheduler.New(cfg.AgentMaxParallel),
		Checkpoints: checkpointMgr,
		Compactor:   ctxCompactor,
		Replanner:   evaluation.NewReplanner(evaluation.DefaultThreshold, evaluation.DefaultMaxReplans),
		Tabular:     tabularEngine,
		Presence:    presenceTracker,
		Comments:    commentStore,
		LLM:         llmClient,
		Log:         log,
	})

	return env, nil
}
