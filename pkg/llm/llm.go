// Package llm declares the LLM service contract the core consumes (§6):
// synchronous and streaming completions with optional tool binding.
// Providers are an explicit external collaborator (§1) — this package has
// no concrete implementation, only the interface agent runtimes, the
// router's LLM fallback, and the compactor call through.
package llm

import "context"

// Message is one chat turn sent to the model.
type Message struct {
	Role    string
	Content string
}

// Tool is a callable the model may invoke, described by a JSON schema
// (generated via invopop/jsonschema by callers — see pkg/schema usage
// sites in agentruntime and tabular).
type Tool struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Request is one completion call.
type Request struct {
	Messages    []Message
	Tools       []Tool
	Temperature float64
	MaxTokens   int
	ModelTier   string // "lite" | "pro", resolved by middleware before the call
	Stream      bool
}

// StreamChunk is one partial token delivered during a streaming call.
type StreamChunk struct {
	TextDelta string
	Done      bool
	ToolCall  *ToolCall
}

// ToolCall is a model-issued invocation of one of the bound Tools.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// Response is the synchronous completion result.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// Client is the outbound LLM contract. The core assumes exactly-once-return
// semantics per call (§6); Stream must support cancellation via ctx.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, error)
}
