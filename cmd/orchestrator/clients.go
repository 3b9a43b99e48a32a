package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sobrief/orchestrator/pkg/llm"
	"github.com/sobrief/orchestrator/pkg/retrieval"
)

// httpLLMClient is a thin OpenAI-chat-completions-shaped client satisfying
// llm.Client, grounded on the teacher's pkg/llms/openai.go: a raw net/http
// call (no SDK), Bearer auth, and an SSE line scanner for streaming.
// llm.Client's contract is narrower than the teacher's full Responses-API
// provider (no tool-call loop state machine, no reasoning blocks), so this
// targets the simpler /chat/completions shape every OpenAI-compatible
// endpoint (including local gateways) still serves.
type httpLLMClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func newHTTPLLMClient(baseURL, apiKey, model string) *httpLLMClient {
	return &httpLLMClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

var _ llm.Client = (*httpLLMClient)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	Tools       []chatTool    `json:"tools,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *httpLLMClient) buildRequest(req llm.Request) chatCompletionRequest {
	messages := make([]chatMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	tools := make([]chatTool, len(req.Tools))
	for i, t := range req.Tools {
		tools[i] = chatTool{Type: "function", Function: chatFunction{Name: t.Name, Description: t.Description, Parameters: t.Schema}}
	}
	return chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       tools,
	}
}

func (c *httpLLMClient) do(ctx context.Context, body chatCompletionRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: request failed: %w", err)
	}
	return resp, nil
}

// Complete implements llm.Client.
func (c *httpLLMClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	body := c.buildRequest(req)
	resp, err := c.do(ctx, body)
	if err != nil {
		return llm.Response{}, err
	}
	defer resp.Body.Close()

	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return llm.Response{}, fmt.Errorf("llm: decode response: %w", err)
	}
	if parsed.Error != nil {
		return llm.Response{}, fmt.Errorf("llm: provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return llm.Response{}, fmt.Errorf("llm: empty response")
	}

	choice := parsed.Choices[0]
	out := llm.Response{Text: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{Name: tc.Function.Name, Arguments: args})
	}
	return out, nil
}

// Stream implements llm.Client, scanning the provider's `data: {...}` SSE
// lines the way the teacher's openai.go streaming path does, simplified to
// the text-delta-only shape llm.StreamChunk needs.
func (c *httpLLMClient) Stream(ctx context.Context, req llm.Request) (<-chan llm.StreamChunk, error) {
	body := c.buildRequest(req)
	body.Stream = true
	resp, err := c.do(ctx, body)
	if err != nil {
		return nil, err
	}

	out := make(chan llm.StreamChunk, 16)
	go func() {
		defer resp.Body.Close()
		defer close(out)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				select {
				case out <- llm.StreamChunk{Done: true}:
				case <-ctx.Done():
				}
				return
			}
			var chunk chatCompletionChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			done := chunk.Choices[0].FinishReason != nil
			if delta == "" && !done {
				continue
			}
			select {
			case out <- llm.StreamChunk{TextDelta: delta, Done: done}:
			case <-ctx.Done():
				return
			}
			if done {
				return
			}
		}
	}()
	return out, nil
}

// httpRetriever calls an external retrieval service over a small JSON POST
// contract matching retrieval.Retriever's signature 1:1 (§1/§6: "the
// retrieval service is an external collaborator reached only through
// retrieve(case_id, query, k, filters)"), since no concrete retrieval
// backend ships in this module by design.
type httpRetriever struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func newHTTPRetriever(baseURL, apiKey string) *httpRetriever {
	return &httpRetriever{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

var _ retrieval.Retriever = (*httpRetriever)(nil)

type retrieveRequest struct {
	CaseID   string             `json:"case_id"`
	Query    string             `json:"query"`
	K        int                `json:"k"`
	Strategy retrieval.Strategy `json:"strategy"`
	Filters  retrieval.Filters  `json:"filters,omitempty"`
}

type retrieveResponse struct {
	Documents []retrieval.Document `json:"documents"`
	Error     string               `json:"error,omitempty"`
}

func (r *httpRetriever) Retrieve(ctx context.Context, caseID, query string, k int, strategy retrieval.Strategy, filters retrieval.Filters) ([]retrieval.Document, error) {
	payload, err := json.Marshal(retrieveRequest{CaseID: caseID, Query: query, K: k, Strategy: strategy, Filters: filters})
	if err != nil {
		return nil, fmt.Errorf("retrieval: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/retrieve", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("retrieval: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("retrieval: request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed retrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("retrieval: decode response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("retrieval: service error: %s", parsed.Error)
	}
	return parsed.Documents, nil
}
