// Package tokencount provides token estimation for context-budget decisions:
// the coarse bytes/4 estimator the orchestrator uses by default (per the
// compactor's overflow trigger), and an optional precise tiktoken-backed
// counter selected by configuration.
package tokencount

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter handles accurate token counting per model.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

// Message represents a message for token counting.
type Message struct {
	Role    string
	Content string
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter creates a counter for a specific model, falling back to
// cl100k_base when the model has no known tiktoken encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Count returns the exact token count for text.
func (tc *TokenCounter) Count(text string) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountMessages counts tokens in a message list, including per-message
// role/turn overhead.
func (tc *TokenCounter) CountMessages(messages []Message) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	const tokensPerMessage = 3

	total := 0
	for _, msg := range messages {
		total += tokensPerMessage
		total += len(tc.encoding.Encode(msg.Role, nil, nil))
		total += len(tc.encoding.Encode(msg.Content, nil, nil))
	}
	total += 3 // reply priming
	return total
}

// FitWithinLimit returns the most recent messages that fit within maxTokens.
func (tc *TokenCounter) FitWithinLimit(messages []Message, maxTokens int) []Message {
	if len(messages) == 0 {
		return messages
	}

	fitted := []Message{}
	current := 3 // reply priming

	for i := len(messages) - 1; i >= 0; i-- {
		msgTokens := tc.CountMessages([]Message{messages[i]})
		if current+msgTokens > maxTokens {
			break
		}
		fitted = append([]Message{messages[i]}, fitted...)
		current += msgTokens
	}

	return fitted
}

// GetModel returns the model name this counter is configured for.
func (tc *TokenCounter) GetModel() string {
	return tc.model
}

// EstimateTokens is the coarse default estimator (bytes/4) used when no
// precise TokenCounter is configured.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// GetEncodingForModel maps a model name to its tiktoken encoding, prefix
// matched against known families and defaulting to cl100k_base.
func GetEncodingForModel(model string) string {
	encodingMap := map[string]string{
		"gpt-4":         "cl100k_base",
		"gpt-4-turbo":   "cl100k_base",
		"gpt-4o":        "o200k_base",
		"gpt-4o-mini":   "o200k_base",
		"gpt-3.5-turbo": "cl100k_base",
		"claude":        "cl100k_base",
		"claude-3":      "cl100k_base",
		"gemini":        "cl100k_base",
	}

	if encoding, ok := encodingMap[model]; ok {
		return encoding
	}
	for prefix, encoding := range encodingMap {
		if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			return encoding
		}
	}
	return "cl100k_base"
}
