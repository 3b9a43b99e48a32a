// Package faultpolicy implements the error classifier & fallback (C10): it
// classifies a failure into the spec's taxonomy and decides whether the
// scheduler should retry, fall back to a degraded mode, skip, or fail the
// step outright.
package faultpolicy

import (
	"context"
	"errors"
	"math"
	"time"
)

// Kind is the error taxonomy from spec §7.
type Kind string

const (
	KindTimeout        Kind = "timeout"
	KindToolError      Kind = "tool_error"
	KindLLMError       Kind = "llm_error"
	KindDependencyError Kind = "dependency_error"
	KindValidationError Kind = "validation_error"
	KindNetworkError   Kind = "network_error"
	KindCancelled      Kind = "cancelled"
	KindUnknown        Kind = "unknown"
	KindFatal          Kind = "fatal"
)

// Strategy is the action the scheduler should take for a classified error.
type Strategy string

const (
	StrategyRetry        Strategy = "retry"
	StrategyFallbackNoTools Strategy = "fallback_no_tools"
	StrategySkip         Strategy = "skip"
	StrategyFail         Strategy = "fail"
	StrategyRetryThenFallback Strategy = "retry_then_fallback"
)

// Decision is the classifier's output: what kind the error was, and what
// the scheduler should do about it.
type Decision struct {
	Kind     Kind
	Strategy Strategy
	Delay    time.Duration
}

// DefaultMaxRetries is the max retry count for retryable kinds (§4.8).
const DefaultMaxRetries = 3

// DefaultBaseDelay is the exponential backoff base.
const DefaultBaseDelay = 500 * time.Millisecond

// KindError lets the error's origin (e.g. an agent runtime) tag it with its
// own taxonomy Kind, so Classify can report it precisely instead of falling
// back to the caller's generic hint.
type KindError struct {
	Kind Kind
	Err  error
}

func (e *KindError) Error() string { return e.Err.Error() }
func (e *KindError) Unwrap() error { return e.Err }

// Classify maps an error to its taxonomy kind. A *KindError is honored
// as-is; timeouts and context cancellation are detected structurally;
// everything else is classified by the caller-supplied hint (agent
// runtimes know whether a failure came from a tool call, an LLM call, a
// dependency check, or output validation) since a bare Go error carries no
// such tag on its own.
func Classify(err error, hint Kind) Kind {
	if err == nil {
		return ""
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if hint != "" {
		return hint
	}
	return KindUnknown
}

// Decide implements the strategy table from spec §4.8/§7.
func Decide(kind Kind, retryCount int) Decision {
	switch kind {
	case KindTimeout, KindNetworkError, KindLLMError:
		if retryCount >= DefaultMaxRetries {
			return Decision{Kind: kind, Strategy: StrategyFail}
		}
		return Decision{Kind: kind, Strategy: StrategyRetry, Delay: backoff(retryCount)}
	case KindToolError:
		return Decision{Kind: kind, Strategy: StrategyFallbackNoTools}
	case KindDependencyError:
		return Decision{Kind: kind, Strategy: StrategySkip}
	case KindValidationError:
		return Decision{Kind: kind, Strategy: StrategyFail}
	case KindFatal:
		return Decision{Kind: kind, Strategy: StrategyFail}
	case KindCancelled:
		return Decision{Kind: kind, Strategy: StrategyFail}
	default: // unknown
		if retryCount == 0 {
			return Decision{Kind: KindUnknown, Strategy: StrategyRetry, Delay: backoff(retryCount)}
		}
		return Decision{Kind: KindUnknown, Strategy: StrategyRetryThenFallback}
	}
}

// backoff computes base * 2^retryCount, matching §4.8's exponential
// backoff formula. Retry delays are returned to the scheduler rather than
// slept inside the agent, so they never hold a single agent's slot.
func backoff(retryCount int) time.Duration {
	return time.Duration(float64(DefaultBaseDelay) * math.Pow(2, float64(retryCount)))
}
