package faultpolicy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecide_TimeoutRetriesWithBackoff(t *testing.T) {
	d := Decide(KindTimeout, 0)
	assert.Equal(t, StrategyRetry, d.Strategy)
	assert.Equal(t, DefaultBaseDelay, d.Delay)

	d2 := Decide(KindTimeout, 1)
	assert.Equal(t, 2*DefaultBaseDelay, d2.Delay)

	d3 := Decide(KindTimeout, DefaultMaxRetries)
	assert.Equal(t, StrategyFail, d3.Strategy)
}

func TestDecide_ToolErrorFallsBackNoTools(t *testing.T) {
	d := Decide(KindToolError, 0)
	assert.Equal(t, StrategyFallbackNoTools, d.Strategy)
}

func TestDecide_DependencyErrorSkips(t *testing.T) {
	d := Decide(KindDependencyError, 0)
	assert.Equal(t, StrategySkip, d.Strategy)
}

func TestDecide_ValidationErrorFailsWithoutRetry(t *testing.T) {
	d := Decide(KindValidationError, 0)
	assert.Equal(t, StrategyFail, d.Strategy)
	assert.Zero(t, d.Delay)
}

func TestDecide_UnknownRetriesOnceThenFallsBack(t *testing.T) {
	d := Decide(KindUnknown, 0)
	assert.Equal(t, StrategyRetry, d.Strategy)

	d2 := Decide(KindUnknown, 1)
	assert.Equal(t, StrategyRetryThenFallback, d2.Strategy)
}

func TestBackoff_Exponential(t *testing.T) {
	assert.Equal(t, DefaultBaseDelay, backoff(0))
	assert.Equal(t, 4*DefaultBaseDelay, backoff(2))
	_ = time.Second
}
