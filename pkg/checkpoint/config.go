package checkpoint

import (
	"fmt"
	"time"
)

// Strategy determines when checkpoints are created during a run.
type Strategy string

const (
	// StrategyInterval checkpoints every IntervalSeconds of wall-clock time.
	StrategyInterval Strategy = "interval"
	// StrategyEvent checkpoints only on notable events (long operations,
	// HITL suspension, errors).
	StrategyEvent Strategy = "event"
	// StrategyHybrid does both.
	StrategyHybrid Strategy = "hybrid"
)

// Config configures checkpoint behavior, matching §6's
// CHECKPOINT_INTERVAL_SECONDS and LONG_OPERATION_THRESHOLD_SECONDS.
type Config struct {
	Enabled bool     `yaml:"enabled"`
	Strategy Strategy `yaml:"strategy"`

	// IntervalSeconds is how often to checkpoint under Strategy interval/hybrid.
	IntervalSeconds int `yaml:"interval_seconds"`

	// LongOperationThresholdSeconds: a step that ran at least this long gets
	// a checkpoint as soon as it returns, so a later crash doesn't lose it.
	LongOperationThresholdSeconds int `yaml:"long_operation_threshold_seconds"`

	AutoResume bool `yaml:"auto_resume"`

	// RecoveryTimeoutSeconds bounds how old a checkpoint can be and still be
	// considered recoverable; older ones are treated as expired.
	RecoveryTimeoutSeconds int `yaml:"recovery_timeout_seconds"`
}

// SetDefaults applies the defaults named in SPEC_FULL.md §6.
func (c *Config) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyHybrid
	}
	if c.IntervalSeconds == 0 {
		c.IntervalSeconds = 300
	}
	if c.LongOperationThresholdSeconds == 0 {
		c.LongOperationThresholdSeconds = 60
	}
	if c.RecoveryTimeoutSeconds == 0 {
		c.RecoveryTimeoutSeconds = 3600
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Strategy {
	case "", StrategyInterval, StrategyEvent, StrategyHybrid:
	default:
		return fmt.Errorf("checkpoint: invalid strategy %q (valid: interval, event, hybrid)", c.Strategy)
	}
	if c.IntervalSeconds < 0 {
		return fmt.Errorf("checkpoint: interval_seconds must be non-negative")
	}
	if c.LongOperationThresholdSeconds < 0 {
		return fmt.Errorf("checkpoint: long_operation_threshold_seconds must be non-negative")
	}
	return nil
}

// ShouldCheckpointInterval reports whether an interval checkpoint is due
// given how long it has been since the last one.
func (c *Config) ShouldCheckpointInterval(sinceLast time.Duration) bool {
	if !c.Enabled {
		return false
	}
	if c.Strategy != StrategyInterval && c.Strategy != StrategyHybrid {
		return false
	}
	if c.IntervalSeconds <= 0 {
		return false
	}
	return sinceLast >= time.Duration(c.IntervalSeconds)*time.Second
}

// IsLongOperation reports whether a step that ran for elapsed was long
// enough to warrant a long-operation checkpoint.
func (c *Config) IsLongOperation(elapsed time.Duration) bool {
	if !c.Enabled {
		return false
	}
	if c.Strategy != StrategyEvent && c.Strategy != StrategyHybrid {
		return false
	}
	return elapsed >= time.Duration(c.LongOperationThresholdSeconds)*time.Second
}

// RecoveryTimeout returns the max age for a checkpoint to be recoverable.
func (c *Config) RecoveryTimeout() time.Duration {
	if c.RecoveryTimeoutSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.RecoveryTimeoutSeconds) * time.Second
}
