// Package config loads the orchestrator's runtime configuration from YAML,
// expanding `.env`-sourced environment variables into it and optionally
// watching the file for hot-reload. Grounded on the teacher's
// pkg/config/env.go (godotenv + `${VAR}`/`${VAR:-default}` regex expansion,
// reused here verbatim in technique) and pkg/config/koanf_loader.go's
// Watch(cb) shape, reimplemented directly against fsnotify since koanf
// itself is not part of this module's dependency set.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the enumerated configuration surface from spec §6.
type Config struct {
	AgentEnabled         bool          `yaml:"agent_enabled"`
	AgentMaxParallel     int           `yaml:"agent_max_parallel"`
	AgentTimeout         time.Duration `yaml:"agent_timeout"`
	ModelSelectionEnabled bool          `yaml:"model_selection_enabled"`

	CheckpointIntervalSeconds      int `yaml:"checkpoint_interval_seconds"`
	LongOperationThresholdSeconds  int `yaml:"long_operation_threshold_seconds"`

	ContextCompactionTokenThreshold int `yaml:"context_compaction_token_threshold"`

	ResultCacheTTLSeconds   int `yaml:"result_cache_ttl_seconds"`
	ResultCacheMaxEntries   int `yaml:"result_cache_max_entries"`

	HITLDefaultConfidenceThreshold float64 `yaml:"hitl_default_confidence_threshold"`

	RerankEnabled bool `yaml:"rerank_enabled"`
}

// Defaults returns the configuration spec §6 implies when a value is not
// set: agent fan-out enabled, a 4-way parallelism cap, 120s per-agent
// timeout, dynamic tiering on, a 5 minute checkpoint interval, a 10 minute
// long-operation threshold, compaction above 50k tokens (matching
// middleware.ContextSizeThreshold), a 1 hour / 10k-entry result cache, a
// 0.8 HITL confidence floor, and reranking on.
func Defaults() Config {
	return Config{
		AgentEnabled:                    true,
		AgentMaxParallel:                4,
		AgentTimeout:                    120 * time.Second,
		ModelSelectionEnabled:           true,
		CheckpointIntervalSeconds:       300,
		LongOperationThresholdSeconds:   600,
		ContextCompactionTokenThreshold: 50000,
		ResultCacheTTLSeconds:           3600,
		ResultCacheMaxEntries:           10000,
		HITLDefaultConfidenceThreshold:  0.8,
		RerankEnabled:                   true,
	}
}

// Load reads path (YAML), expanding environment variable references after
// first loading `.env.local` and `.env` (teacher's LoadEnvFiles order —
// the more specific file wins). Values absent from the file keep their
// Defaults().
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

func loadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: load %s: %w", file, err)
		}
	}
	return nil
}

var (
	envWithDefault = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`)
	envBraced      = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)
)

// expandEnvVars substitutes `${VAR}` and `${VAR:-default}` references
// before the YAML is parsed, matching the teacher's two-pass regex
// expansion (braced-with-default first, then bare braced).
func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	s = envWithDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envWithDefault.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})
	s = envBraced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envBraced.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})
	return s
}

// Watcher reloads Config from path whenever the file changes and invokes
// onChange with the freshly loaded value. Parse errors are swallowed (the
// prior valid Config keeps serving) — a transient write of a half-written
// file should not crash a running orchestrator.
type Watcher struct {
	path     string
	onChange func(*Config)
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// Watch starts watching path for changes, invoking onChange on every write
// event that parses successfully. Callers must call Close to stop.
func Watch(path string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	w := &Watcher{path: path, onChange: onChange, watcher: fw, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if cfg, err := Load(w.path); err == nil {
				w.onChange(cfg)
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

// ParseBool and ParseSeconds are small helpers kept for callers reading raw
// environment overrides outside the YAML path (e.g. a CLI flag default).
func ParseBool(s string, fallback bool) bool {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return v
}

func ParseSeconds(s string, fallback int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}
